// Package cache provides a Redis-backed cache for decoded filter verdicts
// so repeated runs over the same papers and prompts skip provider calls.
package cache
