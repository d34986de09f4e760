package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"
)

// Sentinel errors matched by the engine's retry controller via errors.Is.
var (
	// ErrRateLimit is returned when a credential/model pair hit its
	// requests-per-minute ceiling. Recoverable by cooldown or rotation.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrQuotaExhausted is returned when a pair's daily quota is spent.
	// Recoverable only by rotating to another pair.
	ErrQuotaExhausted = errors.New("daily quota exhausted")

	// ErrAuth is returned for invalid or revoked credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrTransient wraps timeouts, network failures and 5xx responses.
	ErrTransient = errors.New("transient provider failure")

	// ErrMalformedResponse is returned when the model reply cannot be
	// decoded into the expected structured form.
	ErrMalformedResponse = errors.New("malformed model response")
)

// Class categorizes a provider failure for retry decisions and metrics.
type Class string

const (
	ClassRateLimit Class = "rate_limit"
	ClassQuota     Class = "quota"
	ClassAuth      Class = "auth"
	ClassTransient Class = "transient"
	ClassMalformed Class = "malformed"
)

// Sentinel returns the sentinel error a class maps to.
func (c Class) Sentinel() error {
	switch c {
	case ClassRateLimit:
		return ErrRateLimit
	case ClassQuota:
		return ErrQuotaExhausted
	case ClassAuth:
		return ErrAuth
	case ClassMalformed:
		return ErrMalformedResponse
	default:
		return ErrTransient
	}
}

// CallError carries the classification and upstream detail of a failed call.
type CallError struct {
	Class   Class
	Code    int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider %s error (code %d): %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("provider %s error: %s", e.Class, e.Message)
}

// Unwrap exposes both the class sentinel and the upstream error to
// errors.Is.
func (e *CallError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Class.Sentinel(), e.Err}
	}
	return []error{e.Class.Sentinel()}
}

// Classify maps an upstream error to a failure class.
//
// Gemini reports daily quota exhaustion and per-minute rate limiting with
// the same 429 code; the RESOURCE_EXHAUSTED status plus a quota marker in
// the message distinguishes them.
func Classify(err error) Class {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 && isQuotaMessage(apiErr.Status, apiErr.Message):
			return ClassQuota
		case apiErr.Code == 429:
			return ClassRateLimit
		case apiErr.Code == 401 || apiErr.Code == 403 || apiErr.Code == 400:
			return ClassAuth
		default:
			return ClassTransient
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassTransient
}

func isQuotaMessage(status, message string) bool {
	if status == "RESOURCE_EXHAUSTED" {
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "per day")
}

// wrapCall builds a classified CallError from an upstream failure.
func wrapCall(err error) *CallError {
	class := Classify(err)
	code := 0
	message := err.Error()
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
		message = apiErr.Message
	}
	return &CallError{Class: class, Code: code, Message: message, Err: err}
}
