package selector

import "github.com/papersift/llm-engine/pkg/pool"

// Strategy decides which candidate pair handles the next call. Candidates
// are already filtered to healthy pairs with quota remaining.
type Strategy interface {
	Pick(candidates []pool.PairInfo) (pool.PairInfo, bool)
}

// CheapestTierFirst is the default strategy: the lowest healthy tier wins,
// and within a tier the least-recently-used credential is picked to spread
// load evenly. Ties break by earliest last-used timestamp (stalest first),
// which also covers never-used pairs (zero timestamp).
type CheapestTierFirst struct{}

// Pick implements Strategy.
func (CheapestTierFirst) Pick(candidates []pool.PairInfo) (pool.PairInfo, bool) {
	if len(candidates) == 0 {
		return pool.PairInfo{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Model.Tier < best.Model.Tier {
			best = c
			continue
		}
		if c.Model.Tier == best.Model.Tier && c.State.LastUsed.Before(best.State.LastUsed) {
			best = c
		}
	}
	return best, true
}

// LeastRecentlyUsed ignores tiers entirely and picks the stalest pair.
// Used for manual mode where the candidate set is already pinned to one
// model.
type LeastRecentlyUsed struct{}

// Pick implements Strategy.
func (LeastRecentlyUsed) Pick(candidates []pool.PairInfo) (pool.PairInfo, bool) {
	if len(candidates) == 0 {
		return pool.PairInfo{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.State.LastUsed.Before(best.State.LastUsed) {
			best = c
		}
	}
	return best, true
}
