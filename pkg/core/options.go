// Package core provides the main VoiceMem engine and conversational memory functionality.
package core

import "time"

// searchOptions holds per-call overrides of the engine search defaults.
type searchOptions struct {
	limit    int
	minScore float64
	timeout  time.Duration
}

// SearchOption configures a single Search call.
//
// Example:
//
//	results := engine.Search(ctx, "alice", "favorite color",
//	    core.WithLimit(3),
//	    core.WithTimeout(60*time.Millisecond),
//	)
type SearchOption func(*searchOptions)

// WithLimit overrides the maximum number of results for one search.
func WithLimit(limit int) SearchOption {
	return func(o *searchOptions) {
		if limit > 0 {
			o.limit = limit
		}
	}
}

// WithMinScore overrides the minimum fused score for one search.
func WithMinScore(minScore float64) SearchOption {
	return func(o *searchOptions) {
		if minScore >= 0 {
			o.minScore = minScore
		}
	}
}

// WithTimeout overrides the latency budget for one search.
func WithTimeout(timeout time.Duration) SearchOption {
	return func(o *searchOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}
