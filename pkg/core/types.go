// Package core provides the main VoiceMem engine and conversational memory functionality.
package core

// Result is a single memory returned by a search.
type Result struct {
	// ID is the unique identifier of the memory record.
	ID int64 `json:"id"`

	// Content is the remembered utterance text.
	Content string `json:"content"`

	// Score is the fused relevance score in [0, 1]. Higher is more relevant.
	Score float64 `json:"score"`

	// CreatedAt is the memory creation time in Unix milliseconds.
	CreatedAt int64 `json:"created_at"`
}

// Stats is a point-in-time snapshot of engine counters.
//
// Counters are cumulative since engine creation. A rising Timeouts count
// signals that the storage backend or embedding provider is too slow for the
// configured search budget.
type Stats struct {
	// Searches is the total number of Search calls.
	Searches uint64 `json:"searches"`

	// Timeouts is the number of searches that exceeded their latency
	// budget and returned empty.
	Timeouts uint64 `json:"timeouts"`

	// Rejected is the number of searches refused because the concurrency
	// cap was reached.
	Rejected uint64 `json:"rejected"`

	// CacheHits and CacheMisses count query-embedding cache lookups.
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`

	// Writes is the number of memories successfully persisted.
	Writes uint64 `json:"writes"`

	// WriteFailures is the number of persist attempts that errored.
	WriteFailures uint64 `json:"write_failures"`

	// WritesDropped is the number of writes discarded because the queue
	// was full.
	WritesDropped uint64 `json:"writes_dropped"`
}
