// Package storage provides interfaces and types for memory persistence backends.
//
// It defines the MemoryStore interface that all storage implementations must
// satisfy. A store keeps an append-only log of utterance records per user,
// together with a keyword index over the record content that is always
// transactionally consistent with the record table.
package storage

import (
	"context"
	"time"
)

// Record is one stored utterance.
//
// Records are immutable after creation: the engine only ever inserts new
// records and reads existing ones. Content and Embedding returned by a read
// always equal the values given at insert time.
type Record struct {
	// ID is the unique identifier of the record. IDs are generated from
	// creation time and are strictly increasing within a process, so the
	// insertion order of a user's records is recoverable from IDs alone.
	ID int64

	// UserID identifies the user who owns this record. Every read and write
	// is scoped to a single UserID; records never leak across users.
	UserID string

	// Content is the original utterance text. Never empty.
	Content string

	// Embedding is the dense vector for the content, produced once at write
	// time. Its length is constant across all records in a store.
	Embedding []float32

	// CreatedAt is when the record was inserted.
	CreatedAt time.Time
}

// KeywordHit is one result of a lexical search, in relevance order.
type KeywordHit struct {
	// ID is the matching record's identifier.
	ID int64

	// Content is the matching record's text.
	Content string

	// CreatedAt is the matching record's insertion time.
	CreatedAt time.Time

	// Rank is the backend's lexical relevance rank. Lower is better. Hits
	// returned by KeywordSearch are already ordered best-first, with ties
	// broken by recency, so callers may also score by slice position.
	Rank float64
}

// MemoryStore defines the interface for memory persistence backends.
//
// All storage implementations (SQLite, PostgreSQL, MySQL) must implement this
// interface. Implementations must allow concurrent reads alongside writes;
// the engine serializes writes through a single writer path, so a store does
// not need to support concurrent inserts.
type MemoryStore interface {
	// Insert appends a record and updates the keyword index in the same
	// transaction (or an equivalent atomic guarantee), so a reader never
	// observes a record in one index but not the other. The record is
	// visible to ScanRecent and KeywordSearch as soon as Insert returns.
	Insert(ctx context.Context, record *Record) error

	// ScanRecent returns up to limit most-recently-created records for the
	// user, newest first. This is the bounded candidate set for vector
	// scoring; it is a per-user scan, not a global search.
	ScanRecent(ctx context.Context, userID string, limit int) ([]*Record, error)

	// KeywordSearch returns up to limit records ranked by lexical relevance
	// against the given tokens, best first. Tokens are pre-filtered by the
	// caller (lower-cased, short tokens dropped, term count capped). An
	// empty token list yields no hits and no error.
	KeywordSearch(ctx context.Context, userID string, tokens []string, limit int) ([]*KeywordHit, error)

	// Close closes the store and releases resources.
	Close() error
}
