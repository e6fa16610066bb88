// Package sqlite provides the SQLite implementation of the memory store.
//
// SQLite is the default backend: a single database file, suitable for an
// in-process engine. Embeddings are stored as JSON-encoded float32 arrays in
// TEXT fields, and the keyword index is an FTS5 virtual table kept in sync
// with the record table by triggers, so both are updated in the same implicit
// transaction as the insert.
//
// FTS5 is not compiled into mattn/go-sqlite3 by default: build with
// -tags sqlite_fts5 (see the repository Makefile). Without the tag, opening a
// store fails with "no such module: fts5".
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/voxhive/voicemem-go/pkg/storage"
)

// Client implements MemoryStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// tableName is the name of the table storing records.
	tableName string
}

// Config contains configuration for creating a SQLite memory store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the name of the table to use (default: "memories").
	TableName string
}

// NewClient creates a new SQLite memory store.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Client: The SQLite store instance
//   - error: Error if database connection or schema creation fails
func NewClient(cfg *Config) (*Client, error) {
	if cfg.TableName == "" {
		cfg.TableName = "memories"
	}

	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{
		db:        db,
		tableName: cfg.TableName,
	}

	if err := client.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initSchema creates the record table, the FTS5 keyword index, and the
// triggers that keep the two consistent.
func (c *Client) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id         INTEGER PRIMARY KEY,
			user_id    TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_user_created ON %[1]s(user_id, created_at DESC);
	`, c.tableName)

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initSchema: %w", err)
	}

	// FTS5 keyword index over content. The external-content table plus
	// AFTER INSERT/DELETE triggers guarantee a reader never observes a record
	// in one index but not the other: the trigger runs in the same statement
	// transaction as the insert.
	ftsSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %[1]s_fts USING fts5(
			content,
			content='%[1]s',
			content_rowid='id',
			tokenize='porter unicode61'
		);

		CREATE TRIGGER IF NOT EXISTS %[1]s_ai AFTER INSERT ON %[1]s BEGIN
			INSERT INTO %[1]s_fts(rowid, content) VALUES (new.id, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS %[1]s_ad AFTER DELETE ON %[1]s BEGIN
			INSERT INTO %[1]s_fts(%[1]s_fts, rowid, content) VALUES('delete', old.id, old.content);
		END;
	`, c.tableName)

	if _, err := c.db.ExecContext(ctx, ftsSchema); err != nil {
		return fmt.Errorf("initSchema: fts5: %w", err)
	}

	return nil
}

// Insert appends a record. The FTS trigger updates the keyword index within
// the same statement, so record table and index stay consistent.
func (c *Client) Insert(ctx context.Context, record *storage.Record) error {
	embeddingJSON, err := json.Marshal(record.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.tableName)

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		record.Content,
		string(embeddingJSON),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	return nil
}

// ScanRecent returns up to limit most-recently-created records for the user,
// newest first. IDs are creation-time ordered, so ordering by id gives
// insertion order with a total tie-break.
func (c *Client) ScanRecent(ctx context.Context, userID string, limit int) ([]*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, content, embedding, created_at
		FROM %s
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ScanRecent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ScanRecent: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ScanRecent: %w", err)
	}

	return records, nil
}

// KeywordSearch returns records ranked by FTS5 bm25 relevance, best first.
// Ties on rank fall back to newer records first via id.
func (c *Client) KeywordSearch(ctx context.Context, userID string, tokens []string, limit int) ([]*storage.KeywordHit, error) {
	match := buildMatchQuery(tokens)
	if match == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT m.id, m.content, m.created_at, bm25(%[1]s_fts) AS rank
		FROM %[1]s_fts
		JOIN %[1]s m ON m.id = %[1]s_fts.rowid
		WHERE %[1]s_fts MATCH ? AND m.user_id = ?
		ORDER BY rank, m.id DESC
		LIMIT ?
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query, match, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("KeywordSearch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*storage.KeywordHit
	for rows.Next() {
		var hit storage.KeywordHit
		if err := rows.Scan(&hit.ID, &hit.Content, &hit.CreatedAt, &hit.Rank); err != nil {
			return nil, fmt.Errorf("KeywordSearch: %w", err)
		}
		hits = append(hits, &hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("KeywordSearch: %w", err)
	}

	return hits, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// scanRecord scans a record from a result row.
func scanRecord(rows *sql.Rows) (*storage.Record, error) {
	var record storage.Record
	var embeddingStr string

	err := rows.Scan(
		&record.ID,
		&record.UserID,
		&record.Content,
		&embeddingStr,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(embeddingStr), &record.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}

	return &record, nil
}

// buildMatchQuery converts pre-filtered tokens into an FTS5 OR query.
// Each token is quoted so user input cannot inject FTS5 syntax.
func buildMatchQuery(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = sanitizeToken(token)
		if token == "" {
			continue
		}
		parts = append(parts, `"`+token+`"`)
	}
	return strings.Join(parts, " OR ")
}

// sanitizeToken strips characters that are FTS5 operators.
func sanitizeToken(token string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '"', '(', ')', '*', '^', ':', '{', '}':
			return -1
		default:
			return r
		}
	}, token)
	return strings.TrimSpace(cleaned)
}
