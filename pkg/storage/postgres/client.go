// Package postgres provides the PostgreSQL implementation of the memory store.
//
// Embeddings are stored in a pgvector column and read back in pgvector's
// textual format; the keyword index is an expression GIN index over
// to_tsvector('english', content), ranked with ts_rank. Because the index is
// an expression index there is no second structure that can drift out of sync
// with the record table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/voxhive/voicemem-go/pkg/storage"
)

// Client implements MemoryStore using PostgreSQL with pgvector.
type Client struct {
	db         *sql.DB
	tableName  string
	dimensions int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	TableName          string
	EmbeddingModelDims int
	SSLMode            string
}

// NewClient creates a new PostgreSQL memory store.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.TableName == "" {
		cfg.TableName = "memories"
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{
		db:         db,
		tableName:  cfg.TableName,
		dimensions: cfg.EmbeddingModelDims,
	}

	if err := client.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initSchema enables pgvector and creates the record table and indexes.
func (c *Client) initSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("initSchema: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`, c.tableName, c.dimensions)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initSchema: create table: %w", err)
	}

	scanIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%[1]s_user_created ON %[1]s(user_id, created_at DESC)
	`, c.tableName)
	if _, err := c.db.ExecContext(ctx, scanIndex); err != nil {
		return fmt.Errorf("initSchema: create index: %w", err)
	}

	ftsIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%[1]s_content_fts
		ON %[1]s USING GIN (to_tsvector('english', content))
	`, c.tableName)
	if _, err := c.db.ExecContext(ctx, ftsIndex); err != nil {
		return fmt.Errorf("initSchema: create fts index: %w", err)
	}

	return nil
}

// Insert appends a record.
func (c *Client) Insert(ctx context.Context, record *storage.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.tableName)

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		record.Content,
		vectorToString(record.Embedding),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	return nil
}

// ScanRecent returns up to limit most-recently-created records for the user,
// newest first.
func (c *Client) ScanRecent(ctx context.Context, userID string, limit int) ([]*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, content, embedding::text, created_at
		FROM %s
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ScanRecent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
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
			return nil, fmt.Errorf("ScanRecent: %w", err)
		}

		record.Embedding, err = parseVectorString(embeddingStr)
		if err != nil {
			return nil, fmt.Errorf("ScanRecent: parse embedding: %w", err)
		}

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ScanRecent: %w", err)
	}

	return records, nil
}

// KeywordSearch returns records ranked by ts_rank relevance, best first.
func (c *Client) KeywordSearch(ctx context.Context, userID string, tokens []string, limit int) ([]*storage.KeywordHit, error) {
	tsQuery := buildTsQuery(tokens)
	if tsQuery == "" {
		return nil, nil
	}

	// ts_rank is higher-is-better; Rank is lower-is-better, so negate it.
	query := fmt.Sprintf(`
		SELECT id, content, created_at,
		       -ts_rank(to_tsvector('english', content), to_tsquery('english', $1)) AS rank
		FROM %s
		WHERE user_id = $2
		  AND to_tsvector('english', content) @@ to_tsquery('english', $1)
		ORDER BY rank, id DESC
		LIMIT $3
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query, tsQuery, userID, limit)
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

// buildTsQuery converts pre-filtered tokens into an OR-ed tsquery string.
// Tokens are stripped of tsquery operators to avoid syntax injection.
func buildTsQuery(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, token := range tokens {
		cleaned := strings.Map(func(r rune) rune {
			switch r {
			case '&', '|', '!', '(', ')', ':', '*', '\'':
				return -1
			default:
				return r
			}
		}, token)
		cleaned = strings.TrimSpace(cleaned)
		if cleaned == "" {
			continue
		}
		parts = append(parts, cleaned)
	}
	return strings.Join(parts, " | ")
}

// vectorToString converts a vector to PostgreSQL vector format: "[0.1,0.2,...]".
func vectorToString(vector []float32) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = fmt.Sprintf("%f", v)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// parseVectorString parses a PostgreSQL vector string.
func parseVectorString(s string) ([]float32, error) {
	s = strings.Trim(s, "[]")
	if s == "" {
		return []float32{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float32, len(parts))

	for i, part := range parts {
		var val float32
		_, err := fmt.Sscanf(strings.TrimSpace(part), "%f", &val)
		if err != nil {
			return nil, err
		}
		result[i] = val
	}

	return result, nil
}
