// Package mysql provides the MySQL implementation of the memory store.
//
// Embeddings are stored as JSON-encoded float32 arrays in TEXT fields; the
// keyword index is a FULLTEXT index over content, ranked with
// MATCH ... AGAINST in natural language mode. MySQL maintains the FULLTEXT
// index as part of the insert, so record table and index cannot diverge.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/voxhive/voicemem-go/pkg/storage"
)

// Client implements MemoryStore using MySQL as the backend.
type Client struct {
	db        *sql.DB
	tableName string
}

// Config contains MySQL configuration.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	TableName string
}

// NewClient creates a new MySQL memory store.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.TableName == "" {
		cfg.TableName = "memories"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
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

// initSchema creates the record table with its FULLTEXT keyword index.
func (c *Client) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			embedding LONGTEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_user_created (user_id, created_at DESC),
			FULLTEXT INDEX ft_content (content)
		)
	`, c.tableName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initSchema: %w", err)
	}

	return nil
}

// Insert appends a record.
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
// newest first.
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

		if err := json.Unmarshal([]byte(embeddingStr), &record.Embedding); err != nil {
			return nil, fmt.Errorf("ScanRecent: parse embedding: %w", err)
		}

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ScanRecent: %w", err)
	}

	return records, nil
}

// KeywordSearch returns records ranked by FULLTEXT relevance, best first.
// MATCH ... AGAINST scores are higher-is-better, so the score is negated to
// satisfy the lower-is-better Rank contract.
func (c *Client) KeywordSearch(ctx context.Context, userID string, tokens []string, limit int) ([]*storage.KeywordHit, error) {
	terms := strings.Join(tokens, " ")
	if strings.TrimSpace(terms) == "" {
		return nil, nil
	}

	// rank is a reserved word in MySQL 8, hence the backticks.
	query := fmt.Sprintf("SELECT id, content, created_at,"+
		" -MATCH(content) AGAINST (? IN NATURAL LANGUAGE MODE) AS `rank`"+
		" FROM %s"+
		" WHERE user_id = ?"+
		" AND MATCH(content) AGAINST (? IN NATURAL LANGUAGE MODE)"+
		" ORDER BY `rank`, id DESC"+
		" LIMIT ?", c.tableName)

	rows, err := c.db.QueryContext(ctx, query, terms, userID, terms, limit)
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
