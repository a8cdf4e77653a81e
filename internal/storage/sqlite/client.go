// Package sqlite persists the source catalog and query history. The
// in-memory stores remain authoritative for content; this catalog
// survives restarts for audit and listing.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/storage/models"
	"github.com/analytical-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		num_rows INTEGER DEFAULT 0,
		num_columns INTEGER DEFAULT 0,
		num_chunks INTEGER DEFAULT 0,
		num_qa_pairs INTEGER DEFAULT 0,
		ingested_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sources_type ON sources(source_type);
	CREATE INDEX IF NOT EXISTS idx_sources_ingested ON sources(ingested_at);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		intent TEXT,
		narrative TEXT,
		status TEXT NOT NULL,
		error_kind TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertSource(source *models.Source) error {
	query := `
		INSERT INTO sources (id, name, source_type, num_rows, num_columns, num_chunks, num_qa_pairs, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			num_rows = excluded.num_rows,
			num_columns = excluded.num_columns,
			num_chunks = excluded.num_chunks,
			num_qa_pairs = excluded.num_qa_pairs
	`

	_, err := c.db.Exec(
		query,
		source.ID,
		source.Name,
		source.SourceType,
		source.NumRows,
		source.NumColumns,
		source.NumChunks,
		source.NumQAPairs,
		source.IngestedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}

	logger.Debug("Source recorded", zap.String("source_id", source.ID))
	return nil
}

func (c *Client) DeleteSource(id string) error {
	if _, err := c.db.Exec(`DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}

func (c *Client) ListSources() ([]models.Source, error) {
	rows, err := c.db.Query(`
		SELECT id, name, source_type, num_rows, num_columns, num_chunks, num_qa_pairs, ingested_at
		FROM sources ORDER BY ingested_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		var s models.Source
		var ingestedAt int64

		err := rows.Scan(&s.ID, &s.Name, &s.SourceType, &s.NumRows, &s.NumColumns,
			&s.NumChunks, &s.NumQAPairs, &ingestedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		s.IngestedAt = time.Unix(ingestedAt, 0)
		sources = append(sources, s)
	}

	return sources, rows.Err()
}

func (c *Client) InsertQueryRecord(record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, query_text, intent, narrative, status, error_kind, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.QueryText,
		record.Intent,
		record.Narrative,
		record.Status,
		record.ErrorKind,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("intent", record.Intent),
	)
	return nil
}

func (c *Client) GetQueryHistory(limit int) ([]models.QueryRecord, error) {
	rows, err := c.db.Query(`
		SELECT id, query_text, intent, narrative, status, error_kind, latency_ms, created_at
		FROM query_history ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var createdAt int64

		err := rows.Scan(&r.ID, &r.QueryText, &r.Intent, &r.Narrative, &r.Status,
			&r.ErrorKind, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}
