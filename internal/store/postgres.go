package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docingest/docingest/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id                UUID PRIMARY KEY,
    name              TEXT NOT NULL,
    size              BIGINT NOT NULL,
    type              TEXT NOT NULL,
    processing_status TEXT NOT NULL DEFAULT 'pending',
    error_message     TEXT,
    extracted_text    TEXT,
    metadata          JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// PostgresStore implements DocumentStore on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and bootstraps the schema.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Ping reports backend reachability, used by health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Insert(ctx context.Context, doc *models.Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO documents (id, name, size, type, processing_status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING created_at, updated_at`,
		doc.ID, doc.Name, doc.Size, doc.MimeType, doc.Status, meta,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, size, type, processing_status, error_message,
		       extracted_text, metadata, created_at, updated_at
		FROM documents WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, size, type, processing_status, error_message,
		       extracted_text, metadata, created_at, updated_at
		FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Update interprets the partial record into a single UPDATE. Metadata is
// merged with jsonb concatenation so unrelated keys survive, and updated_at
// refreshes on every mutation.
func (s *PostgresStore) Update(ctx context.Context, id string, upd models.DocumentUpdate) error {
	if upd.IsZero() {
		return nil
	}

	sets := make([]string, 0, 5)
	args := make([]any, 0, 5)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if upd.Status != nil {
		sets = append(sets, "processing_status = "+arg(*upd.Status))
	}
	if upd.ErrorMessage != nil {
		// Empty string clears the column.
		sets = append(sets, "error_message = NULLIF("+arg(*upd.ErrorMessage)+", '')")
	}
	if upd.ExtractedText != nil {
		sets = append(sets, "extracted_text = "+arg(*upd.ExtractedText))
	}
	if upd.Metadata != nil {
		meta, err := json.Marshal(upd.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		sets = append(sets, "metadata = COALESCE(metadata, '{}'::jsonb) || "+arg(meta)+"::jsonb")
	}
	sets = append(sets, "updated_at = now()")

	query := "UPDATE documents SET " + strings.Join(sets, ", ") + " WHERE id = " + arg(id)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var (
		doc     models.Document
		errMsg  *string
		text    *string
		rawMeta []byte
	)
	err := row.Scan(&doc.ID, &doc.Name, &doc.Size, &doc.MimeType, &doc.Status,
		&errMsg, &text, &rawMeta, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		doc.ErrorMessage = *errMsg
	}
	if text != nil {
		doc.ExtractedText = *text
	}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}
