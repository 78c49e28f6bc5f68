package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore writes records to the generations table
type PostgresStore struct {
	db *sql.DB
}

// Config holds connection pool settings
type Config struct {
	URL             string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to PostgreSQL and verifies the connection
func Open(cfg Config) (*PostgresStore, error) {
	sqlDB, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStore(sqlDB), nil
}

// NewPostgresStore wraps an open connection pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const schema = `
	CREATE TABLE IF NOT EXISTS generations (
		id               BIGSERIAL PRIMARY KEY,
		source           TEXT NOT NULL,
		mode             TEXT NOT NULL,
		seed             INTEGER,
		question_length  INTEGER NOT NULL,
		credential_index INTEGER NOT NULL,
		attempts         INTEGER NOT NULL,
		state            TEXT NOT NULL,
		failure_stage    TEXT NOT NULL DEFAULT '',
		fragments        INTEGER NOT NULL,
		bytes            INTEGER NOT NULL,
		duration_ms      BIGINT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// EnsureSchema creates the generations table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordGeneration implements Store
func (s *PostgresStore) RecordGeneration(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO generations (source, mode, seed, question_length, credential_index,
			attempts, state, failure_stage, fragments, bytes, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`

	var seed any
	if rec.Seed != nil {
		seed = int64(*rec.Seed)
	}

	err := s.db.QueryRowContext(ctx, query,
		rec.Source, rec.Mode, seed, rec.QuestionLength, rec.CredentialIndex,
		rec.Attempts, rec.State, rec.FailureStage, rec.Fragments, rec.Bytes,
		rec.Duration.Milliseconds(),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record generation: %w", err)
	}
	return nil
}

// Stats implements Store
func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	query := `
		SELECT state, COUNT(*), COALESCE(SUM(fragments), 0), COALESCE(SUM(bytes), 0)
		FROM generations
		WHERE created_at >= $1
		GROUP BY state
	`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := newStats(since)
	for rows.Next() {
		var (
			state            string
			count, frag, byt int
		)
		if err := rows.Scan(&state, &count, &frag, &byt); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.ByState[state] = count
		stats.Total += count
		stats.Fragments += frag
		stats.Bytes += byt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	return stats, nil
}
