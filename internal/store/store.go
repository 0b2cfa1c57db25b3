package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection holding the run ledger.
type Store struct {
	conn *pgx.Conn
}

// Run is one persisted obfuscation. It never carries the source path or any
// pixel data.
type Run struct {
	ID           int64
	Filename     string
	Location     string
	Width        int
	Height       int
	SSIM         float64
	Rounds       int
	Faces        int
	Mode         string
	HashDistance int
	CreatedAt    time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the ledger table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS obfuscation_runs (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE,
			location TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			ssim DOUBLE PRECISION NOT NULL,
			rounds INT NOT NULL,
			faces INT NOT NULL DEFAULT 0,
			mode TEXT NOT NULL,
			hash_distance INT NOT NULL DEFAULT -1,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS obfuscation_runs_created_at_idx ON obfuscation_runs (created_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// InsertRun records a saved output and returns its ID.
func (s *Store) InsertRun(ctx context.Context, r Run) (int64, error) {
	var id int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO obfuscation_runs (filename, location, width, height, ssim, rounds, faces, mode, hash_distance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, r.Filename, r.Location, r.Width, r.Height, r.SSIM, r.Rounds, r.Faces, r.Mode, r.HashDistance).Scan(&id)
	return id, err
}

// ListRuns returns the most recent runs, newest first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, filename, location, width, height, ssim, rounds, faces, mode, hash_distance, created_at
		FROM obfuscation_runs
		ORDER BY created_at DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Filename, &r.Location, &r.Width, &r.Height, &r.SSIM, &r.Rounds, &r.Faces, &r.Mode, &r.HashDistance, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset drops the ledger table to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS obfuscation_runs CASCADE;`)
	return err
}
