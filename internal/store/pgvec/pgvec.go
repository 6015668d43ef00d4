// Package pgvec mirrors similarity vectors into PostgreSQL with the pgvector
// extension and serves nearest-neighbor queries from it.
package pgvec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"postpulse/internal/model"
	"postpulse/internal/similarity"
)

const DefaultTable = "post_vectors"

type Store struct {
	db    *sql.DB
	table string
}

// Open connects to dsn with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStore uses table (DefaultTable when empty) inside db.
func NewStore(db *sql.DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: pq.QuoteIdentifier(table)}
}

// EnsureSchema creates the extension and vector table if they are missing.
// The embedding column is unsized because each vocabulary version has its own
// dimension count.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version TEXT NOT NULL,
			post_id TEXT NOT NULL,
			post_type TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			embedding vector NOT NULL,
			PRIMARY KEY (version, post_id)
		)`, s.table)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Upsert replaces the vectors stored under version.
func (s *Store) Upsert(ctx context.Context, version string, entries []similarity.Entry) error {
	if version == "" {
		return errors.New("version is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE version = $1`, s.table), version); err != nil {
		return fmt.Errorf("delete existing vectors: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (version, post_id, post_type, score, embedding)
		VALUES ($1, $2, $3, $4, $5)`, s.table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, version, e.PostID, string(e.PostType), e.Score, pgvector.NewVector(e.Vector)); err != nil {
			return fmt.Errorf("insert vector %s: %w", e.PostID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Search orders the vectors of version by cosine distance (the <=> operator).
func (s *Store) Search(ctx context.Context, version string, vec similarity.FeatureVector, k int) ([]similarity.Neighbor, error) {
	if k < 1 {
		return nil, model.ErrInvalidK
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT post_id,
			score,
			embedding <=> $2 AS distance
		FROM %s
		WHERE version = $1
		ORDER BY embedding <=> $2, score DESC, post_id
		LIMIT $3`, s.table), version, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	out := []similarity.Neighbor{}
	for rows.Next() {
		var n similarity.Neighbor
		var dist sql.NullFloat64
		if err := rows.Scan(&n.PostID, &n.Score, &dist); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		// cosine distance is undefined for a zero vector
		n.Distance = 1
		if dist.Valid && !math.IsNaN(dist.Float64) {
			n.Distance = dist.Float64
		}
		if n.Distance < 1e-9 {
			n.Distance = 0
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector rows: %w", err)
	}
	similarity.SortNeighbors(out)
	return out, nil
}

// DeleteVersion drops the vectors stored under version.
func (s *Store) DeleteVersion(ctx context.Context, version string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE version = $1`, s.table), version); err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	return nil
}
