package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/budvest/portfolio-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Snapshots are whole-document JSONB rows keyed by user:
//
//	CREATE TABLE IF NOT EXISTS portfolios (
//	    user_id    TEXT PRIMARY KEY,
//	    snapshot   JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// Concurrent saves for the same user are last-write-wins; the service
// layer serializes apply-and-save per process.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, userID string) ([]model.PortfolioItem, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM portfolios WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []model.PortfolioItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s: %w", userID, err)
	}

	var items []model.PortfolioItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode portfolio %s: %w", userID, err)
	}
	return items, nil
}

func (s *PostgresStore) SavePortfolio(ctx context.Context, userID string, items []model.PortfolioItem) error {
	if items == nil {
		items = []model.PortfolioItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode portfolio %s: %w", userID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO portfolios (user_id, snapshot, updated_at)
		 VALUES ($1, $2::JSONB, now())
		 ON CONFLICT (user_id)
		 DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()`,
		userID, raw,
	)
	if err != nil {
		return fmt.Errorf("save portfolio %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) DeletePortfolio(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM portfolios WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete portfolio %s: %w", userID, err)
	}
	return nil
}
