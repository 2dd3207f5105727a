// Package store defines persistence for portfolio snapshots, addressed
// by an opaque user key. Implementations include PostgreSQL (source of
// truth), Redis (read-through cache), and in-memory (for testing).
//
// Semantics are read-modify-write on whole snapshots: callers load,
// reconcile, and save. There is no per-field update path and no schema
// migration requirement.
package store

import (
	"context"

	"github.com/budvest/portfolio-engine/internal/model"
)

// Store is the snapshot persistence interface.
type Store interface {
	// GetPortfolio loads a user's snapshot. An unknown user yields an
	// empty snapshot, not an error.
	GetPortfolio(ctx context.Context, userID string) ([]model.PortfolioItem, error)

	// SavePortfolio replaces a user's snapshot.
	SavePortfolio(ctx context.Context, userID string, items []model.PortfolioItem) error

	// DeletePortfolio removes a user's snapshot entirely.
	DeletePortfolio(ctx context.Context, userID string) error
}
