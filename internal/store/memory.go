package store

import (
	"context"
	"sync"

	"github.com/budvest/portfolio-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]model.PortfolioItem
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]model.PortfolioItem)}
}

func (s *MemoryStore) GetPortfolio(_ context.Context, userID string) ([]model.PortfolioItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, ok := s.snapshots[userID]
	if !ok {
		return []model.PortfolioItem{}, nil
	}
	// Return a copy to avoid external mutation.
	return model.ClonePortfolio(items), nil
}

func (s *MemoryStore) SavePortfolio(_ context.Context, userID string, items []model.PortfolioItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[userID] = model.ClonePortfolio(items)
	return nil
}

func (s *MemoryStore) DeletePortfolio(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, userID)
	return nil
}
