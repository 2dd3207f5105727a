package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/budvest/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache. Saves go to the primary store and refresh the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) GetPortfolio(ctx context.Context, userID string) ([]model.PortfolioItem, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, portfolioKey(userID)).Bytes()
	if err == nil {
		var items []model.PortfolioItem
		if json.Unmarshal(data, &items) == nil {
			return items, nil
		}
	}

	// Cache miss: read from primary.
	items, err := s.primary.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheSnapshot(ctx, userID, items)
	return items, nil
}

func (s *CachedStore) SavePortfolio(ctx context.Context, userID string, items []model.PortfolioItem) error {
	if err := s.primary.SavePortfolio(ctx, userID, items); err != nil {
		return err
	}
	s.cacheSnapshot(ctx, userID, items)
	return nil
}

func (s *CachedStore) DeletePortfolio(ctx context.Context, userID string) error {
	if err := s.primary.DeletePortfolio(ctx, userID); err != nil {
		return err
	}
	s.rdb.Del(ctx, portfolioKey(userID))
	return nil
}

func (s *CachedStore) cacheSnapshot(ctx context.Context, userID string, items []model.PortfolioItem) {
	if data, err := json.Marshal(items); err == nil {
		s.rdb.Set(ctx, portfolioKey(userID), data, s.ttl)
	}
}

func portfolioKey(userID string) string { return fmt.Sprintf("portfolio:%s", userID) }
