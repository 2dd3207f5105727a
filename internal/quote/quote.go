// Package quote provides the market-quote collaborator used by the
// reconciler for profit recomputation.
//
// Convention, load-bearing for all downstream profit math: a source
// returns decimal zero for "price unknown" — network error, unknown
// symbol, rate limit — and never an error.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/budvest/portfolio-engine/internal/directory"
)

// Source yields the latest market price for a symbol, or zero if unknown.
type Source interface {
	LatestPrice(ctx context.Context, symbol string) decimal.Decimal
}

// --- Financial Modeling Prep client ---

// FMPClient fetches live quotes from the Financial Modeling Prep API.
type FMPClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFMPClient creates a quote client. An empty baseURL selects the
// public API endpoint.
func NewFMPClient(apiKey, baseURL string) *FMPClient {
	if baseURL == "" {
		baseURL = "https://financialmodelingprep.com"
	}
	return &FMPClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// LatestPrice returns the live price for symbol, or zero on any failure.
func (c *FMPClient) LatestPrice(ctx context.Context, symbol string) decimal.Decimal {
	if c.apiKey == "" {
		return decimal.Zero
	}

	u := fmt.Sprintf("%s/api/v3/quote/%s?apikey=%s",
		c.baseURL, url.PathEscape(symbol), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero
	}
	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("quote fetch failed", "symbol", symbol, "err", err)
		return decimal.Zero
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("quote fetch non-200", "symbol", symbol, "status", resp.StatusCode)
		return decimal.Zero
	}

	var payload []struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || len(payload) == 0 {
		return decimal.Zero
	}
	if payload[0].Price.IsNegative() {
		return decimal.Zero
	}
	return payload[0].Price
}

// --- TTL cache ---

// Cache is a read-through TTL cache over a Source. It replaces the
// module-level quote caches of earlier iterations with an explicit,
// injected collaborator so the reconciler stays testable.
type Cache struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	price   decimal.Decimal
	expires time.Time
}

// NewCache wraps src with a TTL cache. Zero prices (unknown) are not
// cached, so a transient upstream failure does not pin "unknown" for a
// full TTL.
func NewCache(src Source, ttl time.Duration) *Cache {
	return &Cache{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) LatestPrice(ctx context.Context, symbol string) decimal.Decimal {
	c.mu.Lock()
	if e, ok := c.entries[symbol]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.price
	}
	c.mu.Unlock()

	price := c.src.LatestPrice(ctx, symbol)
	if price.IsPositive() {
		c.mu.Lock()
		c.entries[symbol] = cacheEntry{price: price, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return price
}

// --- Static source ---

// StaticSource serves last-known catalog prices. Development fallback for
// when no quote API key is configured.
type StaticSource struct {
	dir *directory.Directory
}

// NewStaticSource creates a directory-backed source.
func NewStaticSource(dir *directory.Directory) *StaticSource {
	return &StaticSource{dir: dir}
}

func (s *StaticSource) LatestPrice(_ context.Context, symbol string) decimal.Decimal {
	if stock := s.dir.Resolve(symbol); stock != nil {
		return stock.LastPrice
	}
	return decimal.Zero
}
