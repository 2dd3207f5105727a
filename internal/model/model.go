// Package model defines the core domain types shared across the portfolio
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bucket status of a portfolio entry. The two buckets are mutually
// exclusive per symbol: entering one removes the symbol from the other.
const (
	StatusInvesting = "investing"
	StatusWatching  = "watching"
)

// Intent is the normalized user intent carried by a Command.
type Intent string

const (
	IntentAccumulate     Intent = "accumulate"
	IntentReduce         Intent = "reduce"
	IntentWatch          Intent = "watch"
	IntentDelete         Intent = "delete"
	IntentDeleteHolding  Intent = "delete_holding"
	IntentDeleteWatching Intent = "delete_watching"
	IntentDeleteAll      Intent = "delete_all"
	IntentUpdate         Intent = "update"
)

// intentAliases maps legacy labels (the Chinese intent strings an LLM may
// echo back from older prompt material) to normalized intents.
var intentAliases = map[string]Intent{
	"用户增持":   IntentAccumulate,
	"用户减持":   IntentReduce,
	"用户观望":   IntentWatch,
	"用户删除":   IntentDelete,
	"用户删除持有": IntentDeleteHolding,
	"用户删除观望": IntentDeleteWatching,
	"用户全部删除": IntentDeleteAll,
	"用户更新":   IntentUpdate,
}

// ParseIntent normalizes an intent label. Accepts the canonical tokens and
// the legacy Chinese labels.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentAccumulate, IntentReduce, IntentWatch, IntentDelete,
		IntentDeleteHolding, IntentDeleteWatching, IntentDeleteAll, IntentUpdate:
		return Intent(s), true
	}
	if in, ok := intentAliases[s]; ok {
		return in, true
	}
	return "", false
}

// Stock is immutable reference data: looked up, never mutated.
type Stock struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	LogoURL      string          `json:"logo_url,omitempty"`
	LastPrice    decimal.Decimal `json:"last_price"`
	DayChangePct decimal.Decimal `json:"day_change_pct"`
}

// StockConfig is the mutable part of a portfolio entry.
type StockConfig struct {
	Status        string          `json:"status"` // "investing" or "watching"
	Shares        decimal.Decimal `json:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share"` // average cost basis
	Goal          string          `json:"goal,omitempty"`
}

// PortfolioItem joins a Stock with its StockConfig plus derived figures.
//
// Invariant after every reconciliation: Cost == Shares × PricePerShare.
// FirstBuyTS anchors the holding-day count and survives partial sells and
// top-ups; only an explicit update command resets it.
type PortfolioItem struct {
	Stock
	Config      StockConfig     `json:"config"`
	Cost        decimal.Decimal `json:"cost"`
	Profit      decimal.Decimal `json:"profit"`
	HoldingDays int             `json:"holding_days"`
	FirstBuyTS  int64           `json:"first_buy_ts,omitempty"` // epoch millis
}

// HoldingDaysAt derives the display holding-day count from FirstBuyTS.
// Day 1 is the day of the first buy. Watching entries report 0.
func (p PortfolioItem) HoldingDaysAt(now time.Time) int {
	if p.Config.Status != StatusInvesting || p.FirstBuyTS == 0 {
		return p.HoldingDays
	}
	elapsed := now.UnixMilli() - p.FirstBuyTS
	if elapsed < 0 {
		return 1
	}
	return int(elapsed/(24*60*60*1000)) + 1
}

// Command is the structured form of one free-text trading instruction.
// Produced by the interpreter, validated and gap-filled by the caller,
// applied exactly once by the reconciler, then discarded.
//
// Price == 0 or Shares == 0 on an accumulate/reduce means "unknown, needs
// manual input" — an incomplete but valid command.
type Command struct {
	StockName   string          `json:"stock_name"`
	Intent      Intent          `json:"user_intent"`
	Cost        decimal.Decimal `json:"cost"`
	Time        string          `json:"time,omitempty"` // informational only
	Price       decimal.Decimal `json:"price"`          // per share
	Shares      decimal.Decimal `json:"shares"`
	HoldingDays int             `json:"holding_days,omitempty"`
	StockNames  []string        `json:"stock_names,omitempty"` // multi-target delete
}

// Complete reports whether an accumulate/reduce command carries both a
// positive price and a positive share count. Other intents are always
// complete.
func (c Command) Complete() bool {
	if c.Intent != IntentAccumulate && c.Intent != IntentReduce {
		return true
	}
	return c.Price.IsPositive() && c.Shares.IsPositive()
}

// ClonePortfolio returns a copied snapshot. Items hold only value types,
// so callers can mutate the clone's entries freely.
func ClonePortfolio(items []PortfolioItem) []PortfolioItem {
	out := make([]PortfolioItem, len(items))
	copy(out, items)
	return out
}
