// Package reconcile applies validated commands to portfolio snapshots.
//
// Apply is read-modify-write pure: the caller supplies the current
// snapshot, a new snapshot comes back, the input is never mutated. The
// only collaborator is the quote source used for profit recomputation;
// its "zero means price unknown" convention flows through all the math
// here — an unknown price makes profit equal the full cost basis, a
// documented simplification rather than an error.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/budvest/portfolio-engine/internal/directory"
	"github.com/budvest/portfolio-engine/internal/model"
	"github.com/budvest/portfolio-engine/internal/quote"
)

// Stable API error codes.
const (
	CodeInvalidPriceOrShares = "INVALID_PRICE_OR_SHARES"
	CodeNotFound             = "NOT_FOUND"
	CodeUnknownIntent        = "UNKNOWN_INTENT"
)

// Error is a business-rule failure with a stable code for API clients.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// ErrInvalidPriceOrShares rejects accumulate/reduce commands that still
// carry an unknown price or share count. Such commands are incomplete,
// not malformed: the caller should prompt for the missing fields instead
// of applying.
var ErrInvalidPriceOrShares = &Error{
	Code:    CodeInvalidPriceOrShares,
	Message: "invalid price or shares",
}

func notFoundError(name string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("stock not found: %s", name)}
}

// ErrorCode extracts the stable code from a reconciliation error, or ""
// for other errors.
func ErrorCode(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

const dayMillis = 24 * 60 * 60 * 1000

const defaultGoal = "长期增值"

// Reconciler applies commands to portfolio snapshots. Stateless; safe
// for concurrent use.
type Reconciler struct {
	dir    *directory.Directory
	quotes quote.Source
	now    func() time.Time
}

// New creates a reconciler. quotes supplies the market price used for
// profit recomputation (zero = unknown).
func New(dir *directory.Directory, quotes quote.Source) *Reconciler {
	return &Reconciler{dir: dir, quotes: quotes, now: time.Now}
}

// Apply executes one command against a snapshot and returns the new
// snapshot. The input slice is never modified.
//
// Accumulate/reduce require price > 0 and shares > 0 — the caller should
// have gap-filled incomplete commands already, but this is re-validated
// here. Every intent except delete_all requires the target stock to
// resolve in the directory.
func (r *Reconciler) Apply(ctx context.Context, portfolio []model.PortfolioItem, cmd model.Command) ([]model.PortfolioItem, error) {
	if !cmd.Complete() {
		return nil, ErrInvalidPriceOrShares
	}

	if cmd.Intent == model.IntentDeleteAll {
		return []model.PortfolioItem{}, nil
	}

	stock := r.dir.Resolve(cmd.StockName)
	if stock == nil {
		return nil, notFoundError(cmd.StockName)
	}

	out := model.ClonePortfolio(portfolio)

	switch cmd.Intent {
	case model.IntentAccumulate:
		return r.accumulate(ctx, out, *stock, cmd), nil
	case model.IntentReduce:
		return r.reduce(ctx, out, *stock, cmd), nil
	case model.IntentWatch:
		return r.watch(out, *stock, cmd), nil
	case model.IntentDelete:
		return r.deleteAny(out, *stock, cmd), nil
	case model.IntentDeleteHolding:
		return removeAt(out, indexOf(out, stock.Symbol, model.StatusInvesting)), nil
	case model.IntentDeleteWatching:
		return removeAt(out, indexOf(out, stock.Symbol, model.StatusWatching)), nil
	case model.IntentUpdate:
		return r.update(out, *stock, cmd), nil
	default:
		return nil, &Error{Code: CodeUnknownIntent, Message: fmt.Sprintf("unknown intent: %s", cmd.Intent)}
	}
}

// accumulate adds to (or opens) the investing position, recomputing the
// weighted-average cost basis. A watching entry for the same symbol is
// removed: the buckets are mutually exclusive.
func (r *Reconciler) accumulate(ctx context.Context, out []model.PortfolioItem, stock model.Stock, cmd model.Command) []model.PortfolioItem {
	market := r.quotes.LatestPrice(ctx, stock.Symbol)

	if i := indexOf(out, stock.Symbol, model.StatusInvesting); i >= 0 {
		existing := out[i]
		oldShares := existing.Config.Shares

		// Average cost derives from the entry's recorded cost, so drift
		// introduced by manual updates is folded back in here.
		oldPrice := decimal.Zero
		if oldShares.IsPositive() {
			oldPrice = existing.Cost.Div(oldShares)
		}

		totalShares := oldShares.Add(cmd.Shares)
		newPrice := oldPrice.Mul(oldShares).Add(cmd.Price.Mul(cmd.Shares)).Div(totalShares)
		newCost := newPrice.Mul(totalShares)

		existing.Cost = newCost
		existing.Profit = profitFor(newPrice, market, totalShares)
		if existing.FirstBuyTS == 0 {
			existing.FirstBuyTS = r.now().UnixMilli()
		}
		existing.Config.Shares = totalShares
		existing.Config.PricePerShare = newPrice
		out[i] = existing
	} else {
		cost := cmd.Price.Mul(cmd.Shares)
		out = append(out, model.PortfolioItem{
			Stock: stock,
			Config: model.StockConfig{
				Status:        model.StatusInvesting,
				Shares:        cmd.Shares,
				PricePerShare: cmd.Price,
				Goal:          defaultGoal,
			},
			Cost:        cost,
			Profit:      profitFor(cmd.Price, market, cmd.Shares),
			HoldingDays: 1,
			FirstBuyTS:  r.now().UnixMilli(),
		})
	}

	return removeAt(out, indexOf(out, stock.Symbol, model.StatusWatching))
}

// reduce sells part or all of the investing position. With a known sale
// price the realized P&L is subtracted from the remainder's book cost —
// cost stays "capital still at risk" — floored at zero. An entry selling
// down to zero shares or zero cost is removed outright. No-op when no
// investing entry exists.
func (r *Reconciler) reduce(ctx context.Context, out []model.PortfolioItem, stock model.Stock, cmd model.Command) []model.PortfolioItem {
	i := indexOf(out, stock.Symbol, model.StatusInvesting)
	if i < 0 {
		return out
	}

	existing := out[i]
	curShares := existing.Config.Shares
	curCost := existing.Cost
	if !curShares.IsPositive() {
		return removeAt(out, i)
	}

	costPerShare := curCost.Div(curShares)
	remainingShares := curShares.Sub(cmd.Shares)

	sellPrice := r.quotes.LatestPrice(ctx, stock.Symbol)
	var remainingCost decimal.Decimal
	if sellPrice.IsPositive() {
		soldCost := costPerShare.Mul(cmd.Shares)
		soldAmount := sellPrice.Mul(cmd.Shares)
		realized := soldAmount.Sub(soldCost)
		remainingCost = costPerShare.Mul(remainingShares).Sub(realized)
		if remainingCost.IsNegative() {
			remainingCost = decimal.Zero
		}
	} else {
		// Sale price unknown: remainder keeps its pro-rata book cost.
		remainingCost = costPerShare.Mul(remainingShares)
	}

	if !remainingShares.IsPositive() || !remainingCost.IsPositive() {
		return removeAt(out, i)
	}

	newPrice := remainingCost.Div(remainingShares)
	existing.Cost = remainingCost
	existing.Profit = profitFor(newPrice, sellPrice, remainingShares)
	existing.Config.Shares = remainingShares
	existing.Config.PricePerShare = newPrice
	// FirstBuyTS deliberately untouched: partial sells do not reset the
	// holding-day count.
	out[i] = existing
	return out
}

// watch adds a watching entry (no-op if one exists) and removes any
// investing entry for the symbol.
func (r *Reconciler) watch(out []model.PortfolioItem, stock model.Stock, cmd model.Command) []model.PortfolioItem {
	if indexOf(out, stock.Symbol, model.StatusWatching) < 0 {
		out = append(out, model.PortfolioItem{
			Stock: stock,
			Config: model.StockConfig{
				Status: model.StatusWatching,
				Shares: cmd.Shares,
				Goal:   defaultGoal,
			},
			// Watched-but-not-held has no cost basis and is excluded
			// from aggregate P&L.
			Cost:        decimal.Zero,
			Profit:      decimal.Zero,
			HoldingDays: 0,
		})
	}
	return removeAt(out, indexOf(out, stock.Symbol, model.StatusInvesting))
}

// deleteAny removes the symbol from whichever bucket holds it. A command
// carrying stock_names removes every resolvable target.
func (r *Reconciler) deleteAny(out []model.PortfolioItem, stock model.Stock, cmd model.Command) []model.PortfolioItem {
	symbols := map[string]bool{stock.Symbol: true}
	for _, name := range cmd.StockNames {
		if st := r.dir.Resolve(name); st != nil {
			symbols[st.Symbol] = true
		}
	}

	kept := out[:0]
	for _, item := range out {
		if !symbols[item.Symbol] {
			kept = append(kept, item)
		}
	}
	return kept
}

// update overwrites cost and holding-days on an existing investing entry
// (manual correction of historical data). A supplied holding-day count
// recomputes FirstBuyTS backward from now so the derived count matches.
// The average cost basis is re-derived so cost == shares × pricePerShare
// still holds.
func (r *Reconciler) update(out []model.PortfolioItem, stock model.Stock, cmd model.Command) []model.PortfolioItem {
	i := indexOf(out, stock.Symbol, model.StatusInvesting)
	if i < 0 {
		return out
	}

	existing := out[i]
	if cmd.Cost.IsPositive() {
		existing.Cost = cmd.Cost
		if existing.Config.Shares.IsPositive() {
			existing.Config.PricePerShare = cmd.Cost.Div(existing.Config.Shares)
		}
	}
	if cmd.HoldingDays > 0 {
		existing.HoldingDays = cmd.HoldingDays
		// Day 1 is the buy day, so N days back-dates N-1 whole days.
		existing.FirstBuyTS = r.now().UnixMilli() - int64(cmd.HoldingDays-1)*dayMillis
	}
	out[i] = existing
	return out
}

// profitFor computes unrealized P&L as (costBasis − marketPrice) × shares.
// With market price unknown (zero) this equals the full cost — the
// documented "price unknown" simplification.
func profitFor(costBasis, market decimal.Decimal, shares decimal.Decimal) decimal.Decimal {
	if !costBasis.IsPositive() {
		return decimal.Zero
	}
	return costBasis.Sub(market).Mul(shares)
}

func indexOf(items []model.PortfolioItem, symbol, status string) int {
	for i, item := range items {
		if item.Symbol == symbol && item.Config.Status == status {
			return i
		}
	}
	return -1
}

// removeAt drops the entry at i; i < 0 is a no-op.
func removeAt(items []model.PortfolioItem, i int) []model.PortfolioItem {
	if i < 0 {
		return items
	}
	return append(items[:i], items[i+1:]...)
}
