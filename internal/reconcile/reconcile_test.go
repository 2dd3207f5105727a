package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/budvest/portfolio-engine/internal/directory"
	"github.com/budvest/portfolio-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fixedQuotes serves canned prices; absent symbols read as unknown (zero).
type fixedQuotes map[string]decimal.Decimal

func (q fixedQuotes) LatestPrice(_ context.Context, symbol string) decimal.Decimal {
	return q[symbol]
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testReconciler(quotes fixedQuotes) *Reconciler {
	r := New(directory.Default(), quotes)
	r.now = func() time.Time { return testNow }
	return r
}

func holding(symbol string, shares, pricePerShare float64) model.PortfolioItem {
	dir := directory.Default()
	stock := dir.Resolve(symbol)
	return model.PortfolioItem{
		Stock: *stock,
		Config: model.StockConfig{
			Status:        model.StatusInvesting,
			Shares:        d(shares),
			PricePerShare: d(pricePerShare),
		},
		Cost:        d(shares).Mul(d(pricePerShare)),
		HoldingDays: 1,
		FirstBuyTS:  testNow.Add(-48 * time.Hour).UnixMilli(),
	}
}

func watching(symbol string) model.PortfolioItem {
	dir := directory.Default()
	return model.PortfolioItem{
		Stock:  *dir.Resolve(symbol),
		Config: model.StockConfig{Status: model.StatusWatching},
	}
}

// assertCostInvariant checks cost == shares × pricePerShare for every
// investing entry.
func assertCostInvariant(t *testing.T, items []model.PortfolioItem) {
	t.Helper()
	for _, item := range items {
		if item.Config.Status != model.StatusInvesting {
			continue
		}
		want := item.Config.Shares.Mul(item.Config.PricePerShare)
		if !item.Cost.Sub(want).Abs().LessThan(d(0.000001)) {
			t.Errorf("%s: cost %s != shares × pricePerShare %s", item.Symbol, item.Cost, want)
		}
	}
}

// --- Accumulate ---

func TestApply_AccumulateOpensPosition(t *testing.T) {
	r := testReconciler(fixedQuotes{"TSLA": d(200)})
	out, err := r.Apply(context.Background(), nil, model.Command{
		StockName: "特斯拉", Intent: model.IntentAccumulate, Price: d(250), Shares: d(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(out))
	}
	item := out[0]
	if item.Symbol != "TSLA" || item.Config.Status != model.StatusInvesting {
		t.Fatalf("unexpected entry: %+v", item)
	}
	if !item.Cost.Equal(d(25000)) {
		t.Errorf("expected cost=25000, got %s", item.Cost)
	}
	// (250 − 200) × 100
	if !item.Profit.Equal(d(5000)) {
		t.Errorf("expected profit=5000, got %s", item.Profit)
	}
	if item.HoldingDays != 1 {
		t.Errorf("expected holding_days=1, got %d", item.HoldingDays)
	}
	if item.FirstBuyTS != testNow.UnixMilli() {
		t.Errorf("expected first_buy_ts=now, got %d", item.FirstBuyTS)
	}
	assertCostInvariant(t, out)
}

func TestApply_AccumulateWeightedAverage(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10)}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentAccumulate, Price: d(20), Shares: d(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	item := out[0]
	if !item.Config.Shares.Equal(d(200)) {
		t.Errorf("expected shares=200, got %s", item.Config.Shares)
	}
	if !item.Config.PricePerShare.Equal(d(15)) {
		t.Errorf("expected avg price=15, got %s", item.Config.PricePerShare)
	}
	if !item.Cost.Equal(d(3000)) {
		t.Errorf("expected cost=3000, got %s", item.Cost)
	}
	assertCostInvariant(t, out)
}

func TestApply_AccumulatePreservesFirstBuyTS(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10)}
	firstBuy := existing[0].FirstBuyTS

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentAccumulate, Price: d(20), Shares: d(50),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].FirstBuyTS != firstBuy {
		t.Errorf("top-up must not reset first_buy_ts: %d != %d", out[0].FirstBuyTS, firstBuy)
	}
}

func TestApply_AccumulateRemovesWatchingEntry(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{watching("TSLA")}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentAccumulate, Price: d(10), Shares: d(10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Config.Status != model.StatusInvesting {
		t.Fatalf("expected single investing entry, got %+v", out)
	}
}

func TestApply_AccumulateIncomplete(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	_, err := r.Apply(context.Background(), nil, model.Command{
		StockName: "TSLA", Intent: model.IntentAccumulate, Shares: d(100),
	})
	var recErr *Error
	if !errors.As(err, &recErr) || recErr.Code != CodeInvalidPriceOrShares {
		t.Fatalf("expected INVALID_PRICE_OR_SHARES, got %v", err)
	}
}

func TestApply_UnknownStock(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	_, err := r.Apply(context.Background(), nil, model.Command{
		StockName: "狗狗币", Intent: model.IntentWatch,
	})
	if ErrorCode(err) != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestApply_UnknownIntent(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	_, err := r.Apply(context.Background(), nil, model.Command{
		StockName: "TSLA", Intent: model.Intent("moonshot"),
	})
	if ErrorCode(err) != CodeUnknownIntent {
		t.Fatalf("expected UNKNOWN_INTENT, got %v", err)
	}
}

func TestApply_InputNotMutated(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10)}

	_, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentAccumulate, Price: d(20), Shares: d(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !existing[0].Config.Shares.Equal(d(100)) || !existing[0].Cost.Equal(d(1000)) {
		t.Errorf("input snapshot was mutated: %+v", existing[0])
	}
}

// --- Reduce ---

func TestApply_ReducePartialSellRealizesProfit(t *testing.T) {
	r := testReconciler(fixedQuotes{"TSLA": d(20)})
	existing := []model.PortfolioItem{holding("TSLA", 200, 15)}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentReduce, Price: d(20), Shares: d(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	item := out[0]
	if !item.Config.Shares.Equal(d(100)) {
		t.Errorf("expected 100 remaining shares, got %s", item.Config.Shares)
	}
	// Remaining book cost 15×100 minus realized gain (20−15)×100 = 1000.
	if !item.Cost.Equal(d(1000)) {
		t.Errorf("expected cost=1000, got %s", item.Cost)
	}
	if !item.Config.PricePerShare.Equal(d(10)) {
		t.Errorf("expected price_per_share=10, got %s", item.Config.PricePerShare)
	}
	assertCostInvariant(t, out)
}

func TestApply_ReduceCostFlooredAtZero(t *testing.T) {
	r := testReconciler(fixedQuotes{"TSLA": d(100)})
	existing := []model.PortfolioItem{holding("TSLA", 200, 10)}

	// Realized gain (100−10)×100 = 9000 exceeds the remaining book cost
	// 1000, so the entry is removed rather than kept with negative cost.
	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentReduce, Price: d(100), Shares: d(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected entry removed when cost floors to zero, got %+v", out)
	}
}

func TestApply_ReduceToZeroRemovesEntry(t *testing.T) {
	r := testReconciler(fixedQuotes{"TSLA": d(12)})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10)}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentReduce, Price: d(12), Shares: d(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty portfolio after full sell, got %+v", out)
	}
}

func TestApply_ReduceUnknownQuoteProRata(t *testing.T) {
	r := testReconciler(fixedQuotes{}) // no quote for TSLA
	existing := []model.PortfolioItem{holding("TSLA", 200, 15)}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentReduce, Price: d(20), Shares: d(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Sale price unknown: remainder keeps pro-rata book cost.
	if !out[0].Cost.Equal(d(1500)) {
		t.Errorf("expected cost=1500, got %s", out[0].Cost)
	}
	assertCostInvariant(t, out)
}

func TestApply_ReduceWithoutPositionIsNoop(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{watching("TSLA")}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentReduce, Price: d(10), Shares: d(10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Config.Status != model.StatusWatching {
		t.Fatalf("expected untouched watching entry, got %+v", out)
	}
}

func TestApply_ReduceKeepsFirstBuyTS(t *testing.T) {
	r := testReconciler(fixedQuotes{"TSLA": d(20)})
	existing := []model.PortfolioItem{holding("TSLA", 200, 15)}
	firstBuy := existing[0].FirstBuyTS

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentReduce, Price: d(20), Shares: d(50),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].FirstBuyTS != firstBuy {
		t.Errorf("partial sell must not reset first_buy_ts")
	}
}

// --- Watch ---

func TestApply_WatchAddsEntry(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	out, err := r.Apply(context.Background(), nil, model.Command{
		StockName: "苹果", Intent: model.IntentWatch,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Config.Status != model.StatusWatching {
		t.Fatalf("expected watching entry, got %+v", out)
	}
	if !out[0].Cost.IsZero() || !out[0].Profit.IsZero() {
		t.Errorf("watching entry must carry no cost or profit: %+v", out[0])
	}
}

func TestApply_WatchIdempotent(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{watching("AAPL")}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "AAPL", Intent: model.IntentWatch,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("watch must be idempotent, got %d entries", len(out))
	}
}

func TestApply_WatchRemovesInvestingEntry(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10)}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentWatch,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Config.Status != model.StatusWatching {
		t.Fatalf("buckets must stay mutually exclusive, got %+v", out)
	}
}

// --- Delete ---

func TestApply_DeleteRemovesBothBuckets(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10), watching("AAPL")}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentDelete,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Symbol != "AAPL" {
		t.Fatalf("expected only AAPL left, got %+v", out)
	}
}

func TestApply_DeleteMultiTarget(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{
		holding("TSLA", 100, 10),
		watching("AAPL"),
		holding("NVDA", 10, 900),
	}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName:  "TSLA",
		Intent:     model.IntentDelete,
		StockNames: []string{"特斯拉", "苹果"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Symbol != "NVDA" {
		t.Fatalf("expected only NVDA left, got %+v", out)
	}
}

func TestApply_DeleteHoldingKeepsWatching(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10), watching("AAPL")}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "AAPL", Intent: model.IntentDeleteHolding,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// AAPL has no investing entry; delete_holding must not touch the
	// watching one.
	if len(out) != 2 {
		t.Fatalf("expected both entries kept, got %+v", out)
	}
}

func TestApply_DeleteWatching(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10), watching("AAPL")}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "AAPL", Intent: model.IntentDeleteWatching,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Symbol != "TSLA" {
		t.Fatalf("expected only TSLA left, got %+v", out)
	}
}

func TestApply_DeleteAll(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10), watching("AAPL")}

	out, err := r.Apply(context.Background(), existing, model.Command{Intent: model.IntentDeleteAll})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty portfolio, got %+v", out)
	}
}

// --- Update ---

func TestApply_UpdateCostRecomputesAverage(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10)}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentUpdate, Cost: d(2000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out[0].Cost.Equal(d(2000)) {
		t.Errorf("expected cost=2000, got %s", out[0].Cost)
	}
	if !out[0].Config.PricePerShare.Equal(d(20)) {
		t.Errorf("expected price_per_share=20, got %s", out[0].Config.PricePerShare)
	}
	assertCostInvariant(t, out)
}

func TestApply_UpdateHoldingDaysBackdates(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	existing := []model.PortfolioItem{holding("TSLA", 100, 10)}

	out, err := r.Apply(context.Background(), existing, model.Command{
		StockName: "TSLA", Intent: model.IntentUpdate, HoldingDays: 30,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	item := out[0]
	if item.HoldingDays != 30 {
		t.Errorf("expected holding_days=30, got %d", item.HoldingDays)
	}
	wantTS := testNow.UnixMilli() - 29*dayMillis
	if item.FirstBuyTS != wantTS {
		t.Errorf("expected first_buy_ts=%d, got %d", wantTS, item.FirstBuyTS)
	}
	if item.HoldingDaysAt(testNow) != 30 {
		t.Errorf("derived holding days = %d, want 30", item.HoldingDaysAt(testNow))
	}
}

func TestApply_UpdateWithoutPositionIsNoop(t *testing.T) {
	r := testReconciler(fixedQuotes{})
	out, err := r.Apply(context.Background(), nil, model.Command{
		StockName: "TSLA", Intent: model.IntentUpdate, Cost: d(1000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no entries, got %+v", out)
	}
}

// --- Profit convention ---

func TestApply_UnknownMarketPriceProfitEqualsCost(t *testing.T) {
	r := testReconciler(fixedQuotes{}) // no quotes at all
	out, err := r.Apply(context.Background(), nil, model.Command{
		StockName: "TSLA", Intent: model.IntentAccumulate, Price: d(10), Shares: d(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (10 − 0) × 100: the documented "price unknown" simplification.
	if !out[0].Profit.Equal(d(1000)) {
		t.Errorf("expected profit=1000 with unknown market price, got %s", out[0].Profit)
	}
}
