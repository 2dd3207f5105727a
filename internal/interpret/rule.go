package interpret

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/budvest/portfolio-engine/internal/directory"
	"github.com/budvest/portfolio-engine/internal/model"
)

// Keyword vocabulary for intent detection. Grouped the way users actually
// talk: standard terms, trader jargon, colloquialisms, implied intent,
// and emotional shorthand.
var (
	buyKeywords = []string{
		"买入", "购买", "买了", "买", "购入", "增持", "加仓", "入",
		"建仓", "补仓", "抄底", "追涨", "做多", "进场", "入场", "上车",
		"搞点", "弄点", "拿点", "入手", "买点", "加点", "补点",
		"看好", "有潜力", "可以买", "值得买", "准备买",
		"fomo", "追高", "梭哈",
	}
	sellKeywords = []string{
		"卖出", "出售", "卖了", "卖", "减持", "减仓",
		"清仓", "平仓", "止损", "止盈", "获利了结", "离场", "出场", "下车",
		"出了", "清了", "走了", "跑了", "撤了", "溜了",
		"不看好", "有风险", "可以出", "该出了", "准备出",
		"落袋为安", "见好就收", "割肉", "跑路", "逃顶",
	}
	watchKeywords  = []string{"观望", "自选", "关注", "先看看", "观察", "盯着"}
	deleteKeywords = []string{"删除", "移除", "去掉", "清除", "清空"}
	addKeywords    = []string{"添加", "加入持仓", "加入投资", "新增"}
)

var (
	// "<number>股" or "<number>手"; one lot (手) is 100 shares.
	sharesRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(股|手)`)

	// Total-amount signal words: the stated number is the whole outlay.
	totalAmountRe = regexp.MustCompile(`(?:花了|用了|投入|花费|总价|总成本|总共|一共|合计)\s*(\d+(?:\.\d+)?)`)

	// Price-keyword-led amounts are always per-share.
	priceKeywordRe = regexp.MustCompile(`(?:买入价|卖出价|成交价|成本价|每股成本|均价|单价|成本|价格)(?:是|为)?\s*(\d+(?:\.\d+)?)`)

	// "以350的价格" — amount qualified as a price.
	priceQualifiedRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:元|块|美元|港币|hkd|usd|¥|\$)?\s*的价格`)

	// Amount immediately preceding a trade verb; per-share unless the
	// total-vs-unit heuristic says otherwise.
	adjacentAmountRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:元|块|美元|港币|hkd|usd|¥|\$)?\s*(?:买入|购买|买了|卖出|卖了|加仓|增持|减仓|减持|买|卖|入)`)

	// Explicit per-share hints used by the total-vs-unit heuristic.
	unitPriceHintRe = regexp.MustCompile(`价格|单价|成本价`)

	// "持有30天，成本10000" — manual correction of historical data.
	updateRe = regexp.MustCompile(`(?:已经持有|持有)(\d+)(?:天|日).*?(?:成本|投入)(?:是|为)?(\d+(?:\.\d+)?)(?:元|块)?`)

	// "买入特斯拉、苹果各100股" — same share count for every target.
	eachSharesRe = regexp.MustCompile(`(.+?)各\s*(\d+(?:\.\d+)?)\s*(股|手)`)

	batchSplitRe = regexp.MustCompile(`[，,；;]|还有|和|与`)
)

var lotSize = decimal.NewFromInt(100)

// RuleStrategy is the deterministic regex/keyword interpreter. It covers
// the fixed vocabulary above; anything subtler needs the LLM strategy.
type RuleStrategy struct {
	dir *directory.Directory
}

// NewRuleStrategy creates the rule-based fallback strategy.
func NewRuleStrategy(dir *directory.Directory) *RuleStrategy {
	return &RuleStrategy{dir: dir}
}

// Interpret implements Strategy.
func (s *RuleStrategy) Interpret(_ context.Context, text string, batch bool) ([]model.Command, error) {
	if batch {
		return s.parseBatch(text), nil
	}
	cmd := s.parseOne(text)
	if cmd == nil {
		return nil, nil
	}
	return []model.Command{*cmd}, nil
}

// parseOne interprets a single instruction. Returns nil when no stock or
// no intent is recognizable.
func (s *RuleStrategy) parseOne(text string) *model.Command {
	lower := strings.ToLower(text)

	stock := s.findStock(lower)
	if stock == nil && !containsAny(lower, deleteKeywords) {
		return nil
	}

	// Deletion first: "删除观望中的苹果" must not fall into the watch
	// branch below.
	if containsAny(lower, deleteKeywords) {
		return s.parseDelete(lower, stock)
	}
	if containsAny(lower, watchKeywords) {
		return &model.Command{
			StockName: stock.Name,
			Intent:    model.IntentWatch,
			Time:      extractTime(lower),
		}
	}
	// Update before the trade verbs: "投入10000" inside an update phrase
	// must not be eaten by the buy vocabulary.
	if m := updateRe.FindStringSubmatch(lower); m != nil {
		days := mustInt(m[1])
		cost := mustDecimal(m[2])
		return &model.Command{
			StockName:   stock.Name,
			Intent:      model.IntentUpdate,
			Cost:        cost,
			Time:        extractTime(lower),
			HoldingDays: days,
		}
	}

	// Longest keyword across both vocabularies wins, so a negated phrase
	// ("不看好") beats the bullish substring it contains ("看好").
	buyHit := longestMatch(lower, buyKeywords)
	if add := longestMatch(lower, addKeywords); len(add) > len(buyHit) {
		buyHit = add
	}
	sellHit := longestMatch(lower, sellKeywords)
	switch {
	case len(sellHit) > len(buyHit):
		return s.parseTrade(lower, stock, model.IntentReduce)
	case buyHit != "":
		return s.parseTrade(lower, stock, model.IntentAccumulate)
	case sellHit != "":
		return s.parseTrade(lower, stock, model.IntentReduce)
	}

	// Stock recognized but no intent.
	return nil
}

// parseTrade extracts price/shares for an accumulate or reduce command,
// applying the price-disambiguation policy:
//
//  1. A total-amount signal word plus a share count → stated amount is the
//     total; per-share price = total ÷ shares.
//  2. A price-keyword-led or price-qualified amount → per-share price.
//  3. An amount adjacent to a trade verb → per-share, unless it exceeds
//     ten times the share count with no per-share hint (then total).
//  4. Missing price or shares stays zero: incomplete, caller prompts.
func (s *RuleStrategy) parseTrade(lower string, stock *model.Stock, intent model.Intent) *model.Command {
	shares := extractShares(lower)
	cmd := &model.Command{
		StockName: stock.Name,
		Intent:    intent,
		Time:      extractTime(lower),
		Shares:    shares,
	}

	if m := totalAmountRe.FindStringSubmatch(lower); m != nil && shares.IsPositive() {
		total := mustDecimal(m[1])
		cmd.Price = total.Div(shares)
		cmd.Cost = total
		return cmd
	}

	price := decimal.Zero
	if m := priceKeywordRe.FindStringSubmatch(lower); m != nil {
		price = mustDecimal(m[1])
	} else if m := priceQualifiedRe.FindStringSubmatch(lower); m != nil {
		price = mustDecimal(m[1])
	} else if m := adjacentAmountRe.FindStringSubmatch(lower); m != nil {
		amount := mustDecimal(m[1])
		// An amount far larger than the share count, with no per-share
		// hint, reads as a total ("1万买了100股").
		if !unitPriceHintRe.MatchString(lower) && shares.IsPositive() &&
			amount.GreaterThan(shares.Mul(decimal.NewFromInt(10))) {
			cmd.Price = amount.Div(shares)
			cmd.Cost = amount
			return cmd
		}
		price = amount
	}

	cmd.Price = price
	if price.IsPositive() && shares.IsPositive() {
		cmd.Cost = price.Mul(shares)
	}
	return cmd
}

func (s *RuleStrategy) parseDelete(lower string, stock *model.Stock) *model.Command {
	if strings.Contains(lower, "全部") || strings.Contains(lower, "所有") || strings.Contains(lower, "清空") {
		return &model.Command{Intent: model.IntentDeleteAll, Time: extractTime(lower)}
	}
	if stock == nil {
		return nil
	}
	if strings.Contains(lower, "持有") || strings.Contains(lower, "持仓") {
		return &model.Command{StockName: stock.Name, Intent: model.IntentDeleteHolding, Time: extractTime(lower)}
	}
	if strings.Contains(lower, "观望") || strings.Contains(lower, "自选") {
		return &model.Command{StockName: stock.Name, Intent: model.IntentDeleteWatching, Time: extractTime(lower)}
	}

	cmd := &model.Command{StockName: stock.Name, Intent: model.IntentDelete, Time: extractTime(lower)}
	if stocks := s.findStocks(lower); len(stocks) > 1 {
		names := make([]string, len(stocks))
		for i, st := range stocks {
			names[i] = st.Name
		}
		cmd.StockNames = names
	}
	return cmd
}

// parseBatch splits a multi-command instruction and interprets each part.
func (s *RuleStrategy) parseBatch(text string) []model.Command {
	lower := strings.ToLower(text)

	// "各N股": one command per listed stock, same quantity.
	if m := eachSharesRe.FindStringSubmatch(lower); m != nil {
		if cmds := s.parseEach(m[1], m[2], m[3]); len(cmds) > 0 {
			return cmds
		}
	}

	var cmds []model.Command
	var lastIntent model.Intent
	for _, segment := range batchSplitRe.Split(lower, -1) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		cmd := s.parseOne(segment)
		if cmd == nil {
			// A bare stock name inherits the running intent:
			// "删除特斯拉和苹果" deletes both.
			if stock := s.findStock(segment); stock != nil && lastIntent != "" {
				cmds = append(cmds, model.Command{
					StockName: stock.Name,
					Intent:    lastIntent,
					Time:      extractTime(segment),
				})
			}
			continue
		}
		lastIntent = cmd.Intent
		cmds = append(cmds, *cmd)
	}
	if len(cmds) == 0 {
		// The separator was internal punctuation, not a command boundary
		// ("特斯拉持有30天，成本10000"): retry as a single instruction.
		if cmd := s.parseOne(lower); cmd != nil {
			return []model.Command{*cmd}
		}
	}
	return cmds
}

func (s *RuleStrategy) parseEach(stocksPart, count, unit string) []model.Command {
	shares := mustDecimal(count)
	if unit == "手" {
		shares = shares.Mul(lotSize)
	}

	intent := model.IntentWatch
	withShares := false
	switch {
	case containsAny(stocksPart, sellKeywords):
		intent, withShares = model.IntentReduce, true
	case containsAny(stocksPart, deleteKeywords):
		intent = model.IntentDelete
	case containsAny(stocksPart, buyKeywords):
		intent, withShares = model.IntentAccumulate, true
	}

	var cmds []model.Command
	for _, stock := range s.findStocks(stocksPart) {
		cmd := model.Command{
			StockName: stock.Name,
			Intent:    intent,
			Time:      extractTime(stocksPart),
		}
		if withShares {
			cmd.Shares = shares
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

// findStock returns the first catalog stock mentioned in the text.
func (s *RuleStrategy) findStock(lower string) *model.Stock {
	best := -1
	var found *model.Stock
	for _, term := range s.dir.Aliases() {
		idx := strings.Index(lower, term)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best {
			best = idx
			found = s.dir.Resolve(term)
		}
	}
	return found
}

// findStocks returns every catalog stock mentioned, in order of first
// occurrence, one entry per symbol.
func (s *RuleStrategy) findStocks(lower string) []*model.Stock {
	type hit struct {
		idx   int
		stock *model.Stock
	}
	var hits []hit
	seen := make(map[string]bool)
	for _, term := range s.dir.Aliases() {
		idx := strings.Index(lower, term)
		if idx < 0 {
			continue
		}
		stock := s.dir.Resolve(term)
		if stock == nil || seen[stock.Symbol] {
			continue
		}
		seen[stock.Symbol] = true
		hits = append(hits, hit{idx: idx, stock: stock})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].idx < hits[j].idx })
	out := make([]*model.Stock, len(hits))
	for i, h := range hits {
		out[i] = h.stock
	}
	return out
}

// --- extraction helpers ---

func extractShares(lower string) decimal.Decimal {
	m := sharesRe.FindStringSubmatch(lower)
	if m == nil {
		return decimal.Zero
	}
	shares := mustDecimal(m[1])
	if m[2] == "手" {
		shares = shares.Mul(lotSize)
	}
	return shares
}

func extractTime(lower string) string {
	switch {
	case strings.Contains(lower, "今天"):
		return "今日"
	case strings.Contains(lower, "昨天"):
		return "昨天"
	default:
		return "今日"
	}
}

// longestMatch returns the longest keyword from kws present in text, or
// "" when none matches.
func longestMatch(text string, kws []string) string {
	best := ""
	for _, kw := range kws {
		if len(kw) > len(best) && strings.Contains(text, kw) {
			best = kw
		}
	}
	return best
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func mustInt(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
