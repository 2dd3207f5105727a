package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"

	"github.com/budvest/portfolio-engine/internal/directory"
	"github.com/budvest/portfolio-engine/internal/model"
)

// LLMStrategy interprets instructions with a chat-completion backend in
// JSON mode. One blocking call per Interpret; no retries — failures are
// returned to the Interpreter, which degrades to the rule strategy.
type LLMStrategy struct {
	client *openai.Client
	model  string
	dir    *directory.Directory
}

// NewLLMStrategy creates the LLM-backed strategy.
func NewLLMStrategy(client *openai.Client, modelName string, dir *directory.Directory) *LLMStrategy {
	return &LLMStrategy{client: client, model: modelName, dir: dir}
}

const promptHeader = `You are a portfolio command parser. Convert the user's free-text trading instruction (Chinese or English) into JSON commands. Be maximally precise about prices and share counts.

Command fields:
- stock_name: the stock mentioned (any language or ticker)
- user_intent: one of "accumulate", "reduce", "watch", "delete", "delete_holding", "delete_watching", "delete_all", "update"
- price: per-share price; 0 if not stated
- shares: share count; 0 if not stated. "N手" means N*100 shares.
- cost: total cost = price * shares, or the stated total; 0 if unknown
- time: time description ("今日", "昨天", ...); "今日" if unstated
- holding_days: only for "update"; 0 otherwise
- stock_names: list of names, only for a multi-target "delete"

Price disambiguation rules (follow exactly):
1. A total-amount word (花了/用了/投入/总价/总成本/总共/一共/合计/spent/total) together with a share count means the amount is the TOTAL: price = total / shares, cost = total.
   "花了1000买了100股" → price=10, shares=100, cost=1000
2. A price-keyword amount (买入价/成交价/成本/均价/单价/price/at) or an amount adjacent to a trade verb is PER-SHARE: cost = price * shares.
   "以350的价格买入50股" → price=350, shares=50, cost=17500
3. Shares stated without any price: price=0, cost=0, keep shares. Never drop the command.
   "买了300股" → price=0, shares=300, cost=0
4. Price stated without shares: shares=0, cost=0.
5. When both a per-share price and a total are stated, trust price * shares.

Intent vocabulary (understand meaning, not just keywords):
- accumulate: 买入, 购入, 买, 购买, 入手, 抄底, 建仓, 加仓, 增持, 补仓, 追涨, 梭哈, buy, add
- reduce: 卖出, 卖, 出售, 减仓, 清仓, 平仓, 止损, 止盈, 获利了结, 离场, 割肉, sell, trim
- watch: 观望, 自选, 关注, watch
- delete: 删除, 移除, 去掉; "删除持有中的X" → delete_holding; "删除自选中的X" → delete_watching; "全部删除"/"清空" → delete_all
- update: corrections like "持有30天，成本10000"`

func (s *LLMStrategy) systemPrompt(batch bool) string {
	catalog := strings.Join(s.dir.NameList(), ", ")
	if batch {
		return promptHeader + `

Available stocks: ` + catalog + `

The input may contain several instructions separated by 逗号/分号/和/与. Return {"commands": [ ... ]} with one command per instruction, in input order. "各N股" applies N shares to every listed stock. Respond with JSON only, no prose.`
	}
	return promptHeader + `

Available stocks: ` + catalog + `

Return a single JSON command object. If no stock or intent is recognizable, return {"commands": []}. Respond with JSON only, no prose.`
}

// Interpret implements Strategy.
func (s *LLMStrategy) Interpret(ctx context.Context, text string, batch bool) ([]model.Command, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: s.systemPrompt(batch)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm completion: no choices in response")
	}

	cmds, err := DecodeCommands(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return s.normalize(cmds), nil
}

// normalize resolves stock names to canonical catalog names and drops
// commands whose target is not in the directory. delete_all needs no
// target and passes through.
func (s *LLMStrategy) normalize(cmds []model.Command) []model.Command {
	out := cmds[:0]
	for _, cmd := range cmds {
		if cmd.Intent == model.IntentDeleteAll {
			out = append(out, cmd)
			continue
		}
		stock := s.dir.Resolve(cmd.StockName)
		if stock == nil {
			continue
		}
		cmd.StockName = stock.Name
		for i, n := range cmd.StockNames {
			if st := s.dir.Resolve(n); st != nil {
				cmd.StockNames[i] = st.Name
			}
		}
		out = append(out, cmd)
	}
	return out
}

// wireCommand tolerates the shapes an LLM actually produces: numbers as
// strings, legacy Chinese intent labels, camelCase field names.
type wireCommand struct {
	StockName   string          `json:"stock_name"`
	StockNameC  string          `json:"stockName"`
	Intent      string          `json:"user_intent"`
	IntentC     string          `json:"userIntent"`
	Cost        decimal.Decimal `json:"cost"`
	Time        string          `json:"time"`
	Price       decimal.Decimal `json:"price"`
	Shares      decimal.Decimal `json:"shares"`
	HoldingDays int             `json:"holding_days"`
	HoldingC    int             `json:"holdingDays"`
	StockNames  []string        `json:"stock_names"`
	StockNamesC []string        `json:"stockNames"`
}

func (w wireCommand) toCommand() (model.Command, bool) {
	label := w.Intent
	if label == "" {
		label = w.IntentC
	}
	intent, ok := model.ParseIntent(label)
	if !ok {
		return model.Command{}, false
	}
	name := w.StockName
	if name == "" {
		name = w.StockNameC
	}
	if name == "" && intent != model.IntentDeleteAll {
		return model.Command{}, false
	}
	days := w.HoldingDays
	if days == 0 {
		days = w.HoldingC
	}
	names := w.StockNames
	if len(names) == 0 {
		names = w.StockNamesC
	}
	return model.Command{
		StockName:   name,
		Intent:      intent,
		Cost:        w.Cost,
		Time:        w.Time,
		Price:       w.Price,
		Shares:      w.Shares,
		HoldingDays: days,
		StockNames:  names,
	}, true
}

// DecodeCommands parses LLM output into commands. Accepts a single
// object, a bare array, or {"commands": [...]}; strips code fences.
// Commands with an unrecognizable intent are dropped; output that yields
// no command at all is an error so the caller can fall back.
func DecodeCommands(content string) ([]model.Command, error) {
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("decode commands: empty response")
	}

	var wires []wireCommand
	switch raw[0] {
	case '[':
		if err := json.Unmarshal([]byte(raw), &wires); err != nil {
			return nil, fmt.Errorf("decode commands: %w", err)
		}
	case '{':
		var envelope struct {
			Commands []json.RawMessage `json:"commands"`
		}
		if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.Commands != nil {
			for _, rawCmd := range envelope.Commands {
				var w wireCommand
				if err := json.Unmarshal(rawCmd, &w); err != nil {
					return nil, fmt.Errorf("decode commands: %w", err)
				}
				wires = append(wires, w)
			}
			break
		}
		var w wireCommand
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, fmt.Errorf("decode commands: %w", err)
		}
		wires = append(wires, w)
	default:
		return nil, fmt.Errorf("decode commands: not a JSON object or array")
	}

	var cmds []model.Command
	for _, w := range wires {
		if cmd, ok := w.toCommand(); ok {
			cmds = append(cmds, cmd)
		}
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("decode commands: no recognizable command")
	}
	return cmds, nil
}
