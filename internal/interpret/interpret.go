// Package interpret turns free-text trading instructions into structured
// commands. Two interchangeable strategies exist: an LLM-backed parser
// with a strict JSON-output contract, and a deterministic rule-based
// parser used when no LLM is configured or the LLM path fails.
package interpret

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/budvest/portfolio-engine/internal/model"
)

// batchSeparators marks input that potentially contains several commands.
var batchSeparators = regexp.MustCompile(`[，,；;]|和|与`)

// IsBatch reports whether text should be interpreted as a multi-command
// instruction.
func IsBatch(text string) bool {
	return batchSeparators.MatchString(text)
}

// Strategy is one way of interpreting an instruction. batch asks the
// strategy to split the text into multiple commands.
//
// A (nil, nil) return means "no recognizable command" — a normal outcome
// the caller surfaces as a parse failure, not an error condition.
type Strategy interface {
	Interpret(ctx context.Context, text string, batch bool) ([]model.Command, error)
}

// Result is the outcome of one interpretation.
type Result struct {
	Commands []model.Command
	Batch    bool // input was treated as multi-command
	Fallback bool // produced by the rule-based strategy
}

// Interpreter selects between the LLM strategy and the rule-based
// fallback. LLM failures (transport, bad JSON) degrade immediately to the
// fallback; no error from the LLM path ever propagates to callers.
type Interpreter struct {
	primary  Strategy // optional; nil when no LLM backend is configured
	fallback Strategy
}

// New creates an interpreter. primary may be nil.
func New(primary, fallback Strategy) *Interpreter {
	return &Interpreter{primary: primary, fallback: fallback}
}

// Interpret parses text into zero or more commands. A Result with no
// commands means the input was not understood.
func (i *Interpreter) Interpret(ctx context.Context, text string) (Result, error) {
	batch := IsBatch(text)

	if i.primary != nil {
		cmds, err := i.primary.Interpret(ctx, text, batch)
		if err == nil && len(cmds) > 0 {
			return Result{Commands: cmds, Batch: batch}, nil
		}
		if err != nil {
			slog.Warn("llm interpretation failed, using rule fallback", "err", err)
		}
	}

	cmds, err := i.fallback.Interpret(ctx, text, batch)
	if err != nil {
		return Result{}, err
	}
	return Result{Commands: cmds, Batch: batch, Fallback: true}, nil
}
