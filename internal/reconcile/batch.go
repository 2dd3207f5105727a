package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/budvest/portfolio-engine/internal/model"
)

// MaxBatchSize caps one batch request. Larger batches are rejected
// wholesale before any command is applied (abuse guard).
const MaxBatchSize = 50

var (
	// ErrEmptyBatch rejects a structurally invalid batch request.
	ErrEmptyBatch = errors.New("reconcile: batch contains no commands")

	// ErrBatchTooLarge rejects batches over MaxBatchSize.
	ErrBatchTooLarge = fmt.Errorf("reconcile: batch exceeds %d commands", MaxBatchSize)
)

// BatchResult reports one command's outcome within a batch.
type BatchResult struct {
	Success bool          `json:"success"`
	Command model.Command `json:"command"`
	Error   string        `json:"error,omitempty"`
	Message string        `json:"message,omitempty"`
}

// BatchSummary aggregates a batch's per-command outcomes.
type BatchSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// BatchReport is the full per-batch account returned to callers.
type BatchReport struct {
	ID      string        `json:"id"`
	Results []BatchResult `json:"results"`
	Summary BatchSummary  `json:"summary"`
}

// ApplyBatch applies commands sequentially and statefully: command i+1
// observes the snapshot produced by command i. A failed command is
// recorded and skipped — the snapshot carried forward is the one from
// before the failure — and the batch continues. This differs from the
// single-command path, which fails the whole request.
//
// Only a structurally invalid batch (empty, over MaxBatchSize) returns a
// top-level error, before anything is applied.
func (r *Reconciler) ApplyBatch(ctx context.Context, portfolio []model.PortfolioItem, commands []model.Command) ([]model.PortfolioItem, *BatchReport, error) {
	if len(commands) == 0 {
		return nil, nil, ErrEmptyBatch
	}
	if len(commands) > MaxBatchSize {
		return nil, nil, ErrBatchTooLarge
	}

	report := &BatchReport{
		ID:      uuid.New().String(),
		Results: make([]BatchResult, 0, len(commands)),
		Summary: BatchSummary{Total: len(commands)},
	}

	current := model.ClonePortfolio(portfolio)
	for _, cmd := range commands {
		next, err := r.Apply(ctx, current, cmd)
		if err != nil {
			report.Results = append(report.Results, BatchResult{
				Success: false,
				Command: cmd,
				Error:   err.Error(),
				Message: fmt.Sprintf("failed: %s %s", cmd.Intent, cmd.StockName),
			})
			report.Summary.Failure++
			continue
		}
		current = next
		report.Results = append(report.Results, BatchResult{
			Success: true,
			Command: cmd,
			Message: fmt.Sprintf("applied: %s %s", cmd.Intent, cmd.StockName),
		})
		report.Summary.Success++
	}

	slog.Info("batch applied",
		"batch_id", report.ID,
		"total", report.Summary.Total,
		"success", report.Summary.Success,
		"failure", report.Summary.Failure,
	)
	return current, report, nil
}
