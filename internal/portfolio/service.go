// Package portfolio provides the HTTP handlers gluing the interpreter,
// reconciler, and snapshot store into the public JSON API.
//
// Error convention, inherited from the original API and relied on by
// clients: malformed requests get a 400; business-rule failures
// (validation, stock not found) come back embedded in a 200 body as
// {"error": ..., "code": ...}.
package portfolio

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/budvest/portfolio-engine/internal/directory"
	"github.com/budvest/portfolio-engine/internal/interpret"
	"github.com/budvest/portfolio-engine/internal/metrics"
	"github.com/budvest/portfolio-engine/internal/model"
	"github.com/budvest/portfolio-engine/internal/reconcile"
	"github.com/budvest/portfolio-engine/internal/store"
)

// Service handles portfolio command operations. The mutex serializes
// apply-and-persist per process (single-instance); for horizontal
// scaling, replace with per-user distributed locking or optimistic
// concurrency in the store.
type Service struct {
	dir    *directory.Directory
	interp *interpret.Interpreter
	rec    *reconcile.Reconciler
	store  store.Store
	hub    *WSHub // optional; nil disables broadcasting
	mu     sync.Mutex
}

// NewService creates the service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(dir *directory.Directory, interp *interpret.Interpreter, rec *reconcile.Reconciler, st store.Store, hub *WSHub) *Service {
	return &Service{dir: dir, interp: interp, rec: rec, store: st, hub: hub}
}

// --- Request/Response types ---

// ParseRequest is the JSON body for the parse endpoints.
type ParseRequest struct {
	Text string `json:"text"`
}

// ParseResponse carries the interpretation outcome. A nil Command with a
// set Error means the text was not understood — an expected state, not a
// transport failure.
type ParseResponse struct {
	Command  *model.Command  `json:"command,omitempty"`
	Commands []model.Command `json:"commands,omitempty"`
	Fallback bool            `json:"fallback"`
	Error    string          `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// ApplyRequest is the JSON body for POST /commands/apply. With a UserID
// and no Portfolio, the snapshot is loaded from (and saved back to) the
// store; otherwise the supplied snapshot is used and returned.
type ApplyRequest struct {
	UserID    string                `json:"user_id,omitempty"`
	Portfolio []model.PortfolioItem `json:"portfolio"`
	Command   *model.Command        `json:"command"`
}

// ApplyBatchRequest is the JSON body for POST /commands/apply-batch.
type ApplyBatchRequest struct {
	UserID    string                `json:"user_id,omitempty"`
	Portfolio []model.PortfolioItem `json:"portfolio"`
	Commands  []model.Command       `json:"commands"`
}

// --- HTTP Handlers ---

// ParseCommand handles POST /api/v1/commands/parse
func (s *Service) ParseCommand(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		writeError(w, "text is required", http.StatusBadRequest)
		return
	}

	result, err := s.interp.Interpret(r.Context(), req.Text)
	strategy := "llm"
	if result.Fallback {
		strategy = "rule"
	}
	if err != nil || len(result.Commands) == 0 {
		metrics.CommandsParsed.WithLabelValues(strategy, "none").Inc()
		writeJSON(w, http.StatusOK, ParseResponse{
			Fallback: result.Fallback,
			Error:    "unable to parse command",
			Message:  "指令无法识别，请尝试更明确的表达，例如：\"买入100股特斯拉\"",
		})
		return
	}
	metrics.CommandsParsed.WithLabelValues(strategy, "ok").Inc()

	resp := ParseResponse{Fallback: result.Fallback}
	if len(result.Commands) == 1 {
		resp.Command = &result.Commands[0]
	} else {
		resp.Commands = result.Commands
	}
	writeJSON(w, http.StatusOK, resp)
}

// ParseBatchCommand handles POST /api/v1/commands/parse-batch
// Always returns a commands array, even for single-instruction input.
func (s *Service) ParseBatchCommand(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		writeError(w, "text is required", http.StatusBadRequest)
		return
	}

	result, err := s.interp.Interpret(r.Context(), req.Text)
	strategy := "llm"
	if result.Fallback {
		strategy = "rule"
	}
	if err != nil || len(result.Commands) == 0 {
		metrics.CommandsParsed.WithLabelValues(strategy, "none").Inc()
		writeJSON(w, http.StatusOK, ParseResponse{
			Commands: []model.Command{},
			Fallback: result.Fallback,
			Error:    "unable to parse command",
		})
		return
	}
	metrics.CommandsParsed.WithLabelValues(strategy, "ok").Inc()
	writeJSON(w, http.StatusOK, ParseResponse{Commands: result.Commands, Fallback: result.Fallback})
}

// ApplyCommand handles POST /api/v1/commands/apply
func (s *Service) ApplyCommand(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Command == nil {
		writeError(w, "command is required", http.StatusBadRequest)
		return
	}
	cmd := *req.Command
	if in, ok := model.ParseIntent(string(cmd.Intent)); ok {
		cmd.Intent = in
	}

	ctx := r.Context()

	// Serialize apply-and-persist.
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := req.Portfolio
	if snapshot == nil && req.UserID != "" {
		loaded, err := s.store.GetPortfolio(ctx, req.UserID)
		if err != nil {
			writeError(w, "failed to load portfolio", http.StatusInternalServerError)
			return
		}
		snapshot = loaded
	}

	updated, err := s.rec.Apply(ctx, snapshot, cmd)
	if err != nil {
		metrics.CommandsApplied.WithLabelValues(string(cmd.Intent), "error").Inc()
		writeBusinessError(w, err)
		return
	}
	metrics.CommandsApplied.WithLabelValues(string(cmd.Intent), "ok").Inc()

	if req.UserID != "" {
		if err := s.store.SavePortfolio(ctx, req.UserID, updated); err != nil {
			writeError(w, "failed to save portfolio", http.StatusInternalServerError)
			return
		}
	}

	slog.Info("command applied",
		"intent", cmd.Intent,
		"stock", cmd.StockName,
		"user", req.UserID,
		"positions", len(updated),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "command_applied",
			UserID:    req.UserID,
			Intent:    string(cmd.Intent),
			StockName: cmd.StockName,
			Positions: len(updated),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"portfolio": updated})
}

// ApplyBatchCommand handles POST /api/v1/commands/apply-batch
// Commands run sequentially; failures are reported per command without
// aborting the batch.
func (s *Service) ApplyBatchCommand(w http.ResponseWriter, r *http.Request) {
	var req ApplyBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	for i, cmd := range req.Commands {
		if in, ok := model.ParseIntent(string(cmd.Intent)); ok {
			req.Commands[i].Intent = in
		}
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := req.Portfolio
	if snapshot == nil && req.UserID != "" {
		loaded, err := s.store.GetPortfolio(ctx, req.UserID)
		if err != nil {
			writeError(w, "failed to load portfolio", http.StatusInternalServerError)
			return
		}
		snapshot = loaded
	}

	updated, report, err := s.rec.ApplyBatch(ctx, snapshot, req.Commands)
	if err != nil {
		// Structurally invalid batches (empty, oversized) are hard
		// failures, unlike per-command errors inside a valid batch.
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	metrics.BatchSize.Observe(float64(len(req.Commands)))
	for _, res := range report.Results {
		outcome := "ok"
		if !res.Success {
			outcome = "error"
		}
		metrics.CommandsApplied.WithLabelValues(string(res.Command.Intent), outcome).Inc()
	}

	if req.UserID != "" {
		if err := s.store.SavePortfolio(ctx, req.UserID, updated); err != nil {
			writeError(w, "failed to save portfolio", http.StatusInternalServerError)
			return
		}
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "batch_applied",
			UserID:    req.UserID,
			BatchID:   report.ID,
			Positions: len(updated),
			Summary:   &report.Summary,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"portfolio": updated,
		"batch_id":  report.ID,
		"results":   report.Results,
		"summary":   report.Summary,
	})
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Holding-day counts are re-derived from the first-buy timestamp at read
// time.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	items, err := s.store.GetPortfolio(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	for i := range items {
		items[i].HoldingDays = items[i].HoldingDaysAt(now)
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolio": items})
}

// PutPortfolio handles PUT /api/v1/portfolio/{userID}
// Whole-snapshot replace; used by clients migrating locally kept data.
func (s *Service) PutPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var body struct {
		Portfolio []model.PortfolioItem `json:"portfolio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.SavePortfolio(r.Context(), userID, body.Portfolio); err != nil {
		writeError(w, "failed to save portfolio", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolio": body.Portfolio})
}

// DeletePortfolio handles DELETE /api/v1/portfolio/{userID}
func (s *Service) DeletePortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := s.store.DeletePortfolio(r.Context(), userID); err != nil {
		writeError(w, "failed to delete portfolio", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStocks handles GET /api/v1/stocks
func (s *Service) ListStocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stocks": s.dir.Stocks()})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with an HTTP error status.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeBusinessError embeds a reconciliation failure in a 200 body with
// its stable code. Clients branch on "code", not HTTP status.
func writeBusinessError(w http.ResponseWriter, err error) {
	var recErr *reconcile.Error
	if errors.As(err, &recErr) {
		writeJSON(w, http.StatusOK, map[string]string{
			"error": recErr.Message,
			"code":  recErr.Code,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
}
