package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/uzulabs/gridsync/internal/types"
	"github.com/uzulabs/gridsync/internal/worker"
)

// SyncService exposes the sync operations a manual trigger can start.
// Implemented by syncer.Syncer.
type SyncService interface {
	FullSync(ctx context.Context, trigger string) (*types.RunSummary, error)
	DailyIncrementalSync(ctx context.Context, trigger string) (*types.RunSummary, error)
	SyncToday(ctx context.Context, trigger string) (*types.RunSummary, error)
	SyncRange(ctx context.Context, start, end, trigger string) (*types.RunSummary, error)
}

// RunHistory reads persisted run summaries. Implemented by grid.SQLiteStore.
// Nil when the destination backend has no run history.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]types.RunSummary, error)
	LastRun(ctx context.Context) (*types.RunSummary, error)
}

// Handler implements the API handlers
type Handler struct {
	syncs   SyncService
	history RunHistory
	guard   *worker.Guard
	apiKey  string
	version string
	sheet   string
}

// NewHandler creates a new Handler.
func NewHandler(syncs SyncService, history RunHistory, guard *worker.Guard, apiKey, version, sheet string) *Handler {
	return &Handler{
		syncs:   syncs,
		history: history,
		guard:   guard,
		apiKey:  apiKey,
		version: version,
		sheet:   sheet,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Sheet   string            `json:"sheet"`
	Running bool              `json:"running"`
	LastRun *types.RunSummary `json:"last_run,omitempty"`
}

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:  "ok",
		Version: h.version,
		Sheet:   h.sheet,
		Running: h.guard.Busy(),
	}

	if h.history != nil {
		last, err := h.history.LastRun(r.Context())
		if err != nil {
			slog.Warn("reading last run failed", "error", err)
		} else {
			resp.LastRun = last
		}
	}

	writeJSON(w, resp)
}

// Runs handles GET /api/v1/runs
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		WriteProblem(w, r, http.StatusNotFound, "Run history requires the sqlite backend")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 100 {
		limit = 100
	}

	runs, err := h.history.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("listing runs failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if runs == nil {
		runs = []types.RunSummary{}
	}
	writeJSON(w, map[string]any{"runs": runs})
}

// SyncRequest is the body of POST /api/v1/sync.
// Mode defaults to "daily".
type SyncRequest struct {
	Mode  string `json:"mode"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// TriggerSync handles POST /api/v1/sync. The run executes synchronously
// under the shared single-flight guard; a concurrent run yields 409.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	req := SyncRequest{Mode: "daily"}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.Mode == "" {
			req.Mode = "daily"
		}
	}

	if !h.guard.TryAcquire() {
		WriteProblem(w, r, http.StatusConflict, "A sync run is already in flight")
		return
	}
	defer h.guard.Release()

	var (
		summary *types.RunSummary
		err     error
	)
	switch req.Mode {
	case "full":
		summary, err = h.syncs.FullSync(r.Context(), "api")
	case "daily":
		summary, err = h.syncs.DailyIncrementalSync(r.Context(), "api")
	case "today":
		summary, err = h.syncs.SyncToday(r.Context(), "api")
	case "range":
		if req.Start == "" || req.End == "" {
			WriteProblem(w, r, http.StatusBadRequest, "range mode requires start and end dates")
			return
		}
		summary, err = h.syncs.SyncRange(r.Context(), req.Start, req.End, "api")
	default:
		WriteProblem(w, r, http.StatusBadRequest, "mode must be one of full, daily, today, range")
		return
	}
	if err != nil {
		MapSyncError(w, r, err)
		return
	}

	writeJSON(w, summary)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
