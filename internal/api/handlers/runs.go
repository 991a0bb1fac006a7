package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/ETAnderson/pricewatch/internal/state"
)

// RunStore is the read side of crawl run history.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (state.RunRecord, bool, error)
	ListRuns(ctx context.Context, limit int) ([]state.RunRecord, error)
}

type RunsHandler struct {
	Store RunStore
}

func (h RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_runs_failed", err.Error())
		return
	}
	if runs == nil {
		runs = []state.RunRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": runs,
	})
}

func (h RunsHandler) Detail(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		writeError(w, http.StatusBadRequest, "invalid_run_id", "run_id missing or invalid")
		return
	}

	run, ok, err := h.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get_run_failed", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}

	writeJSON(w, http.StatusOK, run)
}
