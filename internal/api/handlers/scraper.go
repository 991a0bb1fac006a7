package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/ETAnderson/pricewatch/internal/api/auth"
	"github.com/ETAnderson/pricewatch/internal/control"
	"github.com/ETAnderson/pricewatch/internal/runstate"
)

// Controller is the slice of control.Service the HTTP layer drives.
type Controller interface {
	Manual() (string, error)
	Continuous() (string, error)
	Stop() bool
	Restart() string
	CheckValidity(goodsID int64) string
	Status(ctx context.Context) (control.Status, error)
	ListTasks() []runstate.Task
}

type ScraperHandler struct {
	Control Controller
	Logger  *log.Logger
}

func (h ScraperHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.Control.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h ScraperHandler) Manual(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, "manual", h.Control.Manual)
}

func (h ScraperHandler) Continuous(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, "continuous", h.Control.Continuous)
}

func (h ScraperHandler) start(w http.ResponseWriter, r *http.Request, kind string, fn func() (string, error)) {
	id, err := fn()
	if errors.Is(err, control.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "already_running", "a crawl is already running")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}

	h.logf(r, "%s crawl started task=%s", kind, id)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": id,
		"message": kind + " crawl started",
	})
}

func (h ScraperHandler) Stop(w http.ResponseWriter, r *http.Request) {
	running := h.Control.Stop()
	h.logf(r, "stop requested running=%v", running)

	msg := "no crawl running"
	if running {
		msg = "stop requested"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"was_running": running,
		"message":     msg,
	})
}

func (h ScraperHandler) Restart(w http.ResponseWriter, r *http.Request) {
	id := h.Control.Restart()
	h.logf(r, "restart requested task=%s", id)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": id,
		"message": "restart scheduled",
	})
}

func (h ScraperHandler) CheckItem(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.PathValue("goods_id"))
	goodsID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || goodsID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_goods_id", "goods_id must be a positive integer")
		return
	}

	id := h.Control.CheckValidity(goodsID)
	h.logf(r, "validity check goods_id=%d task=%s", goodsID, id)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":  id,
		"goods_id": goodsID,
	})
}

func (h ScraperHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.Control.ListTasks()
	if tasks == nil {
		tasks = []runstate.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": tasks,
	})
}

func (h ScraperHandler) logf(r *http.Request, format string, args ...any) {
	if h.Logger == nil {
		return
	}
	if sub := auth.Subject(r.Context()); sub != "" {
		format = "[" + sub + "] " + format
	}
	h.Logger.Printf(format, args...)
}
