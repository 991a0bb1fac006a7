package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ETAnderson/pricewatch/internal/crawl"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ScheduleUpdate changes scheduler settings. Omitted fields keep their value.
type ScheduleUpdate struct {
	Enabled         *bool `json:"enabled"`
	IntervalMinutes *int  `json:"interval_minutes" validate:"omitempty,min=1,max=10080"`
	MaxPages        *int  `json:"max_pages" validate:"omitempty,min=-1,ne=0"`
}

type ScheduleHandler struct {
	Store crawl.ConfigStore
}

func (h ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_failed", err.Error())
		return
	}

	var req ScheduleUpdate
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
		return
	}

	ctx := r.Context()
	if req.Enabled != nil {
		if err := h.Store.SetConfig(ctx, crawl.KeySchedulerEnabled, strconv.FormatBool(*req.Enabled), "Scheduler enabled"); err != nil {
			writeError(w, http.StatusInternalServerError, "save_failed", err.Error())
			return
		}
	}
	if req.IntervalMinutes != nil {
		if err := h.Store.SetConfig(ctx, crawl.KeyScrapeIntervalMinutes, strconv.Itoa(*req.IntervalMinutes), "Scrape interval (minutes)"); err != nil {
			writeError(w, http.StatusInternalServerError, "save_failed", err.Error())
			return
		}
	}
	if req.MaxPages != nil {
		if err := h.Store.SetConfig(ctx, crawl.KeyAutoScrapeMaxPages, strconv.Itoa(*req.MaxPages), "Max pages per scheduled crawl"); err != nil {
			writeError(w, http.StatusInternalServerError, "save_failed", err.Error())
			return
		}
	}

	sched, err := crawl.LoadSchedule(ctx, h.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          sched.Enabled,
		"interval_minutes": int(sched.Interval.Minutes()),
		"max_pages":        sched.MaxPages,
	})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		case "ne":
			msgs = append(msgs, fmt.Sprintf("%s must not be %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}
