package handlers

import (
	"log"
	"net/http"

	"github.com/ETAnderson/pricewatch/internal/crawl"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps wires the control API.
type Deps struct {
	Control Controller
	Runs    RunStore
	Config  crawl.ConfigStore
	Logger  *log.Logger
	// Protect wraps every /v1 route, typically with bearer auth.
	Protect func(http.Handler) http.Handler
}

// Register mounts the control API, /healthz and /metrics on mux.
func Register(mux *http.ServeMux, d Deps) {
	protect := d.Protect
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}

	scraper := ScraperHandler{Control: d.Control, Logger: d.Logger}
	runs := RunsHandler{Store: d.Runs}
	schedule := ScheduleHandler{Store: d.Config}

	v1 := map[string]http.HandlerFunc{
		"GET /v1/scraper/status":          scraper.Status,
		"POST /v1/scraper/manual":         scraper.Manual,
		"POST /v1/scraper/continuous":     scraper.Continuous,
		"POST /v1/scraper/stop":           scraper.Stop,
		"POST /v1/scraper/restart":        scraper.Restart,
		"PUT /v1/scraper/schedule":        schedule.Update,
		"POST /v1/items/{goods_id}/check": scraper.CheckItem,
		"GET /v1/tasks":                   scraper.Tasks,
		"GET /v1/runs":                    runs.List,
		"GET /v1/runs/{run_id}":           runs.Detail,
	}
	for pattern, h := range v1 {
		mux.Handle(pattern, protect(h))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
}
