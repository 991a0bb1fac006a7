package middleware

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_LabelsByPatternAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/items/{goods_id}/check", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	var buf bytes.Buffer
	h := Metrics{Logger: log.New(&buf, "", 0), Next: mux}

	labels := prometheus.Labels{
		"method": http.MethodPost,
		"route":  "POST /v1/items/{goods_id}/check",
		"status": "202",
	}
	before := testutil.ToFloat64(httpRequestsTotal.With(labels))

	for _, id := range []string{"1001", "1002"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/items/"+id+"/check", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(httpRequestsTotal.With(labels)) - before; got != 2 {
		t.Fatalf("expected 2 requests under one route label, got %v", got)
	}
	if !strings.Contains(buf.String(), "/v1/items/1001/check status=202") {
		t.Fatalf("missing request log line: %q", buf.String())
	}
}

func TestMetrics_UnmatchedRoute(t *testing.T) {
	h := Metrics{Next: http.NewServeMux()}

	labels := prometheus.Labels{"method": http.MethodGet, "route": "unmatched", "status": "404"}
	before := testutil.ToFloat64(httpRequestsTotal.With(labels))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.With(labels)) - before; got != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", got)
	}
}
