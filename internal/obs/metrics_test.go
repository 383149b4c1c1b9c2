package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestInstrumentCountsByRoute(t *testing.T) {
	Init()
	Init()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	h := Instrument(func(*http.Request) string { return "/sessions/{id}" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := counterValue(t, httpRequestsTotal.WithLabelValues("GET", "/sessions/{id}", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	after := counterValue(t, httpRequestsTotal.WithLabelValues("GET", "/sessions/{id}", "418"))
	if after-before != 1 {
		t.Fatalf("expected one request counted, got %v", after-before)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log line not json: %v (%q)", err, buf.String())
	}
	if entry["route"] != "/sessions/{id}" || entry["level"] != "info" {
		t.Fatalf("unexpected log entry %v", entry)
	}
}
