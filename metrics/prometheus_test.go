package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder_RecordsCountersAndHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(PrometheusOptions{Registerer: registry})
	ctx := context.Background()

	tags := map[string]string{"module": "sessions", "outcome": "success"}
	recorder.IncCounter(ctx, "ocpi.sync.put.total", 1, tags)
	recorder.IncCounter(ctx, "ocpi.sync.put.total", 2, tags)
	recorder.ObserveHistogram(ctx, "ocpi.sync.put.duration_ms", 12, tags)

	counter := recorder.counters["sync_put_total"]
	if counter == nil {
		t.Fatalf("expected sync_put_total counter")
	}
	if got := testutil.ToFloat64(counter.vec.WithLabelValues("sessions", "success")); got != 3 {
		t.Fatalf("expected counter 3, got %f", got)
	}
	if samples := testutil.CollectAndCount(recorder.histograms["sync_put_duration_ms"].vec); samples == 0 {
		t.Fatalf("expected histogram samples")
	}
}

func TestPrometheusRecorder_KeepsFirstLabelSet(t *testing.T) {
	recorder := NewPrometheusRecorder(PrometheusOptions{})
	ctx := context.Background()
	recorder.IncCounter(ctx, "ocpi.handshake.total", 1, map[string]string{"outcome": "ok"})
	recorder.IncCounter(ctx, "ocpi.handshake.total", 1, map[string]string{"outcome": "ok", "extra": "dropped"})
	recorder.IncCounter(ctx, "ocpi.handshake.total", 1, nil)

	entry := recorder.counters["handshake_total"]
	if got := testutil.ToFloat64(entry.vec.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected two ok samples, got %f", got)
	}
	if got := testutil.ToFloat64(entry.vec.WithLabelValues("")); got != 1 {
		t.Fatalf("expected one sample with missing label, got %f", got)
	}
}

func TestPrometheusRecorder_ReportsTypeConflicts(t *testing.T) {
	registry := prometheus.NewRegistry()
	conflicting := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "ocpi", Name: "calls_total"})
	registry.MustRegister(conflicting)

	recorder := NewPrometheusRecorder(PrometheusOptions{Registerer: registry})
	var reported error
	recorder.OnError(func(err error) { reported = err })
	recorder.IncCounter(context.Background(), "ocpi.calls.total", 1, nil)
	if reported == nil {
		t.Fatalf("expected registration conflict to be reported")
	}
	if !strings.Contains(reported.Error(), "calls_total") {
		t.Fatalf("expected conflict to name the metric, got %v", reported)
	}
}

func TestPrometheusRecorder_HandlerExposesMetrics(t *testing.T) {
	recorder := NewPrometheusRecorder(PrometheusOptions{})
	recorder.IncCounter(context.Background(), "ocpi.inbound.requests.total", 1, map[string]string{"status_code": "1000"})

	server := httptest.NewServer(recorder.Handler())
	defer server.Close()
	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `ocpi_inbound_requests_total{status_code="1000"} 1`) {
		t.Fatalf("expected exposed counter, got %s", body)
	}
}

func TestMetricName(t *testing.T) {
	cases := map[string]string{
		"ocpi.sync.put.total": "sync_put_total",
		"calls-made":          "calls_made",
		"2xx":                 "_2xx",
		"":                    "unnamed",
	}
	for input, want := range cases {
		if got := MetricName(input); got != want {
			t.Fatalf("MetricName(%q) = %q, want %q", input, got, want)
		}
	}
}
