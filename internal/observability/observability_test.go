package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/kundi/internal/config"
	"github.com/jkaninda/kundi/internal/llm"
)

// --- No-op path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
	if obs.RegistryOrNil() != nil {
		t.Error("expected nil registry when metrics disabled")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Vec metrics only appear in Gather after first use.
	m.LLMRequestsTotal.WithLabelValues("test", "", "success").Inc()
	m.ToolExecutionsTotal.WithLabelValues("test", "success").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()
	m.WSFramesTotal.WithLabelValues("heartbeat", "in").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	want := map[string]bool{
		"kundi_llm_requests_total":    false,
		"kundi_tool_executions_total": false,
		"kundi_http_requests_total":   false,
		"kundi_ws_frames_total":       false,
	}
	for _, fam := range families {
		if _, ok := want[fam.GetName()]; ok {
			want[fam.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric family %s not registered", name)
		}
	}
}

func counterValue(t *testing.T, fams []*dto.MetricFamily, name string) float64 {
	t.Helper()
	var total float64
	for _, fam := range fams {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// --- InstrumentedProvider ---

func TestInstrumentedProvider_RecordsMetrics(t *testing.T) {
	inner := llm.NewScriptedProvider().Respond("fine")
	m := NewMetricsCollector()
	p := NewInstrumentedProvider(inner, m, nil)

	if _, err := p.Complete(context.Background(), &llm.Request{Role: "builder", Prompt: "hi"}); err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	fams, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	if got := counterValue(t, fams, "kundi_llm_requests_total"); got != 1 {
		t.Errorf("llm requests total = %v, want 1", got)
	}
}

func TestInstrumentedProvider_NilMetrics(t *testing.T) {
	inner := llm.NewScriptedProvider().Respond("fine")
	p := NewInstrumentedProvider(inner, nil, nil)

	// Must not panic with nothing wired.
	if _, err := p.Complete(context.Background(), &llm.Request{Prompt: "hi"}); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if p.Name() != inner.Name() {
		t.Errorf("Name() = %q, want %q", p.Name(), inner.Name())
	}
}

// --- HTTP middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetricsCollector()
	handler := HTTPMetricsMiddleware(m, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	fams, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	if got := counterValue(t, fams, "kundi_http_requests_total"); got != 1 {
		t.Errorf("http requests total = %v, want 1", got)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

// --- HealthChecker ---

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	if got := h.CheckHealth().Status; got != "ok" {
		t.Errorf("liveness = %q, want ok", got)
	}
}

func TestHealthChecker_ReadyAggregates(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("storage", func(ctx context.Context) error { return nil })
	h.AddCheck("broker", func(ctx context.Context) error { return errors.New("connection refused") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("readiness = %q, want degraded", status.Status)
	}
	if status.Checks["storage"].Status != "ok" {
		t.Errorf("storage check = %q, want ok", status.Checks["storage"].Status)
	}
	if status.Checks["broker"].Status != "fail" {
		t.Errorf("broker check = %q, want fail", status.Checks["broker"].Status)
	}
	if status.Checks["broker"].Message == "" {
		t.Error("expected failure message for broker check")
	}
}

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	if got := h.CheckReady(context.Background()).Status; got != "ok" {
		t.Errorf("readiness with no checks = %q, want ok", got)
	}
}
