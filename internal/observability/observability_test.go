package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/toolgate/internal/config"
	"github.com/jkaninda/toolgate/internal/gatekeeper"
)

// --- No-op Path ---

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
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestNilAccessors(t *testing.T) {
	var obs *Observability
	if obs.MetricsOrNil() != nil {
		t.Error("expected nil metrics from nil Observability")
	}
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
	if obs.HealthOrNil() != nil {
		t.Error("expected nil health from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Vecs only appear in Gather after first use.
	m.ExecutionsTotal.WithLabelValues("nmap", "success").Inc()
	m.RefusalsTotal.WithLabelValues("access_denied").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/tools", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"toolgate_tool_executions_total",
		"toolgate_gate_refusals_total",
		"toolgate_http_requests_total",
		"toolgate_active_executions",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func counterValue(t *testing.T, m *MetricsCollector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var metrics []*dto.Metric = f.GetMetric()
	metric:
		for _, mf := range metrics {
			for _, lp := range mf.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			return mf.GetCounter().GetValue()
		}
	}
	return 0
}

// --- HealthChecker ---

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	if got := h.CheckHealth().Status; got != "ok" {
		t.Errorf("liveness = %q, want ok", got)
	}
}

func TestHealthChecker_ReadyNoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	if got := h.CheckReady(context.Background()).Status; got != "ok" {
		t.Errorf("readiness = %q, want ok", got)
	}
}

func TestHealthChecker_ReadyDegraded(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("good", func(ctx context.Context) error { return nil })
	h.AddCheck("bad", func(ctx context.Context) error { return errors.New("down") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Fatalf("readiness = %q, want degraded", status.Status)
	}
	if status.Checks["good"].Status != "ok" {
		t.Error("passing check not reported ok")
	}
	if status.Checks["bad"].Status != "fail" {
		t.Error("failing check not reported fail")
	}
	if status.Checks["bad"].Message != "down" {
		t.Errorf("failure message = %q, want down", status.Checks["bad"].Message)
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(m, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	if got := counterValue(t, m, "toolgate_http_requests_total",
		map[string]string{"method": "GET", "path": "/test", "status_code": "200"}); got != 1 {
		t.Errorf("http requests = %v, want 1", got)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	// Should not panic with nil metrics.
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

// --- InstrumentedRunner ---

type fakeRunner struct {
	result *gatekeeper.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, req gatekeeper.Request) (*gatekeeper.Result, error) {
	return f.result, f.err
}

func TestInstrumentedRunner_PassThroughWhenDisabled(t *testing.T) {
	inner := &fakeRunner{}
	if got := NewInstrumentedRunner(inner, nil, nil); got != Runner(inner) {
		t.Error("expected inner runner back when observability is disabled")
	}
}

func TestInstrumentedRunner_RecordsSuccess(t *testing.T) {
	m := NewMetricsCollector()
	inner := &fakeRunner{result: &gatekeeper.Result{
		Tool:      "nmap",
		ExitCode:  0,
		Elapsed:   time.Second,
		Truncated: true,
	}}
	r := NewInstrumentedRunner(inner, m, nil)

	if _, err := r.Run(context.Background(), gatekeeper.Request{Tool: "nmap"}); err != nil {
		t.Fatal(err)
	}

	if got := counterValue(t, m, "toolgate_tool_executions_total",
		map[string]string{"tool": "nmap", "status": "success"}); got != 1 {
		t.Errorf("executions_total = %v, want 1", got)
	}
	if got := counterValue(t, m, "toolgate_tool_output_truncations_total",
		map[string]string{"tool": "nmap"}); got != 1 {
		t.Errorf("output_truncations_total = %v, want 1", got)
	}
}

func TestInstrumentedRunner_RecordsRefusal(t *testing.T) {
	m := NewMetricsCollector()
	inner := &fakeRunner{err: &gatekeeper.Error{Kind: gatekeeper.KindAccessDenied, Message: "no"}}
	r := NewInstrumentedRunner(inner, m, nil)

	if _, err := r.Run(context.Background(), gatekeeper.Request{Tool: "bash"}); err == nil {
		t.Fatal("expected error passed through")
	}

	if got := counterValue(t, m, "toolgate_gate_refusals_total",
		map[string]string{"reason": "access_denied"}); got != 1 {
		t.Errorf("refusals_total = %v, want 1", got)
	}
}

func TestInstrumentedRunner_RecordsTimeout(t *testing.T) {
	m := NewMetricsCollector()
	inner := &fakeRunner{err: &gatekeeper.Error{Kind: gatekeeper.KindTimeout, Message: "late"}}
	r := NewInstrumentedRunner(inner, m, nil)

	_, _ = r.Run(context.Background(), gatekeeper.Request{Tool: "nmap"})

	if got := counterValue(t, m, "toolgate_tool_execution_timeouts_total",
		map[string]string{"tool": "nmap"}); got != 1 {
		t.Errorf("execution_timeouts_total = %v, want 1", got)
	}
	if got := counterValue(t, m, "toolgate_tool_executions_total",
		map[string]string{"tool": "nmap", "status": "timeout"}); got != 1 {
		t.Errorf("executions_total timeout = %v, want 1", got)
	}
	// A timed-out process did spawn, so it is not a gate refusal.
	if got := counterValue(t, m, "toolgate_gate_refusals_total",
		map[string]string{"reason": "timeout"}); got != 0 {
		t.Errorf("refusals_total timeout = %v, want 0", got)
	}
}

func TestInstrumentedRunner_RecordsExecutionError(t *testing.T) {
	m := NewMetricsCollector()
	inner := &fakeRunner{err: &gatekeeper.Error{Kind: gatekeeper.KindExecution, Message: "spawn failed"}}
	r := NewInstrumentedRunner(inner, m, nil)

	_, _ = r.Run(context.Background(), gatekeeper.Request{Tool: "nmap"})

	if got := counterValue(t, m, "toolgate_tool_executions_total",
		map[string]string{"tool": "nmap", "status": "error"}); got != 1 {
		t.Errorf("executions_total error = %v, want 1", got)
	}
	if got := counterValue(t, m, "toolgate_gate_refusals_total",
		map[string]string{"reason": "execution"}); got != 0 {
		t.Errorf("refusals_total execution = %v, want 0", got)
	}
}
