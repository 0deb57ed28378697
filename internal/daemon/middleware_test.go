package daemon

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/weavenet/weave/internal/metrics"
)

func TestInstrumentHandler_NilPassthrough(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	wrapped := InstrumentHandler(handler, nil)

	req := httptest.NewRequest("GET", "/v1/status", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if !called {
		t.Error("handler was not called")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestInstrumentHandler_RecordsMetrics(t *testing.T) {
	m := metrics.New("test-0.1.0", "go1.26")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := InstrumentHandler(handler, m)

	req := httptest.NewRequest("GET", "/v1/status", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	val := gatherCounter(t, m, "weave_daemon_requests_total", map[string]string{
		"path": "/v1/status", "status": "200",
	})
	if val != 1 {
		t.Errorf("DaemonRequestsTotal = %v, want 1", val)
	}
}

func TestInstrumentHandler_CapturesErrorStatus(t *testing.T) {
	m := metrics.New("test-0.1.0", "go1.26")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	wrapped := InstrumentHandler(handler, m)

	req := httptest.NewRequest("GET", "/v1/unknown", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	val := gatherCounter(t, m, "weave_daemon_requests_total", map[string]string{
		"path": "/v1/unknown", "status": "404",
	})
	if val != 1 {
		t.Errorf("DaemonRequestsTotal = %v, want 1", val)
	}
}

func TestInstrumentHandler_RecordsDuration(t *testing.T) {
	m := metrics.New("test-0.1.0", "go1.26")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := InstrumentHandler(handler, m)

	req := httptest.NewRequest("POST", "/v1/seed", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	count := gatherHistogramCount(t, m, "weave_daemon_request_duration_seconds", map[string]string{
		"path": "/v1/seed",
	})
	if count != 1 {
		t.Errorf("DaemonRequestDurationSeconds sample count = %d, want 1", count)
	}
}

func TestInstrumentHandler_MultipleRequests(t *testing.T) {
	m := metrics.New("test-0.1.0", "go1.26")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := InstrumentHandler(handler, m)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/v1/status", nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
	}

	val := gatherCounter(t, m, "weave_daemon_requests_total", map[string]string{
		"path": "/v1/status", "status": "200",
	})
	if val != 5 {
		t.Errorf("DaemonRequestsTotal = %v, want 5", val)
	}
}

func TestStatusRecorder_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	sr.Write([]byte("hello"))

	if sr.status != http.StatusOK {
		t.Errorf("default status = %d, want 200", sr.status)
	}
}

func TestStatusRecorder_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	sr.WriteHeader(http.StatusCreated)

	if sr.status != http.StatusCreated {
		t.Errorf("status = %d, want 201", sr.status)
	}
}

func gatherCounter(t *testing.T, m *metrics.Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func gatherHistogramCount(t *testing.T, m *metrics.Metrics, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, expected map[string]string) bool {
	if len(pairs) != len(expected) {
		return false
	}
	for _, lp := range pairs {
		if expected[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
