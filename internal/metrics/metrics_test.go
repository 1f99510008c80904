package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.registry == nil {
		t.Error("Registry is nil")
	}

	if m.TurnsTotal == nil {
		t.Error("TurnsTotal is nil")
	}
	if m.RunFailuresTotal == nil {
		t.Error("RunFailuresTotal is nil")
	}
	if m.CycleSteps == nil {
		t.Error("CycleSteps is nil")
	}
	if m.ApprovalsRequestedTotal == nil {
		t.Error("ApprovalsRequestedTotal is nil")
	}
	if m.ApprovalsResolvedTotal == nil {
		t.Error("ApprovalsResolvedTotal is nil")
	}
	if m.RetrievalSearchesTotal == nil {
		t.Error("RetrievalSearchesTotal is nil")
	}
	if m.RetrievalTimeoutsTotal == nil {
		t.Error("RetrievalTimeoutsTotal is nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	// Record sample metrics so they appear in output
	m.TurnHandled("billing", "answered")
	m.ApprovalRequested("issue_refund")
	m.ApprovalResolved(true)
	m.RunFailed("billing", "loop_exhausted")
	m.CyclesObserved("billing", 3)
	m.RetrievalSearchesTotal.Inc()
	m.RetrievalTimeoutsTotal.Inc()

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"turns_total",
		"run_failures_total",
		"run_cycle_steps",
		"approvals_requested_total",
		"approvals_resolved_total",
		"retrieval_searches_total",
		"retrieval_timeouts_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestApprovalResolvedVerdictLabels(t *testing.T) {
	m := NewMetrics()

	m.ApprovalResolved(true)
	m.ApprovalResolved(false)
	m.ApprovalResolved(false)

	metricFamilies, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, mf := range metricFamilies {
		if *mf.Name != "approvals_resolved_total" {
			continue
		}
		for _, metric := range mf.Metric {
			for _, label := range metric.Label {
				switch *label.Value {
				case "approved":
					if *metric.Counter.Value != 1 {
						t.Errorf("Expected 1 approved, got %f", *metric.Counter.Value)
					}
				case "denied":
					if *metric.Counter.Value != 2 {
						t.Errorf("Expected 2 denied, got %f", *metric.Counter.Value)
					}
				}
			}
		}
	}
}

func TestMetricsIsolation(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.TurnHandled("billing", "answered")
	m1.TurnHandled("billing", "answered")
	m2.TurnHandled("billing", "answered")

	count := func(m *Metrics) float64 {
		metricFamilies, _ := m.registry.Gather()
		for _, mf := range metricFamilies {
			if *mf.Name == "turns_total" && len(mf.Metric) > 0 {
				return *mf.Metric[0].Counter.Value
			}
		}
		return 0
	}

	if count(m1) != 2 {
		t.Errorf("m1: expected 2 turns, got %f", count(m1))
	}
	if count(m2) != 1 {
		t.Errorf("m2: expected 1 turn, got %f", count(m2))
	}
}
