package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bcnelson/aws-org-manager/internal/metrics"
)

func TestRecordRunAndOperations(t *testing.T) {
	m := metrics.New()

	m.RecordRun("execute", "succeeded", 2*time.Second)
	m.RecordOperation("create_ou", "applied")
	m.RecordOperation("create_ou", "applied")
	m.RecordProblem("warning")
	m.SetOrphans(1, 0, 2)

	expected := `
# HELP orgmanager_operations_total Organization operations by kind and status.
# TYPE orgmanager_operations_total counter
orgmanager_operations_total{kind="create_ou",status="applied"} 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "orgmanager_operations_total"); err != nil {
		t.Error(err)
	}

	if n := testutil.CollectAndCount(m.Registry(), "orgmanager_unmanaged_resources"); n != 3 {
		t.Errorf("expected 3 orphan series, got %d", n)
	}
}

func TestHandlerAndInstrument(t *testing.T) {
	m := metrics.New()

	h := m.Instrument(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `orgmanager_http_requests_total{method="GET",path="/health",status="418"} 1`) {
		t.Errorf("expected instrumented request in exposition, got:\n%s", body)
	}
}
