package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

var (
	_ ports.PipelineObserver = (*HTTPServerMetrics)(nil)
	_ ports.PipelineObserver = (*WorkerMetrics)(nil)
)

func TestPipelineMetricsCountOutcomes(t *testing.T) {
	m := NewHTTPServerMetrics("api")

	m.ObserveAgentRun(domain.ToolTextToSQL, false, 2*time.Second)
	m.ObserveAgentRun(domain.ToolTextToSQL, true, time.Second)
	m.ObserveLLMFallback("intent_classifier", "openai")
	m.ObserveReplyAction(domain.ActionSentReply)
	m.ObserveCorrelation(domain.CorrelationReport{
		NewReplies:       2,
		SkippedNoMatch:   3,
		SkippedDuplicate: 1,
		Errors:           []string{"boom"},
	})

	tool := string(domain.ToolTextToSQL)
	if got := testutil.ToFloat64(m.agentRunsTotal.WithLabelValues("api", tool, "success")); got != 1 {
		t.Fatalf("expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(m.agentRunsTotal.WithLabelValues("api", tool, "error")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
	if got := testutil.ToFloat64(m.llmFallbacksTotal.WithLabelValues("api", "intent_classifier", "openai")); got != 1 {
		t.Fatalf("unexpected fallback count %v", got)
	}
	if got := testutil.ToFloat64(m.replyActionsTotal.WithLabelValues("api", "sent_reply")); got != 1 {
		t.Fatalf("unexpected reply action count %v", got)
	}
	if got := testutil.ToFloat64(m.correlationTotal.WithLabelValues("api", "skipped_no_match")); got != 3 {
		t.Fatalf("unexpected no-match count %v", got)
	}
	if got := testutil.ToFloat64(m.correlationErrors.WithLabelValues("api")); got != 1 {
		t.Fatalf("unexpected error count %v", got)
	}
}

func TestHTTPMiddlewareNormalizesBrochurePaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/brochures/8c1f", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/brochures/{brochure_id}", "404"))
	if got != 1 {
		t.Fatalf("expected normalized request count, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "leadnurture_http_requests_total") {
		t.Fatalf("expected exposition to include request counter")
	}
}

func TestWorkerMetricsBrochuresAndPolls(t *testing.T) {
	m := NewWorkerMetrics("worker")

	m.StartBrochure()
	m.FinishBrochure(time.Second, nil)
	m.StartBrochure()
	m.FinishBrochure(time.Second, errors.New("extract failed"))
	m.ObserveQueueLag(-time.Second)
	m.ObservePollRun("ok", time.Second)
	m.ObservePollRun("skipped", 0)

	if got := testutil.ToFloat64(m.processInFlight); got != 0 {
		t.Fatalf("expected no in-flight brochures, got %v", got)
	}
	if got := testutil.ToFloat64(m.processTotal.WithLabelValues("worker", "error")); got != 1 {
		t.Fatalf("unexpected error count %v", got)
	}
	if got := testutil.ToFloat64(m.pollRunsTotal.WithLabelValues("worker", "skipped")); got != 1 {
		t.Fatalf("unexpected skipped poll count %v", got)
	}
	if got := testutil.CollectAndCount(m.pollDuration); got != 1 {
		t.Fatalf("expected one poll duration series, got %d", got)
	}
}
