package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nurturingai/leadnurture/internal/config"
	"github.com/nurturingai/leadnurture/internal/core/domain"
)

type agentFake struct {
	result domain.AgentResult
	last   domain.QueryContext
}

func (f *agentFake) Query(_ context.Context, query domain.QueryContext) domain.AgentResult {
	f.last = query
	return f.result
}

type intentFake struct {
	result domain.IntentResult
}

func (f intentFake) ClassifyIntent(context.Context, string, string, string) domain.IntentResult {
	return f.result
}

type triggerFake struct {
	days []int
	err  error
}

func (f *triggerFake) PublishReplyCheck(_ context.Context, days int) error {
	f.days = append(f.days, days)
	return f.err
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAgentQueryReturnsSQLView(t *testing.T) {
	agent := &agentFake{result: domain.AgentResult{
		Response: "There are 12 connected leads.",
		ToolUsed: domain.ToolTextToSQL,
		Result: domain.SQLAnswer{
			SQL:      "SELECT COUNT(*) FROM leads WHERE status = 'Connected'",
			Columns:  []string{"count"},
			Rows:     [][]any{{12}},
			Response: "There are 12 connected leads.",
			Provider: "openai",
		},
	}}
	handler := NewRouter(config.Config{}, Services{Agent: agent}, nil).Handler()

	res := postJSON(t, handler, "/v1/agent/query", map[string]any{"query": "  How many connected leads? ", "project_name": "Skyline Towers"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if agent.last.Query != "How many connected leads?" || agent.last.ProjectName != "Skyline Towers" {
		t.Fatalf("unexpected query context: %+v", agent.last)
	}

	var resp agentQueryResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ToolUsed != domain.ToolTextToSQL || resp.Provider != "openai" || resp.Failed {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.SQL == "" || len(resp.Rows) != 1 {
		t.Fatalf("expected sql detail in response: %+v", resp)
	}
}

func TestAgentQueryFailureHidesDetail(t *testing.T) {
	agent := &agentFake{result: domain.AgentResult{
		Response: "I'm sorry, I couldn't find that information right now.",
		ToolUsed: domain.ToolDocumentRAG,
		Result: domain.ToolFailure{
			Kind:    domain.ToolDocumentRAG,
			Error:   "all providers failed",
			Details: []string{"openai: 401 invalid api key sk-live"},
		},
	}}
	handler := NewRouter(config.Config{}, Services{Agent: agent}, nil).Handler()

	res := postJSON(t, handler, "/v1/agent/query", map[string]any{"query": "Is there a pool?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if bytes.Contains(res.Body.Bytes(), []byte("sk-live")) {
		t.Fatalf("provider detail leaked: %s", res.Body.String())
	}
	var resp agentQueryResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Failed || resp.Response == "" {
		t.Fatalf("expected failed flag and apology: %+v", resp)
	}
}

func TestAgentQueryValidatesInput(t *testing.T) {
	handler := NewRouter(config.Config{}, Services{Agent: &agentFake{}}, nil).Handler()

	if res := postJSON(t, handler, "/v1/agent/query", map[string]any{"query": "  "}); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank query, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/agent/query", bytes.NewBufferString("{"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", res.Code)
	}
}

func TestClassifyIntentEndpoint(t *testing.T) {
	handler := NewRouter(config.Config{}, Services{Intent: intentFake{result: domain.IntentResult{
		Intent:     domain.IntentGoalReached,
		Confidence: 0.92,
		GoalType:   domain.GoalViewing,
		Reasoning:  "explicit visit request",
	}}}, nil).Handler()

	res := postJSON(t, handler, "/v1/intent/classify", map[string]any{"message": "I want to visit on Saturday", "lead_name": "Asha"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var result domain.IntentResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Intent != domain.IntentGoalReached || result.GoalType != domain.GoalViewing {
		t.Fatalf("unexpected result: %+v", result)
	}

	if res := postJSON(t, handler, "/v1/intent/classify", map[string]any{"message": ""}); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", res.Code)
	}
}

func TestReplyCheckPublishesTrigger(t *testing.T) {
	trigger := &triggerFake{}
	handler := NewRouter(config.Config{ReplyLookbackDays: 1}, Services{Trigger: trigger}, nil).Handler()

	res := postJSON(t, handler, "/v1/replies/check", map[string]any{"days": 7})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	res = postJSON(t, handler, "/v1/replies/check", nil)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for empty body, got %d", res.Code)
	}
	if len(trigger.days) != 2 || trigger.days[0] != 7 || trigger.days[1] != 1 {
		t.Fatalf("unexpected published lookbacks: %v", trigger.days)
	}

	if res := postJSON(t, handler, "/v1/replies/check", map[string]any{"days": -1}); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative days, got %d", res.Code)
	}

	trigger.err = domain.WrapError(domain.ErrTemporary, "publish", errors.New("nats: no servers available"))
	if res := postJSON(t, handler, "/v1/replies/check", map[string]any{"days": 2}); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when publish fails, got %d", res.Code)
	}
}

func TestProcessPendingRunsBatch(t *testing.T) {
	replies := &replyProcessorFake{report: domain.PendingBatchReport{Selected: 2, Succeeded: 1, Failed: 1}}
	handler := NewRouter(config.Config{ReplyBatchLimit: 50}, Services{Replies: replies}, nil).Handler()

	res := postJSON(t, handler, "/v1/replies/process-pending", map[string]any{"force": true})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if replies.lastLimit != 50 || !replies.lastForce {
		t.Fatalf("unexpected batch args: limit=%d force=%v", replies.lastLimit, replies.lastForce)
	}
	var report domain.PendingBatchReport
	if err := json.NewDecoder(res.Body).Decode(&report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.Selected != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
