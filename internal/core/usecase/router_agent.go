package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

const (
	routeTemperature       = 0.3
	synthesizeDefault      = "I couldn't process your query. Please try again."
	synthesizeErrorPattern = "I encountered an error: %s. Please try rephrasing your question."
)

// ParseRouteDecision maps free-form routing output to a tool. Any output that
// mentions "sql" selects text-to-SQL; everything else, including empty output,
// selects document RAG.
func ParseRouteDecision(raw string) domain.ToolKind {
	if strings.Contains(strings.ToLower(strings.TrimSpace(raw)), "sql") {
		return domain.ToolTextToSQL
	}
	return domain.ToolDocumentRAG
}

type RouterAgent struct {
	pool      ports.LLMPool
	tools     map[domain.ToolKind]ports.AgentTool
	observer  ports.PipelineObserver
	preferred []string
}

func NewRouterAgent(
	pool ports.LLMPool,
	sqlTool ports.AgentTool,
	ragTool ports.AgentTool,
	observer ports.PipelineObserver,
	preferred []string,
) *RouterAgent {
	return &RouterAgent{
		pool: pool,
		tools: map[domain.ToolKind]ports.AgentTool{
			domain.ToolTextToSQL:   sqlTool,
			domain.ToolDocumentRAG: ragTool,
		},
		observer:  observerOrNoop(observer),
		preferred: preferred,
	}
}

func (a *RouterAgent) Query(ctx context.Context, query domain.QueryContext) domain.AgentResult {
	started := time.Now()
	tool := a.route(ctx, query)

	result := a.dispatch(ctx, tool, query)
	response := Synthesize(result)

	_, failed := result.(domain.ToolFailure)
	a.observer.ObserveAgentRun(tool, failed, time.Since(started))
	slog.Info("agent_query",
		"tool_used", string(tool),
		"project_name", query.ProjectName,
		"failed", failed,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return domain.AgentResult{
		Response: response,
		ToolUsed: tool,
		Result:   result,
	}
}

func (a *RouterAgent) route(ctx context.Context, query domain.QueryContext) domain.ToolKind {
	candidates := a.pool.Candidates(routeTemperature, a.preferred...)
	if len(candidates) == 0 {
		slog.Warn("agent_route_no_candidates")
		return domain.ToolDocumentRAG
	}
	candidate := candidates[0]

	raw, err := candidate.LLM.Invoke(ctx, buildRoutePrompt(query))
	if err != nil {
		slog.Warn("agent_route_failed",
			"provider", candidate.Provider,
			"default_tool", string(domain.ToolDocumentRAG),
			"error", err.Error(),
		)
		return domain.ToolDocumentRAG
	}
	return ParseRouteDecision(raw)
}

func (a *RouterAgent) dispatch(ctx context.Context, tool domain.ToolKind, query domain.QueryContext) domain.ToolResult {
	impl, ok := a.tools[tool]
	if !ok || impl == nil {
		return domain.ToolFailure{Kind: tool, Error: "tool is not available"}
	}
	return impl.Execute(ctx, query)
}

// Synthesize produces the user-facing text for a tool result. Failure details
// never reach the response; only the failure's safe summary does.
func Synthesize(result domain.ToolResult) string {
	switch v := result.(type) {
	case domain.DocumentAnswer:
		if v.Response != "" {
			return v.Response
		}
	case domain.SQLAnswer:
		if v.Response != "" {
			return v.Response
		}
	case domain.ToolFailure:
		if v.Response != "" {
			return v.Response
		}
		if v.Error != "" {
			return fmt.Sprintf(synthesizeErrorPattern, strings.TrimRight(v.Error, "."))
		}
	}
	return synthesizeDefault
}

func buildRoutePrompt(query domain.QueryContext) string {
	return fmt.Sprintf(`Analyze this query and determine if it should use:
1. Text-to-SQL: Questions about data, statistics, counts, lists of leads, campaign data, database queries
2. Document RAG: Questions about property features, amenities, facilities, project details, brochures, specifications

Query: "%s"
Project: %s

Respond with ONLY "sql" or "rag" (no quotes, no explanation).`, query.Query, query.ProjectName)
}
