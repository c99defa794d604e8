package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

const (
	ragNotFoundResponse = "I couldn't find relevant information about that in the available brochures. " +
		"Please try rephrasing your question or contact our sales team for more details."
	ragFailedResponse = "I couldn't process the brochure information due to an internal error. Please try again later."
	ragFailedError    = "All LLM providers failed."
	ragTemperature    = 0.7
)

type DocumentRAGTool struct {
	store     ports.SemanticStore
	pool      ports.LLMPool
	observer  ports.PipelineObserver
	topK      int
	preferred []string
}

func NewDocumentRAGTool(
	store ports.SemanticStore,
	pool ports.LLMPool,
	observer ports.PipelineObserver,
	topK int,
	preferred []string,
) *DocumentRAGTool {
	if topK <= 0 {
		topK = 5
	}
	return &DocumentRAGTool{
		store:     store,
		pool:      pool,
		observer:  observerOrNoop(observer),
		topK:      topK,
		preferred: preferred,
	}
}

func (t *DocumentRAGTool) Kind() domain.ToolKind { return domain.ToolDocumentRAG }

func (t *DocumentRAGTool) Execute(ctx context.Context, query domain.QueryContext) domain.ToolResult {
	chunks, err := t.store.Query(ctx, query.Query, t.topK, domain.ProjectFilter(query.ProjectName))
	if err != nil {
		slog.Error("document_rag_retrieval_failed", "project_name", query.ProjectName, "error", err.Error())
		return domain.ToolFailure{
			Kind:     domain.ToolDocumentRAG,
			Response: ragFailedResponse,
			Error:    "brochure search is unavailable",
			Details:  []string{err.Error()},
		}
	}
	if len(chunks) == 0 {
		return domain.DocumentAnswer{Chunks: []domain.SemanticMatch{}, Response: ragNotFoundResponse}
	}

	prompt := buildRAGPrompt(query.Query, chunks)
	result := firstSuccess(ctx, "document_rag", t.pool.Candidates(ragTemperature, t.preferred...), t.observer,
		func(ctx context.Context, candidate ports.LLMCandidate) (string, error) {
			answer, err := candidate.LLM.Invoke(ctx, prompt)
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(answer), nil
		})
	if !result.ok() {
		slog.Error("document_rag_all_providers_failed", "errors", strings.Join(result.Errors, "; "))
		return domain.ToolFailure{
			Kind:     domain.ToolDocumentRAG,
			Response: ragFailedResponse,
			Error:    ragFailedError,
			Details:  result.Errors,
		}
	}

	return domain.DocumentAnswer{
		Chunks:   chunks,
		Response: result.Value,
		Provider: result.Provider,
	}
}

func buildRAGPrompt(question string, chunks []domain.SemanticMatch) string {
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		parts = append(parts, fmt.Sprintf("[From %s]: %s", chunk.Source(), chunk.Text))
	}

	return fmt.Sprintf(`Based on the following information from property brochures, answer the user's question.

Context from brochures:
%s

User Question: %s

Provide a helpful, accurate answer based only on the information provided. If the information doesn't fully answer the question, say so. Be conversational and friendly.`,
		strings.Join(parts, "\n\n"), question)
}
