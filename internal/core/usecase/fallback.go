package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nurturingai/leadnurture/internal/core/ports"
)

// attempt is the outcome of trying LLM candidates in order until one succeeds.
type attempt[T any] struct {
	Value    T
	Provider string
	Errors   []string
}

func (a attempt[T]) ok() bool { return a.Provider != "" }

// firstSuccess runs fn against each candidate in order and returns the first
// value produced without error. Failures are collected as "provider: error".
func firstSuccess[T any](
	ctx context.Context,
	component string,
	candidates []ports.LLMCandidate,
	observer ports.PipelineObserver,
	fn func(ctx context.Context, candidate ports.LLMCandidate) (T, error),
) attempt[T] {
	var out attempt[T]
	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", candidate.Provider, err))
			break
		}
		value, err := fn(ctx, candidate)
		if err != nil {
			slog.Warn("llm_candidate_failed",
				"component", component,
				"provider", candidate.Provider,
				"model", candidate.Model,
				"error", err.Error(),
			)
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", candidate.Provider, err))
			continue
		}
		if i > 0 && observer != nil {
			observer.ObserveLLMFallback(component, candidate.Provider)
		}
		out.Value = value
		out.Provider = candidate.Provider
		return out
	}
	if len(candidates) == 0 {
		out.Errors = append(out.Errors, "no llm candidates available")
	}
	return out
}

func observerOrNoop(observer ports.PipelineObserver) ports.PipelineObserver {
	if observer == nil {
		return ports.NoopObserver{}
	}
	return observer
}
