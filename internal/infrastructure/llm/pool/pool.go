package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

// Backend describes one configured provider. Init runs once at construction;
// a failing Init removes the backend from the pool.
type Backend struct {
	Name  string
	Model string
	Init  func(ctx context.Context) (Factory, error)
}

// Factory binds a provider model to a sampling temperature.
type Factory func(temperature float64) ports.LLM

type entry struct {
	name    string
	model   string
	factory Factory
}

type Pool struct {
	entries []entry

	mu    sync.Mutex
	cache map[string]ports.LLM
}

// New probes every backend in order; that order becomes the default candidate order.
// It fails with domain.ErrNoLLMProviders when no backend initializes.
func New(ctx context.Context, backends []Backend, probeTimeout time.Duration) (*Pool, error) {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	p := &Pool{cache: make(map[string]ports.LLM)}
	var failures []string
	seen := make(map[string]bool, len(backends))
	for _, b := range backends {
		name := strings.ToLower(strings.TrimSpace(b.Name))
		if name == "" || seen[name] || b.Init == nil {
			continue
		}
		seen[name] = true

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		factory, err := b.Init(probeCtx)
		cancel()
		if err != nil {
			slog.Warn("llm_provider_unavailable", "provider", name, "model", b.Model, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		p.entries = append(p.entries, entry{name: name, model: b.Model, factory: factory})
		slog.Info("llm_provider_ready", "provider", name, "model", b.Model)
	}
	if len(p.entries) == 0 {
		return nil, domain.WrapError(domain.ErrNoLLMProviders, "init llm pool", errors.New(strings.Join(failures, "; ")))
	}
	return p, nil
}

func (p *Pool) Providers() []string {
	out := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.name)
	}
	return out
}

func (p *Pool) Candidates(temperature float64, preferred ...string) []ports.LLMCandidate {
	ordered := make([]entry, 0, len(p.entries))
	used := make(map[string]bool, len(p.entries))
	for _, name := range preferred {
		name = strings.ToLower(strings.TrimSpace(name))
		if used[name] {
			continue
		}
		for _, e := range p.entries {
			if e.name == name {
				ordered = append(ordered, e)
				used[name] = true
				break
			}
		}
	}
	for _, e := range p.entries {
		if !used[e.name] {
			ordered = append(ordered, e)
			used[e.name] = true
		}
	}

	out := make([]ports.LLMCandidate, 0, len(ordered))
	for _, e := range ordered {
		out = append(out, ports.LLMCandidate{
			Provider:    e.name,
			Model:       e.model,
			Temperature: temperature,
			LLM:         p.handle(e, temperature),
		})
	}
	return out
}

func (p *Pool) handle(e entry, temperature float64) ports.LLM {
	key := e.name + "@" + strconv.FormatFloat(temperature, 'f', -1, 64)
	p.mu.Lock()
	defer p.mu.Unlock()
	if llm, ok := p.cache[key]; ok {
		return llm
	}
	llm := e.factory(temperature)
	p.cache[key] = llm
	return llm
}
