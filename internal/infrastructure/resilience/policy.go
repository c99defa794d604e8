package resilience

import (
	"strings"
	"time"
)

// Operation prefixes with their own policy. Adapters name operations
// "<service>.<call>", e.g. "imap.fetch" or "openai.chat".
const (
	PrefixIMAP           = "imap."
	PrefixSMTP           = "smtp."
	PrefixSES            = "ses."
	PrefixOpenAI         = "openai."
	PrefixAnthropic      = "anthropic."
	PrefixOllamaGenerate = "ollama.generate"
)

// Policy is the retry schedule and breaker thresholds for one family of
// outbound calls.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// Config maps operations to policies. Overrides are keyed by operation prefix
// and the longest matching prefix wins; everything else uses Default.
type Config struct {
	Default   Policy
	Overrides map[string]Policy
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     400 * time.Millisecond,
		Multiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// WithMaxAttempts returns a copy of p with a different attempt budget.
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// NewConfig derives the per-service policies from base. Mailbox fetches and
// outbound mail run mailAttempts times per call, chat models llmAttempts.
// Stores, queues and embeddings keep base.
func NewConfig(base Policy, llmAttempts, mailAttempts int) Config {
	if llmAttempts <= 0 {
		llmAttempts = 2
	}
	if mailAttempts <= 0 {
		mailAttempts = 1
	}
	return Config{
		Default: base,
		Overrides: map[string]Policy{
			PrefixIMAP:           base.WithMaxAttempts(mailAttempts),
			PrefixSMTP:           base.WithMaxAttempts(mailAttempts),
			PrefixSES:            base.WithMaxAttempts(mailAttempts),
			PrefixOpenAI:         base.WithMaxAttempts(llmAttempts),
			PrefixAnthropic:      base.WithMaxAttempts(llmAttempts),
			PrefixOllamaGenerate: base.WithMaxAttempts(llmAttempts),
		},
	}
}

func DefaultConfig() Config {
	return NewConfig(DefaultPolicy(), 2, 1)
}

// PolicyFor resolves the policy applied to operation.
func (c Config) PolicyFor(operation string) Policy {
	best := ""
	for prefix := range c.Overrides {
		if strings.HasPrefix(operation, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return c.Default
	}
	return c.Overrides[best]
}

func (c Config) normalize() Config {
	out := Config{
		Default:   c.Default.normalize(DefaultPolicy()),
		Overrides: make(map[string]Policy, len(c.Overrides)),
	}
	for prefix, policy := range c.Overrides {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		out.Overrides[prefix] = policy.normalize(out.Default)
	}
	return out
}

// normalize fills unset or invalid fields from def.
func (p Policy) normalize(def Policy) Policy {
	out := p

	if out.MaxAttempts <= 0 {
		out.MaxAttempts = def.MaxAttempts
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = def.InitialBackoff
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = def.MaxBackoff
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = out.InitialBackoff
	}
	if out.Multiplier < 1.0 {
		out.Multiplier = def.Multiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}
