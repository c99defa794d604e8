package mail

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

// RateLimitedSender spaces sends so bulk campaigns stay under the provider's
// sending quota. A non-positive rate disables limiting.
type RateLimitedSender struct {
	next    ports.MailSender
	limiter *rate.Limiter
}

func NewRateLimitedSender(next ports.MailSender, perSecond float64, burst int) *RateLimitedSender {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimitedSender{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (s *RateLimitedSender) Send(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for send slot: %w", err)
	}
	return s.next.Send(ctx, msg)
}
