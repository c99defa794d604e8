package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

// EmailNotifier mails the sales team through the regular outbound transport.
type EmailNotifier struct {
	sender          ports.MailSender
	to              string
	messageIDDomain string
}

func NewEmailNotifier(sender ports.MailSender, salesTeamEmail, messageIDDomain string) (*EmailNotifier, error) {
	if strings.TrimSpace(salesTeamEmail) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "email notifier", errors.New("sales team email is required"))
	}
	if messageIDDomain == "" {
		messageIDDomain = "nurturingai.local"
	}
	return &EmailNotifier{
		sender:          sender,
		to:              strings.TrimSpace(salesTeamEmail),
		messageIDDomain: messageIDDomain,
	}, nil
}

func (n *EmailNotifier) NotifySales(ctx context.Context, notification domain.SalesNotification) error {
	_, err := n.sender.Send(ctx, domain.OutboundMessage{
		MessageID: uuid.NewString() + "@" + n.messageIDDomain,
		To:        n.to,
		Subject:   notification.Subject,
		Body:      notification.Body,
	})
	if err != nil {
		return fmt.Errorf("email sales team: %w", err)
	}
	return nil
}
