package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlackNotifier posts to channel with a bot token. apiURL overrides the
// Slack endpoint and is empty in production.
func NewSlackNotifier(token, channel, apiURL string) (*SlackNotifier, error) {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(channel) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "slack notifier", errors.New("token and channel are required"))
	}
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &SlackNotifier{api: slack.New(token, opts...), channel: channel}, nil
}

func (n *SlackNotifier) NotifySales(ctx context.Context, notification domain.SalesNotification) error {
	text := fmt.Sprintf("*%s*\n%s", notification.Subject, notification.Body)
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post slack notification: %w", err)
	}
	return nil
}
