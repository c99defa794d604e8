package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/infrastructure/mail"
	"github.com/nurturingai/leadnurture/internal/infrastructure/resilience"
)

type rawEmailAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

type Config struct {
	Region string
	From   mail.Sender

	// ConfigurationSet is optional and enables SES event publishing.
	ConfigurationSet string
}

// Sender delivers through SES SendRawEmail. SES replaces the Message-ID header
// with its own, so Send returns the id recipients will reference.
type Sender struct {
	api      rawEmailAPI
	cfg      Config
	idDomain string
	executor *resilience.Executor
	now      func() time.Time
}

func New(ctx context.Context, cfg Config, executor *resilience.Executor) (*Sender, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ses sender", errors.New("region is required"))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSender(ses.NewFromConfig(awsCfg), cfg, executor)
}

func newSender(api rawEmailAPI, cfg Config, executor *resilience.Executor) (*Sender, error) {
	if strings.TrimSpace(cfg.From.Address) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ses sender", errors.New("from address is required"))
	}
	return &Sender{
		api:      api,
		cfg:      cfg,
		idDomain: messageIDDomain(cfg.Region),
		executor: executor,
		now:      time.Now,
	}, nil
}

func (s *Sender) Send(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	raw, err := mail.Compose(s.cfg.From, msg, s.now())
	if err != nil {
		return "", err
	}

	input := &ses.SendRawEmailInput{
		RawMessage:   &types.RawMessage{Data: raw},
		Source:       aws.String(s.cfg.From.Address),
		Destinations: []string{strings.TrimSpace(msg.To)},
	}
	if s.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}

	out, err := resilience.Call(ctx, s.executor, "ses.send_raw_email", func(callCtx context.Context) (*ses.SendRawEmailOutput, error) {
		return s.api.SendRawEmail(callCtx, input)
	}, resilience.ClassifyTransport)
	if err != nil {
		return "", fmt.Errorf("ses send to %s: %w", msg.To, err)
	}

	sesID := aws.ToString(out.MessageId)
	if sesID == "" {
		return mail.BareMessageID(msg.MessageID), nil
	}
	messageID := sesID + "@" + s.idDomain
	slog.Info("mail_sent", "transport", "ses", "message_id", messageID, "requested_message_id", mail.BareMessageID(msg.MessageID))
	return messageID, nil
}

func messageIDDomain(region string) string {
	region = strings.TrimSpace(region)
	if region == "" || region == "us-east-1" {
		return "email.amazonses.com"
	}
	return region + ".amazonses.com"
}
