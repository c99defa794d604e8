package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/infrastructure/mail"
	"github.com/nurturingai/leadnurture/internal/infrastructure/resilience"
)

type Security string

const (
	SecurityStartTLS Security = "starttls"
	SecurityTLS      Security = "tls"
	SecurityNone     Security = "none"
)

func ParseSecurity(raw string) (Security, error) {
	switch Security(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SecurityStartTLS:
		return SecurityStartTLS, nil
	case SecurityTLS, "ssl":
		return SecurityTLS, nil
	case SecurityNone:
		return SecurityNone, nil
	default:
		return "", fmt.Errorf("unsupported smtp security mode %q", raw)
	}
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     mail.Sender
	Security Security
	Timeout  time.Duration
}

type Sender struct {
	cfg      Config
	executor *resilience.Executor
	now      func() time.Time
}

func NewSender(cfg Config, executor *resilience.Executor) (*Sender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "smtp sender", errors.New("host is required"))
	}
	if strings.TrimSpace(cfg.From.Address) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "smtp sender", errors.New("from address is required"))
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Security == "" {
		cfg.Security = SecurityStartTLS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Sender{cfg: cfg, executor: executor, now: time.Now}, nil
}

// Send delivers msg with the caller's Message-ID, which SMTP relays keep.
func (s *Sender) Send(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	raw, err := mail.Compose(s.cfg.From, msg, s.now())
	if err != nil {
		return "", err
	}

	_, err = resilience.Call(ctx, s.executor, "smtp.send", func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, s.deliver(callCtx, msg.To, raw)
	}, classifySMTPError)
	if err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}

	messageID := mail.BareMessageID(msg.MessageID)
	slog.Info("mail_sent", "transport", "smtp", "message_id", messageID)
	return messageID, nil
}

func (s *Sender) deliver(ctx context.Context, to string, raw []byte) error {
	c, err := s.dial()
	if err != nil {
		return fmt.Errorf("connect smtp: %w", err)
	}
	c.CommandTimeout = s.cfg.Timeout
	c.SubmissionTimeout = s.cfg.Timeout
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	defer stop()
	defer c.Close()

	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.SendMail(s.cfg.From.Address, []string{to}, bytes.NewReader(raw)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return c.Quit()
}

func (s *Sender) dial() (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}
	switch s.cfg.Security {
	case SecurityTLS:
		return smtp.DialTLS(addr, tlsConfig)
	case SecurityNone:
		return smtp.Dial(addr)
	default:
		return smtp.DialStartTLS(addr, tlsConfig)
	}
}

// classifySMTPError retries 4xx replies and network failures; 5xx replies are
// permanent for this recipient and do not count against the breaker.
func classifySMTPError(err error) resilience.ErrorClassification {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		temporary := smtpErr.Temporary()
		return resilience.ErrorClassification{Retryable: temporary, RecordFailure: temporary}
	}
	return resilience.ClassifyTransport(err)
}
