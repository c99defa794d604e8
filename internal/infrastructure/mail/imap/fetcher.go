package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/infrastructure/mail"
	"github.com/nurturingai/leadnurture/internal/infrastructure/resilience"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	UseTLS   bool
	Timeout  time.Duration
}

// Fetcher reads recent messages from one mailbox. The mailbox is opened
// read-only and bodies are fetched with PEEK, so seen flags are untouched.
type Fetcher struct {
	cfg      Config
	executor *resilience.Executor
}

func NewFetcher(cfg Config, executor *resilience.Executor) (*Fetcher, error) {
	if cfg.Host == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "imap fetcher", errors.New("host is required"))
	}
	if cfg.Port <= 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Fetcher{cfg: cfg, executor: executor}, nil
}

// FetchSince returns messages whose internal date is on or after since, in
// search order. Messages that fail to parse are logged and skipped. The
// executor's imap policy runs a single attempt; the poll schedule retries.
func (f *Fetcher) FetchSince(ctx context.Context, since time.Time) ([]domain.InboundMessage, error) {
	messages, err := resilience.Call(ctx, f.executor, "imap.fetch", func(callCtx context.Context) ([]domain.InboundMessage, error) {
		return f.fetch(callCtx, since)
	}, resilience.ClassifyTransport)
	if err != nil {
		return nil, domain.WrapError(domain.ErrMailbox, "fetch mail", err)
	}
	return messages, nil
}

func (f *Fetcher) fetch(ctx context.Context, since time.Time) ([]domain.InboundMessage, error) {
	c, err := f.dial()
	if err != nil {
		return nil, fmt.Errorf("connect imap: %w", err)
	}
	c.Timeout = f.cfg.Timeout

	stop := context.AfterFunc(ctx, func() {
		_ = c.Terminate()
	})
	defer stop()
	defer func() {
		if err := c.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
			slog.Debug("imap_logout_failed", "error", err)
		}
	}()

	if err := c.Login(f.cfg.Username, f.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(f.cfg.Mailbox, true); err != nil {
		return nil, fmt.Errorf("select mailbox %s: %w", f.cfg.Mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, ctx.Err()
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	fetched := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, fetched)
	}()

	byUID := make(map[uint32]domain.InboundMessage, len(uids))
	for msg := range fetched {
		body := msg.GetBody(section)
		if body == nil {
			slog.Warn("imap_message_without_body", "uid", msg.Uid)
			continue
		}
		parsed, err := mail.Parse(body)
		if err != nil {
			slog.Warn("imap_message_parse_failed", "uid", msg.Uid, "error", err)
			continue
		}
		byUID[msg.Uid] = parsed
	}
	if err := <-done; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	out := make([]domain.InboundMessage, 0, len(byUID))
	for _, uid := range uids {
		if msg, ok := byUID[uid]; ok {
			out = append(out, msg)
		}
	}
	slog.Debug("imap_fetch_completed", "mailbox", f.cfg.Mailbox, "matched", len(uids), "parsed", len(out))
	return out, nil
}

func (f *Fetcher) dial() (*client.Client, error) {
	addr := net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))
	dialer := &net.Dialer{Timeout: f.cfg.Timeout}
	if f.cfg.UseTLS {
		return client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: f.cfg.Host})
	}
	return client.DialWithDialer(dialer, addr)
}
