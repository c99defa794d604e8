package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/infrastructure/mail"
)

type received struct {
	from string
	to   []string
	data string
}

type captureBackend struct {
	mu         sync.Mutex
	messages   []received
	rejectRcpt bool
}

func (b *captureBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &captureSession{backend: b}, nil
}

func (b *captureBackend) all() []received {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]received(nil), b.messages...)
}

type captureSession struct {
	backend *captureBackend
	current received
}

func (s *captureSession) Reset() {
	s.current = received{}
}

func (s *captureSession) Logout() error {
	return nil
}

func (s *captureSession) Mail(from string, _ *smtp.MailOptions) error {
	s.current.from = from
	return nil
}

func (s *captureSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.rejectRcpt {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "no such user"}
	}
	s.current.to = append(s.current.to, to)
	return nil
}

func (s *captureSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.current.data = string(raw)
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.current)
	s.backend.mu.Unlock()
	return nil
}

func startServer(t *testing.T, backend *captureBackend) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := smtp.NewServer(backend)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	host, portText, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portText)
	return host, port
}

func newTestSender(t *testing.T, host string, port int) *Sender {
	t.Helper()
	sender, err := NewSender(Config{
		Host:     host,
		Port:     port,
		From:     mail.Sender{Address: "sales@nurturing.test", Name: "Skyline Sales"},
		Security: SecurityNone,
		Timeout:  5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	sender.now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }
	return sender
}

func TestSendDeliversComposedMessage(t *testing.T) {
	backend := &captureBackend{}
	host, port := startServer(t, backend)
	sender := newTestSender(t, host, port)

	id, err := sender.Send(context.Background(), domain.OutboundMessage{
		MessageID: "<8d3c-uuid@nurturing.test>",
		To:        "asha@example.com",
		Subject:   "Re: Skyline Towers",
		Body:      "Thanks for your interest.",
		InReplyTo: "reply-1@mail.example.com",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "8d3c-uuid@nurturing.test" {
		t.Fatalf("unexpected message id %q", id)
	}

	messages := backend.all()
	if len(messages) != 1 {
		t.Fatalf("expected one delivered message, got %d", len(messages))
	}
	got := messages[0]
	if got.from != "sales@nurturing.test" || len(got.to) != 1 || got.to[0] != "asha@example.com" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	for _, want := range []string{
		"Message-Id: <8d3c-uuid@nurturing.test>",
		"In-Reply-To: <reply-1@mail.example.com>",
		"Thanks for your interest.",
	} {
		if !strings.Contains(got.data, want) {
			t.Fatalf("expected %q in delivered data:\n%s", want, got.data)
		}
	}
}

func TestSendReportsRejectedRecipient(t *testing.T) {
	backend := &captureBackend{rejectRcpt: true}
	host, port := startServer(t, backend)
	sender := newTestSender(t, host, port)

	_, err := sender.Send(context.Background(), domain.OutboundMessage{
		MessageID: "m-1@nurturing.test",
		To:        "ghost@example.com",
		Subject:   "Hello",
		Body:      "Body",
	})
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code != 550 {
		t.Fatalf("expected 550 rejection, got %v", err)
	}
	if len(backend.all()) != 0 {
		t.Fatalf("rejected message must not be delivered")
	}
}

func TestSendRejectsInvalidMessageBeforeDialing(t *testing.T) {
	sender := newTestSender(t, "127.0.0.1", 1)
	_, err := sender.Send(context.Background(), domain.OutboundMessage{MessageID: "m@x", Subject: "no recipient"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestClassifySMTPError(t *testing.T) {
	temporary := classifySMTPError(&smtp.SMTPError{Code: 421, Message: "try later"})
	if !temporary.Retryable || !temporary.RecordFailure {
		t.Fatalf("expected 4xx to be retryable: %+v", temporary)
	}
	permanent := classifySMTPError(&smtp.SMTPError{Code: 550, Message: "no such user"})
	if permanent.Retryable || permanent.RecordFailure {
		t.Fatalf("expected 5xx to be permanent: %+v", permanent)
	}
}

func TestParseSecurity(t *testing.T) {
	cases := []struct {
		raw  string
		want Security
	}{
		{raw: "", want: SecurityStartTLS},
		{raw: "STARTTLS", want: SecurityStartTLS},
		{raw: "ssl", want: SecurityTLS},
		{raw: "tls", want: SecurityTLS},
		{raw: "none", want: SecurityNone},
	}
	for _, tc := range cases {
		got, err := ParseSecurity(tc.raw)
		if err != nil || got != tc.want {
			t.Fatalf("ParseSecurity(%q) = %q, %v", tc.raw, got, err)
		}
	}
	if _, err := ParseSecurity("plaintext"); err == nil {
		t.Fatalf("expected unsupported mode error")
	}
}
