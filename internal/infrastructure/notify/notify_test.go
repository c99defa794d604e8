package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

func testNotification() domain.SalesNotification {
	return domain.SalesNotification{
		Thread: domain.CampaignLead{
			ID:   "thread-1",
			Lead: domain.Lead{LeadID: "L-100", Name: "Asha", Email: "asha@example.com"},
		},
		Intent:          domain.IntentResult{Intent: domain.IntentGoalReached, Confidence: 0.9, GoalType: domain.GoalViewing},
		CustomerMessage: "Can I visit on Saturday?",
		Subject:         "Lead Ready: Asha - Property Viewing Request",
		Body:            "Lead Asha wants a property viewing.",
	}
}

type fakeSender struct {
	sent []domain.OutboundMessage
	err  error
}

func (s *fakeSender) Send(_ context.Context, msg domain.OutboundMessage) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, msg)
	return msg.MessageID, nil
}

func TestEmailNotifierSendsToSalesTeam(t *testing.T) {
	sender := &fakeSender{}
	notifier, err := NewEmailNotifier(sender, " sales@nurturing.test ", "nurturing.test")
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	if err := notifier.NotifySales(context.Background(), testNotification()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "sales@nurturing.test" || msg.Subject != "Lead Ready: Asha - Property Viewing Request" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !strings.HasSuffix(msg.MessageID, "@nurturing.test") {
		t.Fatalf("unexpected message id %q", msg.MessageID)
	}
}

func TestEmailNotifierRequiresRecipient(t *testing.T) {
	if _, err := NewEmailNotifier(&fakeSender{}, "", ""); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSlackNotifierPostsMessage(t *testing.T) {
	var channel, text string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/api/") != "chat.postMessage" {
			t.Errorf("unexpected slack method %s", r.URL.Path)
		}
		_ = r.ParseForm()
		channel = r.FormValue("channel")
		text = r.FormValue("text")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": channel, "ts": "1700000000.000100"})
	}))
	t.Cleanup(server.Close)

	notifier, err := NewSlackNotifier("xoxb-test", "C-SALES", server.URL+"/api/")
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	if err := notifier.NotifySales(context.Background(), testNotification()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if channel != "C-SALES" {
		t.Fatalf("unexpected channel %q", channel)
	}
	if text != "*Lead Ready: Asha - Property Viewing Request*\nLead Asha wants a property viewing." {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestSlackNotifierReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	t.Cleanup(server.Close)

	notifier, err := NewSlackNotifier("xoxb-test", "C-MISSING", server.URL+"/api/")
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	err = notifier.NotifySales(context.Background(), testNotification())
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected slack api error, got %v", err)
	}
}

type fakePublisher struct {
	input *sns.PublishInput
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	p.input = params
	if p.err != nil {
		return nil, p.err
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestSNSNotifierPublishes(t *testing.T) {
	api := &fakePublisher{}
	notifier := &SNSNotifier{api: api, topicARN: "arn:aws:sns:ap-south-1:123456789012:sales"}

	if err := notifier.NotifySales(context.Background(), testNotification()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if aws.ToString(api.input.TopicArn) != "arn:aws:sns:ap-south-1:123456789012:sales" {
		t.Fatalf("unexpected topic %q", aws.ToString(api.input.TopicArn))
	}
	if aws.ToString(api.input.Subject) != "Lead Ready: Asha - Property Viewing Request" {
		t.Fatalf("unexpected subject %q", aws.ToString(api.input.Subject))
	}
	if got := aws.ToString(api.input.MessageAttributes["goal_type"].StringValue); got != "viewing" {
		t.Fatalf("unexpected goal attribute %q", got)
	}
}

func TestSNSSubject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "Lead Ready: Åsha\n", want: "Lead Ready: sha"},
		{in: "", want: "Lead Ready"},
		{in: strings.Repeat("x", 120), want: strings.Repeat("x", 100)},
	}
	for _, tc := range cases {
		if got := snsSubject(tc.in); got != tc.want {
			t.Fatalf("snsSubject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type stubNotifier struct {
	calls int
	err   error
}

func (n *stubNotifier) NotifySales(context.Context, domain.SalesNotification) error {
	n.calls++
	return n.err
}

func TestFanoutSucceedsWhenAnyChannelDelivers(t *testing.T) {
	email := &stubNotifier{}
	slackStub := &stubNotifier{err: errors.New("slack down")}
	fanout := NewFanout(Channel{Name: "email", Notifier: email}, Channel{Name: "slack", Notifier: slackStub}, Channel{Name: "sns"})

	if got := fanout.Channels(); len(got) != 2 || got[0] != "email" || got[1] != "slack" {
		t.Fatalf("unexpected channels %v", got)
	}
	if err := fanout.NotifySales(context.Background(), testNotification()); err != nil {
		t.Fatalf("expected partial delivery to succeed, got %v", err)
	}
	if email.calls != 1 || slackStub.calls != 1 {
		t.Fatalf("expected every channel to be tried")
	}
}

func TestFanoutFailsWhenEveryChannelFails(t *testing.T) {
	fanout := NewFanout(
		Channel{Name: "email", Notifier: &stubNotifier{err: errors.New("smtp down")}},
		Channel{Name: "slack", Notifier: &stubNotifier{err: errors.New("slack down")}},
	)
	err := fanout.NotifySales(context.Background(), testNotification())
	if err == nil || !strings.Contains(err.Error(), "email: smtp down") || !strings.Contains(err.Error(), "slack: slack down") {
		t.Fatalf("expected joined channel errors, got %v", err)
	}

	if err := NewFanout().NotifySales(context.Background(), testNotification()); err == nil {
		t.Fatalf("expected error without channels")
	}
}
