package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

type orchestratorFixture struct {
	repo       *memoryConversations
	classifier *fakeClassifier
	agent      *fakeAgent
	sender     *fakeSender
	notifier   *fakeNotifier
	locker     *fakeLocker
	observer   *recordingObserver
	uc         *ReplyOrchestrator
	entry      domain.ConversationEntry
}

func newOrchestratorFixture(t *testing.T, intent domain.IntentResult) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		repo:       newMemoryConversations(testThread()),
		classifier: &fakeClassifier{result: intent},
		agent: &fakeAgent{result: domain.AgentResult{
			Response: "The clubhouse has a gym and a pool.",
			ToolUsed: domain.ToolDocumentRAG,
			Result:   domain.DocumentAnswer{Response: "The clubhouse has a gym and a pool."},
		}},
		sender:   &fakeSender{},
		notifier: &fakeNotifier{},
		locker:   newFakeLocker(),
		observer: &recordingObserver{},
	}
	f.uc = NewReplyOrchestrator(f.repo, f.classifier, f.agent, f.sender, f.notifier, f.locker, f.observer,
		ReplyOrchestratorConfig{MessageIDDomain: "mail.test"})

	entry := &domain.ConversationEntry{
		ThreadID:       "thread-1",
		Sender:         domain.SenderCustomer,
		Message:        "I'd like to schedule a viewing this Saturday.",
		EmailMessageID: "reply-1@mail.example.com",
		EmailInReplyTo: "abc-123",
	}
	if err := f.repo.AppendEntry(context.Background(), entry); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	f.entry = *entry
	return f
}

func (f *orchestratorFixture) run() domain.ReplyOutcome {
	entry := f.entry
	return f.uc.ProcessCustomerReply(context.Background(), &entry)
}

func TestReplyOrchestratorGoalReachedNotifiesSales(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentGoalReached, Confidence: 0.9, GoalType: domain.GoalViewing})

	outcome := f.run()

	if !outcome.Success || outcome.ActionTaken != domain.ActionNotifiedSales || !outcome.NotificationSent {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(f.agent.queries) != 0 {
		t.Fatalf("agent should not be queried for goal_reached")
	}
	if len(f.notifier.notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.notifications))
	}
	n := f.notifier.notifications[0]
	if n.Subject != "Lead Ready: Asha - Property Viewing Request" {
		t.Fatalf("unexpected notification subject %q", n.Subject)
	}
	if !strings.Contains(n.Body, "- Phone: Not provided") || !strings.Contains(n.Body, "- Campaign: Launch") {
		t.Fatalf("unexpected notification body %q", n.Body)
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("expected acknowledgment email, got %d", len(f.sender.sent))
	}
	ack := f.sender.sent[0]
	if ack.Subject != "Thank you for your interest in Skyline Towers" || !strings.Contains(ack.Body, "property viewing") {
		t.Fatalf("unexpected acknowledgment %+v", ack)
	}
	if ack.InReplyTo != "reply-1@mail.example.com" || ack.To != "asha@example.com" {
		t.Fatalf("unexpected threading %+v", ack)
	}
	if strings.Join(ack.References, " ") != "abc-123 reply-1@mail.example.com" {
		t.Fatalf("unexpected references %v", ack.References)
	}
	if !strings.HasSuffix(ack.MessageID, "@mail.test") {
		t.Fatalf("unexpected message id %q", ack.MessageID)
	}

	stored := f.repo.entry(f.entry.ID)
	if !stored.SalesTeamNotified || !stored.AutoReplyProcessed {
		t.Fatalf("expected entry flags set, got %+v", stored)
	}
	agentEntries := f.repo.bySender(domain.SenderAgent)
	if len(agentEntries) != 1 || agentEntries[0].ToolUsed != domain.ToolAcknowledge || agentEntries[0].EmailMessageID != ack.MessageID {
		t.Fatalf("unexpected agent entries %+v", agentEntries)
	}
	if len(f.observer.actions) != 1 || f.observer.actions[0] != domain.ActionNotifiedSales {
		t.Fatalf("unexpected observed actions %v", f.observer.actions)
	}
	if len(f.locker.held) != 0 {
		t.Fatalf("lock not released: %v", f.locker.held)
	}
}

func TestReplyOrchestratorQuestionSendsAgentReply(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentQuestion, Confidence: 0.8})

	outcome := f.run()

	if !outcome.Success || outcome.ActionTaken != domain.ActionSentReply {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(f.notifier.notifications) != 0 {
		t.Fatalf("sales should not be notified for questions")
	}
	if len(f.agent.queries) != 1 || f.agent.queries[0].ProjectName != "Skyline Towers" {
		t.Fatalf("unexpected agent queries %+v", f.agent.queries)
	}
	reply := f.sender.sent[0]
	if reply.Subject != "Re: Skyline Towers - Your Question" {
		t.Fatalf("unexpected subject %q", reply.Subject)
	}
	if !strings.HasPrefix(reply.Body, "The clubhouse has a gym and a pool.") || !strings.Contains(reply.Body, "schedule a viewing of Skyline Towers") {
		t.Fatalf("unexpected body %q", reply.Body)
	}
	if outcome.AgentResponse != reply.Body {
		t.Fatalf("outcome response differs from sent body")
	}
	agentEntries := f.repo.bySender(domain.SenderAgent)
	if len(agentEntries) != 1 || agentEntries[0].ToolUsed != domain.ToolDocumentRAG {
		t.Fatalf("unexpected agent entries %+v", agentEntries)
	}
	if stored := f.repo.entry(f.entry.ID); !stored.AutoReplyProcessed || stored.SalesTeamNotified {
		t.Fatalf("unexpected entry flags %+v", stored)
	}
}

func TestReplyOrchestratorLowConfidenceGoalIsAnswered(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentGoalReached, Confidence: 0.5, GoalType: domain.GoalViewing})

	outcome := f.run()

	if outcome.ActionTaken != domain.ActionSentReply || len(f.notifier.notifications) != 0 {
		t.Fatalf("expected a reply without notification, got %+v", outcome)
	}
}

func TestReplyOrchestratorThresholdIsInclusive(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentGoalReached, Confidence: 0.7, GoalType: domain.GoalSalesCall})

	outcome := f.run()

	if outcome.ActionTaken != domain.ActionNotifiedSales {
		t.Fatalf("expected notified_sales at the threshold, got %+v", outcome)
	}
	if f.notifier.notifications[0].Subject != "Lead Ready: Asha - Sales Call Request" {
		t.Fatalf("unexpected subject %q", f.notifier.notifications[0].Subject)
	}
}

func TestReplyOrchestratorNotifierFailureStillAcknowledges(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentGoalReached, Confidence: 0.95, GoalType: domain.GoalViewing})
	f.notifier.err = errors.New("smtp down")

	outcome := f.run()

	if !outcome.Success || outcome.ActionTaken != domain.ActionNotifiedSales || outcome.NotificationSent {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected acknowledgment to be sent")
	}
}

func TestReplyOrchestratorSalesFlagFailureDoesNotRenotify(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentGoalReached, Confidence: 0.9, GoalType: domain.GoalViewing})
	f.repo.salesNotifiedErr = errors.New("connection lost")

	outcome := f.run()

	if outcome.Success || outcome.ActionTaken != domain.ActionNotifiedSales || !outcome.NotificationSent || outcome.Error == "" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if !f.repo.entry(f.entry.ID).AutoReplyProcessed {
		t.Fatalf("entry should be marked processed once sales were notified")
	}

	if _, err := f.uc.ProcessPending(context.Background(), 10, false); err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if len(f.notifier.notifications) != 1 {
		t.Fatalf("expected a single sales notification, got %d", len(f.notifier.notifications))
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected a single acknowledgment, got %d", len(f.sender.sent))
	}
}

func TestReplyOrchestratorAcknowledgmentSendFailure(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentGoalReached, Confidence: 0.9, GoalType: domain.GoalViewing})
	f.sender.err = errors.New("connection reset")

	outcome := f.run()

	if outcome.ActionTaken != domain.ActionNotifiedSales || !outcome.Success {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(f.repo.bySender(domain.SenderAgent)) != 0 {
		t.Fatalf("no agent entry expected when the acknowledgment was not sent")
	}
	if !f.repo.entry(f.entry.ID).SalesTeamNotified {
		t.Fatalf("sales flag should be set")
	}
}

func TestReplyOrchestratorSendFailureLeavesEntryPending(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentQuestion, Confidence: 0.9})
	f.sender.err = errors.New("connection reset")

	outcome := f.run()

	if outcome.Success || outcome.ActionTaken != domain.ActionEmailFailed || outcome.Error != "Email sending failed" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if f.repo.entry(f.entry.ID).AutoReplyProcessed {
		t.Fatalf("entry should stay pending after a send failure")
	}
}

func TestReplyOrchestratorPersistFailureAfterSend(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentQuestion, Confidence: 0.9})
	f.repo.appendErr = errors.New("disk full")

	outcome := f.run()

	if outcome.Success || outcome.ActionTaken != domain.ActionEmailError {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected the reply to have been sent")
	}
	if !f.repo.entry(f.entry.ID).AutoReplyProcessed {
		t.Fatalf("entry should be marked processed so the reply is not sent twice")
	}
}

func TestReplyOrchestratorFallbackReply(t *testing.T) {
	cases := map[string]func(*fakeAgent){
		"failed result": func(a *fakeAgent) {
			a.result = domain.AgentResult{
				Response: ragFailedResponse,
				ToolUsed: domain.ToolDocumentRAG,
				Result:   domain.ToolFailure{Kind: domain.ToolDocumentRAG, Error: ragFailedError},
			}
		},
		"empty response": func(a *fakeAgent) { a.result = domain.AgentResult{ToolUsed: domain.ToolTextToSQL} },
		"panic":          func(a *fakeAgent) { a.panics = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentQuestion, Confidence: 0.9})
			mutate(f.agent)

			outcome := f.run()

			if !outcome.Success || outcome.ActionTaken != domain.ActionSentReply {
				t.Fatalf("unexpected outcome %+v", outcome)
			}
			if !strings.HasPrefix(outcome.AgentResponse, "Hi Asha,\n\nThank you for your message regarding Skyline Towers.") {
				t.Fatalf("expected fallback body, got %q", outcome.AgentResponse)
			}
			agentEntries := f.repo.bySender(domain.SenderAgent)
			if len(agentEntries) != 1 || agentEntries[0].ToolUsed != domain.ToolFallback {
				t.Fatalf("unexpected agent entries %+v", agentEntries)
			}
		})
	}
}

func TestReplyOrchestratorSkipsProcessedEntry(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentQuestion, Confidence: 0.9})
	if err := f.repo.MarkAutoReplyProcessed(context.Background(), f.entry.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	outcome := f.run()

	if outcome.ActionTaken != domain.ActionSkipped || f.classifier.calls != 0 || len(f.sender.sent) != 0 {
		t.Fatalf("expected skip without work, got %+v", outcome)
	}
}

func TestReplyOrchestratorSkipsWhenLockHeld(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentQuestion, Confidence: 0.9})
	f.locker.held["reply:entry:"+f.entry.ID] = true

	outcome := f.run()

	if outcome.ActionTaken != domain.ActionSkipped || f.classifier.calls != 0 {
		t.Fatalf("expected skip while locked, got %+v", outcome)
	}
	if f.repo.entry(f.entry.ID).AutoReplyProcessed {
		t.Fatalf("a skipped-by-lock entry must not be marked")
	}
}

func TestReplyOrchestratorRejectsAgentEntries(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentQuestion, Confidence: 0.9})

	outcome := f.uc.ProcessCustomerReply(context.Background(), &domain.ConversationEntry{ID: "x", Sender: domain.SenderAgent})

	if outcome.ActionTaken != domain.ActionError || outcome.Success {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestReplyOrchestratorProcessPending(t *testing.T) {
	f := newOrchestratorFixture(t, domain.IntentResult{Intent: domain.IntentQuestion, Confidence: 0.9})
	second := &domain.ConversationEntry{ThreadID: "thread-1", Sender: domain.SenderCustomer, Message: "Is parking included?"}
	if err := f.repo.AppendEntry(context.Background(), second); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.repo.MarkAutoReplyProcessed(context.Background(), second.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}

	report, err := f.uc.ProcessPending(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if report.Selected != 1 || report.Succeeded != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Results[0].EntryID != f.entry.ID {
		t.Fatalf("unexpected result entry %s", report.Results[0].EntryID)
	}

	forced, err := f.uc.ProcessPending(context.Background(), 10, true)
	if err != nil {
		t.Fatalf("ProcessPending(force) error = %v", err)
	}
	if forced.Selected != 2 || forced.Succeeded != 2 {
		t.Fatalf("unexpected forced report %+v", forced)
	}
}
