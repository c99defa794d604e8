package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

const (
	defaultGoalThreshold = 0.7
	defaultLockTTL       = 5 * time.Minute
	defaultPendingLimit  = 50
)

type ReplyOrchestratorConfig struct {
	GoalThreshold   float64
	MessageIDDomain string
	LockTTL         time.Duration
}

type ReplyOrchestrator struct {
	repo       ports.ConversationRepository
	classifier ports.IntentClassifier
	agent      ports.AgentService
	sender     ports.MailSender
	notifier   ports.SalesNotifier
	locker     ports.Locker
	observer   ports.PipelineObserver
	cfg        ReplyOrchestratorConfig
}

func NewReplyOrchestrator(
	repo ports.ConversationRepository,
	classifier ports.IntentClassifier,
	agent ports.AgentService,
	sender ports.MailSender,
	notifier ports.SalesNotifier,
	locker ports.Locker,
	observer ports.PipelineObserver,
	cfg ReplyOrchestratorConfig,
) *ReplyOrchestrator {
	if cfg.GoalThreshold <= 0 {
		cfg.GoalThreshold = defaultGoalThreshold
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &ReplyOrchestrator{
		repo:       repo,
		classifier: classifier,
		agent:      agent,
		sender:     sender,
		notifier:   notifier,
		locker:     locker,
		observer:   observerOrNoop(observer),
		cfg:        cfg,
	}
}

func (o *ReplyOrchestrator) ProcessCustomerReply(ctx context.Context, entry *domain.ConversationEntry) domain.ReplyOutcome {
	return o.process(ctx, entry, false)
}

func (o *ReplyOrchestrator) ProcessPending(ctx context.Context, limit int, force bool) (domain.PendingBatchReport, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	entries, err := o.repo.ListPendingCustomerEntries(ctx, limit, force)
	if err != nil {
		return domain.PendingBatchReport{}, fmt.Errorf("list pending entries: %w", err)
	}

	report := domain.PendingBatchReport{
		Selected: len(entries),
		Results:  make([]domain.PendingEntryResult, 0, len(entries)),
	}
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome := o.process(ctx, &entries[i], force)
		if outcome.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, domain.PendingEntryResult{EntryID: entries[i].ID, Outcome: outcome})
	}

	slog.Info("pending_replies_processed",
		"selected", report.Selected,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"force", force,
	)
	return report, nil
}

func (o *ReplyOrchestrator) process(ctx context.Context, entry *domain.ConversationEntry, force bool) domain.ReplyOutcome {
	if entry == nil || entry.Sender != domain.SenderCustomer {
		return errorOutcome(errors.New("entry is not a customer message"))
	}

	unlock, ok, err := o.lock(ctx, "reply:entry:"+entry.ID)
	if err != nil {
		slog.Error("reply_lock_failed", "entry_id", entry.ID, "error", err.Error())
		return errorOutcome(err)
	}
	if !ok {
		slog.Info("reply_in_progress_elsewhere", "entry_id", entry.ID)
		return domain.ReplyOutcome{ActionTaken: domain.ActionSkipped, Error: "reply is being processed by another worker"}
	}
	defer unlock()

	current, err := o.repo.GetEntry(ctx, entry.ID)
	if err != nil {
		slog.Error("reply_entry_load_failed", "entry_id", entry.ID, "error", err.Error())
		return errorOutcome(err)
	}
	if current.AutoReplyProcessed && !force {
		return domain.ReplyOutcome{ActionTaken: domain.ActionSkipped, Error: "reply already processed"}
	}

	outcome := o.decide(ctx, current)
	o.observer.ObserveReplyAction(outcome.ActionTaken)

	if outcome.ActionTaken.Final() && !current.AutoReplyProcessed {
		if err := o.repo.MarkAutoReplyProcessed(ctx, current.ID); err != nil {
			slog.Error("reply_mark_processed_failed", "entry_id", current.ID, "error", err.Error())
		}
	}

	slog.Info("reply_processed",
		"entry_id", current.ID,
		"thread_id", current.ThreadID,
		"action_taken", string(outcome.ActionTaken),
		"intent", string(outcome.Intent),
		"confidence", outcome.Confidence,
		"success", outcome.Success,
	)
	return outcome
}

func (o *ReplyOrchestrator) decide(ctx context.Context, entry *domain.ConversationEntry) domain.ReplyOutcome {
	thread, err := o.repo.GetThread(ctx, entry.ThreadID)
	if err != nil {
		slog.Error("reply_thread_load_failed", "entry_id", entry.ID, "thread_id", entry.ThreadID, "error", err.Error())
		return errorOutcome(err)
	}

	intent := o.classifier.ClassifyIntent(ctx, entry.Message, thread.ProjectName(), thread.Lead.Name)
	slog.Info("reply_intent_classified",
		"entry_id", entry.ID,
		"intent", string(intent.Intent),
		"confidence", intent.Confidence,
		"goal_type", string(intent.GoalType),
	)

	switch {
	case intent.Intent == domain.IntentGoalReached && intent.Confidence >= o.cfg.GoalThreshold:
		return o.notifyAndAcknowledge(ctx, entry, thread, intent)
	case intent.Intent == domain.IntentQuestion || intent.Confidence < o.cfg.GoalThreshold:
		return o.answer(ctx, entry, thread, intent)
	default:
		slog.Warn("reply_intent_unclear", "entry_id", entry.ID, "intent", string(intent.Intent))
		return domain.ReplyOutcome{
			ActionTaken: domain.ActionSkipped,
			Intent:      intent.Intent,
			Confidence:  intent.Confidence,
		}
	}
}

func (o *ReplyOrchestrator) notifyAndAcknowledge(
	ctx context.Context,
	entry *domain.ConversationEntry,
	thread *domain.CampaignLead,
	intent domain.IntentResult,
) domain.ReplyOutcome {
	notification := domain.SalesNotification{
		Thread:          *thread,
		Intent:          intent,
		CustomerMessage: entry.Message,
		Subject:         fmt.Sprintf("Lead Ready: %s - %s Request", thread.Lead.Name, intent.GoalType.Title()),
		Body:            salesNotificationBody(thread, intent, entry.Message),
	}
	notified := true
	if err := o.notifier.NotifySales(ctx, notification); err != nil {
		notified = false
		slog.Error("sales_notification_failed", "entry_id", entry.ID, "error", err.Error())
	}

	outcome := domain.ReplyOutcome{
		Success:          true,
		ActionTaken:      domain.ActionNotifiedSales,
		Intent:           intent.Intent,
		Confidence:       intent.Confidence,
		NotificationSent: notified,
	}

	// The outcome stays final so the entry is marked processed and sales are
	// not notified a second time for the same reply.
	if err := o.repo.MarkSalesNotified(ctx, entry.ID); err != nil {
		slog.Error("reply_mark_sales_notified_failed",
			"entry_id", entry.ID,
			"notification_sent", notified,
			"error", err.Error(),
		)
		outcome.Success = false
		outcome.Error = "sales notification could not be recorded"
	}

	ack := acknowledgmentBody(thread, intent.GoalType)
	outcome.AgentResponse = ack
	subject := fmt.Sprintf("Thank you for your interest in %s", thread.ProjectName())

	sentID, err := o.send(ctx, entry, thread, subject, ack)
	if err != nil {
		slog.Error("reply_ack_send_failed", "entry_id", entry.ID, "error", err.Error())
		return outcome
	}
	if sentID == "" {
		return outcome
	}

	if err := o.persistAgentEntry(ctx, entry, ack, domain.ToolAcknowledge, sentID); err != nil {
		slog.Error("reply_persist_failed_after_send",
			"entry_id", entry.ID,
			"message_id", sentID,
			"error", err.Error(),
		)
		outcome.Success = false
		outcome.ActionTaken = domain.ActionEmailError
		outcome.Error = "reply was sent but could not be recorded"
	}
	return outcome
}

func (o *ReplyOrchestrator) answer(
	ctx context.Context,
	entry *domain.ConversationEntry,
	thread *domain.CampaignLead,
	intent domain.IntentResult,
) domain.ReplyOutcome {
	body, tool := o.agentReply(ctx, entry, thread)

	outcome := domain.ReplyOutcome{
		ActionTaken:   domain.ActionSentReply,
		AgentResponse: body,
		Intent:        intent.Intent,
		Confidence:    intent.Confidence,
	}

	subject := fmt.Sprintf("Re: %s - Your Question", thread.ProjectName())
	sentID, err := o.send(ctx, entry, thread, subject, body)
	if err != nil || sentID == "" {
		attrs := []any{"entry_id", entry.ID}
		if err != nil {
			attrs = append(attrs, "error", err.Error())
		}
		slog.Error("reply_send_failed", attrs...)
		outcome.ActionTaken = domain.ActionEmailFailed
		outcome.Error = "Email sending failed"
		return outcome
	}

	if err := o.persistAgentEntry(ctx, entry, body, tool, sentID); err != nil {
		slog.Error("reply_persist_failed_after_send",
			"entry_id", entry.ID,
			"message_id", sentID,
			"error", err.Error(),
		)
		outcome.ActionTaken = domain.ActionEmailError
		outcome.Error = "reply was sent but could not be recorded"
		return outcome
	}

	outcome.Success = true
	return outcome
}

// agentReply asks the routing agent and appends the nudge. A failed or empty
// agent result is replaced with the fallback message.
func (o *ReplyOrchestrator) agentReply(
	ctx context.Context,
	entry *domain.ConversationEntry,
	thread *domain.CampaignLead,
) (body string, tool domain.ToolKind) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent_query_panicked", "entry_id", entry.ID, "panic", fmt.Sprint(r))
			body, tool = fallbackReplyBody(thread), domain.ToolFallback
		}
	}()

	result := o.agent.Query(ctx, domain.QueryContext{Query: entry.Message, ProjectName: thread.ProjectName()})
	if result.Failed() || strings.TrimSpace(result.Response) == "" {
		slog.Warn("agent_query_failed_using_fallback", "entry_id", entry.ID, "tool_used", string(result.ToolUsed))
		return fallbackReplyBody(thread), domain.ToolFallback
	}
	return result.Response + goalNudge(thread), result.ToolUsed
}

func (o *ReplyOrchestrator) send(
	ctx context.Context,
	entry *domain.ConversationEntry,
	thread *domain.CampaignLead,
	subject, body string,
) (string, error) {
	msg := domain.OutboundMessage{
		MessageID:  NewMessageID(o.cfg.MessageIDDomain),
		To:         thread.Lead.Email,
		Subject:    subject,
		Body:       body,
		InReplyTo:  entry.EmailMessageID,
		References: threadReferences(entry),
	}
	sentID, err := o.sender.Send(ctx, msg)
	if err != nil {
		return "", err
	}
	return NormalizeMessageID(sentID), nil
}

func (o *ReplyOrchestrator) persistAgentEntry(
	ctx context.Context,
	entry *domain.ConversationEntry,
	message string,
	tool domain.ToolKind,
	messageID string,
) error {
	return o.repo.AppendEntry(ctx, &domain.ConversationEntry{
		ThreadID:       entry.ThreadID,
		Sender:         domain.SenderAgent,
		Message:        message,
		ToolUsed:       tool,
		EmailMessageID: messageID,
		EmailInReplyTo: entry.EmailMessageID,
	})
}

func (o *ReplyOrchestrator) lock(ctx context.Context, key string) (func(), bool, error) {
	if o.locker == nil {
		return func() {}, true, nil
	}
	return o.locker.TryLock(ctx, key, o.cfg.LockTTL)
}

func threadReferences(entry *domain.ConversationEntry) []string {
	refs := SplitMessageIDs(entry.EmailInReplyTo)
	if entry.EmailMessageID != "" {
		refs = append(refs, entry.EmailMessageID)
	}
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if n := NormalizeMessageID(ref); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func errorOutcome(err error) domain.ReplyOutcome {
	return domain.ReplyOutcome{ActionTaken: domain.ActionError, Error: err.Error()}
}

func acknowledgmentBody(thread *domain.CampaignLead, goal domain.GoalType) string {
	return fmt.Sprintf(`Hi %s,

Thank you for your interest in %s! We've received your request for a %s and our sales team will be in touch with you shortly to schedule a convenient time.

In the meantime, if you have any questions, please feel free to reply to this email.

Best regards,
NurturingAI Sales Team`, thread.Lead.Name, thread.ProjectName(), goal.Label())
}

func goalNudge(thread *domain.CampaignLead) string {
	return fmt.Sprintf(`

---

I hope this information helps! If you'd like to learn more or schedule a viewing of %s, please let me know and I'll connect you with our sales team.

Best regards,
NurturingAI`, thread.ProjectName())
}

func fallbackReplyBody(thread *domain.CampaignLead) string {
	return fmt.Sprintf(`Hi %s,

Thank you for your message regarding %s. I'm currently processing your inquiry and will get back to you shortly with detailed information.

If you'd like to schedule a viewing or speak with our sales team, please let me know and I'll connect you right away.

Best regards,
NurturingAI`, thread.Lead.Name, thread.ProjectName())
}

func salesNotificationBody(thread *domain.CampaignLead, intent domain.IntentResult, customerMessage string) string {
	phone := thread.Lead.Phone
	if phone == "" {
		phone = "Not provided"
	}
	campaignName := thread.Campaign.Name
	if campaignName == "" {
		campaignName = "N/A"
	}
	channel := "Email"
	if thread.Campaign.Channel == domain.ChannelWhatsApp {
		channel = "WhatsApp"
	}

	return fmt.Sprintf(`A lead has expressed interest in taking the next step!

Lead Information:
- Name: %s
- Email: %s
- Phone: %s
- Project: %s
- Goal Type: %s

Customer Message:
"%s"

Campaign Details:
- Campaign: %s
- Channel: %s

Please follow up with this lead promptly.

---
This is an automated notification from NurturingAI.
`, thread.Lead.Name, thread.Lead.Email, phone, thread.ProjectName(), intent.GoalType.Title(), customerMessage, campaignName, channel)
}
