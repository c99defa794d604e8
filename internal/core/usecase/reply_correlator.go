package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

const defaultLookbackDays = 7

type ReplyCorrelator struct {
	fetcher   ports.MailFetcher
	repo      ports.ConversationRepository
	processor ports.CustomerReplyProcessor
	locker    ports.Locker
	observer  ports.PipelineObserver
	lockTTL   time.Duration
	now       func() time.Time
}

func NewReplyCorrelator(
	fetcher ports.MailFetcher,
	repo ports.ConversationRepository,
	processor ports.CustomerReplyProcessor,
	locker ports.Locker,
	observer ports.PipelineObserver,
	lockTTL time.Duration,
) *ReplyCorrelator {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &ReplyCorrelator{
		fetcher:   fetcher,
		repo:      repo,
		processor: processor,
		locker:    locker,
		observer:  observerOrNoop(observer),
		lockTTL:   lockTTL,
		now:       time.Now,
	}
}

// ProcessReplies correlates inbound mail from the last lookbackDays with
// outbound threads. Mailbox failures abort the run and are returned alongside
// the partial report.
func (c *ReplyCorrelator) ProcessReplies(ctx context.Context, lookbackDays int) (domain.CorrelationReport, error) {
	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}
	report := domain.CorrelationReport{Errors: []string{}}

	since := c.now().AddDate(0, 0, -lookbackDays)
	messages, err := c.fetcher.FetchSince(ctx, since)
	if err != nil {
		slog.Error("reply_fetch_failed", "lookback_days", lookbackDays, "error", err.Error())
		report.AddError(fmt.Sprintf("fetch mailbox: %v", err))
		c.observer.ObserveCorrelation(report)
		return report, domain.WrapError(domain.ErrMailbox, "fetch replies", err)
	}
	slog.Info("reply_fetch_completed", "messages", len(messages), "since", since.Format(time.DateOnly))

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			report.AddError(err.Error())
			break
		}
		c.processMessage(ctx, msg, &report)
	}

	c.observer.ObserveCorrelation(report)
	slog.Info("reply_correlation_completed",
		"processed", report.Processed,
		"new_replies", report.NewReplies,
		"auto_replies", report.AutoReplies,
		"skipped_no_reply_header", report.SkippedNoReplyHeader,
		"skipped_no_match", report.SkippedNoMatch,
		"skipped_duplicate", report.SkippedDuplicate,
		"errors", len(report.Errors),
	)
	return report, nil
}

func (c *ReplyCorrelator) processMessage(ctx context.Context, msg domain.InboundMessage, report *domain.CorrelationReport) {
	inReplyTo := strings.TrimSpace(msg.InReplyTo)
	references := strings.TrimSpace(msg.References)
	if inReplyTo == "" && references == "" {
		report.SkippedNoReplyHeader++
		return
	}

	fail := func(stage string, err error) {
		slog.Error("reply_correlation_failed",
			"stage", stage,
			"message_id", msg.MessageID,
			"error", err.Error(),
		)
		report.AddError(fmt.Sprintf("%s %s: %v", stage, msg.MessageID, err))
		report.Processed++
	}

	thread, via, err := c.correlate(ctx, inReplyTo, references)
	if err != nil {
		fail("correlate", err)
		return
	}
	if thread == nil {
		report.SkippedNoMatch++
		slog.Debug("reply_no_match",
			"in_reply_to", truncateRunes(inReplyTo, 50),
			"references", truncateRunes(references, 50),
		)
		return
	}

	messageID := NormalizeMessageID(msg.MessageID)
	if messageID == "" {
		messageID = InboundFallbackMessageID(msg)
		slog.Warn("reply_missing_message_id", "fallback_id", messageID, "from", msg.From)
	}

	unlock, ok, err := c.lock(ctx, "reply:inbound:"+messageID)
	if err != nil {
		fail("lock", err)
		return
	}
	if !ok {
		report.SkippedDuplicate++
		return
	}
	defer unlock()

	exists, err := c.repo.EntryExistsWithMessageID(ctx, MessageIDVariants(messageID))
	if err != nil {
		fail("duplicate check", err)
		return
	}
	if exists {
		report.SkippedDuplicate++
		slog.Debug("reply_already_recorded", "message_id", messageID)
		return
	}

	entry := &domain.ConversationEntry{
		ThreadID:       thread.ID,
		Sender:         domain.SenderCustomer,
		Message:        msg.Body,
		EmailMessageID: messageID,
		EmailInReplyTo: NormalizeMessageID(inReplyTo),
	}
	if err := c.repo.AppendEntry(ctx, entry); err != nil {
		fail("record reply", err)
		return
	}
	report.NewReplies++
	report.Processed++
	slog.Info("reply_recorded",
		"entry_id", entry.ID,
		"thread_id", thread.ID,
		"matched_via", via,
		"from", msg.From,
	)

	outcome := c.processor.ProcessCustomerReply(ctx, entry)
	if outcome.Success {
		report.AutoReplies++
	} else {
		slog.Warn("auto_reply_not_completed",
			"entry_id", entry.ID,
			"action_taken", string(outcome.ActionTaken),
			"error", outcome.Error,
		)
	}
}

// correlate tries In-Reply-To ids first, then the References chain.
func (c *ReplyCorrelator) correlate(ctx context.Context, inReplyTo, references string) (*domain.CampaignLead, string, error) {
	lookup := threadLookup{repo: c.repo}
	if inReplyTo != "" {
		thread, via, err := lookup.find(ctx, SplitMessageIDs(inReplyTo))
		if err != nil || thread != nil {
			return thread, "in_reply_to:" + via, err
		}
	}
	if references != "" {
		thread, via, err := lookup.find(ctx, SplitMessageIDs(references))
		if err != nil || thread != nil {
			return thread, "references:" + via, err
		}
	}
	return nil, "", nil
}

func (c *ReplyCorrelator) lock(ctx context.Context, key string) (func(), bool, error) {
	if c.locker == nil {
		return func() {}, true, nil
	}
	return c.locker.TryLock(ctx, key, c.lockTTL)
}
