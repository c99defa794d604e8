package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

// ErrBusy is returned by RunOnce while another run is in progress.
var ErrBusy = errors.New("reply poll already running")

type RunObserver interface {
	ObservePollRun(status string, duration time.Duration)
}

type noopRunObserver struct{}

func (noopRunObserver) ObservePollRun(string, time.Duration) {}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts five-field cron expressions and descriptors such as
// "@every 60s" or "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse poll schedule", errors.New("schedule is empty"))
	}
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse poll schedule", err)
	}
	return schedule, nil
}

// Poller drives the reply correlator on a schedule and on demand. Runs never
// overlap: a tick or trigger that arrives mid-run is skipped.
type Poller struct {
	correlator   ports.ReplyCorrelator
	schedule     cron.Schedule
	lookbackDays int
	observer     RunObserver

	running atomic.Bool
	now     func() time.Time
}

func New(correlator ports.ReplyCorrelator, scheduleSpec string, lookbackDays int, observer RunObserver) (*Poller, error) {
	schedule, err := ParseSchedule(scheduleSpec)
	if err != nil {
		return nil, err
	}
	if lookbackDays <= 0 {
		lookbackDays = 1
	}
	if observer == nil {
		observer = noopRunObserver{}
	}
	return &Poller{
		correlator:   correlator,
		schedule:     schedule,
		lookbackDays: lookbackDays,
		observer:     observer,
		now:          time.Now,
	}, nil
}

// RunOnce correlates replies from the last lookbackDays days, or the poller
// default when lookbackDays is zero.
func (p *Poller) RunOnce(ctx context.Context, lookbackDays int) (domain.CorrelationReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.observer.ObservePollRun("skipped", 0)
		slog.Info("reply_poll_skipped", "reason", "previous run in progress")
		return domain.CorrelationReport{}, ErrBusy
	}
	defer p.running.Store(false)

	if lookbackDays <= 0 {
		lookbackDays = p.lookbackDays
	}
	start := p.now()
	report, err := p.correlator.ProcessReplies(ctx, lookbackDays)
	duration := p.now().Sub(start)
	if err != nil {
		p.observer.ObservePollRun("error", duration)
		slog.Error("reply_poll_failed", "lookback_days", lookbackDays, "error", err)
		return report, fmt.Errorf("process replies: %w", err)
	}

	p.observer.ObservePollRun("ok", duration)
	slog.Info("reply_poll_completed",
		"lookback_days", lookbackDays,
		"processed", report.Processed,
		"new_replies", report.NewReplies,
		"auto_replies", report.AutoReplies,
		"skipped_no_reply_header", report.SkippedNoReplyHeader,
		"skipped_no_match", report.SkippedNoMatch,
		"skipped_duplicate", report.SkippedDuplicate,
		"errors", len(report.Errors),
		"duration_ms", duration.Milliseconds(),
	)
	return report, nil
}

// Run polls on the schedule until ctx is cancelled. Failed runs are logged and
// the loop continues.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("reply_poll_started", "lookback_days", p.lookbackDays)
	for {
		now := p.now()
		next := p.schedule.Next(now)
		if next.IsZero() {
			return errors.New("poll schedule has no next activation")
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("reply_poll_stopped")
			return nil
		case <-timer.C:
		}

		if _, err := p.RunOnce(ctx, 0); err != nil && !errors.Is(err, ErrBusy) && ctx.Err() == nil {
			slog.Warn("reply_poll_run_failed", "error", err)
		}
	}
}

// HandleTrigger serves on-demand checks from the event bus. A busy poller
// acknowledges the trigger; the running pass already covers the window.
func (p *Poller) HandleTrigger(ctx context.Context, lookbackDays int) error {
	_, err := p.RunOnce(ctx, lookbackDays)
	if errors.Is(err, ErrBusy) {
		return nil
	}
	return err
}
