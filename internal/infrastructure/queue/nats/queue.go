package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nurturingai/leadnurture/internal/infrastructure/resilience"
)

const workerGroup = "workers"

// Queue carries brochure-ingest events and on-demand reply-check triggers.
type Queue struct {
	conn              *nats.Conn
	brochureSubject   string
	replyCheckSubject string
	executor          *resilience.Executor
}

type Options struct {
	BrochureSubject      string
	ReplyCheckSubject    string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

type replyCheckPayload struct {
	LookbackDays int `json:"lookback_days"`
}

func New(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	brochureSubject := options.BrochureSubject
	if brochureSubject == "" {
		brochureSubject = "brochures.ingest"
	}
	replyCheckSubject := options.ReplyCheckSubject
	if replyCheckSubject == "" {
		replyCheckSubject = "replies.check"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("leadnurture"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats_disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:              conn,
		brochureSubject:   brochureSubject,
		replyCheckSubject: replyCheckSubject,
		executor:          options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishBrochureUploaded(ctx context.Context, brochureID string) error {
	return q.publish(ctx, q.brochureSubject, []byte(brochureID))
}

func (q *Queue) SubscribeBrochureUploaded(ctx context.Context, handler func(context.Context, string) error) error {
	return q.subscribe(ctx, q.brochureSubject, func(ctx context.Context, data []byte) error {
		return handler(ctx, string(data))
	})
}

func (q *Queue) PublishReplyCheck(ctx context.Context, lookbackDays int) error {
	data, err := encodeReplyCheck(lookbackDays)
	if err != nil {
		return err
	}
	return q.publish(ctx, q.replyCheckSubject, data)
}

func (q *Queue) SubscribeReplyCheck(ctx context.Context, handler func(context.Context, int) error) error {
	return q.subscribe(ctx, q.replyCheckSubject, func(ctx context.Context, data []byte) error {
		days, err := decodeReplyCheck(data)
		if err != nil {
			return err
		}
		return handler(ctx, days)
	})
}

func encodeReplyCheck(lookbackDays int) ([]byte, error) {
	data, err := json.Marshal(replyCheckPayload{LookbackDays: lookbackDays})
	if err != nil {
		return nil, fmt.Errorf("encode reply check: %w", err)
	}
	return data, nil
}

// decodeReplyCheck accepts an empty payload as "use the default lookback".
func decodeReplyCheck(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	var payload replyCheckPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("decode reply check: %w", err)
	}
	if payload.LookbackDays < 0 {
		return 0, fmt.Errorf("decode reply check: negative lookback %d", payload.LookbackDays)
	}
	return payload.LookbackDays, nil
}

func (q *Queue) publish(ctx context.Context, subject string, data []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// subscribe blocks until ctx is done, then drains the subscription.
func (q *Queue) subscribe(ctx context.Context, subject string, handler func(context.Context, []byte) error) error {
	sub, err := q.conn.QueueSubscribe(subject, workerGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, msg.Data); err != nil {
			slog.Error("queue_handler_failed",
				"subject", subject,
				"payload", string(msg.Data),
				"error", err.Error(),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
