package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/resilience"
)

// Queue carries import jobs on a work-queue subject and progress events on
// per-upload subjects under a common prefix.
type Queue struct {
	conn           *nats.Conn
	subject        string
	progressPrefix string
	queueGroup     string
	executor       *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ProgressPrefix       string
	QueueGroup           string
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
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

	conn, err := nats.Connect(
		url,
		nats.Name("qc-inspection"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		subject:        subject,
		progressPrefix: progressPrefixOrDefault(options.ProgressPrefix),
		queueGroup:     queueGroupOrDefault(options.QueueGroup),
		executor:       options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishImportRequested(ctx context.Context, uploadID string) error {
	return q.publish(ctx, q.subject, []byte(uploadID))
}

func (q *Queue) SubscribeImportRequested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			slog.Error("import_job_handler_error", "upload_id", string(msg.Data), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
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

func (q *Queue) PublishProgress(ctx context.Context, event domain.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return q.publish(ctx, progressSubject(q.progressPrefix, event.UploadID), payload)
}

// SubscribeProgress relays events of one upload until stop is called or
// ctx ends. Events that arrive while the consumer lags are dropped. The
// returned channel is never closed.
func (q *Queue) SubscribeProgress(ctx context.Context, uploadID string) (<-chan domain.ProgressEvent, func(), error) {
	events := make(chan domain.ProgressEvent, 64)
	done := make(chan struct{})

	sub, err := q.conn.Subscribe(progressSubject(q.progressPrefix, uploadID), func(msg *nats.Msg) {
		event, err := decodeProgress(msg.Data)
		if err != nil {
			slog.Warn("progress_event_decode_failed", "upload_id", uploadID, "error", err)
			return
		}
		select {
		case <-done:
		case events <- event:
		default:
			slog.Warn("progress_event_dropped", "upload_id", uploadID, "stage", event.Stage)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("nats subscribe progress: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("nats flush: %w", err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return events, stop, nil
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
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

func progressSubject(prefix, uploadID string) string {
	return prefix + "." + strings.ReplaceAll(uploadID, ".", "_")
}

func decodeProgress(data []byte) (domain.ProgressEvent, error) {
	var event domain.ProgressEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.ProgressEvent{}, fmt.Errorf("decode progress event: %w", err)
	}
	if event.UploadID == "" || event.Stage == "" {
		return domain.ProgressEvent{}, errors.New("decode progress event: uploadId and stage are required")
	}
	return event, nil
}

func progressPrefixOrDefault(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return "orders.import.progress"
	}
	return prefix
}

func queueGroupOrDefault(group string) string {
	if strings.TrimSpace(group) == "" {
		return "import-workers"
	}
	return group
}
