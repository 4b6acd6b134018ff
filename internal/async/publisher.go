package async

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/internal/common"
)

// JobPublisher enqueues extraction jobs, retrying transient broker errors.
type JobPublisher struct {
	broker      Broker
	routingKey  string
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

type PublisherOption func(*JobPublisher)

func WithMaxAttempts(n int) PublisherOption {
	return func(p *JobPublisher) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithBackoff(base, max time.Duration) PublisherOption {
	return func(p *JobPublisher) {
		if base > 0 {
			p.baseDelay = base
		}
		if max > 0 {
			p.maxDelay = max
		}
	}
}

func NewJobPublisher(broker Broker, routingKey string, logger *slog.Logger, opts ...PublisherOption) *JobPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &JobPublisher{
		broker:      broker,
		routingKey:  routingKey,
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
		maxDelay:    2 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PublishExtract enqueues {"documentId": id}. Non-retryable broker errors are
// returned at once; retryable ones are retried with exponential backoff and the
// last error is returned still marked retryable.
func (p *JobPublisher) PublishExtract(ctx context.Context, id uuid.UUID) error {
	msg, err := NewJobMessage(Job{DocumentID: id})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = p.broker.Publish(ctx, p.routingKey, msg)
		if lastErr == nil {
			p.logger.Info("queued document for extraction", "document_id", id, "attempt", attempt)
			return nil
		}
		if !common.IsRetryable(lastErr) || attempt == p.maxAttempts {
			break
		}

		backoff := p.baseDelay << (attempt - 1)
		if backoff > p.maxDelay {
			backoff = p.maxDelay
		}
		p.logger.Warn("publish failed, retrying", "document_id", id, "attempt", attempt, "backoff", backoff, "error", lastErr)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return common.Retryable(fmt.Errorf("publish canceled: %w", ctx.Err()))
		}
	}
	p.logger.Error("publish failed", "document_id", id, "error", lastErr)
	return fmt.Errorf("publish job for %s: %w", id, lastErr)
}
