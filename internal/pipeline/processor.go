package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/joseph-ayodele/pdftext/internal/async"
	"github.com/joseph-ayodele/pdftext/internal/pipeline/textextract"
)

// Processor is the worker pool: it consumes extraction jobs and settles each
// delivery according to the outcome of the text extraction pipeline.
type Processor struct {
	Logger      *slog.Logger
	Broker      async.Broker
	RoutingKey  string
	Concurrency int
	Extract     *textextract.Pipeline

	inFlight atomic.Int64
}

func NewProcessor(logger *slog.Logger, broker async.Broker, routingKey string, concurrency int, extract *textextract.Pipeline) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{Logger: logger, Broker: broker, RoutingKey: routingKey, Concurrency: concurrency, Extract: extract}
}

// Run declares the topology and consumes until ctx is done. Jobs already
// started run to completion.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.Broker.DeclareTopology(ctx); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}
	p.Logger.Info("worker pool starting", "routing_key", p.RoutingKey, "concurrency", p.Concurrency)
	err := p.Broker.Consume(ctx, p.RoutingKey, p.Handle, async.ConsumeOptions{Concurrency: p.Concurrency})
	p.Logger.Info("worker pool stopped")
	return err
}

// InFlight reports jobs currently being handled.
func (p *Processor) InFlight() int64 {
	return p.inFlight.Load()
}

// Handle processes one delivery. It never returns an error: every outcome
// settles the message, so one bad job cannot stop the pool.
func (p *Processor) Handle(ctx context.Context, d async.Delivery) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	log := p.Logger.With("message_id", d.MessageID(), "redelivered", d.Redelivered())

	job, err := async.DecodeJob(d.Body())
	if err != nil {
		log.Warn("poison message rejected", "error", err, "body_bytes", len(d.Body()))
		p.settle(log, d, false, err)
		return
	}
	log = log.With("document_id", job.DocumentID)

	// Shutdown must not abort a job midway; the per-job deadline lives in the engine.
	jobCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			p.Extract.RecordFailure(jobCtx, job.DocumentID, fmt.Sprintf("internal error: %v", r))
			p.settle(log, d, false, fmt.Errorf("panic: %v", r))
		}
	}()

	_, err = p.Extract.Run(jobCtx, job.DocumentID)
	switch {
	case err == nil:
		p.settle(log, d, true, nil)
	case errors.Is(err, textextract.ErrDocumentNotFound):
		log.Warn("job references missing document, dropping", "error", err)
		p.settle(log, d, false, err)
	default:
		log.Error("job failed", "error", err)
		p.settle(log, d, false, err)
	}
}

func (p *Processor) settle(log *slog.Logger, d async.Delivery, ok bool, cause error) {
	var err error
	if ok {
		err = d.Ack()
	} else {
		// Failed jobs are never requeued; redelivery happens only if the ack is lost.
		err = d.Nack(false)
	}
	if err != nil {
		log.Error("failed to settle delivery", "ack", ok, "cause", cause, "error", err)
	}
}
