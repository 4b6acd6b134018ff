package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/joseph-ayodele/pdftext/internal/common"
)

// ErrQueueFull is returned by MemoryBroker.Publish when the queue buffer is full.
var ErrQueueFull = errors.New("queue full")

// MemoryBroker is an in-process Broker. Messages do not survive a restart;
// it serves tests and single-process deployments.
type MemoryBroker struct {
	topo    Topology
	logger  *slog.Logger
	size    int
	ch      chan *memoryMessage
	done    chan struct{}
	pending atomic.Int64

	mu          sync.Mutex
	declared    bool
	closed      bool
	deadLetters []Message
}

type MemoryOption func(*MemoryBroker)

// WithQueueSize sets the buffered capacity before Publish reports backpressure.
func WithQueueSize(n int) MemoryOption {
	return func(b *MemoryBroker) {
		if n > 0 {
			b.size = n
		}
	}
}

func NewMemoryBroker(topo Topology, logger *slog.Logger, opts ...MemoryOption) *MemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MemoryBroker{topo: topo, logger: logger, size: 256}
	for _, o := range opts {
		o(b)
	}
	b.ch = make(chan *memoryMessage, b.size)
	b.done = make(chan struct{})
	return b
}

type memoryMessage struct {
	msg         Message
	redelivered bool
}

func (b *MemoryBroker) DeclareTopology(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.declared {
		b.logger.Info("declared in-memory topology", "exchange", b.topo.Exchange, "queue", b.topo.Queue, "routing_key", b.topo.RoutingKey)
	}
	b.declared = true
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, routingKey string, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return common.Retryable(errors.New("broker closed"))
	}
	if routingKey != b.topo.RoutingKey {
		// Direct exchange with no matching binding: the message is dropped.
		b.logger.Warn("unroutable message dropped", "routing_key", routingKey, "message_id", msg.MessageID)
		return nil
	}
	select {
	case b.ch <- &memoryMessage{msg: msg}:
		b.pending.Add(1)
		return nil
	default:
		b.logger.Warn("queue full, applying backpressure", "message_id", msg.MessageID)
		return common.Retryable(fmt.Errorf("%w: %d messages buffered", ErrQueueFull, b.size))
	}
}

func (b *MemoryBroker) Consume(ctx context.Context, routingKey string, h Handler, opts ConsumeOptions) error {
	if routingKey != b.topo.RoutingKey {
		return fmt.Errorf("no queue bound to routing key %q", routingKey)
	}
	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			b.logger.Debug("consumer worker started", "worker_id", workerID)
			for {
				select {
				case <-ctx.Done():
					b.logger.Debug("consumer worker stopped", "worker_id", workerID)
					return
				case m := <-b.ch:
					b.deliver(ctx, m, h)
				}
			}
		}(i + 1)
	}
	wg.Wait()
	return nil
}

func (b *MemoryBroker) deliver(ctx context.Context, m *memoryMessage, h Handler) {
	d := &memoryDelivery{broker: b, m: m}
	h(ctx, d)
	if !d.settled.Load() {
		// Unsettled deliveries return to the queue, as on a closed AMQP channel.
		b.logger.Warn("delivery not settled by handler, requeueing", "message_id", m.msg.MessageID)
		_ = d.Nack(true)
	}
}

func (b *MemoryBroker) requeue(m *memoryMessage) {
	m.redelivered = true
	select {
	case <-b.done:
		b.dropClosed(m)
		return
	default:
	}
	select {
	case b.ch <- m:
	default:
		// Buffer full: wait for room, or give up once the broker closes.
		go func() {
			select {
			case b.ch <- m:
			case <-b.done:
				b.dropClosed(m)
			}
		}()
	}
}

func (b *MemoryBroker) dropClosed(m *memoryMessage) {
	b.pending.Add(-1)
	b.logger.Warn("broker closed, dropping requeued message", "message_id", m.msg.MessageID)
	b.deadLetter(m)
}

func (b *MemoryBroker) deadLetter(m *memoryMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topo.DeadLetterExchange == "" {
		return
	}
	b.deadLetters = append(b.deadLetters, m.msg)
}

// Pending reports messages published or requeued and not yet settled.
func (b *MemoryBroker) Pending() int {
	return int(b.pending.Load())
}

// DeadLetters returns messages rejected without requeue while a dead-letter exchange is configured.
func (b *MemoryBroker) DeadLetters() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.deadLetters...)
}

// Close stops accepting publishes and drops later requeues. Buffered messages
// are discarded with the broker.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		close(b.done)
	}
	b.closed = true
	return nil
}

type memoryDelivery struct {
	broker  *MemoryBroker
	m       *memoryMessage
	settled atomic.Bool
}

var errAlreadySettled = errors.New("delivery already settled")

func (d *memoryDelivery) Body() []byte { return d.m.msg.Body }
func (d *memoryDelivery) MessageID() string { return d.m.msg.MessageID }
func (d *memoryDelivery) Redelivered() bool { return d.m.redelivered }

func (d *memoryDelivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return errAlreadySettled
	}
	d.broker.pending.Add(-1)
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	if !d.settled.CompareAndSwap(false, true) {
		return errAlreadySettled
	}
	if requeue {
		d.broker.requeue(d.m)
		return nil
	}
	d.broker.pending.Add(-1)
	d.broker.deadLetter(d.m)
	return nil
}
