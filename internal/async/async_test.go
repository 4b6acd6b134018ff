package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/pdftext/internal/common"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestJobMessageRoundTrip(t *testing.T) {
	id := uuid.New()
	msg, err := NewJobMessage(Job{DocumentID: id})
	if err != nil {
		t.Fatalf("NewJobMessage: %v", err)
	}
	if msg.MessageID != id.String() || msg.ContentType != "application/json" {
		t.Fatalf("unexpected message headers: %+v", msg)
	}
	if string(msg.Body) != `{"documentId":"`+id.String()+`"}` {
		t.Fatalf("unexpected body %s", msg.Body)
	}
	job, err := DecodeJob(msg.Body)
	if err != nil {
		t.Fatalf("DecodeJob: %v", err)
	}
	if job.DocumentID != id {
		t.Fatalf("got %s, want %s", job.DocumentID, id)
	}
}

func TestDecodeJobPoison(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `not json`},
		{"missing id", `{}`},
		{"empty id", `{"documentId":""}`},
		{"wrong type", `{"documentId":42}`},
		{"not a uuid", `{"documentId":"abc"}`},
		{"array", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJob([]byte(tt.body))
			if !errors.Is(err, common.ErrPoisonMessage) {
				t.Fatalf("expected poison error, got %v", err)
			}
		})
	}
}

func TestMemoryBroker_PublishConsumeAck(t *testing.T) {
	topo := DefaultTopology()
	b := NewMemoryBroker(topo, testLogger())
	if err := b.DeclareTopology(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.DeclareTopology(context.Background()); err != nil {
		t.Fatal("declare must be idempotent")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- b.Consume(ctx, topo.RoutingKey, func(ctx context.Context, d Delivery) {
			got.Add(1)
			_ = d.Ack()
		}, ConsumeOptions{Concurrency: 2})
	}()

	for i := 0; i < 5; i++ {
		msg, _ := NewJobMessage(Job{DocumentID: uuid.New()})
		if err := b.Publish(ctx, topo.RoutingKey, msg); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	waitFor(t, time.Second, func() bool { return got.Load() == 5 && b.Pending() == 0 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Consume: %v", err)
	}
}

func TestMemoryBroker_ConcurrencyCap(t *testing.T) {
	topo := DefaultTopology()
	b := NewMemoryBroker(topo, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const limit = 3
	var inFlight, maxSeen, handled atomic.Int32
	go func() {
		_ = b.Consume(ctx, topo.RoutingKey, func(ctx context.Context, d Delivery) {
			n := inFlight.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			handled.Add(1)
			_ = d.Ack()
		}, ConsumeOptions{Concurrency: limit})
	}()

	for i := 0; i < 20; i++ {
		msg, _ := NewJobMessage(Job{DocumentID: uuid.New()})
		if err := b.Publish(ctx, topo.RoutingKey, msg); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return handled.Load() == 20 })
	if maxSeen.Load() > limit {
		t.Fatalf("observed %d concurrent handlers, cap is %d", maxSeen.Load(), limit)
	}
}

func TestMemoryBroker_NackRequeueRedelivers(t *testing.T) {
	topo := DefaultTopology()
	b := NewMemoryBroker(topo, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var redelivered []bool
	go func() {
		_ = b.Consume(ctx, topo.RoutingKey, func(ctx context.Context, d Delivery) {
			mu.Lock()
			redelivered = append(redelivered, d.Redelivered())
			first := len(redelivered) == 1
			mu.Unlock()
			if first {
				_ = d.Nack(true)
				return
			}
			_ = d.Ack()
		}, ConsumeOptions{Concurrency: 1})
	}()

	msg, _ := NewJobMessage(Job{DocumentID: uuid.New()})
	if err := b.Publish(ctx, topo.RoutingKey, msg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return b.Pending() == 0 })

	mu.Lock()
	defer mu.Unlock()
	if len(redelivered) != 2 || redelivered[0] || !redelivered[1] {
		t.Fatalf("unexpected redelivery flags %v", redelivered)
	}
}

func TestMemoryBroker_NackWithoutRequeueDeadLetters(t *testing.T) {
	topo := DefaultTopology()
	topo.DeadLetterExchange = "pdftext.dlx"
	b := NewMemoryBroker(topo, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = b.Consume(ctx, topo.RoutingKey, func(ctx context.Context, d Delivery) {
			calls.Add(1)
			_ = d.Nack(false)
			if err := d.Ack(); err == nil {
				t.Error("second settle must fail")
			}
		}, ConsumeOptions{Concurrency: 1})
	}()

	if err := b.Publish(ctx, topo.RoutingKey, Message{MessageID: "x", Body: []byte("garbage")}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return len(b.DeadLetters()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("rejected message was redelivered: %d calls", calls.Load())
	}
}

func TestMemoryBroker_UnsettledDeliveryIsRequeued(t *testing.T) {
	topo := DefaultTopology()
	b := NewMemoryBroker(topo, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = b.Consume(ctx, topo.RoutingKey, func(ctx context.Context, d Delivery) {
			if calls.Add(1) == 2 {
				_ = d.Ack()
			}
		}, ConsumeOptions{Concurrency: 1})
	}()

	_ = b.Publish(ctx, topo.RoutingKey, Message{MessageID: "x", Body: []byte("{}")})
	waitFor(t, time.Second, func() bool { return calls.Load() == 2 && b.Pending() == 0 })
}

func TestMemoryBroker_RequeueAfterCloseIsDropped(t *testing.T) {
	topo := DefaultTopology()
	topo.DeadLetterExchange = "pdftext.dlx"
	b := NewMemoryBroker(topo, testLogger(), WithQueueSize(1))
	ctx := context.Background()

	publish := func(id string) {
		t.Helper()
		if err := b.Publish(ctx, topo.RoutingKey, Message{MessageID: id}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	publish("a")
	first := &memoryDelivery{broker: b, m: <-b.ch}
	publish("b")
	second := &memoryDelivery{broker: b, m: <-b.ch}
	publish("c")

	// Buffer full: the requeue waits in the background until Close releases it.
	if err := first.Nack(true); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, time.Second, func() bool { return b.Pending() == 2 })

	// Already closed: dropped without waiting.
	if err := second.Nack(true); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if got := b.Pending(); got != 1 {
		t.Fatalf("pending = %d, want only the buffered message", got)
	}
	if got := len(b.DeadLetters()); got != 2 {
		t.Fatalf("dead letters = %d, want 2", got)
	}
}

func TestMemoryBroker_BackpressureIsRetryable(t *testing.T) {
	topo := DefaultTopology()
	b := NewMemoryBroker(topo, testLogger(), WithQueueSize(1))
	ctx := context.Background()

	if err := b.Publish(ctx, topo.RoutingKey, Message{MessageID: "1"}); err != nil {
		t.Fatal(err)
	}
	err := b.Publish(ctx, topo.RoutingKey, Message{MessageID: "2"})
	if !common.IsRetryable(err) || !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected retryable queue-full error, got %v", err)
	}
}

func TestMemoryBroker_ConsumeUnknownRoutingKey(t *testing.T) {
	b := NewMemoryBroker(DefaultTopology(), testLogger())
	err := b.Consume(context.Background(), "other", func(context.Context, Delivery) {}, ConsumeOptions{})
	if err == nil {
		t.Fatal("expected error for unbound routing key")
	}
}

type flakyBroker struct {
	*MemoryBroker
	failures int
	err      error
	calls    int
}

func (f *flakyBroker) Publish(ctx context.Context, routingKey string, msg Message) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return f.MemoryBroker.Publish(ctx, routingKey, msg)
}

func TestJobPublisher_RetriesRetryableErrors(t *testing.T) {
	topo := DefaultTopology()
	fb := &flakyBroker{MemoryBroker: NewMemoryBroker(topo, testLogger()), failures: 2, err: common.Retryable(ErrBlocked)}
	p := NewJobPublisher(fb, topo.RoutingKey, testLogger(), WithMaxAttempts(3), WithBackoff(time.Millisecond, 2*time.Millisecond))

	if err := p.PublishExtract(context.Background(), uuid.New()); err != nil {
		t.Fatalf("PublishExtract: %v", err)
	}
	if fb.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fb.calls)
	}
	if fb.Pending() != 1 {
		t.Fatalf("expected exactly one enqueued message, got %d", fb.Pending())
	}
}

func TestJobPublisher_GivesUpRetryable(t *testing.T) {
	topo := DefaultTopology()
	fb := &flakyBroker{MemoryBroker: NewMemoryBroker(topo, testLogger()), failures: 10, err: common.Retryable(ErrPublishNacked)}
	p := NewJobPublisher(fb, topo.RoutingKey, testLogger(), WithMaxAttempts(2), WithBackoff(time.Millisecond, time.Millisecond))

	err := p.PublishExtract(context.Background(), uuid.New())
	if !common.IsRetryable(err) || !errors.Is(err, ErrPublishNacked) {
		t.Fatalf("expected retryable nack error, got %v", err)
	}
	if fb.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", fb.calls)
	}
}

func TestJobPublisher_NoRetryOnPermanentError(t *testing.T) {
	topo := DefaultTopology()
	fb := &flakyBroker{MemoryBroker: NewMemoryBroker(topo, testLogger()), failures: 10, err: errors.New("access refused")}
	p := NewJobPublisher(fb, topo.RoutingKey, testLogger(), WithMaxAttempts(5))

	if err := p.PublishExtract(context.Background(), uuid.New()); err == nil || common.IsRetryable(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if fb.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", fb.calls)
	}
}
