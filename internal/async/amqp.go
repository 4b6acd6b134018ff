package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/joseph-ayodele/pdftext/internal/common"
)

var (
	// ErrBlocked is returned while the broker has blocked publishers (resource alarm).
	ErrBlocked = errors.New("broker connection blocked")
	// ErrPublishNacked is returned when the broker refuses a confirmed publish.
	ErrPublishNacked = errors.New("broker nacked publish")
)

// AMQPBroker is a RabbitMQ Broker. It owns its connection; Close releases it.
type AMQPBroker struct {
	conn   *amqp.Connection
	topo   Topology
	logger *slog.Logger

	blocked atomic.Bool

	mu    sync.Mutex
	pubCh *amqp.Channel
}

// DialAMQP connects to url and starts watching for connection.blocked notifications.
func DialAMQP(url string, topo Topology, logger *slog.Logger) (*AMQPBroker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName("pdftext")
	conn, err := amqp.DialConfig(url, amqp.Config{Properties: props})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	b := &AMQPBroker{conn: conn, topo: topo, logger: logger}
	blockings := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	go func() {
		for blk := range blockings {
			b.blocked.Store(blk.Active)
			if blk.Active {
				logger.Warn("broker blocked publishers", "reason", blk.Reason)
			} else {
				logger.Info("broker unblocked publishers")
			}
		}
	}()
	return b, nil
}

func (b *AMQPBroker) DeclareTopology(_ context.Context) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(b.topo.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.topo.Exchange, err)
	}

	var args amqp.Table
	if dlx := b.topo.DeadLetterExchange; dlx != "" {
		if err := ch.ExchangeDeclare(dlx, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead-letter exchange %s: %w", dlx, err)
		}
		dlq := b.topo.Queue + ".dead"
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead-letter queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, "", dlx, false, nil); err != nil {
			return fmt.Errorf("bind dead-letter queue %s: %w", dlq, err)
		}
		args = amqp.Table{"x-dead-letter-exchange": dlx}
	}

	if _, err := ch.QueueDeclare(b.topo.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", b.topo.Queue, err)
	}
	if err := ch.QueueBind(b.topo.Queue, b.topo.RoutingKey, b.topo.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", b.topo.Queue, err)
	}
	b.logger.Info("declared topology",
		"exchange", b.topo.Exchange,
		"queue", b.topo.Queue,
		"routing_key", b.topo.RoutingKey,
		"dead_letter_exchange", b.topo.DeadLetterExchange,
	)
	return nil
}

// publishChannel returns the confirm-mode publishing channel, reopening it after a channel error.
func (b *AMQPBroker) publishChannel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	b.pubCh = ch
	return ch, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, routingKey string, msg Message) error {
	if b.blocked.Load() {
		return common.Retryable(ErrBlocked)
	}
	ch, err := b.publishChannel()
	if err != nil {
		return common.Retryable(fmt.Errorf("publish channel: %w", err))
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, b.topo.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    msg.Timestamp,
		Body:         msg.Body,
	})
	if err != nil {
		return common.Retryable(fmt.Errorf("publish: %w", err))
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return common.Retryable(fmt.Errorf("await confirm: %w", err))
	}
	if !ok {
		return common.Retryable(ErrPublishNacked)
	}
	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context, routingKey string, h Handler, opts ConsumeOptions) error {
	if routingKey != b.topo.RoutingKey {
		return fmt.Errorf("no queue bound to routing key %q", routingKey)
	}
	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	const consumerTag = "pdftext-worker"
	deliveries, err := ch.Consume(b.topo.Queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", b.topo.Queue, err)
	}
	b.logger.Info("consuming", "queue", b.topo.Queue, "concurrency", workers)

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				if ctx.Err() != nil {
					// Prefetched but not started: hand it back for another consumer.
					_ = d.Nack(false, true)
					continue
				}
				h(ctx, &amqpDelivery{d: d})
			}
			b.logger.Debug("consumer worker stopped", "worker_id", workerID)
		}(i + 1)
	}

	var consumeErr error
	select {
	case <-ctx.Done():
		if err := ch.Cancel(consumerTag, false); err != nil {
			b.logger.Warn("cancel consumer failed", "error", err)
		}
	case amqpErr := <-closed:
		if amqpErr != nil {
			consumeErr = fmt.Errorf("consumer channel closed: %w", amqpErr)
		} else {
			consumeErr = errors.New("consumer channel closed")
		}
	}
	wg.Wait()
	b.logger.Info("consumer stopped", "queue", b.topo.Queue)
	return consumeErr
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	if b.pubCh != nil {
		_ = b.pubCh.Close()
		b.pubCh = nil
	}
	b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) Body() []byte { return a.d.Body }
func (a *amqpDelivery) MessageID() string { return a.d.MessageId }
func (a *amqpDelivery) Redelivered() bool { return a.d.Redelivered }
func (a *amqpDelivery) Ack() error { return a.d.Ack(false) }
func (a *amqpDelivery) Nack(requeue bool) error { return a.d.Nack(false, requeue) }
