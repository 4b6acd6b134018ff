package async

import (
	"context"
	"time"
)

// Topology names the exchange, queue and binding extraction jobs travel through.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
	// DeadLetterExchange, when set, receives messages rejected without requeue.
	DeadLetterExchange string
}

// DefaultTopology matches the deployed broker layout.
func DefaultTopology() Topology {
	return Topology{Exchange: "pdftext", Queue: "pdftext.extract", RoutingKey: "extract_text"}
}

// Message is an outbound job message.
type Message struct {
	MessageID   string
	ContentType string
	Body        []byte
	Timestamp   time.Time
}

// Delivery is one received message. Exactly one of Ack or Nack settles it.
type Delivery interface {
	Body() []byte
	MessageID() string
	Redelivered() bool
	Ack() error
	// Nack rejects the message; requeue=false drops it or routes it to the dead-letter exchange.
	Nack(requeue bool) error
}

// Handler processes one delivery and settles it.
type Handler func(ctx context.Context, d Delivery)

type ConsumeOptions struct {
	// Concurrency caps unacknowledged deliveries held by this consumer.
	Concurrency int
}

// Broker is a durable, at-least-once job queue.
type Broker interface {
	// DeclareTopology creates the exchange, queue and binding. Safe to repeat.
	DeclareTopology(ctx context.Context) error
	// Publish reports whether the broker accepted the message. Backpressure
	// surfaces as an error matching common.ErrRetryable.
	Publish(ctx context.Context, routingKey string, msg Message) error
	// Consume runs h for deliveries bound to routingKey until ctx is done, then
	// waits for in-flight handlers to return.
	Consume(ctx context.Context, routingKey string, h Handler, opts ConsumeOptions) error
	Close() error
}
