// Package bus defines the transport-agnostic event bus contract used by
// the outbox publisher and the idempotent consumer, grounded on the
// original event_bus crate's publish/subscribe shape and implemented over
// RabbitMQ via github.com/rabbitmq/amqp091-go.
package bus

import "context"

// Message is one delivered bus message. Ack/Nack let the consumer control
// redelivery; Subject carries the routing key the message was matched on.
type Message struct {
	Subject string
	Body    []byte
	Ack     func() error
	Nack    func(requeue bool) error
}

// Bus is the minimal publish/subscribe contract the GL engine depends on.
// Implementations: amqp091-go (production), in-memory (tests).
type Bus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Subscribe(ctx context.Context, subject string) (<-chan Message, error)
	Close() error
}
