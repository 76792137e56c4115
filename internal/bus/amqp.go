package bus

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// exchangeName is the single topic exchange every GL subject routes
// through; subjects map directly onto AMQP routing keys (e.g.
// "gl.events.entry.posted").
const exchangeName = "gl.events"

// AMQPBus is the production Bus backed by RabbitMQ.
type AMQPBus struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger

	mu     sync.Mutex
	queues map[string]string // subject -> bound queue name
}

// Dial connects to the broker and declares the shared topic exchange.
func Dial(url string, logger *zap.Logger) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("bus: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bus: declare exchange: %w", err)
	}
	return &AMQPBus{conn: conn, ch: ch, logger: logger, queues: make(map[string]string)}, nil
}

// Publish routes payload to subject via the shared topic exchange. The
// caller is responsible for at-most-once business effects on redelivery;
// the bus itself makes no exactly-once guarantee.
func (b *AMQPBus) Publish(ctx context.Context, subject string, payload []byte) error {
	err := b.ch.PublishWithContext(ctx, exchangeName, subject, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe declares a durable, non-exclusive queue bound to subject and
// returns a channel of decoded messages. Each delivery's Ack/Nack close
// over the underlying amqp091 delivery.
func (b *AMQPBus) Subscribe(ctx context.Context, subject string) (<-chan Message, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe channel: %w", err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: set qos: %w", err)
	}

	q, err := ch.QueueDeclare(queueNameFor(subject), true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: declare queue for %s: %w", subject, err)
	}
	if err := ch.QueueBind(q.Name, subject, exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: bind queue for %s: %w", subject, err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: consume %s: %w", subject, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				delivery := d
				msg := Message{
					Subject: delivery.RoutingKey,
					Body:    delivery.Body,
					Ack:     func() error { return delivery.Ack(false) },
					Nack:    func(requeue bool) error { return delivery.Nack(false, requeue) },
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *AMQPBus) Close() error {
	if err := b.ch.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}

// queueNameFor derives a stable durable queue name from a subject so
// consumer restarts rebind to the same queue instead of orphaning one.
func queueNameFor(subject string) string {
	return "gl." + subject + ".queue"
}
