package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "ticket.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	dialTimeout      = 15 * time.Second

	// Dead-lettered batches stay inspectable for a week.
	deadLetterTTL = 7 * 24 * time.Hour
)

// nextBackoff doubles d up to maxBackoff.
func nextBackoff(d time.Duration) time.Duration {
	if d <= 0 {
		return reconnectBackoff
	}
	return min(d*2, maxBackoff)
}

// queueSpec describes one durable queue of the topology.
type queueSpec struct {
	name string
	args amqp.Table
}

// topology returns the dead-letter queues first so the work queues can point at them.
func topology() []queueSpec {
	work := WorkQueueNames()
	specs := make([]queueSpec, 0, 2*len(work))
	for _, name := range work {
		specs = append(specs, queueSpec{
			name: DLQName(name),
			args: amqp.Table{"x-message-ttl": deadLetterTTL.Milliseconds()},
		})
	}
	for _, name := range work {
		specs = append(specs, queueSpec{
			name: name,
			args: amqp.Table{
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": name,
			},
		})
	}
	return specs
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, spec := range topology() {
		if _, err := ch.QueueDeclare(spec.name, true, false, false, false, spec.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", spec.name, err)
		}
	}
	for _, name := range WorkQueueNames() {
		if err := ch.QueueBind(DLQName(name), name, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq for %q: %w", name, err)
		}
	}
	return nil
}

// RabbitMQ owns the broker connection. The topology is declared once per connection, right
// after it is dialed.
type RabbitMQ struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Ping checks that the connection is up and the batch queue exists on the broker.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if _, err := ch.QueueDeclarePassive(BatchQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("batch queue unavailable: %w", err)
	}
	return nil
}

// channel opens a channel, redialing once if the connection dropped in between.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	for attempt := 0; ; attempt++ {
		conn, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err == nil {
			return ch, nil
		}
		if attempt > 0 {
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
		r.drop(conn)
	}
}

// connection returns the live connection, dialing with backoff until ctx ends.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	wait := reconnectBackoff
	for {
		conn, err := r.dial()
		if err == nil {
			r.conn = conn
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq connect canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (r *RabbitMQ) dial() (*amqp.Connection, error) {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck

	if err := declareTopology(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// drop forgets conn if it is still the current connection.
func (r *RabbitMQ) drop(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	_ = conn.Close()
}
