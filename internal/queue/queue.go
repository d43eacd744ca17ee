package queue

import (
	"context"
	"fmt"
)

// Publisher publishes batch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg BatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg BatchMessage) error

// Consumer consumes batch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// BatchQueue carries one message per batch that should be processed.
const BatchQueue = "ticket.batches"

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.ticket.batches.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns every work queue the topology declares.
func WorkQueueNames() []string {
	return []string{BatchQueue}
}
