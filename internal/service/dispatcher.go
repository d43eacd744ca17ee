package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kursadbilgin/ticket-engine/internal/observability"
	"github.com/kursadbilgin/ticket-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultMaxConcurrentBatches = 2

// ErrDispatcherClosed is returned by Dispatch after shutdown has begun.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher schedules a batch for background processing and returns immediately.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID string) error
}

// InProcessDispatcher runs batches on goroutines of this process. At most limit batches run
// at once and a batch that is already running is not started twice.
type InProcessDispatcher struct {
	processor BatchProcessor
	baseCtx   context.Context
	group     errgroup.Group
	pending   sync.WaitGroup
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
}

// NewInProcessDispatcher binds runs to baseCtx rather than to the request that dispatched
// them; cancelling baseCtx stops running batches between passengers.
func NewInProcessDispatcher(baseCtx context.Context, processor BatchProcessor, limit int, logger *zap.Logger) (*InProcessDispatcher, error) {
	if processor == nil {
		return nil, fmt.Errorf("batch processor is required")
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if limit < 1 {
		limit = defaultMaxConcurrentBatches
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &InProcessDispatcher{
		processor: processor,
		baseCtx:   baseCtx,
		logger:    logger,
		active:    make(map[string]struct{}),
	}
	d.group.SetLimit(limit)
	return d, nil
}

func (d *InProcessDispatcher) Dispatch(ctx context.Context, batchID string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	if _, running := d.active[batchID]; running {
		d.mu.Unlock()
		d.logger.Info("batch already scheduled", zap.String("batchId", batchID))
		return nil
	}
	d.active[batchID] = struct{}{}
	d.pending.Add(1)
	d.mu.Unlock()

	runCtx := d.baseCtx
	if requestID, ok := observability.RequestIDFromContext(ctx); ok {
		runCtx = observability.WithRequestID(runCtx, requestID)
	}

	// errgroup.Go blocks while the limit is reached; the caller must not.
	go func() {
		defer d.pending.Done()
		d.group.Go(func() error {
			defer d.release(batchID)
			if err := d.processor.Process(runCtx, batchID); err != nil {
				d.logger.Error("batch processing failed",
					zap.String("batchId", batchID),
					zap.Error(err),
				)
			}
			return nil
		})
	}()

	return nil
}

func (d *InProcessDispatcher) release(batchID string) {
	d.mu.Lock()
	delete(d.active, batchID)
	d.mu.Unlock()
}

// Wait refuses new work and blocks until every scheduled batch has returned.
func (d *InProcessDispatcher) Wait() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.pending.Wait()
	return d.group.Wait()
}

// QueueDispatcher hands batches to RabbitMQ; a Worker picks them up.
type QueueDispatcher struct {
	publisher queue.Publisher
	logger    *zap.Logger
}

func NewQueueDispatcher(publisher queue.Publisher, logger *zap.Logger) (*QueueDispatcher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueDispatcher{publisher: publisher, logger: logger}, nil
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, batchID string) error {
	msg := queue.BatchMessage{BatchID: batchID}
	if requestID, ok := observability.RequestIDFromContext(ctx); ok {
		msg.RequestID = requestID
	}

	if err := d.publisher.Publish(ctx, queue.BatchQueue, msg); err != nil {
		d.logger.Error("failed to publish batch",
			zap.String("batchId", batchID),
			zap.String("queue", queue.BatchQueue),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish batch %s: %w", batchID, err)
	}
	return nil
}
