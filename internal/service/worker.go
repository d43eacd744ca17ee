package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/observability"
	"github.com/kursadbilgin/ticket-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// Worker consumes batch messages and runs the processor for each. A batch is owned by at
// most one delivery at a time; a second delivery for a running batch is acked and dropped.
type Worker struct {
	consumer    queue.Consumer
	processor   BatchProcessor
	logger      *zap.Logger
	concurrency int

	mu     sync.Mutex
	active map[string]struct{}
}

func NewWorker(consumer queue.Consumer, processor BatchProcessor, concurrency int, logger *zap.Logger) (*Worker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("batch processor is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		consumer:    consumer,
		processor:   processor,
		logger:      logger,
		concurrency: concurrency,
		active:      make(map[string]struct{}),
	}, nil
}

// Start consumes the batch queue until context cancellation.
func (w *Worker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.BatchQueue),
			)

			if err := w.consumer.Consume(groupCtx, queue.BatchQueue, w.processMessage); err != nil {
				w.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *Worker) processMessage(ctx context.Context, msg queue.BatchMessage) error {
	if msg.RequestID != "" {
		ctx = observability.WithRequestID(ctx, msg.RequestID)
	}

	if !w.claim(msg.BatchID) {
		w.logger.Info("batch already running, dropping duplicate delivery", zap.String("batchId", msg.BatchID))
		return nil
	}
	defer w.release(msg.BatchID)

	err := w.processor.Process(ctx, msg.BatchID)
	if errors.Is(err, domain.ErrNotFound) {
		w.logger.Warn("batch not found, skipping", zap.String("batchId", msg.BatchID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("process batch %s: %w", msg.BatchID, err)
	}
	return nil
}

func (w *Worker) claim(batchID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, running := w.active[batchID]; running {
		return false
	}
	w.active[batchID] = struct{}{}
	return true
}

func (w *Worker) release(batchID string) {
	w.mu.Lock()
	delete(w.active, batchID)
	w.mu.Unlock()
}
