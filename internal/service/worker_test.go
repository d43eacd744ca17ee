package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/observability"
	"github.com/kursadbilgin/ticket-engine/internal/queue"
)

func TestWorkerProcessMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		processErr error
		wantErr    bool
	}{
		{name: "processed"},
		{name: "missing batch is skipped", processErr: fmt.Errorf("%w: batch TKT009", domain.ErrNotFound)},
		{name: "store failure is returned", processErr: domain.ErrStorage, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotRequestID string
			processor := &fakeProcessor{processFn: func(ctx context.Context, batchID string) error {
				gotRequestID, _ = observability.RequestIDFromContext(ctx)
				if batchID != "TKT009" {
					t.Errorf("batchID = %s", batchID)
				}
				return tt.processErr
			}}

			w, err := NewWorker(&fakeConsumer{}, processor, 1, nil)
			if err != nil {
				t.Fatalf("NewWorker() error = %v", err)
			}

			err = w.processMessage(context.Background(), queue.BatchMessage{BatchID: "TKT009", RequestID: "req-9"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("processMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if gotRequestID != "req-9" {
				t.Fatalf("request id = %q, want req-9", gotRequestID)
			}
		})
	}
}

func TestWorkerProcessMessageDropsConcurrentDuplicate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	started := make(chan struct{})
	unblock := make(chan struct{})
	processor := &fakeProcessor{processFn: func(_ context.Context, batchID string) error {
		if calls.Add(1) == 1 {
			close(started)
			<-unblock
		}
		return nil
	}}

	w, err := NewWorker(&fakeConsumer{}, processor, 2, nil)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}

	msg := queue.BatchMessage{BatchID: "TKT011"}
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- w.processMessage(context.Background(), msg)
	}()
	<-started

	if err := w.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("duplicate processMessage() error = %v, want nil so it is acked", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("Process calls while running = %d, want 1", got)
	}

	close(unblock)
	if err := <-firstDone; err != nil {
		t.Fatalf("first processMessage() error = %v", err)
	}

	if err := w.processMessage(context.Background(), msg); err != nil {
		t.Fatalf("redelivery after finish error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("Process calls = %d, want 2 once the first run released the batch", got)
	}
}

func TestWorkerStartConsumesBatchQueue(t *testing.T) {
	t.Parallel()

	var processed []string
	processor := &fakeProcessor{processFn: func(_ context.Context, batchID string) error {
		processed = append(processed, batchID)
		return nil
	}}

	consumer := &fakeConsumer{consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
		if queueName != queue.BatchQueue {
			return fmt.Errorf("unexpected queue %s", queueName)
		}
		return handler(ctx, queue.BatchMessage{BatchID: "TKT001"})
	}}

	w, err := NewWorker(consumer, processor, 1, nil)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(processed) != 1 || processed[0] != "TKT001" {
		t.Fatalf("processed = %v", processed)
	}
}

func TestWorkerStartReturnsConsumerError(t *testing.T) {
	t.Parallel()

	consumer := &fakeConsumer{consumeFn: func(context.Context, string, queue.MessageHandler) error {
		return errors.New("connection lost")
	}}

	w, err := NewWorker(consumer, &fakeProcessor{}, 3, nil)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want consumer failure")
	}
}

func TestNewWorkerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWorker(nil, &fakeProcessor{}, 1, nil); err == nil {
		t.Fatal("NewWorker() without consumer error = nil")
	}
	if _, err := NewWorker(&fakeConsumer{}, nil, 1, nil); err == nil {
		t.Fatal("NewWorker() without processor error = nil")
	}

	w, err := NewWorker(&fakeConsumer{}, &fakeProcessor{}, 0, nil)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	if w.concurrency != minWorkerConcurrency {
		t.Fatalf("concurrency = %d, want %d", w.concurrency, minWorkerConcurrency)
	}
}
