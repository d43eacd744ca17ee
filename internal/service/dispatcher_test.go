package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/ticket-engine/internal/observability"
	"github.com/kursadbilgin/ticket-engine/internal/queue"
)

func TestInProcessDispatcherRespectsLimit(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	var mu sync.Mutex
	processed := map[string]int{}

	processor := &fakeProcessor{processFn: func(_ context.Context, batchID string) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)

		mu.Lock()
		processed[batchID]++
		mu.Unlock()
		return nil
	}}

	d, err := NewInProcessDispatcher(context.Background(), processor, 2, nil)
	if err != nil {
		t.Fatalf("NewInProcessDispatcher() error = %v", err)
	}

	for _, id := range []string{"TKT001", "TKT002", "TKT003", "TKT004", "TKT005"} {
		if err := d.Dispatch(context.Background(), id); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", id, err)
		}
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
	if len(processed) != 5 {
		t.Fatalf("processed = %v, want 5 batches", processed)
	}
}

func TestInProcessDispatcherSkipsRunningBatch(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	processor := &fakeProcessor{processFn: func(context.Context, string) error {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	}}

	d, err := NewInProcessDispatcher(context.Background(), processor, 2, nil)
	if err != nil {
		t.Fatalf("NewInProcessDispatcher() error = %v", err)
	}

	if err := d.Dispatch(context.Background(), "TKT001"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	<-started
	if err := d.Dispatch(context.Background(), "TKT001"); err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}
	close(release)

	if err := d.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("process calls = %d, want 1", got)
	}
}

func TestInProcessDispatcherDetachesFromRequest(t *testing.T) {
	t.Parallel()

	type seen struct {
		requestID string
		err       error
	}
	got := make(chan seen, 1)

	processor := &fakeProcessor{processFn: func(ctx context.Context, _ string) error {
		requestID, _ := observability.RequestIDFromContext(ctx)
		got <- seen{requestID: requestID, err: ctx.Err()}
		return errors.New("render backend down")
	}}

	d, err := NewInProcessDispatcher(context.Background(), processor, 1, nil)
	if err != nil {
		t.Fatalf("NewInProcessDispatcher() error = %v", err)
	}

	reqCtx, cancel := context.WithCancel(observability.WithRequestID(context.Background(), "req-42"))
	if err := d.Dispatch(reqCtx, "TKT001"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	cancel()

	s := <-got
	if s.requestID != "req-42" {
		t.Fatalf("request id = %q, want req-42", s.requestID)
	}
	if s.err != nil {
		t.Fatalf("run context error = %v, want live context", s.err)
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("Wait() error = %v, processing failures are logged only", err)
	}
}

func TestInProcessDispatcherClosed(t *testing.T) {
	t.Parallel()

	d, err := NewInProcessDispatcher(nil, &fakeProcessor{}, 0, nil)
	if err != nil {
		t.Fatalf("NewInProcessDispatcher() error = %v", err)
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := d.Dispatch(context.Background(), "TKT001"); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Dispatch() error = %v, want ErrDispatcherClosed", err)
	}

	if _, err := NewInProcessDispatcher(context.Background(), nil, 1, nil); err == nil {
		t.Fatal("NewInProcessDispatcher() without processor error = nil")
	}
}

func TestQueueDispatcher(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	d, err := NewQueueDispatcher(publisher, nil)
	if err != nil {
		t.Fatalf("NewQueueDispatcher() error = %v", err)
	}

	ctx := observability.WithRequestID(context.Background(), "req-7")
	if err := d.Dispatch(ctx, "TKT003"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("published = %d, want 1", len(publisher.published))
	}
	msg := publisher.published[0]
	if publisher.queues[0] != queue.BatchQueue || msg.BatchID != "TKT003" || msg.RequestID != "req-7" {
		t.Fatalf("published %s %+v", publisher.queues[0], msg)
	}

	publisher.publishFn = func(context.Context, string, queue.BatchMessage) error {
		return errors.New("channel closed")
	}
	if err := d.Dispatch(context.Background(), "TKT004"); err == nil {
		t.Fatal("Dispatch() error = nil, want publish failure")
	}
}
