package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
	"go.uber.org/zap"
)

// Resumer re-dispatches batches a previous process left unfinished.
type Resumer struct {
	batches    repository.BatchRepository
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewResumer(batches repository.BatchRepository, dispatcher Dispatcher, logger *zap.Logger) (*Resumer, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resumer{
		batches:    batches,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Resume dispatches every pending or processing batch and reports how many were handed
// off. A dispatch failure is logged and the scan moves on.
func (r *Resumer) Resume(ctx context.Context) (int, error) {
	unfinished, err := r.batches.ListByStatus(ctx, domain.BatchStatusPending, domain.BatchStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unfinished batches: %w", err)
	}

	resumed := 0
	for i := range unfinished {
		batch := unfinished[i]
		if err := r.dispatcher.Dispatch(ctx, batch.ID); err != nil {
			r.logger.Error("failed to resume batch",
				zap.String("batchId", batch.ID),
				zap.Error(err),
			)
			continue
		}
		resumed++
		r.logger.Info("batch resumed",
			zap.String("batchId", batch.ID),
			zap.String("status", batch.Status.String()),
			zap.Int("pending", batch.Pending()),
		)
	}

	return resumed, nil
}
