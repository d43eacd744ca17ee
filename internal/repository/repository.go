package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
)

// UpdateResult reports what UpdatePassengerStatus did with an outcome.
type UpdateResult string

const (
	UpdateApplied         UpdateResult = "applied"
	UpdateUnmatched       UpdateResult = "unmatched"
	UpdateAlreadyTerminal UpdateResult = "already_terminal"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

type BatchPage struct {
	Items      []domain.Batch
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

type CreateOption func(*createOptions)

type createOptions struct {
	retryOf *string
}

// WithRetryOf marks the new batch as a re-submission of sourceID.
func WithRetryOf(sourceID string) CreateOption {
	return func(o *createOptions) {
		o.retryOf = &sourceID
	}
}

func applyCreateOptions(opts []CreateOption) createOptions {
	var o createOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// BatchRepository is the only writer of persisted batch state. Read paths return
// (nil, nil) for an unknown id; write paths that need the batch return domain.ErrNotFound.
type BatchRepository interface {
	Create(ctx context.Context, sourceFilename string, total int, opts ...CreateOption) (*domain.Batch, error)
	AddPassenger(ctx context.Context, batchID string, d domain.PassengerDescriptor) error
	SaveRecords(ctx context.Context, batchID string, records []domain.TicketRecord) error
	Records(ctx context.Context, batchID string) ([]domain.TicketRecord, error)
	UpdatePassengerStatus(ctx context.Context, batchID string, u domain.PassengerUpdate) (UpdateResult, error)
	SetStatus(ctx context.Context, batchID string, status domain.BatchStatus) (*domain.Batch, error)
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	GetDetails(ctx context.Context, id string) (*domain.BatchDetails, error)
	List(ctx context.Context, page, limit int) (*BatchPage, error)
	ListByStatus(ctx context.Context, statuses ...domain.BatchStatus) ([]domain.Batch, error)
	Delete(ctx context.Context, id string) (bool, error)
	Statistics(ctx context.Context) (domain.Statistics, error)
	Ping(ctx context.Context) error
}

func normalizePage(page, limit int) (int, int) {
	page = max(page, 1)
	if limit < 1 {
		limit = DefaultPageLimit
	}
	return page, min(limit, MaxPageLimit)
}

func totalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// applyPassengerUpdate writes u into the first entry matching (PaxName, PNR) that is still
// pending, scanning in insertion order. It returns the index it changed, or -1.
func applyPassengerUpdate(entries []domain.PassengerEntry, u domain.PassengerUpdate, now time.Time) (int, UpdateResult) {
	matched := false
	for i := range entries {
		if !entries[i].Matches(u.PaxName, u.PNR) {
			continue
		}
		matched = true
		if u.Apply(&entries[i], now) {
			return i, UpdateApplied
		}
	}
	if matched {
		return -1, UpdateAlreadyTerminal
	}
	return -1, UpdateUnmatched
}

// recount refreshes the batch counters from entries and derives the next status.
func recount(b *domain.Batch, entries []domain.PassengerEntry) {
	generated, failed, _ := domain.Tally(entries)
	b.Generated = generated
	b.Failed = failed
	b.Status = domain.DeriveStatus(b.Status, generated, failed, b.TotalPassengers-generated-failed)
}
