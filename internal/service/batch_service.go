package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kursadbilgin/ticket-engine/internal/converter"
	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/observability"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
	"github.com/kursadbilgin/ticket-engine/internal/sheet"
	"go.uber.org/zap"
)

// BatchStatusView is the polling view of a batch.
type BatchStatusView struct {
	Batch              domain.Batch
	Pending            int
	ProgressPercentage float64
	IsComplete         bool
	Passengers         []domain.PassengerEntry
}

// SystemStatus reports whether uploads can be served.
type SystemStatus struct {
	ConverterAvailable bool
	ConverterLocation  string
	OutputDirExists    bool
	ManifestExists     bool
	TotalBatches       int
}

// manifestLocator is implemented by stores that keep a manifest file on disk.
type manifestLocator interface {
	ManifestPath() string
}

type BatchService struct {
	batches    repository.BatchRepository
	dispatcher Dispatcher
	converter  converter.Converter
	outputDir  string
	logger     *zap.Logger
}

func NewBatchService(
	batches repository.BatchRepository,
	dispatcher Dispatcher,
	conv converter.Converter,
	outputDir string,
	logger *zap.Logger,
) (*BatchService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if conv == nil {
		return nil, fmt.Errorf("converter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		batches:    batches,
		dispatcher: dispatcher,
		converter:  conv,
		outputDir:  outputDir,
		logger:     logger,
	}, nil
}

// Upload parses a workbook, persists a new batch with its passengers and records, and
// schedules processing. It returns once the batch is durable; generation happens later.
func (s *BatchService) Upload(ctx context.Context, filename string, r io.Reader) (*domain.Batch, error) {
	if err := sheet.CheckFilename(filename); err != nil {
		return nil, err
	}
	if !s.converter.Available() {
		return nil, fmt.Errorf("%w: install LibreOffice or configure a conversion service", domain.ErrConverterUnavailable)
	}

	records, err := sheet.Parse(r)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: workbook contains no passenger rows", domain.ErrValidation)
	}

	return s.submit(ctx, strings.TrimSpace(filename), records)
}

// Retry re-submits failed passengers of sourceID as a new batch. An empty refs list selects
// every failed passenger. The source batch is left as it is.
func (s *BatchService) Retry(ctx context.Context, sourceID string, refs []domain.PassengerRef) (*domain.Batch, error) {
	details, err := s.details(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	records, err := s.batches.Records(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	selected := selectFailed(details.Passengers, records, refs)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: batch %s has no matching failed passengers", domain.ErrValidation, sourceID)
	}
	if !s.converter.Available() {
		return nil, fmt.Errorf("%w: install LibreOffice or configure a conversion service", domain.ErrConverterUnavailable)
	}

	return s.submit(ctx, details.Batch.Filename, selected, repository.WithRetryOf(sourceID))
}

func (s *BatchService) submit(ctx context.Context, filename string, records []domain.TicketRecord, opts ...repository.CreateOption) (*domain.Batch, error) {
	logger := observability.WithContextLogger(s.logger, ctx)

	batch, err := s.batches.Create(ctx, filename, len(records), opts...)
	if err != nil {
		return nil, err
	}
	if err := s.batches.SaveRecords(ctx, batch.ID, records); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := s.batches.AddPassenger(ctx, batch.ID, rec.Descriptor()); err != nil {
			return nil, err
		}
	}

	if err := s.dispatcher.Dispatch(ctx, batch.ID); err != nil {
		logger.Error("batch stored but not scheduled",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Info("batch accepted",
		zap.String("batchId", batch.ID),
		zap.String("filename", filename),
		zap.Int("passengers", len(records)),
	)
	return batch, nil
}

func selectFailed(entries []domain.PassengerEntry, records []domain.TicketRecord, refs []domain.PassengerRef) []domain.TicketRecord {
	wanted := make(map[domain.PassengerRef]bool, len(refs))
	for _, ref := range refs {
		wanted[ref] = true
	}

	var selected []domain.TicketRecord
	for i, entry := range entries {
		if i >= len(records) || entry.Status != domain.PassengerStatusFailed {
			continue
		}
		if len(wanted) > 0 && !wanted[domain.PassengerRef{PaxName: entry.PaxName, PNR: entry.PNR}] {
			continue
		}
		selected = append(selected, records[i])
	}
	return selected
}

func (s *BatchService) Get(ctx context.Context, id string) (*domain.BatchDetails, error) {
	return s.details(ctx, id)
}

func (s *BatchService) List(ctx context.Context, page, limit int) (*repository.BatchPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", domain.ErrValidation)
	}
	if limit < 1 || limit > repository.MaxPageLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, repository.MaxPageLimit)
	}
	return s.batches.List(ctx, page, limit)
}

func (s *BatchService) Status(ctx context.Context, id string) (*BatchStatusView, error) {
	details, err := s.details(ctx, id)
	if err != nil {
		return nil, err
	}

	b := details.Batch
	return &BatchStatusView{
		Batch:              b,
		Pending:            b.Pending(),
		ProgressPercentage: b.ProgressPercentage(),
		IsComplete:         b.IsComplete(),
		Passengers:         details.Passengers,
	}, nil
}

func (s *BatchService) Delete(ctx context.Context, id string) error {
	if err := domain.ValidateBatchID(id); err != nil {
		return err
	}

	deleted, err := s.batches.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: batch %s", domain.ErrNotFound, id)
	}

	s.logger.Info("batch deleted", zap.String("batchId", id))
	return nil
}

func (s *BatchService) Stats(ctx context.Context) (domain.Statistics, error) {
	return s.batches.Statistics(ctx)
}

func (s *BatchService) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	stats, err := s.batches.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	status := &SystemStatus{
		ConverterAvailable: s.converter.Available(),
		OutputDirExists:    pathExists(s.outputDir),
		TotalBatches:       stats.TotalBatches,
	}
	if status.ConverterAvailable {
		status.ConverterLocation = s.converter.Location()
	}
	if locator, ok := s.batches.(manifestLocator); ok {
		status.ManifestExists = pathExists(locator.ManifestPath())
	}
	return status, nil
}

func (s *BatchService) details(ctx context.Context, id string) (*domain.BatchDetails, error) {
	details, err := s.batches.GetDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, id)
	}
	return details, nil
}

func pathExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
