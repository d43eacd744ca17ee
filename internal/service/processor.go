package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/ticket-engine/internal/converter"
	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/observability"
	"github.com/kursadbilgin/ticket-engine/internal/render"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	oneWayTemplate    = "ticket_template_oneway.pptx"
	roundTripTemplate = "ticket_template_roundtrip.pptx"
	workDirPrefix     = ".work-"
	unknownAgency     = "Unknown"
)

// TicketRenderer fills a document template for one ticket.
type TicketRenderer interface {
	Render(templatePath string, fields render.Fields, logoPath, dst string) error
}

// SerialAllocator hands out ticket serials scoped to agency and day.
type SerialAllocator interface {
	Next(ctx context.Context, agencyName string) (string, error)
}

// AgencyLookup is the part of the agency directory the processor reads.
type AgencyLookup interface {
	FindByName(ctx context.Context, name string) (*domain.Agency, error)
	LogoPath(ctx context.Context, id string) (string, error)
}

// BatchProcessor drives generation for one batch.
type BatchProcessor interface {
	Process(ctx context.Context, batchID string) error
}

// ProcessorConfig wires the collaborators of a Processor.
type ProcessorConfig struct {
	Batches       repository.BatchRepository
	Agencies      AgencyLookup
	Serials       SerialAllocator
	Renderer      TicketRenderer
	Converter     converter.Converter
	ConverterName string
	Airports      render.AirportLookup
	TemplateDir   string
}

// Processor renders and converts every pending passenger of a batch in input order and
// records each outcome. A failing passenger is recorded as failed and never stops the batch.
type Processor struct {
	batches       repository.BatchRepository
	agencies      AgencyLookup
	serials       SerialAllocator
	renderer      TicketRenderer
	converter     converter.Converter
	converterName string
	airports      render.AirportLookup
	templateDir   string
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewProcessor(cfg ProcessorConfig, logger *zap.Logger) (*Processor, error) {
	switch {
	case cfg.Batches == nil:
		return nil, fmt.Errorf("batch repository is required")
	case cfg.Agencies == nil:
		return nil, fmt.Errorf("agency lookup is required")
	case cfg.Serials == nil:
		return nil, fmt.Errorf("serial allocator is required")
	case cfg.Renderer == nil:
		return nil, fmt.Errorf("renderer is required")
	case cfg.Converter == nil:
		return nil, fmt.Errorf("converter is required")
	}
	if cfg.Airports == nil {
		cfg.Airports = render.DefaultAirports()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		batches:       cfg.Batches,
		agencies:      cfg.Agencies,
		serials:       cfg.Serials,
		renderer:      cfg.Renderer,
		converter:     cfg.Converter,
		converterName: cfg.ConverterName,
		airports:      cfg.Airports,
		templateDir:   cfg.TemplateDir,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (p *Processor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Process handles only entries that are still pending, so running it again for a batch
// that was interrupted never rewrites an outcome. Store failures abort the run; the batch
// is left in processing and can be resumed.
func (p *Processor) Process(ctx context.Context, batchID string) error {
	ctx = observability.WithBatchID(ctx, batchID)
	logger := observability.WithContextLogger(p.logger, ctx)

	details, err := p.batches.GetDetails(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if details == nil {
		return fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	records, err := p.batches.Records(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch records: %w", err)
	}
	if len(records) != len(details.Passengers) {
		logger.Warn("record count differs from passenger entries",
			zap.Int("records", len(records)),
			zap.Int("passengers", len(details.Passengers)),
		)
	}

	if _, err := p.batches.SetStatus(ctx, batchID, domain.BatchStatusProcessing); err != nil {
		return fmt.Errorf("mark batch processing: %w", err)
	}

	p.metrics.IncBatchInFlight()
	defer p.metrics.DecBatchInFlight()

	logger.Info("batch processing started",
		zap.Int("total", details.Batch.TotalPassengers),
		zap.Int("records", len(records)),
	)

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			logger.Info("batch processing interrupted", zap.Int("position", i))
			return err
		}
		if i < len(details.Passengers) && details.Passengers[i].Status.IsTerminal() {
			continue
		}

		if err := p.processRecord(ctx, logger, details.Batch, rec); err != nil {
			return err
		}
	}

	batch, err := p.batches.SetStatus(ctx, batchID, domain.BatchStatusCompleted)
	if err != nil {
		return fmt.Errorf("mark batch completed: %w", err)
	}
	p.metrics.IncBatchCompleted()

	logger.Info("batch processing completed",
		zap.Int("generated", batch.Generated),
		zap.Int("failed", batch.Failed),
	)
	return nil
}

func (p *Processor) processRecord(ctx context.Context, logger *zap.Logger, batch domain.Batch, rec domain.TicketRecord) error {
	update := domain.PassengerUpdate{PaxName: rec.PaxName, PNR: rec.PNR}

	pdfFilename, genErr := p.generate(ctx, batch, rec)
	if genErr != nil {
		update.Status = domain.PassengerStatusFailed
		update.Error = genErr.Error()
		p.metrics.IncTicketFailed(failureReason(genErr))
		logger.Warn("ticket generation failed",
			zap.String("paxName", rec.PaxName),
			zap.String("pnr", rec.PNR),
			zap.Error(genErr),
		)
	} else {
		update.Status = domain.PassengerStatusGenerated
		update.PDFFilename = pdfFilename
		p.metrics.IncTicketGenerated()
	}

	result, err := p.batches.UpdatePassengerStatus(ctx, batch.ID, update)
	if err != nil {
		return fmt.Errorf("record outcome for %s: %w", rec.PaxName, err)
	}
	if result != repository.UpdateApplied {
		p.metrics.IncPassengerUpdateDropped(string(result))
	}
	return nil
}

func (p *Processor) generate(ctx context.Context, batch domain.Batch, rec domain.TicketRecord) (string, error) {
	templatePath := p.templatePath(rec)
	if _, err := os.Stat(templatePath); err != nil {
		return "", fmt.Errorf("template not found: %s", filepath.Base(templatePath))
	}

	var agency *domain.Agency
	if name := strings.TrimSpace(rec.TravelAgency); name != "" {
		found, err := p.agencies.FindByName(ctx, name)
		if err != nil {
			return "", fmt.Errorf("agency lookup: %w", err)
		}
		agency = found
	}

	agencyName := strings.TrimSpace(rec.TravelAgency)
	if agency != nil {
		agencyName = agency.Name
	}
	if agencyName == "" {
		agencyName = unknownAgency
	}

	ticketNumber, err := p.serials.Next(ctx, agencyName)
	if err != nil {
		return "", err
	}

	var logoPath string
	if agency != nil && agency.HasLogo {
		logoPath, err = p.agencies.LogoPath(ctx, agency.ID)
		if err != nil {
			return "", fmt.Errorf("agency logo: %w", err)
		}
	}

	fields := render.BuildFields(render.TicketData{
		Record:       rec,
		Agency:       agency,
		TicketNumber: ticketNumber,
		Date:         p.now(),
	}, p.airports)

	workDir := filepath.Join(batch.Dir, workDirPrefix+uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create working dir: %w", domain.ErrStorage, err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.logger.Debug("working copy cleanup failed", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	documentPath := filepath.Join(workDir, fmt.Sprintf("%s_%s.pptx", ticketNumber, safeFilePart(rec.PaxName)))
	if err := p.renderer.Render(templatePath, fields, logoPath, documentPath); err != nil {
		return "", fmt.Errorf("render ticket: %w", err)
	}

	started := p.now()
	pdfPath, err := p.converter.Convert(ctx, documentPath, batch.Dir)
	p.metrics.ObserveConversionDuration(p.converterName, p.now().Sub(started))
	if err != nil {
		return "", err
	}

	return filepath.Base(pdfPath), nil
}

func (p *Processor) templatePath(rec domain.TicketRecord) string {
	if rec.IsRoundTrip() {
		return filepath.Join(p.templateDir, roundTripTemplate)
	}
	return filepath.Join(p.templateDir, oneWayTemplate)
}

// safeFilePart keeps a passenger name usable as a single path element.
func safeFilePart(name string) string {
	replaced := strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(name))
	if replaced == "" || replaced == "." || replaced == ".." {
		return "passenger"
	}
	return replaced
}

func failureReason(err error) string {
	var convErr *converter.ConversionError
	switch {
	case errors.As(err, &convErr):
		return convErr.Reason()
	case errors.Is(err, domain.ErrConverterUnavailable):
		return "converter_unavailable"
	case errors.Is(err, domain.ErrStorage):
		return "storage"
	}
	return "render"
}
