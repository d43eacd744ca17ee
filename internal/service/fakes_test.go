package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/queue"
	"github.com/kursadbilgin/ticket-engine/internal/render"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
)

type renderCall struct {
	templatePath string
	fields       render.Fields
	logoPath     string
	dst          string
}

type fakeRenderer struct {
	mu       sync.Mutex
	calls    []renderCall
	renderFn func(templatePath string, fields render.Fields, logoPath, dst string) error
}

func (r *fakeRenderer) Render(templatePath string, fields render.Fields, logoPath, dst string) error {
	r.mu.Lock()
	r.calls = append(r.calls, renderCall{templatePath: templatePath, fields: fields, logoPath: logoPath, dst: dst})
	r.mu.Unlock()

	if r.renderFn != nil {
		if err := r.renderFn(templatePath, fields, logoPath, dst); err != nil {
			return err
		}
	}
	return os.WriteFile(dst, []byte("pptx:"+fields["{{PAX_name}}"]), 0o644)
}

func (r *fakeRenderer) Calls() []renderCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]renderCall(nil), r.calls...)
}

type fakeConverter struct {
	unavailable bool
	convertFn   func(ctx context.Context, inputPath, outputDir string) (string, error)
}

func (c *fakeConverter) Convert(ctx context.Context, inputPath, outputDir string) (string, error) {
	if c.convertFn != nil {
		return c.convertFn(ctx, inputPath, outputDir)
	}
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	out := filepath.Join(outputDir, stem+".pdf")
	if err := os.WriteFile(out, []byte("%PDF-1.4"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func (c *fakeConverter) Available() bool { return !c.unavailable }

func (c *fakeConverter) Location() string {
	if c.unavailable {
		return ""
	}
	return "/usr/bin/soffice"
}

type fakeSerials struct {
	mu     sync.Mutex
	names  []string
	nextFn func(ctx context.Context, agencyName string) (string, error)
}

func (s *fakeSerials) Next(ctx context.Context, agencyName string) (string, error) {
	s.mu.Lock()
	s.names = append(s.names, agencyName)
	n := len(s.names)
	s.mu.Unlock()

	if s.nextFn != nil {
		return s.nextFn(ctx, agencyName)
	}
	return fmt.Sprintf("ATK261102%02d", n), nil
}

func (s *fakeSerials) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

type fakeAgencies struct {
	findByNameFn func(ctx context.Context, name string) (*domain.Agency, error)
	logoPathFn   func(ctx context.Context, id string) (string, error)
}

func (a *fakeAgencies) FindByName(ctx context.Context, name string) (*domain.Agency, error) {
	if a.findByNameFn != nil {
		return a.findByNameFn(ctx, name)
	}
	return nil, nil
}

func (a *fakeAgencies) LogoPath(ctx context.Context, id string) (string, error) {
	if a.logoPathFn != nil {
		return a.logoPathFn(ctx, id)
	}
	return "", nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	dispatchFn func(ctx context.Context, batchID string) error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, batchID string) error {
	if d.dispatchFn != nil {
		if err := d.dispatchFn(ctx, batchID); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.dispatched = append(d.dispatched, batchID)
	d.mu.Unlock()
	return nil
}

func (d *fakeDispatcher) Dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dispatched...)
}

type fakeProcessor struct {
	processFn func(ctx context.Context, batchID string) error
}

func (p *fakeProcessor) Process(ctx context.Context, batchID string) error {
	if p.processFn != nil {
		return p.processFn(ctx, batchID)
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.BatchMessage
	queues    []string
	publishFn func(ctx context.Context, queueName string, msg queue.BatchMessage) error
}

func (p *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.BatchMessage) error {
	if p.publishFn != nil {
		if err := p.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.published = append(p.published, msg)
	p.queues = append(p.queues, queueName)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (c *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if c.consumeFn != nil {
		return c.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (c *fakeConsumer) Close() error { return nil }

// flakyBatchRepo overrides single operations of a real repository.
type flakyBatchRepo struct {
	repository.BatchRepository
	updatePassengerStatusFn func(ctx context.Context, batchID string, u domain.PassengerUpdate) (repository.UpdateResult, error)
	listByStatusFn          func(ctx context.Context, statuses ...domain.BatchStatus) ([]domain.Batch, error)
}

func (r *flakyBatchRepo) UpdatePassengerStatus(ctx context.Context, batchID string, u domain.PassengerUpdate) (repository.UpdateResult, error) {
	if r.updatePassengerStatusFn != nil {
		return r.updatePassengerStatusFn(ctx, batchID, u)
	}
	return r.BatchRepository.UpdatePassengerStatus(ctx, batchID, u)
}

func (r *flakyBatchRepo) ListByStatus(ctx context.Context, statuses ...domain.BatchStatus) ([]domain.Batch, error) {
	if r.listByStatusFn != nil {
		return r.listByStatusFn(ctx, statuses...)
	}
	return r.BatchRepository.ListByStatus(ctx, statuses...)
}

func newTestBatchRepo(t *testing.T) *repository.FileBatchRepo {
	t.Helper()

	repo, err := repository.NewFileBatchRepo(t.TempDir(), "TKT", nil)
	if err != nil {
		t.Fatalf("NewFileBatchRepo() error = %v", err)
	}
	return repo
}

// seedBatch stores a batch the way the upload path does, without dispatching it.
func seedBatch(t *testing.T, repo repository.BatchRepository, filename string, records ...domain.TicketRecord) *domain.Batch {
	t.Helper()

	ctx := context.Background()
	batch, err := repo.Create(ctx, filename, len(records))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.SaveRecords(ctx, batch.ID, records); err != nil {
		t.Fatalf("SaveRecords() error = %v", err)
	}
	for _, rec := range records {
		if err := repo.AddPassenger(ctx, batch.ID, rec.Descriptor()); err != nil {
			t.Fatalf("AddPassenger() error = %v", err)
		}
	}
	return batch
}

func oneWayRecord(no, paxName, pnr string) domain.TicketRecord {
	return domain.TicketRecord{
		No:           no,
		Confirmation: "OK",
		TicketType:   "ADT",
		PaxName:      paxName,
		PNR:          pnr,
		TravelAgency: "Sky Travel",
		Outbound: domain.FlightLeg{
			Departure:     "ICN",
			DepartureDate: "2026-11-02",
			DepartureTime: "09:10",
			Arrival:       "DAC",
			ArrivalDate:   "2026-11-02",
			ArrivalTime:   "13:40",
		},
	}
}

func roundTripRecord(no, paxName, pnr string) domain.TicketRecord {
	rec := oneWayRecord(no, paxName, pnr)
	rec.Return = domain.FlightLeg{
		Departure:     "DAC",
		DepartureDate: "2026-11-20",
		DepartureTime: "15:00",
		Arrival:       "ICN",
		ArrivalDate:   "2026-11-21",
		ArrivalTime:   "06:30",
	}
	return rec
}

func mustDetails(t *testing.T, repo repository.BatchRepository, id string) *domain.BatchDetails {
	t.Helper()

	details, err := repo.GetDetails(context.Background(), id)
	if err != nil {
		t.Fatalf("GetDetails() error = %v", err)
	}
	if details == nil {
		t.Fatalf("GetDetails(%s) = nil", id)
	}
	return details
}
