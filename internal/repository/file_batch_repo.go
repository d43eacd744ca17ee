package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	manifestFilename = "manifest.json"
	metadataFilename = "metadata.json"
	recordsFilename  = "records.json"
	batchesDirname   = "batches"
	manifestVersion  = "1.0"
)

type manifestFile struct {
	Batches     []domain.Batch `json:"batches"`
	LastUpdated time.Time      `json:"last_updated"`
	Version     string         `json:"version"`
}

func (m *manifestFile) find(id string) int {
	for i := range m.Batches {
		if m.Batches[i].ID == id {
			return i
		}
	}
	return -1
}

type metadataFile struct {
	BatchID    string                  `json:"batch_id"`
	SourceFile string                  `json:"source_file"`
	UploadDate time.Time               `json:"upload_date"`
	Passengers []domain.PassengerEntry `json:"passengers"`
}

// FileBatchRepo keeps the manifest and one metadata file per batch under root.
// Writes to a batch are serialized by a per-batch lock; manifest rewrites by manifestMu.
// Lock order is batch lock, then manifestMu.
type FileBatchRepo struct {
	root       string
	prefix     string
	logger     *zap.Logger
	now        func() time.Time
	manifestMu sync.Mutex
	batchLocks keyedMutex
}

func NewFileBatchRepo(root, prefix string, logger *zap.Logger) (*FileBatchRepo, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: output root is required", domain.ErrValidation)
	}
	if err := domain.ValidateBatchID(prefix); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Join(root, batchesDirname), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output root: %w", domain.ErrStorage, err)
	}

	return &FileBatchRepo{
		root:   root,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (r *FileBatchRepo) Root() string { return r.root }

func (r *FileBatchRepo) ManifestPath() string {
	return filepath.Join(r.root, manifestFilename)
}

func (r *FileBatchRepo) batchDir(id string) string {
	return filepath.Join(r.root, batchesDirname, id)
}

func (r *FileBatchRepo) Create(ctx context.Context, sourceFilename string, total int, opts ...CreateOption) (*domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: total passengers must not be negative", domain.ErrValidation)
	}
	o := applyCreateOptions(opts)

	r.manifestMu.Lock()
	defer r.manifestMu.Unlock()

	manifest, err := r.readManifest()
	if err != nil {
		return nil, err
	}

	ids, err := r.knownIDs(manifest)
	if err != nil {
		return nil, err
	}
	id := domain.NextBatchID(r.prefix, ids)
	dir := r.batchDir(id)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create batch directory: %w", domain.ErrStorage, err)
	}

	batch := domain.Batch{
		ID:              id,
		Filename:        sourceFilename,
		UploadDate:      r.now().UTC(),
		TotalPassengers: total,
		Status:          domain.BatchStatusPending,
		Dir:             dir,
		RetryOf:         o.retryOf,
	}

	meta := metadataFile{
		BatchID:    id,
		SourceFile: sourceFilename,
		UploadDate: batch.UploadDate,
		Passengers: []domain.PassengerEntry{},
	}
	if err := writeJSONAtomic(filepath.Join(dir, metadataFilename), meta); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	manifest.Batches = append(manifest.Batches, batch)
	if err := r.writeManifest(manifest); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	r.logger.Info("batch created",
		zap.String("batchId", id),
		zap.String("filename", sourceFilename),
		zap.Int("totalPassengers", total),
	)
	return &batch, nil
}

// knownIDs includes directory names so a leftover directory is never reused.
func (r *FileBatchRepo) knownIDs(manifest *manifestFile) ([]string, error) {
	ids := make([]string, 0, len(manifest.Batches))
	for i := range manifest.Batches {
		ids = append(ids, manifest.Batches[i].ID)
	}

	entries, err := os.ReadDir(filepath.Join(r.root, batchesDirname))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: scan batch directories: %w", domain.ErrStorage, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

func (r *FileBatchRepo) AddPassenger(ctx context.Context, batchID string, d domain.PassengerDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateBatchID(batchID); err != nil {
		return fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	unlock := r.batchLocks.Lock(batchID)
	defer unlock()

	meta, err := r.readMetadata(batchID)
	if err != nil {
		return err
	}
	meta.Passengers = append(meta.Passengers, domain.NewPassengerEntry(d))
	return writeJSONAtomic(filepath.Join(r.batchDir(batchID), metadataFilename), meta)
}

func (r *FileBatchRepo) SaveRecords(ctx context.Context, batchID string, records []domain.TicketRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateBatchID(batchID); err != nil {
		return fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	unlock := r.batchLocks.Lock(batchID)
	defer unlock()

	if _, err := r.readMetadata(batchID); err != nil {
		return err
	}
	if records == nil {
		records = []domain.TicketRecord{}
	}
	return writeJSONAtomic(filepath.Join(r.batchDir(batchID), recordsFilename), records)
}

func (r *FileBatchRepo) Records(ctx context.Context, batchID string) ([]domain.TicketRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := domain.ValidateBatchID(batchID); err != nil {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	unlock := r.batchLocks.Lock(batchID)
	defer unlock()

	if _, err := r.readMetadata(batchID); err != nil {
		return nil, err
	}

	var records []domain.TicketRecord
	if _, err := readJSON(filepath.Join(r.batchDir(batchID), recordsFilename), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *FileBatchRepo) UpdatePassengerStatus(ctx context.Context, batchID string, u domain.PassengerUpdate) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := u.Validate(); err != nil {
		return "", err
	}
	if err := domain.ValidateBatchID(batchID); err != nil {
		return "", fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	unlock := r.batchLocks.Lock(batchID)
	defer unlock()

	meta, err := r.readMetadata(batchID)
	if err != nil {
		return "", err
	}

	idx, result := applyPassengerUpdate(meta.Passengers, u, r.now().UTC())
	if idx < 0 {
		r.logger.Warn("passenger update dropped",
			zap.String("batchId", batchID),
			zap.String("paxName", u.PaxName),
			zap.String("pnr", u.PNR),
			zap.String("reason", string(result)),
		)
		return result, nil
	}

	if err := writeJSONAtomic(filepath.Join(r.batchDir(batchID), metadataFilename), meta); err != nil {
		return "", err
	}

	r.manifestMu.Lock()
	defer r.manifestMu.Unlock()

	manifest, err := r.readManifest()
	if err != nil {
		return "", err
	}
	pos := manifest.find(batchID)
	if pos < 0 {
		return "", fmt.Errorf("%w: batch %s missing from manifest", domain.ErrStorage, batchID)
	}
	recount(&manifest.Batches[pos], meta.Passengers)

	if err := r.writeManifest(manifest); err != nil {
		return "", err
	}
	return result, nil
}

func (r *FileBatchRepo) SetStatus(ctx context.Context, batchID string, status domain.BatchStatus) (*domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown batch status %q", domain.ErrValidation, status)
	}

	unlock := r.batchLocks.Lock(batchID)
	defer unlock()

	r.manifestMu.Lock()
	defer r.manifestMu.Unlock()

	manifest, err := r.readManifest()
	if err != nil {
		return nil, err
	}
	pos := manifest.find(batchID)
	if pos < 0 {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	batch := &manifest.Batches[pos]
	next := batch.Status.Advance(status)
	if next == batch.Status {
		out := *batch
		return &out, nil
	}
	batch.Status = next

	if err := r.writeManifest(manifest); err != nil {
		return nil, err
	}
	out := *batch
	return &out, nil
}

func (r *FileBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.manifestMu.Lock()
	defer r.manifestMu.Unlock()

	manifest, err := r.readManifest()
	if err != nil {
		return nil, err
	}
	pos := manifest.find(id)
	if pos < 0 {
		return nil, nil
	}
	batch := manifest.Batches[pos]
	return &batch, nil
}

func (r *FileBatchRepo) GetDetails(ctx context.Context, id string) (*domain.BatchDetails, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if domain.ValidateBatchID(id) != nil {
		return nil, nil
	}

	unlock := r.batchLocks.Lock(id)
	defer unlock()

	batch, err := r.GetByID(ctx, id)
	if err != nil || batch == nil {
		return nil, err
	}

	var meta metadataFile
	found, err := readJSON(filepath.Join(r.batchDir(id), metadataFilename), &meta)
	if err != nil {
		return nil, err
	}
	if !found || meta.Passengers == nil {
		meta.Passengers = []domain.PassengerEntry{}
	}

	return &domain.BatchDetails{Batch: *batch, Passengers: meta.Passengers}, nil
}

func (r *FileBatchRepo) List(ctx context.Context, page, limit int) (*BatchPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, limit = normalizePage(page, limit)

	r.manifestMu.Lock()
	manifest, err := r.readManifest()
	r.manifestMu.Unlock()
	if err != nil {
		return nil, err
	}

	batches := manifest.Batches
	sortNewestFirst(batches)

	total := len(batches)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	items := make([]domain.Batch, end-start)
	copy(items, batches[start:end])

	return &BatchPage{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages(total, limit),
	}, nil
}

func (r *FileBatchRepo) ListByStatus(ctx context.Context, statuses ...domain.BatchStatus) ([]domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.manifestMu.Lock()
	manifest, err := r.readManifest()
	r.manifestMu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Batch, 0)
	for _, b := range manifest.Batches {
		if slices.Contains(statuses, b.Status) {
			out = append(out, b)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Batch) int {
		return a.UploadDate.Compare(b.UploadDate)
	})
	return out, nil
}

func (r *FileBatchRepo) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := domain.ValidateBatchID(id); err != nil {
		return false, err
	}

	unlock := r.batchLocks.Lock(id)
	defer unlock()

	removed, err := r.removeFromManifest(id)
	if err != nil {
		return false, err
	}

	dir := r.batchDir(id)
	if _, statErr := os.Stat(dir); statErr == nil {
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("%w: remove batch directory: %w", domain.ErrStorage, err)
		}
		removed = true
	}

	if removed {
		r.logger.Info("batch deleted", zap.String("batchId", id))
	}
	return removed, nil
}

func (r *FileBatchRepo) removeFromManifest(id string) (bool, error) {
	r.manifestMu.Lock()
	defer r.manifestMu.Unlock()

	manifest, err := r.readManifest()
	if err != nil {
		return false, err
	}
	pos := manifest.find(id)
	if pos < 0 {
		return false, nil
	}
	manifest.Batches = slices.Delete(manifest.Batches, pos, pos+1)
	if err := r.writeManifest(manifest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *FileBatchRepo) Statistics(ctx context.Context) (domain.Statistics, error) {
	var stats domain.Statistics
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	r.manifestMu.Lock()
	manifest, err := r.readManifest()
	r.manifestMu.Unlock()
	if err != nil {
		return stats, err
	}

	for _, b := range manifest.Batches {
		stats.Add(b)
	}
	return stats, nil
}

func (r *FileBatchRepo) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(r.root)
	if err != nil {
		return fmt.Errorf("%w: output root: %w", domain.ErrStorage, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: output root %s is not a directory", domain.ErrStorage, r.root)
	}
	return nil
}

func (r *FileBatchRepo) readManifest() (*manifestFile, error) {
	manifest := &manifestFile{Version: manifestVersion}
	if _, err := readJSON(r.ManifestPath(), manifest); err != nil {
		return nil, err
	}
	if manifest.Batches == nil {
		manifest.Batches = []domain.Batch{}
	}
	return manifest, nil
}

func (r *FileBatchRepo) writeManifest(manifest *manifestFile) error {
	manifest.LastUpdated = r.now().UTC()
	manifest.Version = manifestVersion
	return writeJSONAtomic(r.ManifestPath(), manifest)
}

func (r *FileBatchRepo) readMetadata(batchID string) (*metadataFile, error) {
	var meta metadataFile
	found, err := readJSON(filepath.Join(r.batchDir(batchID), metadataFilename), &meta)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	if meta.Passengers == nil {
		meta.Passengers = []domain.PassengerEntry{}
	}
	return &meta, nil
}

func sortNewestFirst(batches []domain.Batch) {
	slices.SortStableFunc(batches, func(a, b domain.Batch) int {
		if c := b.UploadDate.Compare(a.UploadDate); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}
