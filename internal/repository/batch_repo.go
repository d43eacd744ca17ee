package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBatchRepo keeps batch state in Postgres and artifacts under root/batches/<id>.
// Every mutation of a batch runs in a transaction holding the batch row lock.
type GormBatchRepo struct {
	db     *gorm.DB
	root   string
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

func NewGormBatchRepo(db *gorm.DB, root, prefix string, logger *zap.Logger) (*GormBatchRepo, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database handle is required", domain.ErrValidation)
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

	return &GormBatchRepo{
		db:     db,
		root:   root,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (r *GormBatchRepo) Create(ctx context.Context, sourceFilename string, total int, opts ...CreateOption) (*domain.Batch, error) {
	if total < 0 {
		return nil, fmt.Errorf("%w: total passengers must not be negative", domain.ErrValidation)
	}
	o := applyCreateOptions(opts)

	var created *domain.Batch
	var dir string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Id allocation scans existing ids, so concurrent creators must not interleave.
		if err := tx.Exec("LOCK TABLE ticket_batches IN SHARE ROW EXCLUSIVE MODE").Error; err != nil {
			return err
		}

		var ids []string
		if err := tx.Model(&BatchModel{}).Pluck("id", &ids).Error; err != nil {
			return err
		}

		id := domain.NextBatchID(r.prefix, ids)
		dir = filepath.Join(r.root, batchesDirname, id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create batch directory: %w", domain.ErrStorage, err)
		}

		batch := &domain.Batch{
			ID:              id,
			Filename:        sourceFilename,
			UploadDate:      r.now().UTC(),
			TotalPassengers: total,
			Status:          domain.BatchStatusPending,
			Dir:             dir,
			RetryOf:         o.retryOf,
		}
		if err := tx.Create(batchModelFromDomain(batch)).Error; err != nil {
			return err
		}
		created = batch
		return nil
	})
	if err != nil {
		if dir != "" {
			os.RemoveAll(dir)
		}
		return nil, storageErr("create batch", err)
	}

	r.logger.Info("batch created",
		zap.String("batchId", created.ID),
		zap.String("filename", sourceFilename),
		zap.Int("totalPassengers", total),
	)
	return created, nil
}

func (r *GormBatchRepo) AddPassenger(ctx context.Context, batchID string, d domain.PassengerDescriptor) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockBatch(tx, batchID); err != nil {
			return err
		}

		var position int64
		if err := tx.Model(&PassengerEntryModel{}).Where("batch_id = ?", batchID).Count(&position).Error; err != nil {
			return err
		}

		entry := domain.NewPassengerEntry(d)
		return tx.Create(passengerModelFromDomain(batchID, int(position), &entry)).Error
	})
	return storageErr("add passenger", err)
}

func (r *GormBatchRepo) SaveRecords(ctx context.Context, batchID string, records []domain.TicketRecord) error {
	if records == nil {
		records = []domain.TicketRecord{}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockBatch(tx, batchID); err != nil {
			return err
		}

		model := &BatchRecordsModel{BatchID: batchID, Records: records, CreatedAt: r.now().UTC()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "batch_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"records"}),
		}).Create(model).Error
	})
	return storageErr("save records", err)
}

func (r *GormBatchRepo) Records(ctx context.Context, batchID string) ([]domain.TicketRecord, error) {
	db := r.db.WithContext(ctx)

	var count int64
	if err := db.Model(&BatchModel{}).Where("id = ?", batchID).Count(&count).Error; err != nil {
		return nil, storageErr("load records", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	var model BatchRecordsModel
	err := db.First(&model, "batch_id = ?", batchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("load records", err)
	}
	return model.Records, nil
}

func (r *GormBatchRepo) UpdatePassengerStatus(ctx context.Context, batchID string, u domain.PassengerUpdate) (UpdateResult, error) {
	if err := u.Validate(); err != nil {
		return "", err
	}

	var result UpdateResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batchModel, err := lockBatch(tx, batchID)
		if err != nil {
			return err
		}

		var models []PassengerEntryModel
		if err := tx.Where("batch_id = ?", batchID).Order("position ASC").Find(&models).Error; err != nil {
			return err
		}
		entries := make([]domain.PassengerEntry, len(models))
		for i := range models {
			entries[i] = passengerModelToDomain(&models[i])
		}

		var idx int
		idx, result = applyPassengerUpdate(entries, u, r.now().UTC())
		if idx < 0 {
			return nil
		}

		changed := entries[idx]
		if err := tx.Model(&PassengerEntryModel{}).
			Where("id = ?", models[idx].ID).
			Updates(map[string]any{
				"status":       changed.Status,
				"pdf_filename": changed.PDFFilename,
				"generated_at": changed.GeneratedAt,
				"error":        changed.Error,
			}).Error; err != nil {
			return err
		}

		batch := batchModelToDomain(batchModel)
		recount(batch, entries)
		return tx.Model(&BatchModel{}).
			Where("id = ?", batchID).
			Updates(map[string]any{
				"generated": batch.Generated,
				"failed":    batch.Failed,
				"status":    batch.Status,
			}).Error
	})
	if err != nil {
		return "", storageErr("update passenger status", err)
	}

	if result != UpdateApplied {
		r.logger.Warn("passenger update dropped",
			zap.String("batchId", batchID),
			zap.String("paxName", u.PaxName),
			zap.String("pnr", u.PNR),
			zap.String("reason", string(result)),
		)
	}
	return result, nil
}

func (r *GormBatchRepo) SetStatus(ctx context.Context, batchID string, status domain.BatchStatus) (*domain.Batch, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown batch status %q", domain.ErrValidation, status)
	}

	var out *domain.Batch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockBatch(tx, batchID)
		if err != nil {
			return err
		}

		next := model.Status.Advance(status)
		if next != model.Status {
			if err := tx.Model(&BatchModel{}).Where("id = ?", batchID).Update("status", next).Error; err != nil {
				return err
			}
			model.Status = next
		}
		out = batchModelToDomain(model)
		return nil
	})
	if err != nil {
		return nil, storageErr("set batch status", err)
	}
	return out, nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get batch", err)
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) GetDetails(ctx context.Context, id string) (*domain.BatchDetails, error) {
	var details *domain.BatchDetails
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model BatchModel
		err := tx.First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var models []PassengerEntryModel
		if err := tx.Where("batch_id = ?", id).Order("position ASC").Find(&models).Error; err != nil {
			return err
		}

		passengers := make([]domain.PassengerEntry, 0, len(models))
		for i := range models {
			passengers = append(passengers, passengerModelToDomain(&models[i]))
		}
		details = &domain.BatchDetails{Batch: *batchModelToDomain(&model), Passengers: passengers}
		return nil
	}, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, storageErr("get batch details", err)
	}
	return details, nil
}

func (r *GormBatchRepo) List(ctx context.Context, page, limit int) (*BatchPage, error) {
	page, limit = normalizePage(page, limit)
	query := r.db.WithContext(ctx).Model(&BatchModel{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, storageErr("count batches", err)
	}

	var models []BatchModel
	err := query.
		Order("upload_date DESC").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, storageErr("list batches", err)
	}

	items := make([]domain.Batch, 0, len(models))
	for i := range models {
		items = append(items, *batchModelToDomain(&models[i]))
	}

	return &BatchPage{
		Items:      items,
		Total:      int(total),
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages(int(total), limit),
	}, nil
}

func (r *GormBatchRepo) ListByStatus(ctx context.Context, statuses ...domain.BatchStatus) ([]domain.Batch, error) {
	if len(statuses) == 0 {
		return []domain.Batch{}, nil
	}

	var models []BatchModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("upload_date ASC").
		Find(&models).Error
	if err != nil {
		return nil, storageErr("list batches by status", err)
	}

	out := make([]domain.Batch, 0, len(models))
	for i := range models {
		out = append(out, *batchModelToDomain(&models[i]))
	}
	return out, nil
}

func (r *GormBatchRepo) Delete(ctx context.Context, id string) (bool, error) {
	if err := domain.ValidateBatchID(id); err != nil {
		return false, err
	}

	var removed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", id).Delete(&PassengerEntryModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("batch_id = ?", id).Delete(&BatchRecordsModel{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&BatchModel{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, storageErr("delete batch", err)
	}

	dir := filepath.Join(r.root, batchesDirname, id)
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

func (r *GormBatchRepo) Statistics(ctx context.Context) (domain.Statistics, error) {
	var row struct {
		TotalBatches    int
		TotalPassengers int
		TotalGenerated  int
		TotalFailed     int
	}
	err := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Select(`COUNT(*) AS total_batches,
			COALESCE(SUM(total_passengers), 0) AS total_passengers,
			COALESCE(SUM(generated), 0) AS total_generated,
			COALESCE(SUM(failed), 0) AS total_failed`).
		Scan(&row).Error
	if err != nil {
		return domain.Statistics{}, storageErr("batch statistics", err)
	}

	return domain.Statistics{
		TotalBatches:    row.TotalBatches,
		TotalPassengers: row.TotalPassengers,
		TotalGenerated:  row.TotalGenerated,
		TotalFailed:     row.TotalFailed,
	}, nil
}

func (r *GormBatchRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return storageErr("get sql handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storageErr("ping postgres", err)
	}
	return nil
}

func lockBatch(tx *gorm.DB, batchID string) (*BatchModel, error) {
	var model BatchModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", batchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// storageErr leaves domain errors as they are and marks everything else as a storage failure.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{domain.ErrNotFound, domain.ErrValidation, domain.ErrStorage, context.Canceled, context.DeadlineExceeded} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}
