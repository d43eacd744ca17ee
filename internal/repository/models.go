package repository

import (
	"time"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
)

// BatchModel is the persistence model for ticket_batches.
type BatchModel struct {
	ID              string             `gorm:"type:varchar(64);primaryKey"`
	Filename        string             `gorm:"type:text;not null"`
	UploadDate      time.Time          `gorm:"type:timestamptz;not null;index"`
	TotalPassengers int                `gorm:"not null"`
	Generated       int                `gorm:"not null;default:0"`
	Failed          int                `gorm:"not null;default:0"`
	Status          domain.BatchStatus `gorm:"type:varchar(20);not null;index"`
	Dir             string             `gorm:"type:text;not null"`
	RetryOf         *string            `gorm:"type:varchar(64)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (BatchModel) TableName() string {
	return "ticket_batches"
}

// PassengerEntryModel is the persistence model for batch_passengers. Position keeps
// insertion order inside a batch.
type PassengerEntryModel struct {
	ID          uint                   `gorm:"primaryKey;autoIncrement"`
	BatchID     string                 `gorm:"type:varchar(64);not null;uniqueIndex:idx_batch_passengers_position,priority:1"`
	Position    int                    `gorm:"not null;uniqueIndex:idx_batch_passengers_position,priority:2"`
	PaxName     string                 `gorm:"type:text;not null"`
	PNR         string                 `gorm:"column:pnr;type:varchar(32);not null"`
	TicketType  string                 `gorm:"type:varchar(16)"`
	PDFFilename *string                `gorm:"column:pdf_filename;type:text"`
	Status      domain.PassengerStatus `gorm:"type:varchar(20);not null"`
	GeneratedAt *time.Time             `gorm:"type:timestamptz"`
	Error       *string                `gorm:"type:text"`
}

func (PassengerEntryModel) TableName() string {
	return "batch_passengers"
}

// BatchRecordsModel keeps the parsed spreadsheet rows of a batch.
type BatchRecordsModel struct {
	BatchID   string                `gorm:"type:varchar(64);primaryKey"`
	Records   []domain.TicketRecord `gorm:"type:jsonb;serializer:json;not null"`
	CreatedAt time.Time
}

func (BatchRecordsModel) TableName() string {
	return "batch_records"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:              b.ID,
		Filename:        b.Filename,
		UploadDate:      b.UploadDate,
		TotalPassengers: b.TotalPassengers,
		Generated:       b.Generated,
		Failed:          b.Failed,
		Status:          b.Status,
		Dir:             b.Dir,
		RetryOf:         b.RetryOf,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:              m.ID,
		Filename:        m.Filename,
		UploadDate:      m.UploadDate.UTC(),
		TotalPassengers: m.TotalPassengers,
		Generated:       m.Generated,
		Failed:          m.Failed,
		Status:          m.Status,
		Dir:             m.Dir,
		RetryOf:         m.RetryOf,
	}
}

func passengerModelFromDomain(batchID string, position int, e *domain.PassengerEntry) *PassengerEntryModel {
	if e == nil {
		return nil
	}

	return &PassengerEntryModel{
		BatchID:     batchID,
		Position:    position,
		PaxName:     e.PaxName,
		PNR:         e.PNR,
		TicketType:  e.TicketType,
		PDFFilename: e.PDFFilename,
		Status:      e.Status,
		GeneratedAt: e.GeneratedAt,
		Error:       e.Error,
	}
}

func passengerModelToDomain(m *PassengerEntryModel) domain.PassengerEntry {
	return domain.PassengerEntry{
		PaxName:     m.PaxName,
		PNR:         m.PNR,
		TicketType:  m.TicketType,
		PDFFilename: m.PDFFilename,
		Status:      m.Status,
		GeneratedAt: m.GeneratedAt,
		Error:       m.Error,
	}
}
