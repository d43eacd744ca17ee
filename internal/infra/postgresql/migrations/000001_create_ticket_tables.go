package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
	"gorm.io/gorm"
)

func createTicketTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_ticket_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.BatchModel{},
				&repository.PassengerEntryModel{},
				&repository.BatchRecordsModel{},
			); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_ticket_batches_unfinished ON ticket_batches (upload_date) WHERE status <> 'completed'`,
				`CREATE INDEX IF NOT EXISTS idx_batch_passengers_identity ON batch_passengers (batch_id, pax_name, pnr)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.BatchRecordsModel{},
				&repository.PassengerEntryModel{},
				&repository.BatchModel{},
			)
		},
	}
}
