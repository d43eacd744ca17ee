package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
)

// BatchMessage is the broker payload asking a worker to process a batch.
type BatchMessage struct {
	BatchID   string `json:"batchId"`
	RequestID string `json:"requestId,omitempty"`
}

func (m BatchMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if err := domain.ValidateBatchID(m.BatchID); err != nil {
		return err
	}
	return nil
}
