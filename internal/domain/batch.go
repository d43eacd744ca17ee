package domain

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BatchStatus represents the lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted:
		return true
	}
	return false
}

func (s BatchStatus) rank() int {
	switch s {
	case BatchStatusPending:
		return 1
	case BatchStatusProcessing:
		return 2
	case BatchStatusCompleted:
		return 3
	}
	return 0
}

// Advance returns next when it is ahead of s in the lifecycle, otherwise s.
// A completed batch never moves back to processing.
func (s BatchStatus) Advance(next BatchStatus) BatchStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// PassengerStatus represents the generation outcome of a single passenger.
type PassengerStatus string

const (
	PassengerStatusPending   PassengerStatus = "pending"
	PassengerStatusGenerated PassengerStatus = "generated"
	PassengerStatusFailed    PassengerStatus = "failed"
)

func (s PassengerStatus) String() string { return string(s) }

func (s PassengerStatus) IsTerminal() bool {
	return s == PassengerStatusGenerated || s == PassengerStatusFailed
}

// Batch is one upload's worth of passengers tracked as a unit.
type Batch struct {
	ID              string      `json:"batch_id"`
	Filename        string      `json:"filename"`
	UploadDate      time.Time   `json:"upload_date"`
	TotalPassengers int         `json:"total_passengers"`
	Generated       int         `json:"generated"`
	Failed          int         `json:"failed"`
	Status          BatchStatus `json:"status"`
	Dir             string      `json:"batch_dir"`
	RetryOf         *string     `json:"retry_of,omitempty"`
}

func (b Batch) Pending() int {
	return b.TotalPassengers - b.Generated - b.Failed
}

func (b Batch) IsComplete() bool {
	return b.Status == BatchStatusCompleted
}

func (b Batch) ProgressPercentage() float64 {
	return ProgressPercentage(b.Generated, b.Failed, b.TotalPassengers)
}

// PassengerDescriptor is what the upload path knows about a passenger before generation.
type PassengerDescriptor struct {
	PaxName    string
	PNR        string
	TicketType string
}

// PassengerEntry is one row's generation outcome within a batch.
type PassengerEntry struct {
	PaxName     string          `json:"pax_name"`
	PNR         string          `json:"pnr"`
	TicketType  string          `json:"ticket_type"`
	PDFFilename *string         `json:"pdf_filename"`
	Status      PassengerStatus `json:"status"`
	GeneratedAt *time.Time      `json:"generated_at"`
	Error       *string         `json:"error"`
}

func NewPassengerEntry(d PassengerDescriptor) PassengerEntry {
	return PassengerEntry{
		PaxName:    d.PaxName,
		PNR:        d.PNR,
		TicketType: d.TicketType,
		Status:     PassengerStatusPending,
	}
}

func (e PassengerEntry) Matches(paxName, pnr string) bool {
	return e.PaxName == paxName && e.PNR == pnr
}

// PassengerUpdate records a terminal outcome for the entry identified by (PaxName, PNR).
type PassengerUpdate struct {
	PaxName     string
	PNR         string
	Status      PassengerStatus
	PDFFilename string
	Error       string
}

func (u PassengerUpdate) Validate() error {
	if !u.Status.IsTerminal() {
		return fmt.Errorf("%w: passenger status %q is not terminal", ErrValidation, u.Status)
	}
	if u.Status == PassengerStatusGenerated && strings.TrimSpace(u.PDFFilename) == "" {
		return fmt.Errorf("%w: generated passenger requires an output filename", ErrValidation)
	}
	return nil
}

// Apply writes the outcome into e. Entries that are already terminal are left untouched
// and Apply reports false.
func (u PassengerUpdate) Apply(e *PassengerEntry, now time.Time) bool {
	if e == nil || e.Status.IsTerminal() {
		return false
	}

	e.Status = u.Status
	e.PDFFilename = nil
	e.GeneratedAt = nil
	e.Error = nil

	if u.Status == PassengerStatusGenerated {
		filename := u.PDFFilename
		generatedAt := now
		e.PDFFilename = &filename
		e.GeneratedAt = &generatedAt
	}
	if msg := strings.TrimSpace(u.Error); msg != "" {
		e.Error = &msg
	}
	return true
}

// Tally counts entries per status.
func Tally(entries []PassengerEntry) (generated, failed, pending int) {
	for i := range entries {
		switch entries[i].Status {
		case PassengerStatusGenerated:
			generated++
		case PassengerStatusFailed:
			failed++
		default:
			pending++
		}
	}
	return generated, failed, pending
}

// DeriveStatus recomputes the batch status from entry counts without ever moving backwards.
func DeriveStatus(current BatchStatus, generated, failed, pending int) BatchStatus {
	switch {
	case pending == 0:
		return current.Advance(BatchStatusCompleted)
	case generated > 0 || failed > 0:
		return current.Advance(BatchStatusProcessing)
	}
	return current
}

// BatchDetails is a batch together with its ordered passenger entries.
type BatchDetails struct {
	Batch      Batch
	Passengers []PassengerEntry
}

// Statistics are simple sums over every batch in the store.
type Statistics struct {
	TotalBatches    int `json:"total_batches"`
	TotalPassengers int `json:"total_passengers"`
	TotalGenerated  int `json:"total_generated"`
	TotalFailed     int `json:"total_failed"`
}

func (s *Statistics) Add(b Batch) {
	s.TotalBatches++
	s.TotalPassengers += b.TotalPassengers
	s.TotalGenerated += b.Generated
	s.TotalFailed += b.Failed
}

// ProgressPercentage returns round(100*(generated+failed)/total, 2), or 0 for an empty batch.
func ProgressPercentage(generated, failed, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := 100 * float64(generated+failed) / float64(total)
	return math.Round(pct*100) / 100
}

const batchNumberWidth = 3

var batchIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateBatchID rejects ids that could escape the storage root.
func ValidateBatchID(id string) error {
	if !batchIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid batch id %q", ErrValidation, id)
	}
	return nil
}

func FormatBatchID(prefix string, number int) string {
	return fmt.Sprintf("%s%0*d", prefix, batchNumberWidth, number)
}

// ParseBatchNumber extracts the numeric suffix of id. Ids with another prefix or a
// non-numeric suffix report false.
func ParseBatchNumber(prefix, id string) (int, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(id[len(prefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// NextBatchID scans ids for the highest numeric suffix and returns the one after it.
func NextBatchID(prefix string, ids []string) string {
	highest := 0
	for _, id := range ids {
		if n, ok := ParseBatchNumber(prefix, id); ok && n > highest {
			highest = n
		}
	}
	return FormatBatchID(prefix, highest+1)
}
