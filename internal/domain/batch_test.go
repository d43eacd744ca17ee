package domain

import (
	"errors"
	"testing"
	"time"
)

func TestBatchStatusAdvanceIsForwardOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current BatchStatus
		next    BatchStatus
		want    BatchStatus
	}{
		{name: "pending to processing", current: BatchStatusPending, next: BatchStatusProcessing, want: BatchStatusProcessing},
		{name: "processing to completed", current: BatchStatusProcessing, next: BatchStatusCompleted, want: BatchStatusCompleted},
		{name: "pending to completed", current: BatchStatusPending, next: BatchStatusCompleted, want: BatchStatusCompleted},
		{name: "completed stays completed", current: BatchStatusCompleted, next: BatchStatusProcessing, want: BatchStatusCompleted},
		{name: "processing never back to pending", current: BatchStatusProcessing, next: BatchStatusPending, want: BatchStatusProcessing},
		{name: "unknown next ignored", current: BatchStatusPending, next: BatchStatus("failed"), want: BatchStatusPending},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.current.Advance(tt.next); got != tt.want {
				t.Fatalf("Advance() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                       string
		current                    BatchStatus
		generated, failed, pending int
		want                       BatchStatus
	}{
		{name: "untouched stays pending", current: BatchStatusPending, pending: 3, want: BatchStatusPending},
		{name: "first outcome moves to processing", current: BatchStatusPending, generated: 1, pending: 2, want: BatchStatusProcessing},
		{name: "failure counts as progress", current: BatchStatusPending, failed: 1, pending: 2, want: BatchStatusProcessing},
		{name: "no pending completes", current: BatchStatusProcessing, generated: 2, failed: 1, want: BatchStatusCompleted},
		{name: "completed with failures is still completed", current: BatchStatusProcessing, failed: 3, want: BatchStatusCompleted},
		{name: "completed never regresses", current: BatchStatusCompleted, generated: 1, pending: 1, want: BatchStatusCompleted},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := DeriveStatus(tt.current, tt.generated, tt.failed, tt.pending)
			if got != tt.want {
				t.Fatalf("DeriveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPassengerUpdateApply(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := NewPassengerEntry(PassengerDescriptor{PaxName: "KIM/MINSU", PNR: "ABC123", TicketType: "ADT"})

	update := PassengerUpdate{
		PaxName:     "KIM/MINSU",
		PNR:         "ABC123",
		Status:      PassengerStatusGenerated,
		PDFFilename: "AGT26030101_KIM_MINSU.pdf",
	}
	if err := update.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}
	if !update.Apply(&entry, now) {
		t.Fatal("Apply() = false, want true for pending entry")
	}
	if entry.Status != PassengerStatusGenerated {
		t.Fatalf("status = %s, want generated", entry.Status)
	}
	if entry.PDFFilename == nil || *entry.PDFFilename != update.PDFFilename {
		t.Fatalf("pdf filename = %v, want %s", entry.PDFFilename, update.PDFFilename)
	}
	if entry.GeneratedAt == nil || !entry.GeneratedAt.Equal(now) {
		t.Fatalf("generated at = %v, want %v", entry.GeneratedAt, now)
	}

	second := PassengerUpdate{PaxName: "KIM/MINSU", PNR: "ABC123", Status: PassengerStatusFailed, Error: "late"}
	if second.Apply(&entry, now) {
		t.Fatal("Apply() on terminal entry should report false")
	}
	if entry.Status != PassengerStatusGenerated {
		t.Fatalf("terminal entry changed to %s", entry.Status)
	}
}

func TestPassengerUpdateApplyFailure(t *testing.T) {
	t.Parallel()

	entry := NewPassengerEntry(PassengerDescriptor{PaxName: "LEE/JI", PNR: "XYZ789"})
	update := PassengerUpdate{PaxName: "LEE/JI", PNR: "XYZ789", Status: PassengerStatusFailed, Error: "template not found"}

	if !update.Apply(&entry, time.Now()) {
		t.Fatal("Apply() = false, want true")
	}
	if entry.Error == nil || *entry.Error != "template not found" {
		t.Fatalf("error = %v, want template not found", entry.Error)
	}
	if entry.GeneratedAt != nil || entry.PDFFilename != nil {
		t.Fatal("failed entry should not carry output filename or generation time")
	}
}

func TestPassengerUpdateValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		update PassengerUpdate
	}{
		{name: "pending is not terminal", update: PassengerUpdate{Status: PassengerStatusPending}},
		{name: "generated without filename", update: PassengerUpdate{Status: PassengerStatusGenerated}},
		{name: "unknown status", update: PassengerUpdate{Status: PassengerStatus("done")}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := tt.update.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestTallyKeepsCountInvariant(t *testing.T) {
	t.Parallel()

	entries := []PassengerEntry{
		{Status: PassengerStatusGenerated},
		{Status: PassengerStatusFailed},
		{Status: PassengerStatusPending},
		{Status: PassengerStatusPending},
		{Status: PassengerStatusGenerated},
	}

	generated, failed, pending := Tally(entries)
	if generated != 2 || failed != 1 || pending != 2 {
		t.Fatalf("Tally() = (%d, %d, %d), want (2, 1, 2)", generated, failed, pending)
	}
	if generated+failed+pending != len(entries) {
		t.Fatal("counts must sum to the number of entries")
	}
}

func TestProgressPercentage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                     string
		generated, failed, total int
		want                     float64
	}{
		{name: "empty batch", want: 0},
		{name: "one third", generated: 1, total: 3, want: 33.33},
		{name: "two thirds with failure", generated: 1, failed: 1, total: 3, want: 66.67},
		{name: "done", generated: 4, failed: 1, total: 5, want: 100},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ProgressPercentage(tt.generated, tt.failed, tt.total); got != tt.want {
				t.Fatalf("ProgressPercentage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextBatchID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ids  []string
		want string
	}{
		{name: "empty store", want: "AAQ001"},
		{name: "takes max plus one", ids: []string{"AAQ001", "AAQ007", "AAQ003"}, want: "AAQ008"},
		{name: "gaps are not reused", ids: []string{"AAQ002"}, want: "AAQ003"},
		{name: "foreign ids ignored", ids: []string{"XYZ900", "AAQabc", "AAQ004"}, want: "AAQ005"},
		{name: "grows past padding", ids: []string{"AAQ999"}, want: "AAQ1000"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := NextBatchID("AAQ", tt.ids); got != tt.want {
				t.Fatalf("NextBatchID() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidateBatchID(t *testing.T) {
	t.Parallel()

	if err := ValidateBatchID("AAQ001"); err != nil {
		t.Fatalf("ValidateBatchID() unexpected error = %v", err)
	}
	for _, id := range []string{"", "../etc", "AAQ/001", "a b"} {
		if err := ValidateBatchID(id); !errors.Is(err, ErrValidation) {
			t.Fatalf("ValidateBatchID(%q) error = %v, want ErrValidation", id, err)
		}
	}
}
