package converter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
)

const maxStderrExcerpt = 512

// ConversionError describes a failed conversion of a single document.
type ConversionError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Timeout  bool
	Message  string
	Cause    error
}

func (e *ConversionError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "conversion failed")

	if e.Tool != "" {
		parts = append(parts, e.Tool)
	}
	if e.Timeout {
		parts = append(parts, "timed out")
	}
	if e.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		parts = append(parts, stderr)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

// Unwrap exposes both the external tool sentinel and the underlying cause.
func (e *ConversionError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return []error{domain.ErrExternalTool}
	}
	return []error{domain.ErrExternalTool, e.Cause}
}

// Reason is a short label for metrics.
func (e *ConversionError) Reason() string {
	switch {
	case e == nil:
		return ""
	case e.Timeout:
		return "timeout"
	case e.ExitCode != 0:
		return "exit_status"
	}
	return "conversion"
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStderrExcerpt {
		return s
	}
	cut := maxStderrExcerpt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
