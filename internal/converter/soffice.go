package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	sofficeTool           = "soffice"
	defaultConvertTimeout = 60 * time.Second
	processWaitDelay      = 2 * time.Second
)

var sofficeCandidates = []string{"soffice", "libreoffice"}

// SofficeConverter runs a local LibreOffice in headless mode, one process per document.
type SofficeConverter struct {
	binary  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewSofficeConverter resolves the binary once. An empty explicit path falls back to a PATH
// lookup; when nothing is found the converter reports itself unavailable.
func NewSofficeConverter(explicitPath string, timeout time.Duration, logger *zap.Logger) *SofficeConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultConvertTimeout
	}

	return &SofficeConverter{
		binary:  resolveSoffice(explicitPath),
		timeout: timeout,
		logger:  logger,
	}
}

func resolveSoffice(explicitPath string) string {
	if p := strings.TrimSpace(explicitPath); p != "" {
		if resolved, err := exec.LookPath(p); err == nil {
			return resolved
		}
		return ""
	}
	for _, name := range sofficeCandidates {
		if resolved, err := exec.LookPath(name); err == nil {
			return resolved
		}
	}
	return ""
}

func (c *SofficeConverter) Available() bool {
	return c != nil && c.binary != ""
}

func (c *SofficeConverter) Location() string {
	if c == nil {
		return ""
	}
	return c.binary
}

func (c *SofficeConverter) Convert(ctx context.Context, inputPath, outputDir string) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("%w: soffice not found", domain.ErrConverterUnavailable)
	}
	if err := checkInput(sofficeTool, inputPath); err != nil {
		return "", err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", &ConversionError{Tool: sofficeTool, Message: "create output dir", Cause: err}
	}

	outputPath := filepath.Join(outputDir, pdfName(inputPath))
	if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", &ConversionError{Tool: sofficeTool, Message: "remove stale output", Cause: err}
	}

	// Concurrent soffice processes sharing one user profile hand work to each other or trip
	// over its lock, so every run gets a profile of its own.
	profileDir, err := os.MkdirTemp("", "soffice-profile-*")
	if err != nil {
		return "", &ConversionError{Tool: sofficeTool, Message: "create profile dir", Cause: err}
	}
	defer func() {
		if err := os.RemoveAll(profileDir); err != nil {
			c.logger.Warn("soffice profile cleanup failed", zap.String("dir", profileDir), zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, c.binary, sofficeArgs(profileDir, outputDir, inputPath)...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = processWaitDelay

	started := time.Now()
	runErr := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", &ConversionError{
			Tool:    sofficeTool,
			Timeout: true,
			Message: fmt.Sprintf("after %s", c.timeout),
			Stderr:  excerpt(stderr.String()),
			Cause:   context.DeadlineExceeded,
		}
	}
	if runErr != nil {
		convErr := &ConversionError{Tool: sofficeTool, Stderr: excerpt(stderr.String()), Cause: runErr}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			convErr.ExitCode = exitErr.ExitCode()
			convErr.Cause = nil
		}
		return "", convErr
	}

	if _, err := os.Stat(outputPath); err != nil {
		return "", &ConversionError{
			Tool:    sofficeTool,
			Message: fmt.Sprintf("no output produced for %s", filepath.Base(inputPath)),
			Stderr:  excerpt(stderr.String()),
		}
	}

	c.logger.Debug("document converted",
		zap.String("input", filepath.Base(inputPath)),
		zap.Duration("duration", time.Since(started)),
	)
	return outputPath, nil
}

// sofficeArgs builds the command line for one headless conversion. The input path stays last.
func sofficeArgs(profileDir, outputDir, inputPath string) []string {
	profile := url.URL{Scheme: "file", Path: filepath.ToSlash(profileDir)}
	return []string{
		"-env:UserInstallation=" + profile.String(),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outputDir,
		inputPath,
	}
}
