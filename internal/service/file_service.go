package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/klauspost/compress/zip"
	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
	"go.uber.org/zap"
)

// FileService serves generated artifacts from batch directories.
type FileService struct {
	batches repository.BatchRepository
	logger  *zap.Logger
}

func NewFileService(batches repository.BatchRepository, logger *zap.Logger) (*FileService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileService{batches: batches, logger: logger}, nil
}

// OpenArtifact resolves filename inside the batch directory. Names that resolve outside of
// it are rejected with ErrValidation.
func (s *FileService) OpenArtifact(ctx context.Context, batchID, filename string) (string, error) {
	batch, err := s.batch(ctx, batchID)
	if err != nil {
		return "", err
	}

	path, err := resolveWithin(batch.Dir, filename)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: file %s", domain.ErrNotFound, filename)
		}
		return "", fmt.Errorf("%w: stat %s: %w", domain.ErrStorage, filename, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: file %s", domain.ErrNotFound, filename)
	}
	return path, nil
}

// WriteBundle zips every generated artifact of the batch into w and returns the archive
// name. Nothing is written when no artifact is available.
func (s *FileService) WriteBundle(ctx context.Context, batchID string, w io.Writer) (string, error) {
	details, err := s.batches.GetDetails(ctx, batchID)
	if err != nil {
		return "", err
	}
	if details == nil {
		return "", fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	files := s.bundleFiles(details)
	if len(files) == 0 {
		return "", fmt.Errorf("%w: batch %s has no generated tickets on disk", domain.ErrNothingToBundle, batchID)
	}

	zw := zip.NewWriter(w)
	for _, name := range files {
		if err := addFile(zw, filepath.Join(details.Batch.Dir, name), name); err != nil {
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalize bundle: %w", err)
	}

	s.logger.Info("bundle created",
		zap.String("batchId", batchID),
		zap.Int("files", len(files)),
	)
	return BundleName(details.Batch), nil
}

func (s *FileService) bundleFiles(details *domain.BatchDetails) []string {
	seen := make(map[string]bool)
	var files []string
	for _, entry := range details.Passengers {
		if entry.Status != domain.PassengerStatusGenerated || entry.PDFFilename == nil {
			continue
		}
		name := *entry.PDFFilename
		if seen[name] {
			continue
		}
		path, err := resolveWithin(details.Batch.Dir, name)
		if err != nil {
			s.logger.Warn("skipping artifact outside batch dir", zap.String("file", name))
			continue
		}
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			continue
		}
		seen[name] = true
		files = append(files, name)
	}
	return files
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", domain.ErrStorage, name, err)
	}
	defer src.Close()

	dst, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("add %s to bundle: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("add %s to bundle: %w", name, err)
	}
	return nil
}

// BundleName is "<batch id>_<source name>.zip", with the workbook extension dropped and
// anything other than letters, digits, space, dash and underscore removed.
func BundleName(b domain.Batch) string {
	base := b.Filename
	for _, ext := range []string{".xlsx", ".xls"} {
		base = strings.ReplaceAll(base, ext, "")
	}
	safe := strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			return r
		}
		return -1
	}, base))
	return fmt.Sprintf("%s_%s.zip", b.ID, safe)
}

func (s *FileService) batch(ctx context.Context, batchID string) (*domain.Batch, error) {
	if err := domain.ValidateBatchID(batchID); err != nil {
		return nil, err
	}
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	return batch, nil
}

func resolveWithin(dir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: file name is required", domain.ErrValidation)
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: resolve batch dir: %w", domain.ErrStorage, err)
	}
	target := filepath.Join(root, name)

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid file path %q", domain.ErrValidation, name)
	}
	return target, nil
}
