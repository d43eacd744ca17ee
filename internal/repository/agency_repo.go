package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
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
	agenciesFilename = "agencies.json"
	logosDirname     = "logos"
)

type AgencyPage struct {
	Items      []domain.Agency
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

type AgencyRepository interface {
	Create(ctx context.Context, a *domain.Agency) error
	GetByID(ctx context.Context, id string) (*domain.Agency, error)
	List(ctx context.Context, page, limit int) (*AgencyPage, error)
	Update(ctx context.Context, id string, u domain.AgencyUpdate) (*domain.Agency, error)
	Delete(ctx context.Context, id string) (bool, error)
	FindByName(ctx context.Context, name string) (*domain.Agency, error)
	Count(ctx context.Context) (int, error)
	SaveLogo(ctx context.Context, id, filename string, r io.Reader) (*domain.Agency, error)
	LogoPath(ctx context.Context, id string) (string, error)
	DeleteLogo(ctx context.Context, id string) (bool, error)
}

type agenciesFile struct {
	Agencies    []domain.Agency `json:"agencies"`
	LastUpdated time.Time       `json:"last_updated"`
	Version     string          `json:"version"`
}

func (f *agenciesFile) find(id string) int {
	for i := range f.Agencies {
		if f.Agencies[i].ID == id {
			return i
		}
	}
	return -1
}

// FileAgencyRepo stores the agency directory in one JSON file and logos next to it.
type FileAgencyRepo struct {
	path     string
	logosDir string
	logger   *zap.Logger
	now      func() time.Time
	mu       sync.Mutex
}

func NewFileAgencyRepo(dataDir string, logger *zap.Logger) (*FileAgencyRepo, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("%w: data directory is required", domain.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logosDir := filepath.Join(dataDir, logosDirname)
	if err := os.MkdirAll(logosDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create logos directory: %w", domain.ErrStorage, err)
	}

	return &FileAgencyRepo{
		path:     filepath.Join(dataDir, agenciesFilename),
		logosDir: logosDir,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (r *FileAgencyRepo) Create(ctx context.Context, a *domain.Agency) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("%w: agency is required", domain.ErrValidation)
	}
	trimAgency(a)
	if err := a.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return err
	}
	if duplicateName(data, a.Name, "") {
		return fmt.Errorf("%w: agency with name %q already exists", domain.ErrValidation, a.Name)
	}

	ids := make([]string, 0, len(data.Agencies))
	for i := range data.Agencies {
		ids = append(ids, data.Agencies[i].ID)
	}

	now := r.now().UTC()
	a.ID = domain.NextAgencyID(ids)
	a.LogoFilename = nil
	a.HasLogo = false
	a.CreatedAt = now
	a.UpdatedAt = now

	data.Agencies = append(data.Agencies, *a)
	if err := r.save(data); err != nil {
		return err
	}

	r.logger.Info("agency created", zap.String("agencyId", a.ID), zap.String("agencyName", a.Name))
	return nil
}

func (r *FileAgencyRepo) GetByID(ctx context.Context, id string) (*domain.Agency, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return nil, err
	}
	pos := data.find(id)
	if pos < 0 {
		return nil, nil
	}
	agency := r.withLogoInfo(data.Agencies[pos])
	return &agency, nil
}

func (r *FileAgencyRepo) List(ctx context.Context, page, limit int) (*AgencyPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, limit = normalizePage(page, limit)

	r.mu.Lock()
	data, err := r.load()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	agencies := data.Agencies
	slices.SortStableFunc(agencies, func(a, b domain.Agency) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	total := len(agencies)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	items := make([]domain.Agency, 0, end-start)
	for _, a := range agencies[start:end] {
		items = append(items, r.withLogoInfo(a))
	}

	return &AgencyPage{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages(total, limit),
	}, nil
}

func (r *FileAgencyRepo) Update(ctx context.Context, id string, u domain.AgencyUpdate) (*domain.Agency, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return nil, err
	}
	pos := data.find(id)
	if pos < 0 {
		return nil, fmt.Errorf("%w: agency %s", domain.ErrNotFound, id)
	}

	updated := data.Agencies[pos]
	u.ApplyTo(&updated)
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if u.Name != nil && updated.Name != data.Agencies[pos].Name && duplicateName(data, updated.Name, id) {
		return nil, fmt.Errorf("%w: agency with name %q already exists", domain.ErrValidation, updated.Name)
	}
	updated.UpdatedAt = r.now().UTC()

	data.Agencies[pos] = updated
	if err := r.save(data); err != nil {
		return nil, err
	}

	out := r.withLogoInfo(updated)
	return &out, nil
}

func (r *FileAgencyRepo) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return false, err
	}
	pos := data.find(id)
	if pos < 0 {
		return false, nil
	}

	r.removeLogoFile(data.Agencies[pos].LogoFilename)
	data.Agencies = slices.Delete(data.Agencies, pos, pos+1)
	if err := r.save(data); err != nil {
		return false, err
	}

	r.logger.Info("agency deleted", zap.String("agencyId", id))
	return true, nil
}

// FindByName tries an exact normalized match, then agencies whose name contains the
// search text, then agencies whose name is contained in it.
func (r *FileAgencyRepo) FindByName(ctx context.Context, name string) (*domain.Agency, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	search := domain.NormalizeAgencyName(name)
	if search == "" {
		return nil, nil
	}

	r.mu.Lock()
	data, err := r.load()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	passes := []func(candidate string) bool{
		func(candidate string) bool { return candidate == search },
		func(candidate string) bool { return strings.Contains(candidate, search) },
		func(candidate string) bool { return candidate != "" && strings.Contains(search, candidate) },
	}
	for _, match := range passes {
		for i := range data.Agencies {
			if match(domain.NormalizeAgencyName(data.Agencies[i].Name)) {
				agency := r.withLogoInfo(data.Agencies[i])
				return &agency, nil
			}
		}
	}
	return nil, nil
}

func (r *FileAgencyRepo) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return 0, err
	}
	return len(data.Agencies), nil
}

// SaveLogo stores the image as <id><ext>, replacing any previous logo of the agency.
func (r *FileAgencyRepo) SaveLogo(ctx context.Context, id, filename string, src io.Reader) (*domain.Agency, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext, err := domain.LogoExtension(filename)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return nil, err
	}
	pos := data.find(id)
	if pos < 0 {
		return nil, fmt.Errorf("%w: agency %s", domain.ErrNotFound, id)
	}

	agency := &data.Agencies[pos]
	newName := agency.ID + ext
	if err := writeFileAtomic(filepath.Join(r.logosDir, newName), src); err != nil {
		return nil, err
	}
	if agency.LogoFilename != nil && *agency.LogoFilename != newName {
		r.removeLogoFile(agency.LogoFilename)
	}

	agency.LogoFilename = &newName
	agency.UpdatedAt = r.now().UTC()
	if err := r.save(data); err != nil {
		return nil, err
	}

	out := r.withLogoInfo(*agency)
	return &out, nil
}

// LogoPath returns "" when the agency has no logo on disk.
func (r *FileAgencyRepo) LogoPath(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return "", err
	}
	pos := data.find(id)
	if pos < 0 {
		return "", nil
	}
	return r.existingLogo(data.Agencies[pos].LogoFilename), nil
}

func (r *FileAgencyRepo) DeleteLogo(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return false, err
	}
	pos := data.find(id)
	if pos < 0 {
		return false, fmt.Errorf("%w: agency %s", domain.ErrNotFound, id)
	}

	agency := &data.Agencies[pos]
	if agency.LogoFilename == nil {
		return false, nil
	}

	r.removeLogoFile(agency.LogoFilename)
	agency.LogoFilename = nil
	agency.UpdatedAt = r.now().UTC()
	if err := r.save(data); err != nil {
		return false, err
	}
	return true, nil
}

func (r *FileAgencyRepo) load() (*agenciesFile, error) {
	data := &agenciesFile{Version: manifestVersion}
	if _, err := readJSON(r.path, data); err != nil {
		return nil, err
	}
	if data.Agencies == nil {
		data.Agencies = []domain.Agency{}
	}
	return data, nil
}

func (r *FileAgencyRepo) save(data *agenciesFile) error {
	data.LastUpdated = r.now().UTC()
	data.Version = manifestVersion
	for i := range data.Agencies {
		data.Agencies[i].HasLogo = false
	}
	return writeJSONAtomic(r.path, data)
}

func (r *FileAgencyRepo) withLogoInfo(a domain.Agency) domain.Agency {
	a.HasLogo = r.existingLogo(a.LogoFilename) != ""
	return a
}

func (r *FileAgencyRepo) existingLogo(filename *string) string {
	if filename == nil || *filename == "" {
		return ""
	}
	path := filepath.Join(r.logosDir, filepath.Base(*filename))
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (r *FileAgencyRepo) removeLogoFile(filename *string) {
	if filename == nil || *filename == "" {
		return
	}
	path := filepath.Join(r.logosDir, filepath.Base(*filename))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("failed to remove logo file", zap.String("path", path), zap.Error(err))
	}
}

func duplicateName(data *agenciesFile, name, excludeID string) bool {
	normalized := domain.NormalizeAgencyName(name)
	for i := range data.Agencies {
		if excludeID != "" && data.Agencies[i].ID == excludeID {
			continue
		}
		if domain.NormalizeAgencyName(data.Agencies[i].Name) == normalized {
			return true
		}
	}
	return false
}

func trimAgency(a *domain.Agency) {
	a.Name = strings.TrimSpace(a.Name)
	a.Owner = strings.TrimSpace(a.Owner)
	a.Address = strings.TrimSpace(a.Address)
	a.Email = strings.TrimSpace(a.Email)
	a.Telephone = strings.TrimSpace(a.Telephone)
}
