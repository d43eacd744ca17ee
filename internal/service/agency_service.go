package service

import (
	"context"
	"fmt"
	"io"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
	"github.com/kursadbilgin/ticket-engine/internal/ticketnumber"
	"go.uber.org/zap"
)

// AgencyOverview summarizes the directory and ticket serial usage.
type AgencyOverview struct {
	TotalAgencies int
	Tickets       ticketnumber.Stats
}

// LogoUpload is an optional logo sent together with an agency create or update.
type LogoUpload struct {
	Filename string
	Content  io.Reader
}

type AgencyService struct {
	agencies repository.AgencyRepository
	serials  *ticketnumber.Allocator
	logger   *zap.Logger
}

func NewAgencyService(agencies repository.AgencyRepository, serials *ticketnumber.Allocator, logger *zap.Logger) (*AgencyService, error) {
	if agencies == nil {
		return nil, fmt.Errorf("agency repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AgencyService{agencies: agencies, serials: serials, logger: logger}, nil
}

// Create stores the agency and then the logo, if any. A rejected logo does not undo the
// agency; the error is logged and the agency is returned without a logo.
func (s *AgencyService) Create(ctx context.Context, agency *domain.Agency, logo *LogoUpload) (*domain.Agency, error) {
	if agency == nil {
		return nil, fmt.Errorf("%w: agency is required", domain.ErrValidation)
	}
	if err := s.agencies.Create(ctx, agency); err != nil {
		return nil, err
	}

	s.logger.Info("agency created", zap.String("agencyId", agency.ID), zap.String("name", agency.Name))
	return s.attachLogo(ctx, agency, logo), nil
}

func (s *AgencyService) Get(ctx context.Context, id string) (*domain.Agency, error) {
	agency, err := s.agencies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if agency == nil {
		return nil, fmt.Errorf("%w: agency %s", domain.ErrNotFound, id)
	}
	return agency, nil
}

func (s *AgencyService) List(ctx context.Context, page, limit int) (*repository.AgencyPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", domain.ErrValidation)
	}
	if limit < 1 || limit > repository.MaxPageLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, repository.MaxPageLimit)
	}
	return s.agencies.List(ctx, page, limit)
}

// Update applies the provided fields and logo. At least one of them is required.
func (s *AgencyService) Update(ctx context.Context, id string, u domain.AgencyUpdate, logo *LogoUpload) (*domain.Agency, error) {
	if u.IsEmpty() && logo == nil {
		return nil, fmt.Errorf("%w: no fields provided to update", domain.ErrValidation)
	}

	var (
		agency *domain.Agency
		err    error
	)
	if u.IsEmpty() {
		agency, err = s.Get(ctx, id)
	} else {
		agency, err = s.agencies.Update(ctx, id, u)
	}
	if err != nil {
		return nil, err
	}

	return s.attachLogo(ctx, agency, logo), nil
}

func (s *AgencyService) Delete(ctx context.Context, id string) error {
	deleted, err := s.agencies.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: agency %s", domain.ErrNotFound, id)
	}
	s.logger.Info("agency deleted", zap.String("agencyId", id))
	return nil
}

func (s *AgencyService) UploadLogo(ctx context.Context, id string, logo LogoUpload) (*domain.Agency, error) {
	return s.agencies.SaveLogo(ctx, id, logo.Filename, logo.Content)
}

// LogoPath returns the stored logo file, or ErrNotFound when the agency has none.
func (s *AgencyService) LogoPath(ctx context.Context, id string) (string, error) {
	path, err := s.agencies.LogoPath(ctx, id)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("%w: no logo for agency %s", domain.ErrNotFound, id)
	}
	return path, nil
}

func (s *AgencyService) DeleteLogo(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	deleted, err := s.agencies.DeleteLogo(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: no logo for agency %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *AgencyService) Overview(ctx context.Context) (*AgencyOverview, error) {
	total, err := s.agencies.Count(ctx)
	if err != nil {
		return nil, err
	}

	overview := &AgencyOverview{TotalAgencies: total}
	if s.serials != nil {
		stats, err := s.serials.Stats(ctx)
		if err != nil {
			return nil, err
		}
		overview.Tickets = stats
	}
	return overview, nil
}

func (s *AgencyService) attachLogo(ctx context.Context, agency *domain.Agency, logo *LogoUpload) *domain.Agency {
	if logo == nil || logo.Content == nil || logo.Filename == "" {
		return agency
	}

	updated, err := s.agencies.SaveLogo(ctx, agency.ID, logo.Filename, logo.Content)
	if err != nil {
		s.logger.Warn("logo upload failed",
			zap.String("agencyId", agency.ID),
			zap.String("filename", logo.Filename),
			zap.Error(err),
		)
		return agency
	}
	return updated
}
