package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
	"github.com/kursadbilgin/ticket-engine/internal/service"
	"github.com/kursadbilgin/ticket-engine/internal/ticketnumber"
)

type AgencyService interface {
	Create(ctx context.Context, agency *domain.Agency, logo *service.LogoUpload) (*domain.Agency, error)
	Get(ctx context.Context, id string) (*domain.Agency, error)
	List(ctx context.Context, page, limit int) (*repository.AgencyPage, error)
	Update(ctx context.Context, id string, u domain.AgencyUpdate, logo *service.LogoUpload) (*domain.Agency, error)
	Delete(ctx context.Context, id string) error
	UploadLogo(ctx context.Context, id string, logo service.LogoUpload) (*domain.Agency, error)
	LogoPath(ctx context.Context, id string) (string, error)
	DeleteLogo(ctx context.Context, id string) error
	Overview(ctx context.Context) (*service.AgencyOverview, error)
}

type AgencyHandler struct {
	service AgencyService
}

func NewAgencyHandler(service AgencyService) (*AgencyHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("agency service is required")
	}
	return &AgencyHandler{service: service}, nil
}

func RegisterAgencyRoutes(router fiber.Router, service AgencyService) error {
	h, err := NewAgencyHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/api/v1/agency")
	v1.Post("/create", h.CreateAgency)
	v1.Get("/list", h.ListAgencies)
	v1.Get("/stats/overview", h.Overview)
	v1.Get("/:id", h.GetAgency)
	v1.Put("/:id", h.UpdateAgency)
	v1.Delete("/:id", h.DeleteAgency)
	v1.Post("/:id/upload-logo", h.UploadLogo)
	v1.Get("/:id/logo", h.GetLogo)
	v1.Delete("/:id/logo", h.DeleteLogo)

	return nil
}

const (
	fieldName      = "agency_name"
	fieldOwner     = "agency_owner"
	fieldAddress   = "agency_address"
	fieldEmail     = "email"
	fieldTelephone = "telephone"
	fieldLogo      = "logo"
)

type agencyListResponse struct {
	Agencies   []domain.Agency `json:"agencies"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"total_pages"`
}

type agencyOverviewResponse struct {
	TotalAgencies int `json:"total_agencies"`
	ticketnumber.Stats
}

func (h *AgencyHandler) CreateAgency(c *fiber.Ctx) error {
	values := formValues(c)
	agency := &domain.Agency{
		Name:      values[fieldName],
		Owner:     values[fieldOwner],
		Address:   values[fieldAddress],
		Email:     values[fieldEmail],
		Telephone: values[fieldTelephone],
	}

	logo, closeLogo, err := logoUpload(c)
	if err != nil {
		return toHTTPError(err)
	}
	defer closeLogo()

	created, err := h.service.Create(c.UserContext(), agency, logo)
	if err != nil {
		return toHTTPError(err)
	}

	message := fmt.Sprintf("Agency '%s' created successfully", created.Name)
	if created.HasLogo {
		message += " with logo"
	}
	return c.Status(fiber.StatusCreated).JSON(messageResponse{Message: message, Data: created})
}

func (h *AgencyHandler) ListAgencies(c *fiber.Ctx) error {
	page, limit := pageParams(c)
	result, err := h.service.List(c.UserContext(), page, limit)
	if err != nil {
		return toHTTPError(err)
	}

	agencies := result.Items
	if agencies == nil {
		agencies = []domain.Agency{}
	}
	return c.Status(fiber.StatusOK).JSON(agencyListResponse{
		Agencies:   agencies,
		Total:      result.Total,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalPages: result.TotalPages,
	})
}

func (h *AgencyHandler) GetAgency(c *fiber.Ctx) error {
	agency, err := h.service.Get(c.UserContext(), pathParam(c, "id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(agency)
}

func (h *AgencyHandler) UpdateAgency(c *fiber.Ctx) error {
	values := formValues(c)
	update := domain.AgencyUpdate{
		Name:      optional(values, fieldName),
		Owner:     optional(values, fieldOwner),
		Address:   optional(values, fieldAddress),
		Email:     optional(values, fieldEmail),
		Telephone: optional(values, fieldTelephone),
	}

	logo, closeLogo, err := logoUpload(c)
	if err != nil {
		return toHTTPError(err)
	}
	defer closeLogo()

	updated, err := h.service.Update(c.UserContext(), pathParam(c, "id"), update, logo)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(messageResponse{
		Message: fmt.Sprintf("Agency '%s' updated successfully", updated.Name),
		Data:    updated,
	})
}

func (h *AgencyHandler) DeleteAgency(c *fiber.Ctx) error {
	id := pathParam(c, "id")
	if err := h.service.Delete(c.UserContext(), id); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(messageResponse{
		Message: "Agency deleted successfully",
		Data:    fiber.Map{"id": id},
	})
}

func (h *AgencyHandler) Overview(c *fiber.Ctx) error {
	overview, err := h.service.Overview(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(agencyOverviewResponse{
		TotalAgencies: overview.TotalAgencies,
		Stats:         overview.Tickets,
	})
}

func (h *AgencyHandler) UploadLogo(c *fiber.Ctx) error {
	logo, closeLogo, err := logoUpload(c)
	if err != nil {
		return toHTTPError(err)
	}
	defer closeLogo()
	if logo == nil {
		return fiber.NewError(fiber.StatusBadRequest, "logo file is required")
	}

	agency, err := h.service.UploadLogo(c.UserContext(), pathParam(c, "id"), *logo)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(messageResponse{Message: "Logo uploaded successfully", Data: agency})
}

func (h *AgencyHandler) GetLogo(c *fiber.Ctx) error {
	path, err := h.service.LogoPath(c.UserContext(), pathParam(c, "id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.SendFile(path)
}

func (h *AgencyHandler) DeleteLogo(c *fiber.Ctx) error {
	id := pathParam(c, "id")
	if err := h.service.DeleteLogo(c.UserContext(), id); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(messageResponse{
		Message: "Logo deleted successfully",
		Data:    fiber.Map{"id": id},
	})
}

// logoUpload returns the optional logo part and a func that releases it.
func logoUpload(c *fiber.Ctx) (*service.LogoUpload, func(), error) {
	fh, f, err := openUpload(c, fieldLogo)
	if err != nil {
		return nil, func() {}, err
	}
	if f == nil {
		return nil, func() {}, nil
	}
	return &service.LogoUpload{Filename: fh.Filename, Content: f}, func() { f.Close() }, nil
}

func optional(values map[string]string, key string) *string {
	v, ok := values[key]
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	return &v
}
