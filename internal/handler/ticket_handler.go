package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
	"github.com/kursadbilgin/ticket-engine/internal/service"
)

// uploadTimeout bounds parsing and persisting one workbook; generation runs afterwards.
const uploadTimeout = 2 * time.Minute

type BatchService interface {
	Upload(ctx context.Context, filename string, r io.Reader) (*domain.Batch, error)
	Retry(ctx context.Context, sourceID string, refs []domain.PassengerRef) (*domain.Batch, error)
	Get(ctx context.Context, id string) (*domain.BatchDetails, error)
	List(ctx context.Context, page, limit int) (*repository.BatchPage, error)
	Status(ctx context.Context, id string) (*service.BatchStatusView, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (domain.Statistics, error)
	SystemStatus(ctx context.Context) (*service.SystemStatus, error)
}

type ArtifactService interface {
	OpenArtifact(ctx context.Context, batchID, filename string) (string, error)
	WriteBundle(ctx context.Context, batchID string, w io.Writer) (string, error)
}

type TicketHandler struct {
	batches BatchService
	files   ArtifactService
}

func NewTicketHandler(batches BatchService, files ArtifactService) (*TicketHandler, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if files == nil {
		return nil, fmt.Errorf("artifact service is required")
	}
	return &TicketHandler{batches: batches, files: files}, nil
}

func RegisterTicketRoutes(router fiber.Router, batches BatchService, files ArtifactService) error {
	h, err := NewTicketHandler(batches, files)
	if err != nil {
		return err
	}

	v1 := router.Group("/api/v1/ticket")
	v1.Post("/upload", h.Upload)
	v1.Get("/batches", h.ListBatches)
	v1.Get("/batches/:id", h.GetBatch)
	v1.Get("/batches/:id/status", h.GetBatchStatus)
	v1.Post("/batches/:id/retry", h.RetryBatch)
	v1.Delete("/batches/:id", h.DeleteBatch)
	v1.Get("/download/pdf/:batchId/:filename", h.DownloadPDF)
	v1.Get("/download/batch/:batchId", h.DownloadBundle)
	v1.Get("/stats", h.Stats)
	v1.Get("/system-status", h.SystemStatus)

	return nil
}

type uploadResponse struct {
	BatchID         string  `json:"batch_id"`
	Filename        string  `json:"filename"`
	TotalPassengers int     `json:"total_passengers"`
	Status          string  `json:"status"`
	RetryOf         *string `json:"retry_of,omitempty"`
	Message         string  `json:"message"`
}

type batchListResponse struct {
	Batches    []domain.Batch `json:"batches"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"total_pages"`
}

type batchDetailResponse struct {
	domain.Batch
	Passengers []domain.PassengerEntry `json:"passengers"`
}

type batchStatusResponse struct {
	BatchID            string                  `json:"batch_id"`
	Status             string                  `json:"status"`
	TotalPassengers    int                     `json:"total_passengers"`
	Generated          int                     `json:"generated"`
	Failed             int                     `json:"failed"`
	Pending            int                     `json:"pending"`
	ProgressPercentage float64                 `json:"progress_percentage"`
	IsComplete         bool                    `json:"is_complete"`
	Passengers         []domain.PassengerEntry `json:"passengers"`
}

type retryRequest struct {
	Passengers []struct {
		PaxName string `json:"paxName"`
		PNR     string `json:"pnr"`
	} `json:"passengers"`
}

type systemStatusResponse struct {
	ConverterAvailable    bool    `json:"converter_available"`
	ConverterLocation     *string `json:"converter_location"`
	OutputDirectoryExists bool    `json:"output_directory_exists"`
	ManifestExists        bool    `json:"manifest_exists"`
	TotalBatches          int     `json:"total_batches"`
}

func (h *TicketHandler) Upload(c *fiber.Ctx) error {
	fh, f, err := openUpload(c, "file")
	if err != nil {
		return toHTTPError(err)
	}
	if f == nil {
		return fiber.NewError(fiber.StatusBadRequest, "file is required")
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(c.UserContext(), uploadTimeout)
	defer cancel()

	batch, err := h.batches.Upload(ctx, fh.Filename, f)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toUploadResponse(batch,
		fmt.Sprintf("Batch created successfully. Generating %d tickets...", batch.TotalPassengers)))
}

func (h *TicketHandler) ListBatches(c *fiber.Ctx) error {
	page, limit := pageParams(c)
	result, err := h.batches.List(c.UserContext(), page, limit)
	if err != nil {
		return toHTTPError(err)
	}

	batches := result.Items
	if batches == nil {
		batches = []domain.Batch{}
	}
	return c.Status(fiber.StatusOK).JSON(batchListResponse{
		Batches:    batches,
		Total:      result.Total,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalPages: result.TotalPages,
	})
}

func (h *TicketHandler) GetBatch(c *fiber.Ctx) error {
	details, err := h.batches.Get(c.UserContext(), pathParam(c, "id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(batchDetailResponse{
		Batch:      details.Batch,
		Passengers: nonNilEntries(details.Passengers),
	})
}

func (h *TicketHandler) GetBatchStatus(c *fiber.Ctx) error {
	view, err := h.batches.Status(c.UserContext(), pathParam(c, "id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(batchStatusResponse{
		BatchID:            view.Batch.ID,
		Status:             view.Batch.Status.String(),
		TotalPassengers:    view.Batch.TotalPassengers,
		Generated:          view.Batch.Generated,
		Failed:             view.Batch.Failed,
		Pending:            view.Pending,
		ProgressPercentage: view.ProgressPercentage,
		IsComplete:         view.IsComplete,
		Passengers:         nonNilEntries(view.Passengers),
	})
}

func (h *TicketHandler) RetryBatch(c *fiber.Ctx) error {
	var req retryRequest
	if len(bytes.TrimSpace(c.Body())) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	refs := make([]domain.PassengerRef, 0, len(req.Passengers))
	for _, p := range req.Passengers {
		refs = append(refs, domain.PassengerRef{PaxName: p.PaxName, PNR: p.PNR})
	}

	batch, err := h.batches.Retry(c.UserContext(), pathParam(c, "id"), refs)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toUploadResponse(batch,
		fmt.Sprintf("Retry batch created. Generating %d tickets...", batch.TotalPassengers)))
}

func (h *TicketHandler) DeleteBatch(c *fiber.Ctx) error {
	id := pathParam(c, "id")
	if err := h.batches.Delete(c.UserContext(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(messageResponse{
		Message: "Batch deleted successfully",
		Data:    fiber.Map{"batch_id": id},
	})
}

func (h *TicketHandler) DownloadPDF(c *fiber.Ctx) error {
	filename := pathParam(c, "filename")
	path, err := h.files.OpenArtifact(c.UserContext(), pathParam(c, "batchId"), filename)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Download(path, filename)
}

func (h *TicketHandler) DownloadBundle(c *fiber.Ctx) error {
	var buf bytes.Buffer
	name, err := h.files.WriteBundle(c.UserContext(), pathParam(c, "batchId"), &buf)
	if err != nil {
		return toHTTPError(err)
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Attachment(name)
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}

func (h *TicketHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.batches.Stats(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *TicketHandler) SystemStatus(c *fiber.Ctx) error {
	status, err := h.batches.SystemStatus(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	resp := systemStatusResponse{
		ConverterAvailable:    status.ConverterAvailable,
		OutputDirectoryExists: status.OutputDirExists,
		ManifestExists:        status.ManifestExists,
		TotalBatches:          status.TotalBatches,
	}
	if status.ConverterLocation != "" {
		location := status.ConverterLocation
		resp.ConverterLocation = &location
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// toUploadResponse reports an accepted batch as processing: it has been handed to a
// dispatcher even if no passenger has finished yet.
func toUploadResponse(b *domain.Batch, message string) uploadResponse {
	return uploadResponse{
		BatchID:         b.ID,
		Filename:        b.Filename,
		TotalPassengers: b.TotalPassengers,
		Status:          b.Status.Advance(domain.BatchStatusProcessing).String(),
		RetryOf:         b.RetryOf,
		Message:         message,
	}
}

func nonNilEntries(entries []domain.PassengerEntry) []domain.PassengerEntry {
	if entries == nil {
		return []domain.PassengerEntry{}
	}
	return entries
}
