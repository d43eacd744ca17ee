package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
	"github.com/kursadbilgin/ticket-engine/internal/service"
	"github.com/kursadbilgin/ticket-engine/internal/transport"
)

type stubBatchService struct {
	uploadFn       func(ctx context.Context, filename string, r io.Reader) (*domain.Batch, error)
	retryFn        func(ctx context.Context, sourceID string, refs []domain.PassengerRef) (*domain.Batch, error)
	getFn          func(ctx context.Context, id string) (*domain.BatchDetails, error)
	listFn         func(ctx context.Context, page, limit int) (*repository.BatchPage, error)
	statusFn       func(ctx context.Context, id string) (*service.BatchStatusView, error)
	deleteFn       func(ctx context.Context, id string) error
	statsFn        func(ctx context.Context) (domain.Statistics, error)
	systemStatusFn func(ctx context.Context) (*service.SystemStatus, error)
}

func (s *stubBatchService) Upload(ctx context.Context, filename string, r io.Reader) (*domain.Batch, error) {
	if s.uploadFn != nil {
		return s.uploadFn(ctx, filename, r)
	}
	return nil, errors.New("not implemented")
}

func (s *stubBatchService) Retry(ctx context.Context, sourceID string, refs []domain.PassengerRef) (*domain.Batch, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, sourceID, refs)
	}
	return nil, errors.New("not implemented")
}

func (s *stubBatchService) Get(ctx context.Context, id string) (*domain.BatchDetails, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBatchService) List(ctx context.Context, page, limit int) (*repository.BatchPage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, page, limit)
	}
	return &repository.BatchPage{Page: page, Limit: limit}, nil
}

func (s *stubBatchService) Status(ctx context.Context, id string) (*service.BatchStatusView, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBatchService) Delete(ctx context.Context, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id)
	}
	return nil
}

func (s *stubBatchService) Stats(ctx context.Context) (domain.Statistics, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx)
	}
	return domain.Statistics{}, nil
}

func (s *stubBatchService) SystemStatus(ctx context.Context) (*service.SystemStatus, error) {
	if s.systemStatusFn != nil {
		return s.systemStatusFn(ctx)
	}
	return &service.SystemStatus{}, nil
}

type stubArtifactService struct {
	openArtifactFn func(ctx context.Context, batchID, filename string) (string, error)
	writeBundleFn  func(ctx context.Context, batchID string, w io.Writer) (string, error)
}

func (s *stubArtifactService) OpenArtifact(ctx context.Context, batchID, filename string) (string, error) {
	if s.openArtifactFn != nil {
		return s.openArtifactFn(ctx, batchID, filename)
	}
	return "", domain.ErrNotFound
}

func (s *stubArtifactService) WriteBundle(ctx context.Context, batchID string, w io.Writer) (string, error) {
	if s.writeBundleFn != nil {
		return s.writeBundleFn(ctx, batchID, w)
	}
	return "", domain.ErrNothingToBundle
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	return transport.NewServer(transport.ServerConfig{}, nil, nil)
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return doRequest(t, app, req)
}

type formFile struct {
	field    string
	filename string
	content  []byte
}

func performMultipart(t *testing.T, app *fiber.App, method, path string, fields map[string]string, files ...formFile) (*http.Response, []byte) {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write(f.content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return doRequest(t, app, req)
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func TestToHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: domain.ErrValidation, want: fiber.StatusBadRequest},
		{name: "not found", err: domain.ErrNotFound, want: fiber.StatusNotFound},
		{name: "nothing to bundle", err: domain.ErrNothingToBundle, want: fiber.StatusNotFound},
		{name: "conflict", err: domain.ErrConflict, want: fiber.StatusConflict},
		{name: "converter unavailable", err: domain.ErrConverterUnavailable, want: fiber.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var fe *fiber.Error
			if !errors.As(toHTTPError(tt.err), &fe) || fe.Code != tt.want {
				t.Fatalf("toHTTPError(%v) = %v, want code %d", tt.err, fe, tt.want)
			}
		})
	}

	storage := domain.ErrStorage
	if got := toHTTPError(storage); got != storage {
		t.Fatalf("toHTTPError(storage) = %v, want passthrough", got)
	}
}
