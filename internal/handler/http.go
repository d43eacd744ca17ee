package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/kursadbilgin/ticket-engine/internal/repository"
)

const (
	defaultPage  = 1
	defaultLimit = repository.DefaultPageLimit
)

type messageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func pageParams(c *fiber.Ctx) (int, int) {
	return c.QueryInt("page", defaultPage), c.QueryInt("limit", defaultLimit)
}

func pathParam(c *fiber.Ctx, name string) string {
	return strings.TrimSpace(c.Params(name))
}

// openUpload returns the named multipart file, or nil when the request carries none.
func openUpload(c *fiber.Ctx, field string) (*multipart.FileHeader, io.ReadCloser, error) {
	fh, err := c.FormFile(field)
	if err != nil || fh == nil || strings.TrimSpace(fh.Filename) == "" {
		return nil, nil, nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unreadable upload %q", domain.ErrValidation, fh.Filename)
	}
	return fh, f, nil
}

// formValues collects submitted form fields. Absent fields are missing from the map, which
// lets updates tell "not sent" apart from "sent empty".
func formValues(c *fiber.Ctx) map[string]string {
	values := make(map[string]string)
	if form, err := c.MultipartForm(); err == nil {
		for key, v := range form.Value {
			if len(v) > 0 {
				values[key] = v[0]
			}
		}
		return values
	}

	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		values[string(key)] = string(value)
	})
	return values
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNothingToBundle):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConverterUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
