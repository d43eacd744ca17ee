package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	gotenbergTool       = "gotenberg"
	gotenbergConvertURI = "/forms/libreoffice/convert"
	gotenbergHealthURI  = "/health"
	healthCheckTimeout  = 2 * time.Second
)

// GotenbergConverter delegates conversion to a Gotenberg instance over HTTP.
type GotenbergConverter struct {
	client  *resty.Client
	baseURL string
	logger  *zap.Logger
}

func NewGotenbergConverter(baseURL string, timeout time.Duration, logger *zap.Logger) (*GotenbergConverter, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultConvertTimeout
	}
	client.SetTimeout(timeout)

	return NewGotenbergConverterWithClient(baseURL, client, logger)
}

func NewGotenbergConverterWithClient(baseURL string, client *resty.Client, logger *zap.Logger) (*GotenbergConverter, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("gotenberg url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid gotenberg url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultConvertTimeout)
	}
	client.SetRetryCount(0)

	return &GotenbergConverter{
		client:  client,
		baseURL: trimmed,
		logger:  logger,
	}, nil
}

// Available probes the health endpoint.
func (c *GotenbergConverter) Available() bool {
	if c == nil || c.client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	resp, err := c.client.R().SetContext(ctx).Get(c.baseURL + gotenbergHealthURI)
	if err != nil {
		c.logger.Debug("gotenberg health check failed", zap.Error(err))
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

func (c *GotenbergConverter) Location() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

func (c *GotenbergConverter) Convert(ctx context.Context, inputPath, outputDir string) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("%w: gotenberg client is not initialized", domain.ErrConverterUnavailable)
	}
	if err := checkInput(gotenbergTool, inputPath); err != nil {
		return "", err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", &ConversionError{Tool: gotenbergTool, Message: "create output dir", Cause: err}
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetFile("files", inputPath).
		SetDoNotParseResponse(true).
		Post(c.baseURL + gotenbergConvertURI)
	if err != nil {
		return "", &ConversionError{
			Tool:    gotenbergTool,
			Timeout: isTimeout(err),
			Message: "request failed",
			Cause:   err,
		}
	}

	body := resp.RawBody()
	if body == nil {
		return "", &ConversionError{Tool: gotenbergTool, Message: "empty response"}
	}
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(body, maxStderrExcerpt+1))
		return "", &ConversionError{
			Tool:    gotenbergTool,
			Message: fmt.Sprintf("status %d", resp.StatusCode()),
			Stderr:  excerpt(string(detail)),
		}
	}

	outputPath := filepath.Join(outputDir, pdfName(inputPath))
	if err := writeOutput(outputPath, body); err != nil {
		return "", &ConversionError{Tool: gotenbergTool, Timeout: isTimeout(err), Message: "write output", Cause: err}
	}

	return outputPath, nil
}

func writeOutput(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
