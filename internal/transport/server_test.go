package transport

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/ticket-engine/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, string) {
	t.Helper()

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp, string(body)
}

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantBody  string
		wantLevel zapcore.Level
	}{
		{
			name:      "fiber error keeps message",
			err:       fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 100"),
			wantCode:  fiber.StatusBadRequest,
			wantBody:  `{"error":"limit must be between 1 and 100"}`,
			wantLevel: zapcore.WarnLevel,
		},
		{
			name:      "unknown error is hidden",
			err:       errors.New("open /var/data/manifest.json: permission denied"),
			wantCode:  fiber.StatusInternalServerError,
			wantBody:  `{"error":"internal server error"}`,
			wantLevel: zapcore.ErrorLevel,
		},
		{
			name:      "explicit 503 keeps message",
			err:       fiber.NewError(fiber.StatusServiceUnavailable, "converter unavailable"),
			wantCode:  fiber.StatusServiceUnavailable,
			wantBody:  `{"error":"converter unavailable"}`,
			wantLevel: zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.DebugLevel)
			app := NewServer(ServerConfig{}, nil, zap.New(core))
			app.Get("/boom", func(*fiber.Ctx) error { return tt.err })

			req := httptest.NewRequest(http.MethodGet, "/boom", nil)
			req.Header.Set(fiber.HeaderXRequestID, "req-42")
			resp, body := doRequest(t, app, req)

			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if body != tt.wantBody {
				t.Fatalf("body = %s, want %s", body, tt.wantBody)
			}

			entries := recorded.All()
			if len(entries) != 1 {
				t.Fatalf("expected 1 log entry, got %d", len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Fatalf("level = %s, want %s", entries[0].Level, tt.wantLevel)
			}
			if got := entries[0].ContextMap()["requestId"]; got != "req-42" {
				t.Fatalf("requestId = %v, want req-42", got)
			}
		})
	}
}

func TestRequestContext(t *testing.T) {
	t.Parallel()

	app := NewServer(ServerConfig{}, nil, nil)
	app.Get("/id", func(c *fiber.Ctx) error {
		id, _ := observability.RequestIDFromContext(c.UserContext())
		return c.SendString(id)
	})

	resp, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/id", nil))
	if body == "" || resp.Header.Get(fiber.HeaderXRequestID) != body {
		t.Fatalf("generated request id %q, header %q", body, resp.Header.Get(fiber.HeaderXRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(fiber.HeaderXRequestID, "client-id")
	if _, body := doRequest(t, app, req); body != "client-id" {
		t.Fatalf("request id = %q, want client-id", body)
	}
}

func TestNewServer_CORS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{name: "listed origin", origins: []string{"http://localhost:3000"}, origin: "http://localhost:3000", want: "http://localhost:3000"},
		{name: "wildcard", origins: []string{"*"}, origin: "http://example.test", want: "*"},
		{name: "no cors configured", origin: "http://localhost:3000", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := NewServer(ServerConfig{AllowedOrigins: tt.origins}, nil, nil)
			app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Header.Set(fiber.HeaderOrigin, tt.origin)
			resp, body := doRequest(t, app, req)
			if body != "pong" {
				t.Fatalf("body = %q", body)
			}
			if got := resp.Header.Get(fiber.HeaderAccessControlAllowOrigin); got != tt.want {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	app := NewServer(ServerConfig{}, nil, nil)
	app.Get("/panic", func(*fiber.Ctx) error { panic("boom") })

	resp, body := doRequest(t, app, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if resp.StatusCode != fiber.StatusInternalServerError || !strings.Contains(body, "internal server error") {
		t.Fatalf("panic response = %d %s", resp.StatusCode, body)
	}
}
