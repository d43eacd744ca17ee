package transport

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/kursadbilgin/ticket-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultBodyLimit    = 50 * 1024 * 1024
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 2 * time.Minute
)

type ServerConfig struct {
	AllowedOrigins []string
	BodyLimit      int
}

// NewServer builds the fiber app with the shared middleware chain: panic recovery, request
// ids, CORS and request metrics.
func NewServer(cfg ServerConfig, metrics *observability.Metrics, logger *zap.Logger) *fiber.App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = defaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		AppName:               "ticket-engine",
		ErrorHandler:          ErrorHandler(logger),
		BodyLimit:             cfg.BodyLimit,
		ReadTimeout:           defaultReadTimeout,
		WriteTimeout:          defaultWriteTimeout,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(RequestContext())
	if len(cfg.AllowedOrigins) > 0 {
		origins := strings.Join(cfg.AllowedOrigins, ",")
		// fiber rejects credentials together with a wildcard origin.
		app.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowCredentials: !strings.Contains(origins, "*"),
		}))
	}
	if metrics != nil {
		app.Use(metrics.HTTPMiddleware())
	}

	return app
}

// RequestContext copies the request id into the user context so services log under it.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := RequestID(c); id != "" {
			c.SetUserContext(observability.WithRequestID(c.UserContext(), id))
		}
		return c.Next()
	}
}

func RequestID(c *fiber.Ctx) string {
	if value, ok := c.Locals("requestid").(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
}
