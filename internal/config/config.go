package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/ticket-engine/internal/domain"
)

const (
	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"

	SerialBackendFile  = "file"
	SerialBackendRedis = "redis"

	DispatchModeInProcess = "inprocess"
	DispatchModeRabbitMQ  = "rabbitmq"

	ConverterSoffice   = "soffice"
	ConverterGotenberg = "gotenberg"
)

type Config struct {
	APIPort              int           `env:"API_PORT,default=8080"`
	LogLevel             string        `env:"LOG_LEVEL,default=info"`
	OutputDir            string        `env:"OUTPUT_DIR,default=output"`
	DataDir              string        `env:"DATA_DIR,default=data"`
	TemplateDir          string        `env:"TEMPLATE_DIR,default=templates"`
	AirportsFile         string        `env:"AIRPORTS_FILE"`
	BatchIDPrefix        string        `env:"BATCH_ID_PREFIX,default=AAQ"`
	StoreDriver          string        `env:"STORE_DRIVER,default=file"`
	DatabaseDSN          string        `env:"DATABASE_DSN"`
	SerialBackend        string        `env:"SERIAL_BACKEND,default=file"`
	RedisURL             string        `env:"REDIS_URL"`
	DispatchMode         string        `env:"DISPATCH_MODE,default=inprocess"`
	RabbitMQURL          string        `env:"RABBITMQ_URL"`
	MaxConcurrentBatches int           `env:"MAX_CONCURRENT_BATCHES,default=2"`
	Converter            string        `env:"CONVERTER,default=soffice"`
	SofficePath          string        `env:"SOFFICE_PATH"`
	GotenbergURL         string        `env:"GOTENBERG_URL"`
	ConvertTimeout       time.Duration `env:"CONVERT_TIMEOUT,default=60s"`
	ResumeOnStart        bool          `env:"RESUME_ON_START,default=true"`
	CORSOrigins          string        `env:"CORS_ORIGINS,default=http://localhost,http://localhost:3000"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.SerialBackend = strings.ToLower(strings.TrimSpace(c.SerialBackend))
	c.DispatchMode = strings.ToLower(strings.TrimSpace(c.DispatchMode))
	c.Converter = strings.ToLower(strings.TrimSpace(c.Converter))
	c.BatchIDPrefix = strings.TrimSpace(c.BatchIDPrefix)
}

// Validate checks the settings that only become required for a chosen backend.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverFile:
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("%w: DATABASE_DSN is required when STORE_DRIVER=postgres", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", domain.ErrValidation, c.StoreDriver)
	}

	switch c.SerialBackend {
	case SerialBackendFile:
	case SerialBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("%w: REDIS_URL is required when SERIAL_BACKEND=redis", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown SERIAL_BACKEND %q", domain.ErrValidation, c.SerialBackend)
	}

	switch c.DispatchMode {
	case DispatchModeInProcess:
	case DispatchModeRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("%w: RABBITMQ_URL is required when DISPATCH_MODE=rabbitmq", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown DISPATCH_MODE %q", domain.ErrValidation, c.DispatchMode)
	}

	switch c.Converter {
	case ConverterSoffice:
	case ConverterGotenberg:
		if strings.TrimSpace(c.GotenbergURL) == "" {
			return fmt.Errorf("%w: GOTENBERG_URL is required when CONVERTER=gotenberg", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown CONVERTER %q", domain.ErrValidation, c.Converter)
	}

	if c.BatchIDPrefix == "" {
		return fmt.Errorf("%w: BATCH_ID_PREFIX must not be empty", domain.ErrValidation)
	}
	if err := domain.ValidateBatchID(c.BatchIDPrefix); err != nil {
		return err
	}
	if c.ConvertTimeout <= 0 {
		return fmt.Errorf("%w: CONVERT_TIMEOUT must be positive", domain.ErrValidation)
	}
	return nil
}

func (c *Config) AllowedOrigins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
