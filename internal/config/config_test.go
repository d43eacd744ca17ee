package config

import (
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.StoreDriver != StoreDriverFile {
		t.Errorf("StoreDriver = %s, want file", cfg.StoreDriver)
	}
	if cfg.DispatchMode != DispatchModeInProcess {
		t.Errorf("DispatchMode = %s, want inprocess", cfg.DispatchMode)
	}
	if cfg.ConvertTimeout != 60*time.Second {
		t.Errorf("ConvertTimeout = %s, want 60s", cfg.ConvertTimeout)
	}
	if cfg.BatchIDPrefix != "AAQ" {
		t.Errorf("BatchIDPrefix = %s, want AAQ", cfg.BatchIDPrefix)
	}
	if !cfg.ResumeOnStart {
		t.Error("ResumeOnStart should default to true")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_DSN", "host=localhost user=test password=test dbname=test port=5432 sslmode=disable")
	t.Setenv("SERIAL_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CONVERT_TIMEOUT", "90s")
	t.Setenv("MAX_CONCURRENT_BATCHES", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Errorf("StoreDriver = %s, want postgres", cfg.StoreDriver)
	}
	if cfg.SerialBackend != SerialBackendRedis {
		t.Errorf("SerialBackend = %s, want redis", cfg.SerialBackend)
	}
	if cfg.ConvertTimeout != 90*time.Second {
		t.Errorf("ConvertTimeout = %s, want 90s", cfg.ConvertTimeout)
	}
	if cfg.MaxConcurrentBatches != 4 {
		t.Errorf("MaxConcurrentBatches = %d, want 4", cfg.MaxConcurrentBatches)
	}
}

func TestLoad_MissingConditionalRequired(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "postgres without dsn", env: map[string]string{"STORE_DRIVER": "postgres"}},
		{name: "redis without url", env: map[string]string{"SERIAL_BACKEND": "redis"}},
		{name: "rabbitmq without url", env: map[string]string{"DISPATCH_MODE": "rabbitmq"}},
		{name: "gotenberg without url", env: map[string]string{"CONVERTER": "gotenberg"}},
		{name: "unknown driver", env: map[string]string{"STORE_DRIVER": "mysql"}},
		{name: "bad prefix", env: map[string]string{"BATCH_ID_PREFIX": "../"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			_, err := Load()
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Load() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := Config{CORSOrigins: " http://localhost , ,http://localhost:3000"}

	origins := cfg.AllowedOrigins()
	if len(origins) != 2 {
		t.Fatalf("AllowedOrigins() len = %d, want 2", len(origins))
	}
	if origins[0] != "http://localhost" || origins[1] != "http://localhost:3000" {
		t.Fatalf("AllowedOrigins() = %v", origins)
	}
}
