package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pingTimeout    = 5 * time.Second
	commandTimeout = 2 * time.Second
)

// NewRedis connects to the serial counter backend. Counter calls are single round trips,
// so commands get a short timeout unless the URL sets one.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = commandTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = commandTimeout
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis %s: %w", opts.Addr, err)
	}

	return client, nil
}
