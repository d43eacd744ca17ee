package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

const (
	counterKeyPrefix = "ticket:serial:"
	counterIndexKey  = "ticket:serial:_keys"
)

// incrementScript bumps a counter and records its name in the index set in one step,
// so Counters never has to SCAN the keyspace.
var incrementScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
redis.call("SADD", KEYS[2], ARGV[1])
return current
`)

// CounterStore keeps ticket serial counters in Redis so several API processes can
// allocate from the same sequence.
type CounterStore struct {
	client *goredis.Client
	script *goredis.Script
}

func NewCounterStore(client *goredis.Client) (*CounterStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &CounterStore{client: client, script: incrementScript}, nil
}

func (s *CounterStore) Increment(ctx context.Context, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("counter key is required")
	}

	value, err := s.script.Run(ctx, s.client, []string{counterKeyPrefix + key, counterIndexKey}, key).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}
	return value, nil
}

func (s *CounterStore) Counters(ctx context.Context) (map[string]int64, error) {
	names, err := s.client.SMembers(ctx, counterIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}

	out := make(map[string]int64, len(names))
	if len(names) == 0 {
		return out, nil
	}

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = counterKeyPrefix + name
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s holds %q: %w", names[i], str, err)
		}
		out[names[i]] = n
	}
	return out, nil
}
