package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
)

const countersFilename = "ticket_counters.json"

type countersFile struct {
	Counters    map[string]int64 `json:"counters"`
	LastUpdated time.Time        `json:"last_updated"`
}

// FileCounterRepo keeps named counters in DATA_DIR/ticket_counters.json.
type FileCounterRepo struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewFileCounterRepo(dataDir string) (*FileCounterRepo, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("%w: data directory is required", domain.ErrValidation)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %w", domain.ErrStorage, err)
	}
	return &FileCounterRepo{path: filepath.Join(dataDir, countersFilename), now: time.Now}, nil
}

func (r *FileCounterRepo) Increment(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return 0, err
	}
	data.Counters[key]++
	data.LastUpdated = r.now().UTC()

	if err := writeJSONAtomic(r.path, data); err != nil {
		return 0, err
	}
	return data.Counters[key], nil
}

func (r *FileCounterRepo) Counters(ctx context.Context) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.load()
	if err != nil {
		return nil, err
	}
	return data.Counters, nil
}

func (r *FileCounterRepo) load() (*countersFile, error) {
	data := &countersFile{}
	if _, err := readJSON(r.path, data); err != nil {
		return nil, err
	}
	if data.Counters == nil {
		data.Counters = make(map[string]int64)
	}
	return data, nil
}
