// Package storage holds the persistent deputy tables that the prefetch step
// reads before anything is fetched remotely, and that the sync job fills.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hemicycle/internal/models"
)

// Store is a persistent deputy table partitioned by legislature.
type Store interface {
	// BatchGet returns the rows it has for ids; absent IDs are not an error.
	BatchGet(ctx context.Context, ids []string, legislature string) ([]models.DeputyRecord, error)
	// Count returns how many deputies are stored for the legislature.
	Count(ctx context.Context, legislature string) (int, error)
	// SaveDeputies upserts records and returns how many were written.
	SaveDeputies(ctx context.Context, legislature string, records []models.DeputyRecord) (int, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendPocketBase = "pocketbase"
	BackendPostgres   = "postgres"
	BackendMemory     = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	DataDir     string
	DatabaseURL string
	// RedisURL, when set, puts a RedisStore in front of the backend.
	RedisURL string
	RedisTTL time.Duration
	Logger   *slog.Logger
}

// Open builds the configured store.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		primary Store
		err     error
	)
	switch opts.Backend {
	case "", BackendPocketBase:
		primary, err = NewPocketBaseStore(opts.DataDir)
	case BackendPostgres:
		primary, err = NewPostgresStore(ctx, opts.DatabaseURL)
	case BackendMemory:
		primary = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if opts.RedisURL == "" {
		return primary, nil
	}
	front, err := NewRedisStore(ctx, opts.RedisURL, opts.RedisTTL)
	if err != nil {
		primary.Close()
		return nil, err
	}
	return NewTiered(front, primary, opts.Logger), nil
}

// validRecords drops records that cannot be stored: an empty ID or no name.
func validRecords(records []models.DeputyRecord) []models.DeputyRecord {
	out := make([]models.DeputyRecord, 0, len(records))
	for _, r := range records {
		if r.Validate() != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}
