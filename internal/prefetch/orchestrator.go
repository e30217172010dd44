// Package prefetch warms the deputy cache in bulk from the persistent store
// before individual records are read.
package prefetch

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"hemicycle/internal/metrics"
	"hemicycle/internal/models"
	"hemicycle/internal/normalize"
)

// DefaultBatchSize is the number of IDs sent per persistent-store query.
const DefaultBatchSize = 50

const maxParallelQueries = 4

// PersistentLookup batch-reads deputy rows. IDs absent from the result were
// not found; that is not an error.
type PersistentLookup interface {
	BatchGet(ctx context.Context, ids []string, legislature string) ([]models.DeputyRecord, error)
	Count(ctx context.Context, legislature string) (int, error)
}

// Cache is the part of the cache store the orchestrator writes to.
type Cache interface {
	MergeResolved(records []models.DeputyRecord) int
	Enqueue(id string, priority bool) bool
}

// WarmResult reports what one warm-up found.
type WarmResult struct {
	Requested int `json:"requested"`
	Found     int `json:"found"`
	Missing   int `json:"missing"`
	// Unsynced is set when the store holds no rows for the legislature, so
	// every miss is a sync gap rather than an unknown deputy.
	Unsynced bool `json:"unsynced,omitempty"`
}

// Orchestrator resolves what it can from the persistent store and escalates
// the rest to the remote fetch queue with priority.
type Orchestrator struct {
	store     PersistentLookup
	cache     Cache
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. store may be nil, in which case every ID is
// escalated to the remote tier.
func New(store PersistentLookup, cache Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		cache:     cache,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Warm extracts every deputy ID referenced by groups, merges persistent-store
// hits into the cache and queues the misses for remote fetch with priority.
// It returns once the store lookups are done; it does not wait for the
// remote fetches. It never fails: store errors count as misses.
func (o *Orchestrator) Warm(ctx context.Context, groups map[string]any, legislature string) WarmResult {
	return o.WarmIDs(ctx, normalize.DeputyIDs(groups), legislature)
}

// WarmIDs is Warm for an explicit ID list. IDs are canonicalized and
// deduplicated first; invalid ones are dropped.
func (o *Orchestrator) WarmIDs(ctx context.Context, ids []string, legislature string) WarmResult {
	ids = normalize.CanonicalIDs(ids)
	result := WarmResult{Requested: len(ids)}
	if len(ids) == 0 {
		return result
	}

	found := make(map[string]models.DeputyRecord, len(ids))
	if o.store != nil {
		if o.storeIsEmpty(ctx, legislature) {
			result.Unsynced = true
		} else {
			found = o.lookup(ctx, ids, legislature)
		}
	}

	records := make([]models.DeputyRecord, 0, len(found))
	for _, r := range found {
		records = append(records, r)
	}
	o.cache.MergeResolved(records)
	result.Found = len(found)

	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		o.cache.Enqueue(id, true)
		result.Missing++
	}

	o.metrics.ObserveWarm(result.Requested, result.Found, result.Missing)
	o.logger.InfoContext(ctx, "deputy prefetch",
		"legislature", legislature,
		"requested", result.Requested,
		"found", result.Found,
		"missing", result.Missing,
		"unsynced", result.Unsynced,
	)
	return result
}

func (o *Orchestrator) storeIsEmpty(ctx context.Context, legislature string) bool {
	n, err := o.store.Count(ctx, legislature)
	if err != nil {
		o.metrics.IncStoreError("count")
		o.logger.WarnContext(ctx, "persistent store count failed", "legislature", legislature, "error", err)
		return false
	}
	return n == 0
}

// lookup queries the store in bounded batches and returns resolved rows keyed
// by canonical ID. Rows for IDs that were not asked for are dropped.
func (o *Orchestrator) lookup(ctx context.Context, ids []string, legislature string) map[string]models.DeputyRecord {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var (
		mu    sync.Mutex
		found = make(map[string]models.DeputyRecord, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelQueries)
	for start := 0; start < len(ids); start += o.batchSize {
		chunk := ids[start:min(start+o.batchSize, len(ids))]
		g.Go(func() error {
			rows, err := o.store.BatchGet(gctx, chunk, legislature)
			if err != nil {
				o.metrics.IncStoreError("batch_get")
				o.logger.WarnContext(gctx, "persistent store lookup failed, escalating batch",
					"legislature", legislature,
					"ids", len(chunk),
					"error", err,
				)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range rows {
				id := normalize.CanonicalID(r.ID)
				if _, ok := wanted[id]; !ok || !r.IsResolved() {
					continue
				}
				r.ID = id
				found[id] = r
			}
			return nil
		})
	}
	_ = g.Wait()
	return found
}
