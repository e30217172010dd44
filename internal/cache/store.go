// Package cache holds resolved deputy records and schedules the remote
// fetches that fill it.
//
// Reads never block and never do I/O: a miss returns a placeholder and queues
// the ID. A single drain loop pulls IDs in bounded batches, priority queue
// first, and merges the results back. Failures stay inside the store as entry
// state; no error crosses its boundary.
package cache

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"hemicycle/internal/metrics"
	"hemicycle/internal/models"
	"hemicycle/internal/normalize"
)

// RemoteLookup fetches one deputy's raw detail record.
type RemoteLookup interface {
	FetchDetail(ctx context.Context, id, legislature string) (models.RawRecord, error)
}

const (
	DefaultBatchSize = 10
	DefaultPause     = 250 * time.Millisecond

	subscriberBuffer = 64
)

type queueKind int

const (
	notQueued queueKind = iota
	regularQueue
	priorityQueue
)

// Store is the in-process map from deputy ID to cache entry plus the two
// fetch queues. Construct one per process and share it.
type Store struct {
	mu          sync.Mutex
	entries     map[string]*models.CacheEntry
	priority    []string
	regular     []string
	queued      map[string]queueKind
	draining    bool
	generation  uint64
	subscribers map[int]chan string
	nextSubID   int
	resolved    *lru.Cache[string, struct{}]
	legislature string

	fetcher      RemoteLookup
	clock        clockwork.Clock
	policy       RetryPolicy
	batchSize    int
	pause        time.Duration
	fetchTimeout time.Duration
	capacity     int
	autoDrain    bool
	logger       *slog.Logger
	metrics      *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) { s.policy = p }
}

func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithPause sets the wait between two drain cycles.
func WithPause(d time.Duration) Option {
	return func(s *Store) { s.pause = d }
}

// WithFetchTimeout bounds each remote lookup. Zero means no per-call bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Store) { s.fetchTimeout = d }
}

// WithCapacity bounds the number of resolved entries kept; the least recently
// read ones are evicted first. Zero keeps everything.
func WithCapacity(n int) Option {
	return func(s *Store) { s.capacity = n }
}

// WithManualDrain disables the background drain loop. Queues are then only
// drained by DrainOnce and Flush.
func WithManualDrain() Option {
	return func(s *Store) { s.autoDrain = false }
}

func WithLegislature(legislature string) Option {
	return func(s *Store) { s.legislature = legislature }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store that resolves misses through fetcher.
func New(fetcher RemoteLookup, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		entries:     make(map[string]*models.CacheEntry),
		queued:      make(map[string]queueKind),
		subscribers: make(map[int]chan string),
		fetcher:     fetcher,
		clock:       clockwork.NewRealClock(),
		policy:      DefaultRetryPolicy(),
		batchSize:   DefaultBatchSize,
		pause:       DefaultPause,
		autoDrain:   true,
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.capacity > 0 {
		resolved, err := lru.NewWithEvict[string, struct{}](s.capacity, s.evict)
		if err != nil {
			s.logger.Warn("cache capacity ignored", "capacity", s.capacity, "error", err)
		} else {
			s.resolved = resolved
		}
	}
	return s
}

// evict runs inside lru calls, which only happen with s.mu held.
func (s *Store) evict(id string, _ struct{}) {
	if e, ok := s.entries[id]; ok && e.State == models.StateResolved {
		delete(s.entries, id)
	}
}

// SetLegislature changes the legislature passed to later remote lookups.
// Fetches already in flight complete and are merged as they are.
func (s *Store) SetLegislature(legislature string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legislature = legislature
}

func (s *Store) Legislature() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.legislature
}

// Get returns the entry for id. On a miss it stores a queued placeholder,
// queues the ID with regular priority and returns the placeholder. A failed
// entry whose cooldown has elapsed is queued again.
func (s *Store) Get(id string) models.CacheEntry {
	key := normalize.CanonicalID(id)
	if key == "" {
		return models.CacheEntry{
			Record:  models.Placeholder(""),
			State:   models.StateFailed,
			Failure: models.FailureMalformed,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		switch e.State {
		case models.StateResolved:
			if s.resolved != nil {
				s.resolved.Get(key)
			}
			s.metrics.ObserveLookup("hit")
		case models.StateFailed:
			s.enqueueLocked(key, false)
			s.metrics.ObserveLookup("pending")
		default:
			s.metrics.ObserveLookup("pending")
		}
		return *e
	}

	s.metrics.ObserveLookup("miss")
	s.enqueueLocked(key, false)
	return *s.entries[key]
}

// Peek returns the entry for id without queuing anything.
func (s *Store) Peek(id string) (models.CacheEntry, bool) {
	key := normalize.CanonicalID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return models.CacheEntry{}, false
	}
	return *e, true
}

// Enqueue schedules id for a remote fetch and reports whether it was accepted.
// Resolved and in-flight IDs are refused, as are failed IDs still cooling
// down. An ID already queued is never duplicated; a regular-queued ID asked
// for with priority moves to the priority queue.
func (s *Store) Enqueue(id string, priority bool) bool {
	key := normalize.CanonicalID(id)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(key, priority)
}

func (s *Store) enqueueLocked(key string, priority bool) bool {
	e, exists := s.entries[key]
	if exists {
		switch e.State {
		case models.StateResolved:
			if e.Record.IsResolved() {
				return false
			}
		case models.StateLoading:
			return false
		case models.StateFailed:
			if !s.policy.Eligible(*e, s.clock.Now()) {
				return false
			}
		}
	}

	switch s.queued[key] {
	case priorityQueue:
		return false
	case regularQueue:
		if !priority {
			return false
		}
		s.regular = removeID(s.regular, key)
		s.priority = append(s.priority, key)
		s.queued[key] = priorityQueue
		s.metrics.ObserveEnqueue(true)
		s.afterEnqueueLocked()
		return true
	}

	if !exists {
		e = &models.CacheEntry{Record: models.Placeholder(key)}
		s.entries[key] = e
	}
	e.State = models.StateQueued
	e.Failure = models.FailureNone

	if priority {
		s.priority = append(s.priority, key)
		s.queued[key] = priorityQueue
	} else {
		s.regular = append(s.regular, key)
		s.queued[key] = regularQueue
	}
	s.metrics.ObserveEnqueue(priority)
	s.afterEnqueueLocked()
	return true
}

func (s *Store) afterEnqueueLocked() {
	s.metrics.SetQueueDepth(len(s.priority), len(s.regular))
	s.kickLocked()
}

// MergeResolved stores authoritative records, typically persistent-store
// hits, bypassing the fetch queues. Records without both names are ignored.
// It returns how many records were merged.
func (s *Store) MergeResolved(records []models.DeputyRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := 0
	for _, r := range records {
		key := normalize.CanonicalID(r.ID)
		if key == "" || !r.IsResolved() {
			continue
		}
		r.ID = key
		if r.Profession == "" {
			r.Profession = models.ProfessionNotProvided
		}
		if kind := s.queued[key]; kind != notQueued {
			if kind == priorityQueue {
				s.priority = removeID(s.priority, key)
			} else {
				s.regular = removeID(s.regular, key)
			}
			delete(s.queued, key)
		}
		s.resolveLocked(key, r)
		merged++
	}
	s.metrics.SetQueueDepth(len(s.priority), len(s.regular))
	return merged
}

func (s *Store) resolveLocked(key string, r models.DeputyRecord) *models.CacheEntry {
	e, ok := s.entries[key]
	if !ok {
		e = &models.CacheEntry{}
		s.entries[key] = e
	}
	e.Record = r
	e.State = models.StateResolved
	e.Failure = models.FailureNone

	s.generation++
	for _, ch := range s.subscribers {
		select {
		case ch <- key:
		default:
		}
	}
	if s.resolved != nil {
		s.resolved.Add(key, struct{}{})
	}
	return e
}

// Generation increases every time an entry becomes resolved. Consumers can
// poll it to know when to re-read.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Subscribe returns a channel receiving IDs as they resolve, and a function
// that cancels the subscription. Slow subscribers miss notifications rather
// than stall the store.
func (s *Store) Subscribe() (<-chan string, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan string, subscriberBuffer)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			close(ch)
		})
	}
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Entries    int                            `json:"entries"`
	ByState    map[models.ResolutionState]int `json:"by_state"`
	Priority   int                            `json:"priority_queue"`
	Regular    int                            `json:"regular_queue"`
	Draining   bool                           `json:"draining"`
	Generation uint64                         `json:"generation"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Entries:    len(s.entries),
		ByState:    make(map[models.ResolutionState]int),
		Priority:   len(s.priority),
		Regular:    len(s.regular),
		Draining:   s.draining,
		Generation: s.generation,
	}
	for _, e := range s.entries {
		st.ByState[e.State]++
	}
	return st
}

// Close stops the background drain loop and waits for it. Queued IDs stay queued.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

func removeID(queue []string, id string) []string {
	if i := slices.Index(queue, id); i >= 0 {
		return slices.Delete(queue, i, i+1)
	}
	return queue
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
