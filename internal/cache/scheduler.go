package cache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"hemicycle/internal/models"
	"hemicycle/internal/normalize"
	"hemicycle/internal/remote"
)

type fetchResult struct {
	id      string
	record  models.DeputyRecord
	failure models.FailureKind
	err     error
}

// kickLocked starts the drain loop unless one is already running. The
// draining flag is checked and set under s.mu, so at most one loop exists.
func (s *Store) kickLocked() {
	if !s.autoDrain || s.draining || s.ctx.Err() != nil {
		return
	}
	if len(s.priority)+len(s.regular) == 0 {
		return
	}
	s.draining = true
	s.wg.Add(1)
	go s.drainLoop()
}

// drainLoop waits one pause before its first batch so that IDs enqueued in
// the same burst are taken together, priority first.
func (s *Store) drainLoop() {
	defer s.wg.Done()
	select {
	case <-s.clock.After(s.pause):
	case <-s.ctx.Done():
	}
	for {
		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.draining = false
			s.mu.Unlock()
			return
		}
		batch := s.takeBatchLocked()
		if len(batch) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.runBatch(s.ctx, batch)

		if s.pending() == 0 {
			continue
		}
		select {
		case <-s.clock.After(s.pause):
		case <-s.ctx.Done():
		}
	}
}

// DrainOnce runs one drain cycle on the calling goroutine and returns the
// number of IDs it fetched. It does nothing while another cycle is running.
func (s *Store) DrainOnce(ctx context.Context) int {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return 0
	}
	batch := s.takeBatchLocked()
	if len(batch) == 0 {
		s.mu.Unlock()
		return 0
	}
	s.draining = true
	s.mu.Unlock()

	s.runBatch(ctx, batch)

	s.mu.Lock()
	s.draining = false
	s.kickLocked()
	s.mu.Unlock()
	return len(batch)
}

// Flush drains until both queues are empty, without pausing between cycles.
// It is meant for manual-drain stores.
func (s *Store) Flush(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n := s.DrainOnce(ctx)
		if n == 0 {
			break
		}
		total += n
	}
	return total
}

// Wait blocks until the background drain loop, if any, has stopped.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.priority) + len(s.regular)
}

// takeBatchLocked pops up to batchSize IDs, exhausting the priority queue
// before touching the regular one, and marks them loading.
func (s *Store) takeBatchLocked() []string {
	n := min(s.batchSize, len(s.priority)+len(s.regular))
	if n == 0 {
		return nil
	}
	batch := make([]string, 0, n)

	take := min(n, len(s.priority))
	batch = append(batch, s.priority[:take]...)
	s.priority = s.priority[take:]

	if rest := n - take; rest > 0 {
		batch = append(batch, s.regular[:rest]...)
		s.regular = s.regular[rest:]
	}

	now := s.clock.Now()
	for _, id := range batch {
		delete(s.queued, id)
		e := s.entries[id]
		if e == nil {
			e = &models.CacheEntry{Record: models.Placeholder(id)}
			s.entries[id] = e
		}
		e.State = models.StateLoading
		e.Attempts++
		e.LastAttemptAt = later(e.LastAttemptAt, now)
	}
	s.metrics.SetQueueDepth(len(s.priority), len(s.regular))
	s.metrics.ObserveBatch(len(batch))
	return batch
}

// runBatch fetches every ID of the batch concurrently, waits for all of them
// and applies the results in one critical section.
func (s *Store) runBatch(ctx context.Context, batch []string) {
	legislature := s.Legislature()
	results := make([]fetchResult, len(batch))

	var g errgroup.Group
	for i, id := range batch {
		g.Go(func() error {
			results[i] = s.fetchOne(ctx, id, legislature)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	resolved, failed := 0, 0
	for _, r := range results {
		if r.err == nil {
			e := s.resolveLocked(r.id, r.record)
			e.LastAttemptAt = later(e.LastAttemptAt, now)
			resolved++
			continue
		}

		e := s.entries[r.id]
		if e == nil {
			e = &models.CacheEntry{Record: models.Placeholder(r.id)}
			s.entries[r.id] = e
		}
		if e.State == models.StateResolved {
			// resolved by a store merge while the fetch was in flight
			continue
		}
		e.State = models.StateFailed
		e.Failure = r.failure
		e.LastAttemptAt = later(e.LastAttemptAt, now)
		failed++
		s.logger.Debug("deputy lookup failed",
			"id", r.id,
			"failure", string(r.failure),
			"attempts", e.Attempts,
			"error", r.err,
		)
	}
	s.logger.Debug("drain cycle complete",
		"batch", len(batch),
		"resolved", resolved,
		"failed", failed,
		"pending", len(s.priority)+len(s.regular),
	)
}

func (s *Store) fetchOne(ctx context.Context, id, legislature string) fetchResult {
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := s.fetcher.FetchDetail(ctx, id, legislature)
	elapsed := time.Since(start)
	if err != nil {
		kind := models.FailureTransient
		if remote.IsNotFound(err) {
			kind = models.FailureNotFound
		}
		s.metrics.ObserveFetch(string(kind), elapsed)
		return fetchResult{id: id, failure: kind, err: err}
	}

	record := normalize.Deputy(raw)
	if !record.IsResolved() {
		s.metrics.ObserveFetch(string(models.FailureMalformed), elapsed)
		return fetchResult{id: id, failure: models.FailureMalformed, err: errMalformed}
	}
	if record.ID != "" && record.ID != id {
		s.logger.Debug("remote record id differs from requested id", "requested", id, "returned", record.ID)
	}
	record.ID = id
	s.metrics.ObserveFetch("resolved", elapsed)
	return fetchResult{id: id, record: record}
}
