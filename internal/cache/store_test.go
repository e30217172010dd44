package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"hemicycle/internal/models"
	"hemicycle/internal/remote"
)

type fakeFetcher struct {
	mu           sync.Mutex
	calls        []string
	legislatures []string
	records      map[string]models.RawRecord
	errs         map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		records: make(map[string]models.RawRecord),
		errs:    make(map[string]error),
	}
}

func (f *fakeFetcher) add(id, given, family string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id] = models.RawRecord{"uid": id, "prenom": given, "nom": family}
}

func (f *fakeFetcher) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeFetcher) FetchDetail(_ context.Context, id, legislature string) (models.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	f.legislatures = append(f.legislatures, legislature)
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, remote.NewLookupError("status", id, 404, remote.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == id {
			n++
		}
	}
	return n
}

type StoreSuite struct {
	suite.Suite
	clock   clockwork.FakeClock
	fetcher *fakeFetcher
	store   *Store
	ctx     context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.clock = clockwork.NewFakeClock()
	s.fetcher = newFakeFetcher()
	s.store = New(s.fetcher,
		WithClock(s.clock),
		WithManualDrain(),
		WithLegislature("17"),
	)
	s.ctx = context.Background()
}

func (s *StoreSuite) TearDownTest() {
	s.store.Close()
}

func (s *StoreSuite) takeBatch() []string {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.store.takeBatchLocked()
}

func (s *StoreSuite) TestGetMissReturnsQueuedPlaceholder() {
	s.fetcher.add("PA1592", "Marie", "Curie")

	first := s.store.Get("1592")
	second := s.store.Get("1592")

	s.Equal("PA1592", first.Record.ID)
	s.Equal(models.StateQueued, first.State)
	s.Equal(models.ProfessionNotProvided, first.Record.Profession)
	s.Equal(first, second)
	s.Equal([]string{"PA1592"}, s.store.regular)

	s.Equal(1, s.store.Flush(s.ctx))
	s.Equal(1, s.fetcher.callCount("PA1592"))
	s.Equal([]string{"17"}, s.fetcher.legislatures)

	resolved := s.store.Get("PA1592")
	s.Equal(models.StateResolved, resolved.State)
	s.Equal("Marie", resolved.Record.GivenName)
	s.Equal("PA1592", resolved.Record.ID)
}

func (s *StoreSuite) TestEnqueueDeduplicates() {
	s.fetcher.add("PA7", "Jean", "Moulin")

	s.True(s.store.Enqueue("PA7", false))
	for range 4 {
		s.False(s.store.Enqueue("PA7", false))
	}
	s.False(s.store.Enqueue("7", false))

	s.store.Flush(s.ctx)
	s.Equal(1, s.fetcher.callCount("PA7"))
}

func (s *StoreSuite) TestEnqueueRejectsInvalidID() {
	s.False(s.store.Enqueue("PO800490", true))
	s.Empty(s.store.priority)

	entry := s.store.Get("not-an-id")
	s.Equal(models.StateFailed, entry.State)
	s.Equal(models.FailureMalformed, entry.Failure)
	s.Equal(0, s.store.Stats().Entries)
}

func (s *StoreSuite) TestPriorityDrainedBeforeRegular() {
	s.True(s.store.Enqueue("PA1", false))
	s.True(s.store.Enqueue("PA2", true))

	s.Equal([]string{"PA2", "PA1"}, s.takeBatch())
}

func (s *StoreSuite) TestPriorityExhaustedAcrossBatches() {
	s.store.batchSize = 2
	s.store.Enqueue("PA10", false)
	s.store.Enqueue("PA11", false)
	s.store.Enqueue("PA1", true)
	s.store.Enqueue("PA2", true)
	s.store.Enqueue("PA3", true)

	s.Equal([]string{"PA1", "PA2"}, s.takeBatch())
	s.Equal([]string{"PA3", "PA10"}, s.takeBatch())
	s.Equal([]string{"PA11"}, s.takeBatch())
	s.Nil(s.takeBatch())
}

func (s *StoreSuite) TestRegularPromotedToPriority() {
	s.True(s.store.Enqueue("PA1", false))
	s.True(s.store.Enqueue("PA1", true))
	s.Empty(s.store.regular)
	s.Equal([]string{"PA1"}, s.store.priority)

	// already prioritized: no duplicate either way
	s.False(s.store.Enqueue("PA1", false))
	s.False(s.store.Enqueue("PA1", true))
	s.Equal([]string{"PA1"}, s.store.priority)
}

func (s *StoreSuite) TestResolvedEntryNeverRegresses() {
	merged := s.store.MergeResolved([]models.DeputyRecord{
		{ID: "1", GivenName: "Simone", FamilyName: "Veil"},
	})
	s.Equal(1, merged)

	s.False(s.store.Enqueue("PA1", true))
	s.False(s.store.Enqueue("PA1", false))

	entry := s.store.Get("PA1")
	s.Equal(models.StateResolved, entry.State)
	s.Equal(models.ProfessionNotProvided, entry.Record.Profession)
	s.Equal(0, s.store.Flush(s.ctx))
	s.Empty(s.fetcher.calls)
}

func (s *StoreSuite) TestMergeResolvedDropsQueuedIDs() {
	s.store.Enqueue("PA1", false)
	s.store.Enqueue("PA2", true)

	merged := s.store.MergeResolved([]models.DeputyRecord{
		{ID: "PA1", GivenName: "Simone", FamilyName: "Veil"},
		{ID: "PA2", GivenName: "", FamilyName: "Nameless"},
	})

	s.Equal(1, merged)
	s.Empty(s.store.regular)
	s.Equal([]string{"PA2"}, s.store.priority)
	s.NotContains(s.store.queued, "PA1")
}

func (s *StoreSuite) TestFailureCooldown() {
	s.fetcher.fail("PA5", errors.New("connection reset"))
	failedAt := s.clock.Now()

	s.store.Enqueue("PA5", false)
	s.store.Flush(s.ctx)

	entry, ok := s.store.Peek("PA5")
	s.Require().True(ok)
	s.Equal(models.StateFailed, entry.State)
	s.Equal(models.FailureTransient, entry.Failure)
	s.Equal(failedAt, entry.LastAttemptAt)

	s.clock.Advance(5 * time.Second)
	s.False(s.store.Enqueue("PA5", true))

	s.clock.Advance(DefaultCooldown - 5*time.Second + time.Millisecond)
	s.True(s.store.Enqueue("PA5", true))

	s.store.Flush(s.ctx)
	entry, _ = s.store.Peek("PA5")
	s.Equal(2, entry.Attempts)
	s.True(entry.LastAttemptAt.After(failedAt))
	s.Equal(2, s.fetcher.callCount("PA5"))
}

func (s *StoreSuite) TestGetRequeuesFailedAfterCooldown() {
	s.fetcher.fail("PA5", errors.New("timeout"))
	s.store.Enqueue("PA5", false)
	s.store.Flush(s.ctx)

	s.Equal(models.StateFailed, s.store.Get("PA5").State)

	s.clock.Advance(DefaultCooldown)
	s.Equal(models.StateQueued, s.store.Get("PA5").State)
}

func (s *StoreSuite) TestNotFoundIsTerminal() {
	s.store.Enqueue("PA404", true)
	s.store.Flush(s.ctx)

	entry, _ := s.store.Peek("PA404")
	s.Equal(models.StateFailed, entry.State)
	s.Equal(models.FailureNotFound, entry.Failure)

	s.clock.Advance(time.Hour)
	s.False(s.store.Enqueue("PA404", true))
	s.Equal(models.StateFailed, s.store.Get("PA404").State)
	s.Equal(1, s.fetcher.callCount("PA404"))
}

func (s *StoreSuite) TestBatchFailureIsolated() {
	s.fetcher.add("PA1", "Marie", "Curie")
	s.fetcher.fail("PA2", errors.New("502"))
	s.fetcher.add("PA3", "Jean", "Jaurès")

	for _, id := range []string{"PA1", "PA2", "PA3"} {
		s.store.Enqueue(id, false)
	}
	s.Equal(3, s.store.DrainOnce(s.ctx))

	s.Equal(models.StateResolved, s.store.Get("PA1").State)
	s.Equal(models.StateFailed, s.store.Get("PA2").State)
	s.Equal(models.StateResolved, s.store.Get("PA3").State)
}

func (s *StoreSuite) TestMalformedRemoteRecord() {
	s.fetcher.mu.Lock()
	s.fetcher.records["PA8"] = models.RawRecord{"unexpected": true}
	s.fetcher.mu.Unlock()

	s.store.Enqueue("PA8", false)
	s.store.Flush(s.ctx)

	entry, _ := s.store.Peek("PA8")
	s.Equal(models.StateFailed, entry.State)
	s.Equal(models.FailureMalformed, entry.Failure)
}

func (s *StoreSuite) TestDrainOnceIsExclusive() {
	s.store.Enqueue("PA1", false)
	s.store.mu.Lock()
	s.store.draining = true
	s.store.mu.Unlock()

	s.Equal(0, s.store.DrainOnce(s.ctx))
	s.Empty(s.fetcher.calls)
}

func (s *StoreSuite) TestSubscribeAndGeneration() {
	s.fetcher.add("PA1", "Marie", "Curie")
	updates, cancel := s.store.Subscribe()

	s.Equal(uint64(0), s.store.Generation())
	s.store.Enqueue("PA1", false)
	s.store.Flush(s.ctx)

	s.Equal("PA1", <-updates)
	s.Equal(uint64(1), s.store.Generation())

	cancel()
	cancel()
	_, open := <-updates
	s.False(open)
}

func (s *StoreSuite) TestStats() {
	s.fetcher.add("PA1", "Marie", "Curie")
	s.store.Enqueue("PA1", false)
	s.store.Enqueue("PA2", true)
	s.store.Flush(s.ctx)
	s.store.Enqueue("PA3", false)

	st := s.store.Stats()
	s.Equal(3, st.Entries)
	s.Equal(1, st.ByState[models.StateResolved])
	s.Equal(1, st.ByState[models.StateFailed])
	s.Equal(1, st.ByState[models.StateQueued])
	s.Equal(1, st.Regular)
	s.False(st.Draining)
}

func TestStoreResolvedAfterMergeWhileInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, id, _ string) (models.RawRecord, error) {
		close(started)
		<-release
		return nil, errors.New("upstream timeout")
	})
	store := New(fetcher, WithManualDrain())
	defer store.Close()

	store.Enqueue("PA1", false)
	done := make(chan int)
	go func() { done <- store.DrainOnce(context.Background()) }()

	<-started
	entry, _ := store.Peek("PA1")
	assert.Equal(t, models.StateLoading, entry.State)
	assert.False(t, store.Enqueue("PA1", true))

	store.MergeResolved([]models.DeputyRecord{{ID: "PA1", GivenName: "Simone", FamilyName: "Veil"}})
	close(release)
	assert.Equal(t, 1, <-done)

	entry, _ = store.Peek("PA1")
	assert.Equal(t, models.StateResolved, entry.State)
	assert.Equal(t, "Veil", entry.Record.FamilyName)
}

func TestStoreCapacityEvictsLeastRecentlyRead(t *testing.T) {
	store := New(newFakeFetcher(), WithManualDrain(), WithCapacity(2))
	defer store.Close()

	store.MergeResolved([]models.DeputyRecord{
		{ID: "PA1", GivenName: "A", FamilyName: "One"},
		{ID: "PA2", GivenName: "B", FamilyName: "Two"},
	})
	store.Get("PA1")
	store.MergeResolved([]models.DeputyRecord{{ID: "PA3", GivenName: "C", FamilyName: "Three"}})

	_, ok := store.Peek("PA2")
	assert.False(t, ok)
	_, ok = store.Peek("PA1")
	assert.True(t, ok)
	_, ok = store.Peek("PA3")
	assert.True(t, ok)
}

func TestStoreAutoDrain(t *testing.T) {
	fetcher := newFakeFetcher()
	for _, id := range []string{"PA1", "PA2", "PA3"} {
		fetcher.add(id, "Given", "Family")
	}
	store := New(fetcher, WithBatchSize(2), WithPause(time.Millisecond))
	defer store.Close()

	for _, id := range []string{"PA1", "PA2", "PA3"} {
		assert.Equal(t, models.StateQueued, store.Get(id).State)
	}

	require.Eventually(t, func() bool {
		st := store.Stats()
		return st.ByState[models.StateResolved] == 3 && !st.Draining
	}, 2*time.Second, 5*time.Millisecond)

	store.Wait()
	for _, id := range []string{"PA1", "PA2", "PA3"} {
		assert.Equal(t, 1, fetcher.callCount(id))
	}
}

func TestStoreAutoDrainTakesPriorityFirst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetcher := newFakeFetcher()
	fetcher.add("PA1", "Given", "Family")
	fetcher.add("PA2", "Given", "Family")
	store := New(fetcher, WithClock(clock), WithBatchSize(1), WithPause(time.Second))
	defer store.Close()

	store.Get("1")
	store.Enqueue("2", true)

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return fetcher.callCount("PA2") == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, fetcher.callCount("PA1"))

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return store.Stats().ByState[models.StateResolved] == 2
	}, 2*time.Second, 5*time.Millisecond)

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Equal(t, []string{"PA2", "PA1"}, fetcher.calls)
}

func TestStoreAutoDrainCoalescesBurst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetcher := newFakeFetcher()
	ids := []string{"PA1", "PA2", "PA3"}
	for _, id := range ids {
		fetcher.add(id, "Given", "Family")
	}
	store := New(fetcher, WithClock(clock), WithPause(time.Second))
	defer store.Close()

	for _, id := range ids {
		store.Enqueue(id, true)
	}

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		st := store.Stats()
		return st.ByState[models.StateResolved] == 3 && !st.Draining
	}, 2*time.Second, 5*time.Millisecond)
}

type fetchFunc func(ctx context.Context, id, legislature string) (models.RawRecord, error)

func (f fetchFunc) FetchDetail(ctx context.Context, id, legislature string) (models.RawRecord, error) {
	return f(ctx, id, legislature)
}
