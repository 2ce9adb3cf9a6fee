package valuationCache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KotFed0t/fund_helper/config"
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/internal/service"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchRange struct {
	from, to time.Time
}

type fakeFetcher struct {
	mu           sync.Mutex
	estimate     model.FundEstimate
	fetchErr     error
	estimateHits int
	navPoints    []model.NavPoint
	navRanges    []fetchRange
	block        chan struct{} // when set, FetchEstimate waits on it
}

func (f *fakeFetcher) FetchEstimate(_ context.Context, code string) (model.FundEstimate, error) {
	f.mu.Lock()
	f.estimateHits++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.fetchErr != nil {
		return model.FundEstimate{}, f.fetchErr
	}
	est := f.estimate
	est.Code = code
	return est, nil
}

func (f *fakeFetcher) SearchFunds(_ context.Context, query string) ([]model.FundSearchResult, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return []model.FundSearchResult{{Code: "000001", Name: query}}, nil
}

func (f *fakeFetcher) FetchNavHistory(_ context.Context, _ string, from, to time.Time) ([]model.NavPoint, error) {
	f.mu.Lock()
	f.navRanges = append(f.navRanges, fetchRange{from: from, to: to})
	f.mu.Unlock()

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	var points []model.NavPoint
	for _, p := range f.navPoints {
		if !p.Date.Before(from) && !p.Date.After(to) {
			points = append(points, p)
		}
	}
	return points, nil
}

type memStore struct {
	mu        sync.Mutex
	snapshots map[string]model.FundSnapshot
}

func newMemStore() *memStore {
	return &memStore{snapshots: map[string]model.FundSnapshot{}}
}

func (s *memStore) key(code string, kind model.SnapshotKind) string {
	return code + ":" + string(kind)
}

func (s *memStore) GetSnapshot(_ context.Context, code string, kind model.SnapshotKind) (model.FundSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[s.key(code, kind)]
	if !ok {
		return model.FundSnapshot{}, errors.New("not found")
	}
	return snapshot, nil
}

func (s *memStore) SetSnapshot(_ context.Context, snapshot model.FundSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[s.key(snapshot.FundCode, snapshot.Kind)] = snapshot
	return nil
}

func testCfg() *config.Config {
	return &config.Config{
		API: config.API{Timeout: 5 * time.Second},
		Cache: config.Cache{
			EstimateWindow:   30 * time.Second,
			SearchWindow:     5 * time.Minute,
			NavHistoryWindow: time.Hour,
		},
	}
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestEstimate_FreshWithinWindow(t *testing.T) {
	fetcher := &fakeFetcher{estimate: model.FundEstimate{Nav: dec("1.23")}}
	clock := clockwork.NewFakeClock()
	cache := New(testCfg(), fetcher, newMemStore(), clock)
	ctx := context.Background()

	est, err := cache.Estimate(ctx, "000001")
	require.NoError(t, err)
	assert.True(t, est.Nav.Equal(dec("1.23")))
	assert.Equal(t, 1, fetcher.estimateHits)

	// 20s into a 30s window: served from the snapshot
	clock.Advance(20 * time.Second)
	_, err = cache.Estimate(ctx, "000001")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.estimateHits)

	// 40s after the fetch: past the window, refetched
	clock.Advance(20 * time.Second)
	_, err = cache.Estimate(ctx, "000001")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.estimateHits)
}

func TestGet_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{estimate: model.FundEstimate{Nav: dec("1.23")}, block: release}
	cache := New(testCfg(), fetcher, newMemStore(), clockwork.NewFakeClock())
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Estimate(ctx, "000001")
		}(i)
	}

	// let every caller reach the flight gate, then release the one fetch
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.NoError(t, errs[i])
	}
	assert.Equal(t, 1, fetcher.estimateHits, "concurrent callers share one upstream fetch")
}

func TestGet_ServesStaleOnFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{estimate: model.FundEstimate{Nav: dec("1.23")}}
	clock := clockwork.NewFakeClock()
	store := newMemStore()
	cache := New(testCfg(), fetcher, store, clock)
	ctx := context.Background()

	_, err := cache.Estimate(ctx, "000001")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	fetcher.fetchErr = errors.New("provider down")

	snapshot, err := cache.Get(ctx, "000001", model.SnapshotEstimate)
	require.NoError(t, err, "prior snapshot is served on failure")
	assert.True(t, snapshot.Stale)

	est, err := cache.Estimate(ctx, "000001")
	require.NoError(t, err)
	assert.True(t, est.Nav.Equal(dec("1.23")))
}

func TestGet_NoPriorSnapshotFails(t *testing.T) {
	fetcher := &fakeFetcher{fetchErr: errors.New("provider down")}
	cache := New(testCfg(), fetcher, newMemStore(), clockwork.NewFakeClock())

	_, err := cache.Get(context.Background(), "000001", model.SnapshotEstimate)
	assert.ErrorIs(t, err, service.ErrDataUnavailable)
}

func TestSearch_KeyedByQuery(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := newMemStore()
	cache := New(testCfg(), fetcher, store, clockwork.NewFakeClock())
	ctx := context.Background()

	results, err := cache.Search(ctx, "growth")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "growth", results[0].Name)

	_, ok := store.snapshots[store.key("growth", model.SnapshotSearch)]
	assert.True(t, ok, "search snapshots are stored under the query")
}

func TestHistory_CoveredRangeNeverRefetched(t *testing.T) {
	fetcher := &fakeFetcher{navPoints: []model.NavPoint{
		{Date: date("2026-01-05"), Nav: dec("1.00")},
		{Date: date("2026-01-20"), Nav: dec("1.10")},
	}}
	clock := clockwork.NewFakeClockAt(date("2026-02-01"))
	cache := New(testCfg(), fetcher, newMemStore(), clock)
	ctx := context.Background()

	history, err := cache.History(ctx, "000001", date("2026-01-01"), date("2026-01-31"))
	require.NoError(t, err)
	assert.Len(t, history.Points, 2)
	assert.Len(t, fetcher.navRanges, 1)

	// sub-range requests hit the stored history even long after the window
	clock.Advance(24 * time.Hour)
	history, err = cache.History(ctx, "000001", date("2026-01-10"), date("2026-01-25"))
	require.NoError(t, err)
	assert.Len(t, history.Points, 2)
	assert.Len(t, fetcher.navRanges, 1, "covered history is immutable")
}

func TestHistory_FetchesOnlyTrailingGap(t *testing.T) {
	fetcher := &fakeFetcher{navPoints: []model.NavPoint{
		{Date: date("2026-01-05"), Nav: dec("1.00")},
		{Date: date("2026-02-03"), Nav: dec("1.15")},
	}}
	clock := clockwork.NewFakeClockAt(date("2026-02-05"))
	cache := New(testCfg(), fetcher, newMemStore(), clock)
	ctx := context.Background()

	_, err := cache.History(ctx, "000001", date("2026-01-01"), date("2026-01-31"))
	require.NoError(t, err)
	require.Len(t, fetcher.navRanges, 1)

	// past the rate-limit window, extend to February: only the gap is fetched
	clock.Advance(2 * time.Hour)
	history, err := cache.History(ctx, "000001", date("2026-01-01"), date("2026-02-05"))
	require.NoError(t, err)

	require.Len(t, fetcher.navRanges, 2)
	assert.Equal(t, date("2026-02-01"), fetcher.navRanges[1].from)
	assert.Equal(t, date("2026-02-05"), fetcher.navRanges[1].to)
	assert.Len(t, history.Points, 2)
	assert.Equal(t, date("2026-02-05"), history.To)
}

func TestHistory_FreshUncoveredServedWithoutFetch(t *testing.T) {
	fetcher := &fakeFetcher{navPoints: []model.NavPoint{{Date: date("2026-01-05"), Nav: dec("1.00")}}}
	clock := clockwork.NewFakeClockAt(date("2026-02-05"))
	cache := New(testCfg(), fetcher, newMemStore(), clock)
	ctx := context.Background()

	_, err := cache.History(ctx, "000001", date("2026-01-01"), date("2026-01-31"))
	require.NoError(t, err)
	require.Len(t, fetcher.navRanges, 1)

	// a wider range inside the freshness window doesn't hammer the provider
	clock.Advance(10 * time.Minute)
	history, err := cache.History(ctx, "000001", date("2026-01-01"), date("2026-02-05"))
	require.NoError(t, err)
	assert.Len(t, fetcher.navRanges, 1)
	assert.Equal(t, date("2026-01-31"), history.To, "covered range is served as is")
}

func TestHistory_GapFetchFailureServesCoveredRange(t *testing.T) {
	fetcher := &fakeFetcher{navPoints: []model.NavPoint{{Date: date("2026-01-05"), Nav: dec("1.00")}}}
	clock := clockwork.NewFakeClockAt(date("2026-02-05"))
	cache := New(testCfg(), fetcher, newMemStore(), clock)
	ctx := context.Background()

	_, err := cache.History(ctx, "000001", date("2026-01-01"), date("2026-01-31"))
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	fetcher.fetchErr = errors.New("provider down")

	history, err := cache.History(ctx, "000001", date("2026-01-01"), date("2026-02-05"))
	require.NoError(t, err, "extension failure falls back to the covered range")
	assert.Equal(t, date("2026-01-31"), history.To)
	assert.Len(t, history.Points, 1)
}

func TestHistory_InvalidRange(t *testing.T) {
	cache := New(testCfg(), &fakeFetcher{}, newMemStore(), clockwork.NewFakeClock())

	_, err := cache.History(context.Background(), "000001", date("2026-02-05"), date("2026-01-01"))
	assert.ErrorIs(t, err, service.ErrValidation)
}
