package valuationCache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/KotFed0t/fund_helper/config"
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/internal/service"
	"github.com/KotFed0t/fund_helper/utils"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

type Fetcher interface {
	FetchEstimate(ctx context.Context, code string) (model.FundEstimate, error)
	SearchFunds(ctx context.Context, query string) ([]model.FundSearchResult, error)
	FetchNavHistory(ctx context.Context, code string, from, to time.Time) ([]model.NavPoint, error)
}

type SnapshotStore interface {
	GetSnapshot(ctx context.Context, code string, kind model.SnapshotKind) (model.FundSnapshot, error)
	SetSnapshot(ctx context.Context, snapshot model.FundSnapshot) error
}

// ValuationCache serves external fund data behind per-kind staleness windows.
// Each (fund, kind) key moves through MISSING -> FETCHING -> FRESH -> STALE and
// back; concurrent callers of a non-fresh key share one upstream fetch. A
// failed refresh falls back to the previous snapshot marked stale; with no
// previous snapshot the caller gets service.ErrDataUnavailable.
type ValuationCache struct {
	cfg     *config.Config
	fetcher Fetcher
	store   SnapshotStore
	clock   clockwork.Clock
	group   singleflight.Group
}

func New(cfg *config.Config, fetcher Fetcher, store SnapshotStore, clock clockwork.Clock) *ValuationCache {
	return &ValuationCache{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		clock:   clock,
	}
}

func (c *ValuationCache) window(kind model.SnapshotKind) time.Duration {
	switch kind {
	case model.SnapshotEstimate:
		return c.cfg.Cache.EstimateWindow
	case model.SnapshotSearch:
		return c.cfg.Cache.SearchWindow
	default:
		return c.cfg.Cache.NavHistoryWindow
	}
}

func (c *ValuationCache) fresh(snapshot model.FundSnapshot) bool {
	return c.clock.Now().Sub(snapshot.FetchedAt) <= c.window(snapshot.Kind)
}

func flightKey(code string, kind model.SnapshotKind) string {
	return code + "|" + string(kind)
}

// Get returns the snapshot for (code, kind), refreshing it through a shared
// single flight when missing or past its window.
func (c *ValuationCache) Get(ctx context.Context, code string, kind model.SnapshotKind) (model.FundSnapshot, error) {
	snapshot, err := c.store.GetSnapshot(ctx, code, kind)
	if err == nil && c.fresh(snapshot) {
		return snapshot, nil
	}

	res, err, _ := c.group.Do(flightKey(code, kind), func() (any, error) {
		// refresh outlives the first caller: population is not wasted work
		return c.refresh(context.WithoutCancel(ctx), code, kind)
	})
	if err != nil {
		return model.FundSnapshot{}, err
	}

	return res.(model.FundSnapshot), nil
}

func (c *ValuationCache) refresh(ctx context.Context, code string, kind model.SnapshotKind) (model.FundSnapshot, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ValuationCache.refresh"

	// another flight may have refreshed while we waited for the flight slot
	prior, priorErr := c.store.GetSnapshot(ctx, code, kind)
	if priorErr == nil && c.fresh(prior) {
		return prior, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.API.Timeout)
	defer cancel()

	payload, err := c.fetchPayload(ctx, code, kind)
	if err != nil {
		if priorErr == nil {
			slog.Warn(
				"fetch failed, serving stale snapshot",
				slog.String("rqID", rqID), slog.String("op", op),
				slog.String("code", code), slog.String("kind", string(kind)),
				slog.String("err", err.Error()),
			)
			prior.Stale = true
			return prior, nil
		}
		slog.Error("fetch failed with no prior snapshot", slog.String("rqID", rqID), slog.String("op", op), slog.String("code", code), slog.String("kind", string(kind)), slog.String("err", err.Error()))
		return model.FundSnapshot{}, fmt.Errorf("%w: %s %s: %s", service.ErrDataUnavailable, kind, code, err)
	}

	snapshot := model.FundSnapshot{
		FundCode:  code,
		Kind:      kind,
		Payload:   payload,
		FetchedAt: c.clock.Now(),
	}

	if err := c.store.SetSnapshot(ctx, snapshot); err != nil {
		// serving the fetched data matters more than persisting it
		slog.Warn("can't persist snapshot", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	return snapshot, nil
}

func (c *ValuationCache) fetchPayload(ctx context.Context, code string, kind model.SnapshotKind) (json.RawMessage, error) {
	switch kind {
	case model.SnapshotEstimate:
		estimate, err := c.fetcher.FetchEstimate(ctx, code)
		if err != nil {
			return nil, err
		}
		return json.Marshal(estimate)
	case model.SnapshotSearch:
		results, err := c.fetcher.SearchFunds(ctx, code)
		if err != nil {
			return nil, err
		}
		return json.Marshal(results)
	default:
		return nil, fmt.Errorf("kind %s is fetched through History", kind)
	}
}

// Estimate returns the fund's realtime valuation estimate.
func (c *ValuationCache) Estimate(ctx context.Context, code string) (model.FundEstimate, error) {
	snapshot, err := c.Get(ctx, code, model.SnapshotEstimate)
	if err != nil {
		return model.FundEstimate{}, err
	}

	estimate := model.FundEstimate{}
	if err := json.Unmarshal(snapshot.Payload, &estimate); err != nil {
		return model.FundEstimate{}, fmt.Errorf("can't unmarshal estimate snapshot: %w", err)
	}

	return estimate, nil
}

// Search returns fund search results for the query. SEARCH snapshots are
// keyed by the query string.
func (c *ValuationCache) Search(ctx context.Context, query string) ([]model.FundSearchResult, error) {
	snapshot, err := c.Get(ctx, query, model.SnapshotSearch)
	if err != nil {
		return nil, err
	}

	var results []model.FundSearchResult
	if err := json.Unmarshal(snapshot.Payload, &results); err != nil {
		return nil, fmt.Errorf("can't unmarshal search snapshot: %w", err)
	}

	return results, nil
}

// History returns NAV history covering [from, to]. Historical NAV never
// changes, so ranges fetched once are never requested again: only the
// uncovered edges are fetched and merged into the stored snapshot.
func (c *ValuationCache) History(ctx context.Context, code string, from, to time.Time) (model.NavHistory, error) {
	from, to = day(from), day(to)
	if to.Before(from) {
		return model.NavHistory{}, fmt.Errorf("%w: history range to before from", service.ErrValidation)
	}

	snapshot, err := c.store.GetSnapshot(ctx, code, model.SnapshotNavHistory)
	history, have := model.NavHistory{}, false
	if err == nil {
		if err := json.Unmarshal(snapshot.Payload, &history); err == nil {
			have = true
		}
	}

	if have && history.Covers(from, to) {
		return history, nil
	}
	if have && c.fresh(snapshot) {
		// uncovered range was attempted recently; don't hammer the provider
		return history, nil
	}

	res, err, _ := c.group.Do(flightKey(code, model.SnapshotNavHistory), func() (any, error) {
		return c.extendHistory(context.WithoutCancel(ctx), code, history, have, from, to)
	})
	if err != nil {
		return model.NavHistory{}, err
	}

	return res.(model.NavHistory), nil
}

func (c *ValuationCache) extendHistory(ctx context.Context, code string, history model.NavHistory, have bool, from, to time.Time) (model.NavHistory, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ValuationCache.extendHistory"

	ctx, cancel := context.WithTimeout(ctx, c.cfg.API.Timeout)
	defer cancel()

	if !have {
		points, err := c.fetcher.FetchNavHistory(ctx, code, from, to)
		if err != nil {
			slog.Error("nav history fetch failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("code", code), slog.String("err", err.Error()))
			return model.NavHistory{}, fmt.Errorf("%w: NAV_HISTORY %s: %s", service.ErrDataUnavailable, code, err)
		}
		history = model.NavHistory{Code: code, From: from, To: to, Points: points}
		c.persistHistory(ctx, history)
		return history, nil
	}

	merged := history
	if from.Before(history.From) {
		points, err := c.fetcher.FetchNavHistory(ctx, code, from, history.From.AddDate(0, 0, -1))
		if err != nil {
			slog.Warn("leading nav gap fetch failed, serving covered range", slog.String("rqID", rqID), slog.String("op", op), slog.String("code", code), slog.String("err", err.Error()))
			return history, nil
		}
		merged.Points = append(points, merged.Points...)
		merged.From = from
	}
	if to.After(history.To) {
		points, err := c.fetcher.FetchNavHistory(ctx, code, history.To.AddDate(0, 0, 1), to)
		if err != nil {
			slog.Warn("trailing nav gap fetch failed, serving covered range", slog.String("rqID", rqID), slog.String("op", op), slog.String("code", code), slog.String("err", err.Error()))
			return merged, nil
		}
		merged.Points = append(merged.Points, points...)
		merged.To = to
	}

	c.persistHistory(ctx, merged)

	return merged, nil
}

func (c *ValuationCache) persistHistory(ctx context.Context, history model.NavHistory) {
	payload, err := json.Marshal(history)
	if err != nil {
		slog.Error("can't marshal nav history", slog.String("err", err.Error()))
		return
	}

	snapshot := model.FundSnapshot{
		FundCode:  history.Code,
		Kind:      model.SnapshotNavHistory,
		Payload:   payload,
		FetchedAt: c.clock.Now(),
	}

	if err := c.store.SetSnapshot(ctx, snapshot); err != nil {
		slog.Warn("can't persist nav history snapshot", slog.String("err", err.Error()))
	}
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
