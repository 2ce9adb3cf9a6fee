package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/KotFed0t/fund_helper/config"
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/utils"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

type Repository interface {
	GetHoldingsByUser(ctx context.Context, userID int64) ([]model.Holding, error)
	GetTransactions(ctx context.Context, holdingID int64) ([]model.Transaction, error)
	GetFunds(ctx context.Context, codes []string) ([]model.Fund, error)
}

// Aggregator combines per-holding cost basis results into portfolio-level
// views. Per-holding computations fan out concurrently; holdings share no
// mutable state besides the internally synchronized valuation cache.
type Aggregator struct {
	repo         Repository
	calc         *Calculator
	clock        clockwork.Clock
	defaultRankN int
}

func NewAggregator(cfg *config.Config, repo Repository, calc *Calculator, clock clockwork.Clock) *Aggregator {
	return &Aggregator{repo: repo, calc: calc, clock: clock, defaultRankN: cfg.Analytics.TopHoldingsDefault}
}

// computeAll runs the calculator over every holding of the user. A canceled
// request context stops not-yet-started holdings only; computations already
// in flight run to completion so their fetches still populate the cache.
func (a *Aggregator) computeAll(ctx context.Context, userID int64, asOf time.Time) ([]model.CostBasisResult, []model.Holding, error) {
	holdings, err := a.repo.GetHoldingsByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	results := make([]model.CostBasisResult, len(holdings))
	errs := make([]error, len(holdings))

	var wg sync.WaitGroup
	for i, holding := range holdings {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}

		wg.Add(1)
		go func(i int, holding model.Holding) {
			defer wg.Done()

			txs, err := a.repo.GetTransactions(ctx, holding.ID)
			if err != nil {
				errs[i] = err
				return
			}

			results[i], errs[i] = a.calc.Compute(ctx, holding, txs, asOf)
		}(i, holding)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}

	return results, holdings, nil
}

func (a *Aggregator) Summary(ctx context.Context, userID int64) (model.PortfolioSummary, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Aggregator.Summary"

	slog.Debug("Summary start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
	defer func() {
		slog.Debug("Summary finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
	}()

	results, _, err := a.computeAll(ctx, userID, time.Time{})
	if err != nil {
		return model.PortfolioSummary{}, err
	}

	summary := model.PortfolioSummary{
		TotalValue:   decimal.Zero,
		TotalCost:    decimal.Zero,
		HoldingCount: len(results),
		AsOf:         a.clock.Now(),
	}

	for _, res := range results {
		summary.TotalValue = summary.TotalValue.Add(res.MarketValue)
		summary.TotalCost = summary.TotalCost.Add(res.CostBasis)
	}

	summary.TotalProfit = summary.TotalValue.Sub(summary.TotalCost)
	if summary.TotalCost.IsPositive() {
		summary.ProfitRate = summary.TotalProfit.Div(summary.TotalCost)
	} else {
		summary.ProfitRate = decimal.Zero
	}

	return summary, nil
}

// Allocation buckets the portfolio's market value by fund category. Holdings
// whose fund has no category land in the "other" bucket, never dropped.
func (a *Aggregator) Allocation(ctx context.Context, userID int64) ([]model.AllocationSlice, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Aggregator.Allocation"

	slog.Debug("Allocation start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
	defer func() {
		slog.Debug("Allocation finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
	}()

	results, holdings, err := a.computeAll(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(holdings))
	for _, holding := range holdings {
		codes = append(codes, holding.FundCode)
	}

	funds, err := a.repo.GetFunds(ctx, codes)
	if err != nil {
		return nil, err
	}

	categoryByCode := make(map[string]string, len(funds))
	for _, fund := range funds {
		categoryByCode[fund.Code] = fund.Category
	}

	total := decimal.Zero
	byCategory := make(map[string]decimal.Decimal)
	for _, res := range results {
		category := categoryByCode[res.FundCode]
		if category == "" {
			category = "other"
		}
		byCategory[category] = byCategory[category].Add(res.MarketValue)
		total = total.Add(res.MarketValue)
	}

	slices := make([]model.AllocationSlice, 0, len(byCategory))
	for category, value := range byCategory {
		slice := model.AllocationSlice{Category: category, Value: value, Weight: decimal.Zero}
		if total.IsPositive() {
			slice.Weight = value.Div(total).Mul(decimal.NewFromInt(100))
		}
		slices = append(slices, slice)
	}

	sort.Slice(slices, func(i, j int) bool {
		if !slices[i].Value.Equal(slices[j].Value) {
			return slices[i].Value.GreaterThan(slices[j].Value)
		}
		return slices[i].Category < slices[j].Category
	})

	return slices, nil
}

// TopHoldings returns the n best holdings by unrealized profit. n < 0 applies
// the default of 5; n is clamped to the holding count. Ties are broken by
// holding id for deterministic output.
func (a *Aggregator) TopHoldings(ctx context.Context, userID int64, n int) ([]model.CostBasisResult, error) {
	return a.rankHoldings(ctx, userID, n, true)
}

// BottomHoldings returns the n worst holdings by unrealized profit.
func (a *Aggregator) BottomHoldings(ctx context.Context, userID int64, n int) ([]model.CostBasisResult, error) {
	return a.rankHoldings(ctx, userID, n, false)
}

func (a *Aggregator) rankHoldings(ctx context.Context, userID int64, n int, descending bool) ([]model.CostBasisResult, error) {
	results, _, err := a.computeAll(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		pi, pj := results[i].UnrealizedProfit, results[j].UnrealizedProfit
		if !pi.Equal(pj) {
			if descending {
				return pi.GreaterThan(pj)
			}
			return pi.LessThan(pj)
		}
		return results[i].HoldingID < results[j].HoldingID
	})

	if n < 0 {
		n = a.defaultRankN
	}
	if n > len(results) {
		n = len(results)
	}

	return results[:n], nil
}

// ProfitCalendar reports the portfolio's daily profit for the given month:
// dailyProfit(d) = marketValue(d) - marketValue(d-1) - netCashFlow(d), so
// contributions and withdrawals don't count as profit. Days without a
// published NAV carry a nil profit; days before the first transaction and
// future days are omitted.
func (a *Aggregator) ProfitCalendar(ctx context.Context, userID int64, year int, month time.Month) ([]model.CalendarDay, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Aggregator.ProfitCalendar"

	slog.Debug("ProfitCalendar start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID), slog.Int("year", year), slog.String("month", month.String()))
	defer func() {
		slog.Debug("ProfitCalendar finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
	}()

	holdings, err := a.repo.GetHoldingsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, -1)
	today := truncateDay(a.clock.Now())

	data := make([]holdingLedger, 0, len(holdings))
	firstTxDate := time.Time{}
	for _, holding := range holdings {
		txs, err := a.repo.GetTransactions(ctx, holding.ID)
		if err != nil {
			return nil, err
		}
		if len(txs) == 0 {
			continue
		}

		histTo := monthEnd
		if histTo.After(today) {
			histTo = today
		}
		history, err := a.calc.prices.History(ctx, holding.FundCode, txs[0].Date, histTo)
		if err != nil {
			return nil, err
		}

		if firstTxDate.IsZero() || txs[0].Date.Before(firstTxDate) {
			firstTxDate = txs[0].Date
		}
		data = append(data, holdingLedger{holding: holding, txs: txs, history: history})
	}

	if firstTxDate.IsZero() { // no activity at all
		return []model.CalendarDay{}, nil
	}
	firstTxDate = truncateDay(firstTxDate)

	days := make([]model.CalendarDay, 0, monthEnd.Day())
	for d := monthStart; !d.After(monthEnd); d = d.AddDate(0, 0, 1) {
		if d.Before(firstTxDate) || d.After(today) {
			continue
		}

		profit, ok := a.dayProfit(data, d)
		calDay := model.CalendarDay{Date: d}
		if ok {
			calDay.Profit = &profit
		}
		days = append(days, calDay)
	}

	return days, nil
}

type holdingLedger struct {
	holding model.Holding
	txs     []model.Transaction
	history model.NavHistory
}

// dayProfit computes one calendar day; ok is false when any held fund has no
// NAV published for that exact day.
func (a *Aggregator) dayProfit(data []holdingLedger, d time.Time) (decimal.Decimal, bool) {
	endOfDay := d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	prevEnd := d.Add(-time.Nanosecond)

	valueToday := decimal.Zero
	valuePrev := decimal.Zero
	cashFlow := decimal.Zero

	for _, hd := range data {
		posToday := replay(hd.txs, endOfDay)
		posPrev := replay(hd.txs, prevEnd)

		if posToday.Shares.IsPositive() {
			nav, ok := hd.history.On(d)
			if !ok {
				return decimal.Decimal{}, false
			}
			valueToday = valueToday.Add(posToday.Shares.Mul(nav))
		}

		if posPrev.Shares.IsPositive() {
			nav, ok := hd.history.AsOf(prevEnd)
			if !ok {
				return decimal.Decimal{}, false
			}
			valuePrev = valuePrev.Add(posPrev.Shares.Mul(nav))
		}

		for _, t := range hd.txs {
			if !sameDay(t.Date, d) {
				continue
			}
			switch t.Type {
			case model.TxBuy:
				cashFlow = cashFlow.Add(t.Amount().Add(t.Fee))
			case model.TxSell:
				cashFlow = cashFlow.Sub(t.Amount().Sub(t.Fee))
			}
		}
	}

	return valueToday.Sub(valuePrev).Sub(cashFlow), true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
