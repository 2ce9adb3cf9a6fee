package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/KotFed0t/fund_helper/config"
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAggRepo struct {
	holdings []model.Holding
	txs      map[int64][]model.Transaction
	funds    []model.Fund
}

func (r *fakeAggRepo) GetHoldingsByUser(_ context.Context, _ int64) ([]model.Holding, error) {
	return r.holdings, nil
}

func (r *fakeAggRepo) GetTransactions(_ context.Context, holdingID int64) ([]model.Transaction, error) {
	return r.txs[holdingID], nil
}

func (r *fakeAggRepo) GetFunds(_ context.Context, _ []string) ([]model.Fund, error) {
	return r.funds, nil
}

// mapPrices serves per-code estimates and NAV histories.
type mapPrices struct {
	estimates map[string]decimal.Decimal
	histories map[string]model.NavHistory
}

func (p *mapPrices) Estimate(_ context.Context, code string) (model.FundEstimate, error) {
	return model.FundEstimate{Code: code, Nav: p.estimates[code]}, nil
}

func (p *mapPrices) History(_ context.Context, code string, _, _ time.Time) (model.NavHistory, error) {
	return p.histories[code], nil
}

func aggCfg() *config.Config {
	return &config.Config{Analytics: config.Analytics{TopHoldingsDefault: 5}}
}

func holdingTx(holdingID, id int64, txType model.TxType, day string, shares, price string) model.Transaction {
	return model.Transaction{
		ID:            id,
		HoldingID:     holdingID,
		Type:          txType,
		Date:          date(day),
		Shares:        dec(shares),
		PricePerShare: dec(price),
		Fee:           decimal.Zero,
	}
}

// three holdings priced to unrealized profits of 50, -10 and 30
func rankedFixture() (*fakeAggRepo, *mapPrices) {
	repo := &fakeAggRepo{
		holdings: []model.Holding{
			{ID: 1, FundCode: "000001", UserID: 10},
			{ID: 2, FundCode: "000002", UserID: 10},
			{ID: 3, FundCode: "000003", UserID: 10},
		},
		txs: map[int64][]model.Transaction{
			1: {holdingTx(1, 1, model.TxBuy, "2026-01-05", "100", "1.00")},
			2: {holdingTx(2, 2, model.TxBuy, "2026-01-05", "100", "1.00")},
			3: {holdingTx(3, 3, model.TxBuy, "2026-01-05", "100", "1.00")},
		},
		funds: []model.Fund{
			{Code: "000001", Category: "equity"},
			{Code: "000002", Category: "bond"},
			{Code: "000003"},
		},
	}
	prices := &mapPrices{estimates: map[string]decimal.Decimal{
		"000001": dec("1.50"),
		"000002": dec("0.90"),
		"000003": dec("1.30"),
	}}
	return repo, prices
}

func newTestAggregator(repo *fakeAggRepo, prices PriceSource, now string) *Aggregator {
	clock := clockwork.NewFakeClockAt(date(now).Add(12 * time.Hour))
	calc := NewCalculator(prices, clock)
	return NewAggregator(aggCfg(), repo, calc, clock)
}

func TestSummary_SumsHoldings(t *testing.T) {
	repo, prices := rankedFixture()
	agg := newTestAggregator(repo, prices, "2026-02-10")

	summary, err := agg.Summary(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.HoldingCount)
	assert.True(t, summary.TotalCost.Equal(dec("300")), "totalCost: %s", summary.TotalCost)
	assert.True(t, summary.TotalValue.Equal(dec("370")), "totalValue: %s", summary.TotalValue)
	assert.InDelta(t, 70.0, summary.TotalProfit.InexactFloat64(), 1e-6)
	assert.InDelta(t, 70.0/300.0, summary.ProfitRate.InexactFloat64(), 1e-6)
}

func TestSummary_Idempotent(t *testing.T) {
	repo, prices := rankedFixture()
	agg := newTestAggregator(repo, prices, "2026-02-10")

	first, err := agg.Summary(context.Background(), 10)
	require.NoError(t, err)
	second, err := agg.Summary(context.Background(), 10)
	require.NoError(t, err)

	assert.True(t, first.TotalValue.Equal(second.TotalValue))
	assert.True(t, first.TotalProfit.Equal(second.TotalProfit))
}

func TestSummary_EmptyPortfolio(t *testing.T) {
	repo := &fakeAggRepo{txs: map[int64][]model.Transaction{}}
	agg := newTestAggregator(repo, &mapPrices{}, "2026-02-10")

	summary, err := agg.Summary(context.Background(), 10)
	require.NoError(t, err)

	assert.Zero(t, summary.HoldingCount)
	assert.True(t, summary.TotalValue.IsZero())
	assert.True(t, summary.ProfitRate.IsZero())
}

func TestTopHoldings_RanksByUnrealizedProfit(t *testing.T) {
	repo, prices := rankedFixture()
	agg := newTestAggregator(repo, prices, "2026-02-10")

	top, err := agg.TopHoldings(context.Background(), 10, 2)
	require.NoError(t, err)

	require.Len(t, top, 2)
	assert.Equal(t, int64(1), top[0].HoldingID, "profit 50 first")
	assert.Equal(t, int64(3), top[1].HoldingID, "profit 30 second")
}

func TestBottomHoldings_RanksAscending(t *testing.T) {
	repo, prices := rankedFixture()
	agg := newTestAggregator(repo, prices, "2026-02-10")

	bottom, err := agg.BottomHoldings(context.Background(), 10, 1)
	require.NoError(t, err)

	require.Len(t, bottom, 1)
	assert.Equal(t, int64(2), bottom[0].HoldingID, "loss of 10 is the worst")
}

func TestTopHoldings_ClampsToHoldingCount(t *testing.T) {
	repo, prices := rankedFixture()
	agg := newTestAggregator(repo, prices, "2026-02-10")

	top, err := agg.TopHoldings(context.Background(), 10, 50)
	require.NoError(t, err)
	assert.Len(t, top, 3)

	top, err = agg.TopHoldings(context.Background(), 10, -1)
	require.NoError(t, err)
	assert.Len(t, top, 3, "default of 5 clamps to 3 holdings")
}

func TestAllocation_BucketsByCategory(t *testing.T) {
	repo, prices := rankedFixture()
	agg := newTestAggregator(repo, prices, "2026-02-10")

	slices, err := agg.Allocation(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, slices, 3)
	// sorted by value desc: equity 150, other 130, bond 90
	assert.Equal(t, "equity", slices[0].Category)
	assert.Equal(t, "other", slices[1].Category, "missing category lands in other")
	assert.Equal(t, "bond", slices[2].Category)

	totalWeight := decimal.Zero
	for _, s := range slices {
		totalWeight = totalWeight.Add(s.Weight)
	}
	assert.InDelta(t, 100.0, totalWeight.InexactFloat64(), 1e-6)
	assert.InDelta(t, 150.0/370.0*100, slices[0].Weight.InexactFloat64(), 1e-6)
}

func TestProfitCalendar_MissingNavDayIsNil(t *testing.T) {
	repo := &fakeAggRepo{
		holdings: []model.Holding{{ID: 1, FundCode: "000001", UserID: 10}},
		txs: map[int64][]model.Transaction{
			1: {holdingTx(1, 1, model.TxBuy, "2026-01-05", "100", "1.00")},
		},
	}
	prices := &mapPrices{histories: map[string]model.NavHistory{
		"000001": {
			Code: "000001", From: date("2026-01-05"), To: date("2026-01-08"),
			Points: []model.NavPoint{
				{Date: date("2026-01-05"), Nav: dec("1.00")},
				{Date: date("2026-01-06"), Nav: dec("1.02")},
				// the 7th never published
				{Date: date("2026-01-08"), Nav: dec("1.05")},
			},
		},
	}}
	agg := newTestAggregator(repo, prices, "2026-01-08")

	days, err := agg.ProfitCalendar(context.Background(), 10, 2026, time.January)
	require.NoError(t, err)

	// days before the first transaction and after today are omitted
	require.Len(t, days, 4)
	assert.Equal(t, date("2026-01-05"), days[0].Date)
	assert.Equal(t, date("2026-01-08"), days[3].Date)

	// buy day: MV 100, cash flow 100
	require.NotNil(t, days[0].Profit)
	assert.InDelta(t, 0.0, days[0].Profit.InexactFloat64(), 1e-6)

	require.NotNil(t, days[1].Profit)
	assert.InDelta(t, 2.0, days[1].Profit.InexactFloat64(), 1e-6)

	assert.Nil(t, days[2].Profit, "no NAV on the 7th means no profit figure")

	// the 8th compares against the carried-forward NAV of the 6th
	require.NotNil(t, days[3].Profit)
	assert.InDelta(t, 3.0, days[3].Profit.InexactFloat64(), 1e-6)
}

func TestProfitCalendar_NoActivity(t *testing.T) {
	repo := &fakeAggRepo{
		holdings: []model.Holding{{ID: 1, FundCode: "000001", UserID: 10}},
		txs:      map[int64][]model.Transaction{},
	}
	agg := newTestAggregator(repo, &mapPrices{}, "2026-01-08")

	days, err := agg.ProfitCalendar(context.Background(), 10, 2026, time.January)
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestProfitCalendar_SellDayCashFlow(t *testing.T) {
	repo := &fakeAggRepo{
		holdings: []model.Holding{{ID: 1, FundCode: "000001", UserID: 10}},
		txs: map[int64][]model.Transaction{
			1: {
				holdingTx(1, 1, model.TxBuy, "2026-01-05", "100", "1.00"),
				holdingTx(1, 2, model.TxSell, "2026-01-06", "100", "1.02"),
			},
		},
	}
	prices := &mapPrices{histories: map[string]model.NavHistory{
		"000001": {
			Code: "000001", From: date("2026-01-05"), To: date("2026-01-06"),
			Points: []model.NavPoint{
				{Date: date("2026-01-05"), Nav: dec("1.00")},
				{Date: date("2026-01-06"), Nav: dec("1.02")},
			},
		},
	}}
	agg := newTestAggregator(repo, prices, "2026-01-06")

	days, err := agg.ProfitCalendar(context.Background(), 10, 2026, time.January)
	require.NoError(t, err)

	require.Len(t, days, 2)
	// sell day: MV 0, prev MV 100, sale returned 102 in cash
	require.NotNil(t, days[1].Profit)
	assert.InDelta(t, 2.0, days[1].Profit.InexactFloat64(), 1e-6)
}
