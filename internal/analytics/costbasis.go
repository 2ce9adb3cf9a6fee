package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KotFed0t/fund_helper/internal/ledger"
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/internal/service"
	"github.com/KotFed0t/fund_helper/utils"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

type PriceSource interface {
	Estimate(ctx context.Context, code string) (model.FundEstimate, error)
	History(ctx context.Context, code string, from, to time.Time) (model.NavHistory, error)
}

// Calculator derives cost basis and profit from a holding's ledger under
// weighted-average-cost accounting. Results are recomputed from the full
// transaction sequence on every call and never cached.
type Calculator struct {
	prices PriceSource
	clock  clockwork.Clock
}

func NewCalculator(prices PriceSource, clock clockwork.Clock) *Calculator {
	return &Calculator{prices: prices, clock: clock}
}

// position is the state of a weighted-average-cost replay.
type position struct {
	Shares    decimal.Decimal
	CostBasis decimal.Decimal
	Realized  decimal.Decimal
	Invested  decimal.Decimal // total cost ever put into the position
}

// replay processes transactions in ledger order up to and including asOf.
func replay(txs []model.Transaction, asOf time.Time) position {
	ledger.SortReplayOrder(txs)

	pos := position{
		Shares:    decimal.Zero,
		CostBasis: decimal.Zero,
		Realized:  decimal.Zero,
		Invested:  decimal.Zero,
	}

	for _, t := range txs {
		if t.Date.After(asOf) {
			break
		}

		switch {
		case t.Type == model.TxBuy, t.Type == model.TxDividend && t.Reinvest:
			cost := t.Amount().Add(t.Fee)
			pos.CostBasis = pos.CostBasis.Add(cost)
			pos.Shares = pos.Shares.Add(t.Shares)
			pos.Invested = pos.Invested.Add(cost)
		case t.Type == model.TxSell:
			proceeds := t.Amount().Sub(t.Fee)
			if pos.Shares.IsPositive() {
				avgBefore := pos.CostBasis.Div(pos.Shares)
				soldCost := t.Shares.Mul(avgBefore)
				pos.Realized = pos.Realized.Add(proceeds.Sub(soldCost))
				pos.CostBasis = pos.CostBasis.Sub(soldCost)
				pos.Shares = pos.Shares.Sub(t.Shares)
			}
		case t.Type == model.TxDividend:
			pos.Realized = pos.Realized.Add(t.Amount().Sub(t.Fee))
		}
	}

	return pos
}

// Compute derives the holding's CostBasisResult as of asOf (zero value means
// now). The current price comes from the realtime estimate for a present-day
// asOf and from NAV history for a historical one; a missing price with no
// fallback propagates service.ErrDataUnavailable rather than being zeroed,
// since a silent zero would corrupt aggregate totals.
func (c *Calculator) Compute(ctx context.Context, holding model.Holding, txs []model.Transaction, asOf time.Time) (model.CostBasisResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Calculator.Compute"

	now := c.clock.Now()
	if asOf.IsZero() {
		asOf = now
	}

	pos := replay(txs, asOf)

	res := model.CostBasisResult{
		HoldingID:      holding.ID,
		FundCode:       holding.FundCode,
		Shares:         pos.Shares,
		CostBasis:      pos.CostBasis,
		RealizedProfit: pos.Realized,
		AvgCost:        decimal.Zero,
		MarketValue:    decimal.Zero,
		AsOf:           asOf,
	}

	if pos.Shares.IsPositive() {
		res.AvgCost = pos.CostBasis.Div(pos.Shares)

		price, err := c.currentPrice(ctx, holding.FundCode, txs, asOf, now)
		if err != nil {
			slog.Error("can't resolve price", slog.String("rqID", rqID), slog.String("op", op), slog.String("code", holding.FundCode), slog.String("err", err.Error()))
			return model.CostBasisResult{}, err
		}
		res.MarketValue = pos.Shares.Mul(price)
	}

	res.UnrealizedProfit = res.MarketValue.Sub(res.CostBasis)
	if pos.Invested.IsPositive() {
		res.ProfitRate = res.UnrealizedProfit.Add(res.RealizedProfit).Div(pos.Invested)
	} else {
		res.ProfitRate = decimal.Zero
	}

	return res, nil
}

// currentPrice resolves the per-share price at asOf: the realtime estimate
// when asOf is today, otherwise the latest NAV on or before asOf. An estimate
// failure falls back to NAV history before giving up.
func (c *Calculator) currentPrice(ctx context.Context, code string, txs []model.Transaction, asOf, now time.Time) (decimal.Decimal, error) {
	var histFrom time.Time
	if len(txs) > 0 {
		histFrom = txs[0].Date
	} else {
		histFrom = asOf
	}

	if sameDay(asOf, now) {
		estimate, err := c.prices.Estimate(ctx, code)
		if err == nil {
			return estimate.Nav, nil
		}
		if !errors.Is(err, service.ErrDataUnavailable) {
			return decimal.Decimal{}, err
		}
	}

	history, err := c.prices.History(ctx, code, histFrom, asOf)
	if err != nil {
		return decimal.Decimal{}, err
	}

	nav, ok := history.AsOf(asOf)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: no NAV for %s on or before %s", service.ErrDataUnavailable, code, asOf.Format("2006-01-02"))
	}

	return nav, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
