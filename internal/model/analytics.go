package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostBasisResult is derived from a holding's ledger on every read, it is
// never persisted.
type CostBasisResult struct {
	HoldingID        int64
	FundCode         string
	Shares           decimal.Decimal
	AvgCost          decimal.Decimal
	CostBasis        decimal.Decimal
	MarketValue      decimal.Decimal
	UnrealizedProfit decimal.Decimal
	RealizedProfit   decimal.Decimal
	ProfitRate       decimal.Decimal
	AsOf             time.Time
}

type PortfolioSummary struct {
	TotalValue   decimal.Decimal
	TotalCost    decimal.Decimal
	TotalProfit  decimal.Decimal
	ProfitRate   decimal.Decimal
	HoldingCount int
	AsOf         time.Time
}

type AllocationSlice struct {
	Category string
	Value    decimal.Decimal
	Weight   decimal.Decimal
}

// CalendarDay reports a single day of the profit calendar. Profit is nil when
// no NAV was published for that day, which is distinct from a zero-profit day.
type CalendarDay struct {
	Date   time.Time
	Profit *decimal.Decimal
}
