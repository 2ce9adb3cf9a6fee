package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Fund struct {
	Code      string
	Name      string
	Category  string
	CreatedAt time.Time
}

type FundEstimate struct {
	Code          string
	Name          string
	Nav           decimal.Decimal
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	Date          time.Time
}

type FundSearchResult struct {
	Code     string
	Name     string
	Category string
}

type NavPoint struct {
	Date time.Time
	Nav  decimal.Decimal
}

// NavHistory holds the contiguous range of daily NAV points fetched so far
// for a fund. From/To describe the covered range, Points only the dates the
// provider actually published (trading days).
type NavHistory struct {
	Code   string
	From   time.Time
	To     time.Time
	Points []NavPoint
}

// Covers reports whether the range [from, to] is inside the fetched range.
func (h NavHistory) Covers(from, to time.Time) bool {
	if len(h.Points) == 0 && h.To.IsZero() {
		return false
	}
	return !from.Before(h.From) && !to.After(h.To)
}

// On returns the NAV published exactly on date.
func (h NavHistory) On(date time.Time) (decimal.Decimal, bool) {
	d := date.Truncate(24 * time.Hour)
	for i := len(h.Points) - 1; i >= 0; i-- {
		p := h.Points[i]
		if p.Date.Truncate(24 * time.Hour).Equal(d) {
			return p.Nav, true
		}
	}
	return decimal.Decimal{}, false
}

// AsOf returns the latest NAV published on or before date.
func (h NavHistory) AsOf(date time.Time) (decimal.Decimal, bool) {
	for i := len(h.Points) - 1; i >= 0; i-- {
		if !h.Points[i].Date.After(date) {
			return h.Points[i].Nav, true
		}
	}
	return decimal.Decimal{}, false
}
