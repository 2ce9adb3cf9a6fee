package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TxType string

const (
	TxBuy      TxType = "BUY"
	TxSell     TxType = "SELL"
	TxDividend TxType = "DIVIDEND"
)

type Holding struct {
	ID        int64
	FundCode  string
	UserID    int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// Transaction is a single ledger entry. For DIVIDEND the cash amount is
// Shares*PricePerShare (per-share payout on the recorded share count);
// with Reinvest set it acts as a BUY of Shares units at the ex-dividend NAV.
type Transaction struct {
	ID            int64
	HoldingID     int64
	Type          TxType
	Reinvest      bool
	Date          time.Time
	Shares        decimal.Decimal
	PricePerShare decimal.Decimal
	Fee           decimal.Decimal
	CreatedAt     time.Time
}

// Amount is the gross cash size of the transaction, fee excluded.
func (t Transaction) Amount() decimal.Decimal {
	return t.Shares.Mul(t.PricePerShare)
}

// TransactionChanges carries the mutable fields of an update; nil means keep.
type TransactionChanges struct {
	Type          *TxType
	Reinvest      *bool
	Date          *time.Time
	Shares        *decimal.Decimal
	PricePerShare *decimal.Decimal
	Fee           *decimal.Decimal
}
