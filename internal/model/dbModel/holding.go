package dbModel

import (
	"time"

	"github.com/shopspring/decimal"
)

type Fund struct {
	Code      string    `db:"code"`
	Name      string    `db:"name"`
	Category  string    `db:"category"`
	CreatedAt time.Time `db:"dt_create"`
}

type Holding struct {
	HoldingID int64     `db:"holding_id"`
	FundCode  string    `db:"fund_code"`
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"dt_create"`
	UpdatedAt time.Time `db:"dt_update"`
	Version   int64     `db:"version"`
}

type Transaction struct {
	TransactionID int64           `db:"transaction_id"`
	HoldingID     int64           `db:"holding_id"`
	Type          string          `db:"tx_type"`
	Reinvest      bool            `db:"reinvest"`
	Date          time.Time       `db:"tx_date"`
	Shares        decimal.Decimal `db:"shares"`
	PricePerShare decimal.Decimal `db:"price_per_share"`
	Fee           decimal.Decimal `db:"fee"`
	CreatedAt     time.Time       `db:"dt_create"`
}
