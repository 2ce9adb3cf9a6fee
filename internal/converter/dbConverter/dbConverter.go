package dbConverter

import (
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/internal/model/dbModel"
)

func ConvertFund(dbFund dbModel.Fund) model.Fund {
	return model.Fund{
		Code:      dbFund.Code,
		Name:      dbFund.Name,
		Category:  dbFund.Category,
		CreatedAt: dbFund.CreatedAt,
	}
}

func ConvertHolding(dbHolding dbModel.Holding) model.Holding {
	return model.Holding{
		ID:        dbHolding.HoldingID,
		FundCode:  dbHolding.FundCode,
		UserID:    dbHolding.UserID,
		CreatedAt: dbHolding.CreatedAt,
		UpdatedAt: dbHolding.UpdatedAt,
		Version:   dbHolding.Version,
	}
}

func ConvertTransaction(dbTx dbModel.Transaction) model.Transaction {
	return model.Transaction{
		ID:            dbTx.TransactionID,
		HoldingID:     dbTx.HoldingID,
		Type:          model.TxType(dbTx.Type),
		Reinvest:      dbTx.Reinvest,
		Date:          dbTx.Date,
		Shares:        dbTx.Shares,
		PricePerShare: dbTx.PricePerShare,
		Fee:           dbTx.Fee,
		CreatedAt:     dbTx.CreatedAt,
	}
}
