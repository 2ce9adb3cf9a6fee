package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/KotFed0t/fund_helper/data/repository"
	"github.com/KotFed0t/fund_helper/internal/converter/dbConverter"
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/internal/model/dbModel"
	"github.com/KotFed0t/fund_helper/utils"
)

func (r *Postgres) InsertTransaction(ctx context.Context, tx model.Transaction) (transactionID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `
		INSERT INTO fund_transactions(holding_id, tx_type, reinvest, tx_date, shares, price_per_share, fee)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		RETURNING transaction_id
		`

	slog.Debug("InsertTransaction start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("InsertTransaction failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertTransaction completed", slog.String("rqID", rqID))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(
		ctx, query,
		tx.HoldingID, string(tx.Type), tx.Reinvest, tx.Date, tx.Shares, tx.PricePerShare, tx.Fee,
	).Scan(&transactionID)
	if err != nil {
		return 0, err
	}

	return transactionID, nil
}

func (r *Postgres) GetTransaction(ctx context.Context, transactionID int64) (tx model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `
		SELECT transaction_id, holding_id, tx_type, reinvest, tx_date, shares, price_per_share, fee, dt_create
		FROM fund_transactions
		WHERE transaction_id = $1
		`

	slog.Debug("GetTransaction start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetTransaction failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransaction completed", slog.String("rqID", rqID))
		}
	}()

	dbTx := dbModel.Transaction{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, transactionID).StructScan(&dbTx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Transaction{}, repository.ErrNotFound
		}
		return model.Transaction{}, err
	}

	return dbConverter.ConvertTransaction(dbTx), nil
}

// GetTransactions returns the holding's full ledger in replay order:
// date ascending, insertion order breaking ties.
func (r *Postgres) GetTransactions(ctx context.Context, holdingID int64) (txs []model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `
		SELECT transaction_id, holding_id, tx_type, reinvest, tx_date, shares, price_per_share, fee, dt_create
		FROM fund_transactions
		WHERE holding_id = $1
		ORDER BY tx_date, transaction_id
		`

	slog.Debug("GetTransactions start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetTransactions failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransactions completed", slog.String("rqID", rqID))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, holdingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var dbTx dbModel.Transaction
		if err = rows.StructScan(&dbTx); err != nil {
			return nil, err
		}
		txs = append(txs, dbConverter.ConvertTransaction(dbTx))
	}

	return txs, rows.Err()
}

func (r *Postgres) UpdateTransaction(ctx context.Context, tx model.Transaction) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `
		UPDATE fund_transactions
		SET tx_type = $2, reinvest = $3, tx_date = $4, shares = $5, price_per_share = $6, fee = $7
		WHERE transaction_id = $1
		`

	slog.Debug("UpdateTransaction start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("UpdateTransaction failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateTransaction completed", slog.String("rqID", rqID))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(
		ctx, query,
		tx.ID, string(tx.Type), tx.Reinvest, tx.Date, tx.Shares, tx.PricePerShare, tx.Fee,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *Postgres) DeleteTransaction(ctx context.Context, transactionID int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `DELETE FROM fund_transactions WHERE transaction_id = $1`

	slog.Debug("DeleteTransaction start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("DeleteTransaction failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteTransaction completed", slog.String("rqID", rqID))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, transactionID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}
