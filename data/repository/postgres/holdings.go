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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const uniqueViolationCode = "23505"

func (r *Postgres) RegUser(ctx context.Context, authID string) (userID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `INSERT INTO users(auth_id) VALUES($1) RETURNING user_id`

	slog.Debug("RegUser start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("RegUser failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("RegUser completed", slog.String("rqID", rqID))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, authID).Scan(&userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return 0, repository.ErrAlreadyExists
		}
		return 0, err
	}

	return userID, nil
}

func (r *Postgres) GetUserID(ctx context.Context, authID string) (userID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `SELECT user_id FROM users WHERE auth_id = $1`

	slog.Debug("GetUserID start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetUserID failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetUserID completed", slog.String("rqID", rqID))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, authID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}

	return userID, nil
}

func (r *Postgres) UpsertFund(ctx context.Context, fund model.Fund) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `
		INSERT INTO funds(code, name, category) VALUES($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category
		`

	slog.Debug("UpsertFund start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("UpsertFund failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpsertFund completed", slog.String("rqID", rqID))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, fund.Code, fund.Name, fund.Category)
	return err
}

func (r *Postgres) GetFunds(ctx context.Context, codes []string) (funds []model.Fund, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `SELECT code, name, category, dt_create FROM funds WHERE code IN (?)`

	slog.Debug("GetFunds start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetFunds failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetFunds completed", slog.String("rqID", rqID))
		}
	}()

	if len(codes) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(query, codes)
	if err != nil {
		return nil, err
	}
	query = r.txOrDb(ctx).Rebind(query)

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var fund dbModel.Fund
		if err = rows.StructScan(&fund); err != nil {
			return nil, err
		}
		funds = append(funds, dbConverter.ConvertFund(fund))
	}

	return funds, rows.Err()
}

func (r *Postgres) GetDistinctFundCodes(ctx context.Context) (codes []string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `SELECT DISTINCT fund_code FROM holdings`

	slog.Debug("GetDistinctFundCodes start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetDistinctFundCodes failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetDistinctFundCodes completed", slog.String("rqID", rqID))
		}
	}()

	err = r.txOrDb(ctx).SelectContext(ctx, &codes, query)
	if err != nil {
		return nil, err
	}

	return codes, nil
}

func (r *Postgres) CreateHolding(ctx context.Context, userID int64, fundCode string) (holdingID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `INSERT INTO holdings(user_id, fund_code) VALUES($1, $2) RETURNING holding_id`

	slog.Debug("CreateHolding start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("CreateHolding failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("CreateHolding completed", slog.String("rqID", rqID))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, userID, fundCode).Scan(&holdingID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return 0, repository.ErrAlreadyExists
		}
		return 0, err
	}

	return holdingID, nil
}

func (r *Postgres) GetHolding(ctx context.Context, holdingID int64) (holding model.Holding, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `
		SELECT holding_id, fund_code, user_id, dt_create, dt_update, version
		FROM holdings
		WHERE holding_id = $1
		`

	slog.Debug("GetHolding start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetHolding failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetHolding completed", slog.String("rqID", rqID))
		}
	}()

	dbHolding := dbModel.Holding{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, holdingID).StructScan(&dbHolding)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Holding{}, repository.ErrNotFound
		}
		return model.Holding{}, err
	}

	return dbConverter.ConvertHolding(dbHolding), nil
}

func (r *Postgres) GetHoldingsByUser(ctx context.Context, userID int64) (holdings []model.Holding, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `
		SELECT holding_id, fund_code, user_id, dt_create, dt_update, version
		FROM holdings
		WHERE user_id = $1
		ORDER BY holding_id
		`

	slog.Debug("GetHoldingsByUser start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetHoldingsByUser failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetHoldingsByUser completed", slog.String("rqID", rqID))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var dbHolding dbModel.Holding
		if err = rows.StructScan(&dbHolding); err != nil {
			return nil, err
		}
		holdings = append(holdings, dbConverter.ConvertHolding(dbHolding))
	}

	return holdings, rows.Err()
}

func (r *Postgres) DeleteHolding(ctx context.Context, holdingID int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `DELETE FROM holdings WHERE holding_id = $1`

	slog.Debug("DeleteHolding start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("DeleteHolding failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteHolding completed", slog.String("rqID", rqID))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, holdingID)
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

// BumpHoldingVersion increments the optimistic-concurrency version of the
// holding. When expectedVersion >= 0 the bump only applies if the stored
// version still matches, otherwise ErrVersionConflict is returned.
func (r *Postgres) BumpHoldingVersion(ctx context.Context, holdingID int64, expectedVersion int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `
		UPDATE holdings
		SET version = version + 1, dt_update = now()
		WHERE holding_id = $1
		AND ($2 < 0 OR version = $2)
		`

	slog.Debug("BumpHoldingVersion start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("BumpHoldingVersion failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		} else {
			slog.Debug("BumpHoldingVersion completed", slog.String("rqID", rqID))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, holdingID, expectedVersion)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrVersionConflict
	}

	return nil
}
