package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/KotFed0t/fund_helper/data/repository"
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/internal/service"
	"github.com/KotFed0t/fund_helper/utils"
	"github.com/shopspring/decimal"
)

type Repository interface {
	GetHolding(ctx context.Context, holdingID int64) (model.Holding, error)
	GetTransaction(ctx context.Context, transactionID int64) (model.Transaction, error)
	GetTransactions(ctx context.Context, holdingID int64) ([]model.Transaction, error)
	InsertTransaction(ctx context.Context, tx model.Transaction) (int64, error)
	UpdateTransaction(ctx context.Context, tx model.Transaction) error
	DeleteTransaction(ctx context.Context, transactionID int64) error
	BumpHoldingVersion(ctx context.Context, holdingID int64, expectedVersion int64) error
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error
}

// Ledger is the append-only transaction log of a holding. Every mutation is
// validated against the full reprocessed sequence (a sell inserted before an
// existing buy must not drive the running balance negative at any prefix) and
// bumps the owning holding's version within the same SQL transaction.
type Ledger struct {
	repo  Repository
	locks sync.Map // holdingID -> *sync.Mutex
}

func New(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// lockHolding serializes validate-and-commit against concurrent mutations and
// replays of the same holding. Unrelated holdings are not blocked.
func (l *Ledger) lockHolding(holdingID int64) func() {
	v, _ := l.locks.LoadOrStore(holdingID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (l *Ledger) Append(ctx context.Context, tx model.Transaction) (model.Transaction, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Ledger.Append"

	slog.Debug("Append start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("holdingID", tx.HoldingID))
	defer func() {
		slog.Debug("Append finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("holdingID", tx.HoldingID))
	}()

	if err := validateFields(tx); err != nil {
		return model.Transaction{}, err
	}

	unlock := l.lockHolding(tx.HoldingID)
	defer unlock()

	if _, err := l.repo.GetHolding(ctx, tx.HoldingID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Transaction{}, service.ErrNotFound
		}
		return model.Transaction{}, err
	}

	txs, err := l.repo.GetTransactions(ctx, tx.HoldingID)
	if err != nil {
		return model.Transaction{}, err
	}

	if err := validateSequence(append(txs, tx)); err != nil {
		return model.Transaction{}, err
	}

	err = l.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		id, err := l.repo.InsertTransaction(ctx, tx)
		if err != nil {
			return err
		}
		tx.ID = id
		return l.repo.BumpHoldingVersion(ctx, tx.HoldingID, -1)
	})
	if err != nil {
		slog.Error("append commit failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Transaction{}, err
	}

	return tx, nil
}

func (l *Ledger) List(ctx context.Context, holdingID int64) ([]model.Transaction, error) {
	if _, err := l.repo.GetHolding(ctx, holdingID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	return l.repo.GetTransactions(ctx, holdingID)
}

func (l *Ledger) Update(ctx context.Context, transactionID int64, changes model.TransactionChanges, expectedVersion int64) (model.Transaction, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Ledger.Update"

	slog.Debug("Update start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	defer func() {
		slog.Debug("Update finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	}()

	current, err := l.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Transaction{}, service.ErrNotFound
		}
		return model.Transaction{}, err
	}

	updated := applyChanges(current, changes)
	if err := validateFields(updated); err != nil {
		return model.Transaction{}, err
	}

	unlock := l.lockHolding(current.HoldingID)
	defer unlock()

	txs, err := l.repo.GetTransactions(ctx, current.HoldingID)
	if err != nil {
		return model.Transaction{}, err
	}

	seq := make([]model.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.ID == transactionID {
			seq = append(seq, updated)
		} else {
			seq = append(seq, t)
		}
	}

	if err := validateSequence(seq); err != nil {
		return model.Transaction{}, err
	}

	err = l.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := l.repo.UpdateTransaction(ctx, updated); err != nil {
			return err
		}
		return l.repo.BumpHoldingVersion(ctx, current.HoldingID, expectedVersion)
	})
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return model.Transaction{}, service.ErrVersionConflict
		}
		slog.Error("update commit failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Transaction{}, err
	}

	return updated, nil
}

func (l *Ledger) Remove(ctx context.Context, transactionID int64, expectedVersion int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Ledger.Remove"

	slog.Debug("Remove start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	defer func() {
		slog.Debug("Remove finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("transactionID", transactionID))
	}()

	current, err := l.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return service.ErrNotFound
		}
		return err
	}

	unlock := l.lockHolding(current.HoldingID)
	defer unlock()

	txs, err := l.repo.GetTransactions(ctx, current.HoldingID)
	if err != nil {
		return err
	}

	seq := make([]model.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.ID != transactionID {
			seq = append(seq, t)
		}
	}

	if err := validateSequence(seq); err != nil {
		return err
	}

	err = l.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := l.repo.DeleteTransaction(ctx, transactionID); err != nil {
			return err
		}
		return l.repo.BumpHoldingVersion(ctx, current.HoldingID, expectedVersion)
	})
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return service.ErrVersionConflict
		}
		slog.Error("remove commit failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}

func applyChanges(tx model.Transaction, changes model.TransactionChanges) model.Transaction {
	if changes.Type != nil {
		tx.Type = *changes.Type
	}
	if changes.Reinvest != nil {
		tx.Reinvest = *changes.Reinvest
	}
	if changes.Date != nil {
		tx.Date = *changes.Date
	}
	if changes.Shares != nil {
		tx.Shares = *changes.Shares
	}
	if changes.PricePerShare != nil {
		tx.PricePerShare = *changes.PricePerShare
	}
	if changes.Fee != nil {
		tx.Fee = *changes.Fee
	}
	return tx
}

func validateFields(tx model.Transaction) error {
	switch tx.Type {
	case model.TxBuy, model.TxSell, model.TxDividend:
	default:
		return fmt.Errorf("%w: unknown transaction type %q", service.ErrValidation, tx.Type)
	}

	if tx.Date.IsZero() {
		return fmt.Errorf("%w: transaction date is required", service.ErrValidation)
	}
	if !tx.Shares.IsPositive() {
		return fmt.Errorf("%w: shares must be positive", service.ErrValidation)
	}
	if tx.PricePerShare.IsNegative() {
		return fmt.Errorf("%w: price per share can't be negative", service.ErrValidation)
	}
	if tx.Fee.IsNegative() {
		return fmt.Errorf("%w: fee can't be negative", service.ErrValidation)
	}
	if tx.Reinvest && tx.Type != model.TxDividend {
		return fmt.Errorf("%w: reinvest flag is only valid for DIVIDEND", service.ErrValidation)
	}

	return nil
}

// validateSequence simulates the running share balance over the ledger in
// replay order. A not-yet-inserted transaction (ID 0) sorts after persisted
// ones on the same date, matching the insertion-order tie break it will get.
func validateSequence(txs []model.Transaction) error {
	SortReplayOrder(txs)

	shares := decimal.Zero
	for _, t := range txs {
		switch {
		case t.Type == model.TxBuy, t.Type == model.TxDividend && t.Reinvest:
			shares = shares.Add(t.Shares)
		case t.Type == model.TxSell:
			shares = shares.Sub(t.Shares)
			if shares.IsNegative() {
				return fmt.Errorf(
					"%w: sell of %s shares on %s exceeds running balance",
					service.ErrValidation, t.Shares.String(), t.Date.Format("2006-01-02"),
				)
			}
		}
	}

	return nil
}

// SortReplayOrder sorts transactions by date ascending, ties broken by
// insertion sequence.
func SortReplayOrder(txs []model.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		di, dj := txs[i].Date, txs[j].Date
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return orderID(txs[i]) < orderID(txs[j])
	})
}

func orderID(tx model.Transaction) int64 {
	if tx.ID == 0 {
		return math.MaxInt64
	}
	return tx.ID
}
