package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KotFed0t/fund_helper/data/repository"
	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu          sync.Mutex
	holdings    map[int64]model.Holding
	txs         map[int64]model.Transaction
	nextID      int64
	versionErr  error
	bumpedCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		holdings: map[int64]model.Holding{1: {ID: 1, FundCode: "000001", UserID: 10}},
		txs:      map[int64]model.Transaction{},
		nextID:   1,
	}
}

func (r *fakeRepo) GetHolding(_ context.Context, holdingID int64) (model.Holding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holdings[holdingID]
	if !ok {
		return model.Holding{}, repository.ErrNotFound
	}
	return h, nil
}

func (r *fakeRepo) GetTransaction(_ context.Context, transactionID int64) (model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[transactionID]
	if !ok {
		return model.Transaction{}, repository.ErrNotFound
	}
	return tx, nil
}

func (r *fakeRepo) GetTransactions(_ context.Context, holdingID int64) ([]model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var txs []model.Transaction
	for _, tx := range r.txs {
		if tx.HoldingID == holdingID {
			txs = append(txs, tx)
		}
	}
	SortReplayOrder(txs)
	return txs, nil
}

func (r *fakeRepo) InsertTransaction(_ context.Context, tx model.Transaction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx.ID = r.nextID
	r.nextID++
	r.txs[tx.ID] = tx
	return tx.ID, nil
}

func (r *fakeRepo) UpdateTransaction(_ context.Context, tx model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.ID]; !ok {
		return repository.ErrNotFound
	}
	r.txs[tx.ID] = tx
	return nil
}

func (r *fakeRepo) DeleteTransaction(_ context.Context, transactionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[transactionID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.txs, transactionID)
	return nil
}

func (r *fakeRepo) BumpHoldingVersion(_ context.Context, holdingID int64, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.versionErr != nil {
		return r.versionErr
	}
	h := r.holdings[holdingID]
	h.Version++
	r.holdings[holdingID] = h
	r.bumpedCalls++
	return nil
}

func (r *fakeRepo) WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error {
	return tFunc(ctx)
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func buy(holdingID int64, day string, shares, price float64) model.Transaction {
	return model.Transaction{
		HoldingID:     holdingID,
		Type:          model.TxBuy,
		Date:          date(day),
		Shares:        decimal.NewFromFloat(shares),
		PricePerShare: decimal.NewFromFloat(price),
	}
}

func sell(holdingID int64, day string, shares, price float64) model.Transaction {
	tx := buy(holdingID, day, shares, price)
	tx.Type = model.TxSell
	return tx
}

func TestAppend_BuyThenSell(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	stored, err := l.Append(ctx, buy(1, "2026-01-05", 100, 1.0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ID)

	_, err = l.Append(ctx, sell(1, "2026-01-10", 50, 1.2))
	require.NoError(t, err)

	txs, err := l.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	assert.Equal(t, 2, repo.bumpedCalls)
}

func TestAppend_OversellRejected(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	_, err := l.Append(ctx, buy(1, "2026-01-05", 100, 1.0))
	require.NoError(t, err)

	_, err = l.Append(ctx, sell(1, "2026-01-10", 150, 1.2))
	assert.ErrorIs(t, err, service.ErrValidation)

	txs, _ := l.List(ctx, 1)
	assert.Len(t, txs, 1, "rejected transaction must not be persisted")
}

func TestAppend_HistoricalSellBreakingPrefixRejected(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	_, err := l.Append(ctx, buy(1, "2026-01-10", 100, 1.0))
	require.NoError(t, err)

	// dated before the only buy: running balance goes negative on day 5
	_, err = l.Append(ctx, sell(1, "2026-01-05", 50, 1.2))
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestAppend_SameDaySellAfterBuyAllowed(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	_, err := l.Append(ctx, buy(1, "2026-01-05", 100, 1.0))
	require.NoError(t, err)

	// same date as the buy; insertion order puts it after
	_, err = l.Append(ctx, sell(1, "2026-01-05", 100, 1.1))
	assert.NoError(t, err)
}

func TestAppend_FieldValidation(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	tx := buy(1, "2026-01-05", 100, 1.0)
	tx.Shares = decimal.NewFromInt(-5)
	_, err := l.Append(ctx, tx)
	assert.ErrorIs(t, err, service.ErrValidation)

	tx = buy(1, "2026-01-05", 100, 1.0)
	tx.Fee = decimal.NewFromInt(-1)
	_, err = l.Append(ctx, tx)
	assert.ErrorIs(t, err, service.ErrValidation)

	tx = buy(1, "2026-01-05", 100, 1.0)
	tx.Reinvest = true
	_, err = l.Append(ctx, tx)
	assert.ErrorIs(t, err, service.ErrValidation, "reinvest is only valid on DIVIDEND")

	tx = buy(1, "2026-01-05", 100, 1.0)
	tx.Type = "TRANSFER"
	_, err = l.Append(ctx, tx)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestAppend_UnknownHolding(t *testing.T) {
	l := New(newFakeRepo())

	_, err := l.Append(context.Background(), buy(99, "2026-01-05", 100, 1.0))
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestUpdate_RevalidatesWholeSequence(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	stored, err := l.Append(ctx, buy(1, "2026-01-05", 100, 1.0))
	require.NoError(t, err)
	_, err = l.Append(ctx, sell(1, "2026-01-10", 80, 1.2))
	require.NoError(t, err)

	// shrinking the buy below the later sell must fail
	smaller := decimal.NewFromInt(50)
	_, err = l.Update(ctx, stored.ID, model.TransactionChanges{Shares: &smaller}, -1)
	assert.ErrorIs(t, err, service.ErrValidation)

	// shrinking within bounds is fine
	enough := decimal.NewFromInt(90)
	updated, err := l.Update(ctx, stored.ID, model.TransactionChanges{Shares: &enough}, -1)
	require.NoError(t, err)
	assert.True(t, updated.Shares.Equal(enough))
}

func TestUpdate_DateMoveRevalidates(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	buyTx, err := l.Append(ctx, buy(1, "2026-01-05", 100, 1.0))
	require.NoError(t, err)
	_, err = l.Append(ctx, sell(1, "2026-01-10", 80, 1.2))
	require.NoError(t, err)

	// moving the buy after the sell starves the sell's prefix
	late := date("2026-01-15")
	_, err = l.Update(ctx, buyTx.ID, model.TransactionChanges{Date: &late}, -1)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestRemove_BackingBuyRejected(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	buyTx, err := l.Append(ctx, buy(1, "2026-01-05", 100, 1.0))
	require.NoError(t, err)
	_, err = l.Append(ctx, sell(1, "2026-01-10", 80, 1.2))
	require.NoError(t, err)

	err = l.Remove(ctx, buyTx.ID, -1)
	assert.ErrorIs(t, err, service.ErrValidation)

	txs, _ := l.List(ctx, 1)
	assert.Len(t, txs, 2)
}

func TestRemove_LastTransaction(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	buyTx, err := l.Append(ctx, buy(1, "2026-01-05", 100, 1.0))
	require.NoError(t, err)

	require.NoError(t, l.Remove(ctx, buyTx.ID, -1))

	txs, _ := l.List(ctx, 1)
	assert.Empty(t, txs)
}

func TestUpdate_VersionConflict(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	stored, err := l.Append(ctx, buy(1, "2026-01-05", 100, 1.0))
	require.NoError(t, err)

	repo.versionErr = repository.ErrVersionConflict

	price := decimal.NewFromFloat(1.5)
	_, err = l.Update(ctx, stored.ID, model.TransactionChanges{PricePerShare: &price}, 7)
	assert.ErrorIs(t, err, service.ErrVersionConflict)

	err = l.Remove(ctx, stored.ID, 7)
	assert.ErrorIs(t, err, service.ErrVersionConflict)
}

func TestDividend_DoesNotAffectBalanceUnlessReinvested(t *testing.T) {
	repo := newFakeRepo()
	l := New(repo)
	ctx := context.Background()

	_, err := l.Append(ctx, buy(1, "2026-01-05", 100, 1.0))
	require.NoError(t, err)

	div := model.Transaction{
		HoldingID:     1,
		Type:          model.TxDividend,
		Date:          date("2026-01-08"),
		Shares:        decimal.NewFromInt(100),
		PricePerShare: decimal.NewFromFloat(0.02),
	}
	_, err = l.Append(ctx, div)
	require.NoError(t, err)

	// cash dividend added no shares: selling 101 must still fail
	_, err = l.Append(ctx, sell(1, "2026-01-10", 101, 1.2))
	assert.ErrorIs(t, err, service.ErrValidation)

	div.Reinvest = true
	div.Date = date("2026-01-09")
	_, err = l.Append(ctx, div)
	require.NoError(t, err)

	// reinvested dividend added 100 shares
	_, err = l.Append(ctx, sell(1, "2026-01-10", 200, 1.2))
	assert.NoError(t, err)
}
