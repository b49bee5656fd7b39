package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) (*Repository, context.Context) {
	db := testutil.NewDB(t)
	return NewRepository(db, nil, nil, time.Minute, testutil.Logger()), context.Background()
}

func strPtr(s string) *string { return &s }

func TestEnsureWallet_OnlyOneRow(t *testing.T) {
	r, ctx := newTestRepo(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.EnsureWallet(ctx, r.DB(ctx), "u1", "USD"))
	}
	ws, err := r.ListWallets(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.True(t, ws[0].Balance.IsZero())
}

func TestEnsureWallet_RolledBackWithTransaction(t *testing.T) {
	r, ctx := newTestRepo(t)

	_ = r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		require.NoError(t, r.EnsureWallet(ctx, tx, "u1", "USD"))
		return assert.AnError
	})
	_, err := r.GetWallet(ctx, "u1", "USD")
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestUpdateWallet_OptimisticLock(t *testing.T) {
	r, ctx := newTestRepo(t)
	require.NoError(t, r.EnsureWallet(ctx, r.DB(ctx), "u1", "USD"))

	w, err := r.GetWalletForUpdate(ctx, r.DB(ctx), "u1", "USD")
	require.NoError(t, err)

	require.NoError(t, r.UpdateWallet(ctx, r.DB(ctx), w.ID, decimal.NewFromInt(10), w.Version))
	err = r.UpdateWallet(ctx, r.DB(ctx), w.ID, decimal.NewFromInt(20), w.Version)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := r.GetWallet(ctx, "u1", "USD")
	require.NoError(t, err)
	assert.Equal(t, "10", got.Balance.String())
	assert.Equal(t, w.Version+1, got.Version)
}

func TestCreateTransaction_DuplicateKey(t *testing.T) {
	r, ctx := newTestRepo(t)

	first := &model.Transaction{
		WalletID: 1, UserID: "u1", Currency: "USD", Type: model.TypeDeposit,
		Amount: decimal.NewFromInt(5), BalanceAfter: decimal.NewFromInt(5),
		IdempotencyKey: strPtr("k1"),
	}
	require.NoError(t, r.CreateTransaction(ctx, r.DB(ctx), first))

	dup := *first
	dup.ID = 0
	err := r.CreateTransaction(ctx, r.DB(ctx), &dup)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	// rows without a key never collide
	for i := 0; i < 2; i++ {
		require.NoError(t, r.CreateTransaction(ctx, r.DB(ctx), &model.Transaction{
			WalletID: 1, UserID: "u1", Currency: "USD", Type: model.TypeDeposit,
			Amount: decimal.NewFromInt(1), BalanceAfter: decimal.NewFromInt(6),
		}))
	}

	got, err := r.FindByIdempotencyKey(ctx, r.DB(ctx), "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	none, err := r.FindByIdempotencyKey(ctx, r.DB(ctx), "missing")
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestCreateTransaction_MetadataVerbatim(t *testing.T) {
	r, ctx := newTestRepo(t)

	meta := model.Metadata{"source": "admin_panel", "admin_id": "a-7", "nested": map[string]any{"n": 1.5}}
	require.NoError(t, r.CreateTransaction(ctx, r.DB(ctx), &model.Transaction{
		WalletID: 1, UserID: "u1", Currency: "USD", Type: model.TypeAdminTopup,
		Amount: decimal.NewFromInt(5), BalanceAfter: decimal.NewFromInt(5), Metadata: meta,
	}))

	txs, err := r.ListTransactions(ctx, TxQuery{UserID: "u1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, meta, txs[0].Metadata)
}

func TestListTransactions_NewestFirstAndPaged(t *testing.T) {
	r, ctx := newTestRepo(t)

	for i, cur := range []string{"USD", "BTC", "USD", "USD"} {
		require.NoError(t, r.CreateTransaction(ctx, r.DB(ctx), &model.Transaction{
			WalletID: 1, UserID: "u1", Currency: cur, Type: model.TypeDeposit,
			Amount: decimal.NewFromInt(int64(i + 1)), BalanceAfter: decimal.NewFromInt(int64(i + 1)),
		}))
	}

	all, err := r.ListTransactions(ctx, TxQuery{UserID: "u1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Greater(t, all[0].ID, all[1].ID)

	usd, err := r.ListTransactions(ctx, TxQuery{UserID: "u1", Currency: "USD", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, usd, 1)
	assert.Equal(t, "3", usd[0].Amount.String())
}

func TestOutbox_PollAndMark(t *testing.T) {
	r, ctx := newTestRepo(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.CreateOutboxEvent(ctx, r.DB(ctx), &model.OutboxEvent{
			Aggregate: model.AggregateWallet, AggregateID: 1,
			EventType: model.EventBalanceUpdated, Payload: `{}`,
		}))
	}
	evts, err := r.PollOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, evts, 2)

	require.NoError(t, r.MarkOutboxProcessed(ctx, evts[0].ID))
	evts, err = r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, evts, 2)
}

func TestPublishEvent_NoWriter(t *testing.T) {
	r, ctx := newTestRepo(t)
	assert.Error(t, r.PublishEvent(ctx, model.OutboxEvent{ID: 1}))
}

func newCachedRepo(t *testing.T) (*Repository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRepository(testutil.NewDB(t), rdb, nil, time.Minute, testutil.Logger()), mr
}

func TestBalanceCache_VersionGuard(t *testing.T) {
	r, mr := newCachedRepo(t)
	ctx := context.Background()

	_, err := r.GetCachedBalance(ctx, "u1", "USD")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, r.CacheBalance(ctx, "u1", "USD", 2, decimal.RequireFromString("12.5")))
	got, err := mr.Get("balance:u1:USD")
	require.NoError(t, err)
	assert.Equal(t, "2:12.5", got)
	assert.Equal(t, time.Minute, mr.TTL("balance:u1:USD"))

	bal, err := r.GetCachedBalance(ctx, "u1", "USD")
	require.NoError(t, err)
	assert.Equal(t, "12.5", bal.String())

	// older or equal versions never overwrite
	require.NoError(t, r.CacheBalance(ctx, "u1", "USD", 1, decimal.NewFromInt(9)))
	require.NoError(t, r.CacheBalance(ctx, "u1", "USD", 2, decimal.NewFromInt(9)))
	bal, err = r.GetCachedBalance(ctx, "u1", "USD")
	require.NoError(t, err)
	assert.Equal(t, "12.5", bal.String())

	require.NoError(t, r.CacheBalance(ctx, "u1", "USD", 3, decimal.NewFromInt(1)))
	bal, err = r.GetCachedBalance(ctx, "u1", "USD")
	require.NoError(t, err)
	assert.Equal(t, "1", bal.String())

	require.NoError(t, r.InvalidateBalance(ctx, "u1", "USD"))
	_, err = r.GetCachedBalance(ctx, "u1", "USD")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestBalanceCache_MalformedEntryIsMiss(t *testing.T) {
	r, mr := newCachedRepo(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("balance:u1:USD", "12.5"))

	_, err := r.GetCachedBalance(ctx, "u1", "USD")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.False(t, mr.Exists("balance:u1:USD"))

	// a value without a version never blocks a fill
	require.NoError(t, mr.Set("balance:u1:USD", "junk"))
	require.NoError(t, r.CacheBalance(ctx, "u1", "USD", 0, decimal.Zero))
	got, err := mr.Get("balance:u1:USD")
	require.NoError(t, err)
	assert.Equal(t, "0:0", got)
}

func TestBalanceCache_RedisDown(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	r := NewRepository(testutil.NewDB(t), rdb, nil, time.Minute, testutil.Logger())
	ctx := context.Background()

	mock.ExpectGet("balance:u1:USD").SetErr(assert.AnError)
	mock.ExpectDel("balance:u1:USD").SetVal(1)

	_, err := r.GetCachedBalance(ctx, "u1", "USD")
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, r.InvalidateBalance(ctx, "u1", "USD"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceCache_Disabled(t *testing.T) {
	r, ctx := newTestRepo(t)
	assert.NoError(t, r.CacheBalance(ctx, "u1", "USD", 1, decimal.NewFromInt(1)))
	_, err := r.GetCachedBalance(ctx, "u1", "USD")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, r.InvalidateBalance(ctx, "u1", "USD"))
}
