package service

import (
	"testing"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNegligible(t *testing.T) {
	assert.True(t, IsNegligible(dec("0.00009")))
	assert.True(t, IsNegligible(dec("-0.00009")))
	assert.False(t, IsNegligible(dec("0.0001")))
	assert.False(t, IsNegligible(dec("-3")))
}

func TestSetBalance(t *testing.T) {
	svc, r, ctx := newTestService(t, Options{})

	res, err := svc.SetBalance(ctx, SetBalanceRequest{UserID: "u1", Currency: "usd", NewBalance: dec("250"), AdminID: "admin-1"})
	require.NoError(t, err)
	require.NotNil(t, res.Applied)
	assert.Equal(t, "250", res.Difference.String())
	assert.Equal(t, "250", res.Applied.BalanceAfter.String())

	res, err = svc.SetBalance(ctx, SetBalanceRequest{UserID: "u1", Currency: "USD", NewBalance: dec("200"), AdminID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, "-50", res.Difference.String())
	assert.Equal(t, "250", res.OldBalance.String())

	rows := logRows(t, r, "u1", "USD")
	require.Len(t, rows, 2)
	assert.Equal(t, model.TypeAdminTopup, rows[0].Type)
	assert.Equal(t, model.Metadata{
		"source":      "admin_panel",
		"admin_id":    "admin-1",
		"old_balance": "250",
		"new_balance": "200",
		"difference":  "-50",
	}, rows[0].Metadata)
}

func TestSetBalance_SkipsNegligible(t *testing.T) {
	svc, r, ctx := newTestService(t, Options{})
	_, err := svc.SetBalance(ctx, SetBalanceRequest{UserID: "u1", Currency: "USD", NewBalance: dec("10"), AdminID: "a"})
	require.NoError(t, err)

	res, err := svc.SetBalance(ctx, SetBalanceRequest{UserID: "u1", Currency: "USD", NewBalance: dec("10.00005"), AdminID: "a"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Nil(t, res.Applied)
	assert.Len(t, logRows(t, r, "u1", "USD"), 1)
}

func TestSetBalance_Validation(t *testing.T) {
	svc, _, ctx := newTestService(t, Options{})

	_, err := svc.SetBalance(ctx, SetBalanceRequest{UserID: "u1", Currency: "USD", NewBalance: dec("-1"), AdminID: "a"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.SetBalance(ctx, SetBalanceRequest{UserID: "u1", Currency: "USD", NewBalance: dec("1")})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	for _, nb := range []string{"1000000000000", "1e2000000"} {
		_, err = svc.SetBalance(ctx, SetBalanceRequest{UserID: "u1", Currency: "USD", NewBalance: dec(nb), AdminID: "a"})
		assert.ErrorIs(t, err, ErrInvalidAmount, nb)
	}
	bal, err := svc.GetBalance(ctx, "u1", "USD")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}
