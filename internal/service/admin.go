package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/shopspring/decimal"
)

// Epsilon is the smallest difference worth recording as an adjustment.
var Epsilon = decimal.New(1, -4)

// IsNegligible reports whether |diff| is below Epsilon.
func IsNegligible(diff decimal.Decimal) bool {
	return diff.Abs().LessThan(Epsilon)
}

// SetBalanceRequest moves a wallet to a target balance on behalf of an admin.
type SetBalanceRequest struct {
	UserID         string
	Currency       string
	NewBalance     decimal.Decimal
	AdminID        string
	IdempotencyKey string
}

// SetBalanceResult reports the adjustment. Applied is nil when Skipped.
type SetBalanceResult struct {
	Skipped    bool
	OldBalance decimal.Decimal
	Difference decimal.Decimal
	Applied    *ApplyResult
}

// SetBalance computes target-minus-current and applies it as an admin_topup.
// The difference is taken from a plain read, so a concurrent write between
// the read and the apply is not folded in.
func (s *WalletService) SetBalance(ctx context.Context, req SetBalanceRequest) (*SetBalanceResult, error) {
	userID, err := cleanUser(req.UserID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.AdminID) == "" {
		return nil, fmt.Errorf("%w: admin_id is required", ErrInvalidRequest)
	}
	if req.NewBalance.IsNegative() {
		return nil, fmt.Errorf("%w: new balance must not be negative", ErrInvalidAmount)
	}
	if err := checkMagnitude(req.NewBalance); err != nil {
		return nil, err
	}
	currency := NormalizeCurrency(req.Currency)

	old := decimal.Zero
	w, err := s.repo.GetWallet(ctx, userID, currency)
	switch {
	case errors.Is(err, repo.ErrWalletNotFound):
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	default:
		old = w.Balance
	}

	diff := req.NewBalance.Sub(old)
	if IsNegligible(diff) {
		return &SetBalanceResult{Skipped: true, OldBalance: old, Difference: diff}, nil
	}

	res, err := s.ApplyTransaction(ctx, ApplyRequest{
		UserID:         userID,
		Amount:         diff,
		Type:           model.TypeAdminTopup,
		Currency:       currency,
		IdempotencyKey: req.IdempotencyKey,
		Metadata: model.Metadata{
			"source":      "admin_panel",
			"admin_id":    req.AdminID,
			"old_balance": old.String(),
			"new_balance": req.NewBalance.String(),
			"difference":  diff.String(),
		},
	})
	if err != nil {
		return nil, err
	}
	return &SetBalanceResult{OldBalance: old, Difference: diff, Applied: res}, nil
}
