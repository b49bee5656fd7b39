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

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Balance is one currency row of get_all_wallet_balances.
type Balance struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
}

// WalletSummary combines balances with the newest transactions.
type WalletSummary struct {
	Balances           []Balance           `json:"balances"`
	RecentTransactions []model.Transaction `json:"recent_transactions"`
}

func cleanUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	return userID, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetBalance returns the available balance; zero for a wallet never touched.
func (s *WalletService) GetBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	userID, err := cleanUser(userID)
	if err != nil {
		return decimal.Zero, err
	}
	currency = NormalizeCurrency(currency)

	bal, err := s.repo.GetCachedBalance(ctx, userID, currency)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, repo.ErrCacheMiss) {
		s.log.Warnw("read balance cache", "user_id", userID, "currency", currency, "error", err)
	}

	// version 0 is the wallet before its first commit
	var version uint64
	w, err := s.repo.GetWallet(ctx, userID, currency)
	switch {
	case errors.Is(err, repo.ErrWalletNotFound):
		bal = decimal.Zero
	case err != nil:
		return decimal.Zero, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	default:
		bal, version = w.Balance, w.Version
	}
	if err := s.repo.CacheBalance(ctx, userID, currency, version, bal); err != nil {
		s.log.Warnw("write balance cache", "user_id", userID, "currency", currency, "error", err)
	}
	return bal, nil
}

// GetAllBalances lists one row per currency the user ever transacted in.
func (s *WalletService) GetAllBalances(ctx context.Context, userID string) ([]Balance, error) {
	userID, err := cleanUser(userID)
	if err != nil {
		return nil, err
	}
	ws, err := s.repo.ListWallets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	out := make([]Balance, 0, len(ws))
	for _, w := range ws {
		out = append(out, Balance{Currency: w.Currency, Available: w.Balance})
	}
	return out, nil
}

// GetTransactionHistory pages the log newest first. currency may be empty.
func (s *WalletService) GetTransactionHistory(ctx context.Context, userID, currency string, limit, offset int) ([]model.Transaction, error) {
	userID, err := cleanUser(userID)
	if err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	txs, err := s.repo.ListTransactions(ctx, repo.TxQuery{
		UserID:   userID,
		Currency: NormalizeCurrency(currency),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	return txs, nil
}

// GetWalletSummary returns balances (only currency's when given) and the
// newest transactionLimit transactions.
func (s *WalletService) GetWalletSummary(ctx context.Context, userID, currency string, transactionLimit int) (*WalletSummary, error) {
	var (
		balances []Balance
		err      error
	)
	if currency = NormalizeCurrency(currency); currency != "" {
		var bal decimal.Decimal
		bal, err = s.GetBalance(ctx, userID, currency)
		balances = []Balance{{Currency: currency, Available: bal}}
	} else {
		balances, err = s.GetAllBalances(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	txs, err := s.GetTransactionHistory(ctx, userID, currency, transactionLimit, 0)
	if err != nil {
		return nil, err
	}
	return &WalletSummary{Balances: balances, RecentTransactions: txs}, nil
}
