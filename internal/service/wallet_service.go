package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/metrics"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidAmount means an amount the wallet columns cannot record.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidRequest means a malformed user, currency or type.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInsufficientFunds is returned when the balance would go negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrStorageFailure wraps infrastructure errors. Callers retry with the same key.
	ErrStorageFailure = errors.New("storage failure")

	errReplayed = errors.New("replayed")
)

// AmountScale is the number of fractional digits the wallet columns hold.
const AmountScale = 8

// MaxAmount bounds amounts and balances, exclusive. numeric(20,8) keeps 12
// integer digits.
var MaxAmount = decimal.New(1, 12)

// beyond this many fractional digits the value is rejected before any rescale
const maxFracDigits = 64

// checkMagnitude rejects values numeric(20,8) cannot store. The exponent is
// checked first so a huge literal like 1e2000000 is never expanded.
func checkMagnitude(d decimal.Decimal) error {
	if d.Exponent() > 12 || d.Exponent() < -maxFracDigits {
		return fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	if d.Abs().GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("%w: magnitude must be below %s", ErrInvalidAmount, MaxAmount)
	}
	return nil
}

// column widths in model
const (
	maxUserIDLen = 64
	maxKeyLen    = 128
)

var (
	currencyRe = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)
	typeRe     = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)
)

// ApplyRequest is one signed balance delta.
type ApplyRequest struct {
	UserID         string
	Amount         decimal.Decimal
	Type           string
	Currency       string
	IdempotencyKey string
	Metadata       model.Metadata
}

// ApplyResult is what apply_transaction returns. Replayed is set when the
// idempotency key matched an earlier transaction; it is not sent to callers.
type ApplyResult struct {
	TransactionID uint64          `json:"transaction_id"`
	UserID        string          `json:"-"`
	Currency      string          `json:"-"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Replayed      bool            `json:"-"`
	// Version is the wallet version written by this apply; zero on replay.
	Version uint64 `json:"-"`
}

// Options tunes WalletService.
type Options struct {
	// OverdraftTypes may drive a balance below zero. Empty by default.
	OverdraftTypes []string
}

// WalletService glues business logic and repository.
type WalletService struct {
	repo      repo.RepositoryInterface
	log       *zap.SugaredLogger
	overdraft map[string]bool
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger, opts Options) *WalletService {
	od := make(map[string]bool, len(opts.OverdraftTypes))
	for _, t := range opts.OverdraftTypes {
		od[t] = true
	}
	return &WalletService{repo: r, log: logger, overdraft: od}
}

// NormalizeCurrency trims and upper-cases a currency code.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

func validate(req ApplyRequest) (ApplyRequest, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Currency = NormalizeCurrency(req.Currency)
	req.Type = strings.TrimSpace(req.Type)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if req.UserID == "" || len(req.UserID) > maxUserIDLen {
		return req, fmt.Errorf("%w: user_id must be 1-%d bytes", ErrInvalidRequest, maxUserIDLen)
	}
	if len(req.IdempotencyKey) > maxKeyLen {
		return req, fmt.Errorf("%w: idempotency_key longer than %d bytes", ErrInvalidRequest, maxKeyLen)
	}
	if !currencyRe.MatchString(req.Currency) {
		return req, fmt.Errorf("%w: currency %q", ErrInvalidRequest, req.Currency)
	}
	if !typeRe.MatchString(req.Type) {
		return req, fmt.Errorf("%w: type %q", ErrInvalidRequest, req.Type)
	}
	if req.Amount.IsZero() {
		return req, fmt.Errorf("%w: amount must be non-zero", ErrInvalidAmount)
	}
	if err := checkMagnitude(req.Amount); err != nil {
		return req, err
	}
	if !req.Amount.Equal(req.Amount.Truncate(AmountScale)) {
		return req, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, AmountScale)
	}
	return req, nil
}

// ApplyTransaction validates and atomically applies one signed delta. A
// repeated idempotency key returns the original result without touching state.
func (s *WalletService) ApplyTransaction(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	start := time.Now()
	defer func() { metrics.ApplyDuration.Observe(time.Since(start).Seconds()) }()

	req, err := validate(req)
	if err != nil {
		metrics.TransactionsRejected.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var res *ApplyResult
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		res, txErr = s.apply(ctx, tx, req)
		return txErr
	})

	switch {
	case err == nil:
	case errors.Is(err, errReplayed):
		err = nil
	case errors.Is(err, repo.ErrDuplicateIdempotencyKey):
		// lost the insert race on the key; answer with the winner's row
		prior, ferr := s.repo.FindByIdempotencyKey(ctx, s.repo.DB(ctx), req.IdempotencyKey)
		if ferr != nil || prior == nil {
			err = fmt.Errorf("%w: resolve idempotency key: %w", ErrStorageFailure, errors.Join(err, ferr))
			break
		}
		res, err = replayOf(prior), nil
	case errors.Is(err, ErrInsufficientFunds):
		metrics.TransactionsRejected.WithLabelValues("insufficient_funds").Inc()
		return nil, err
	case errors.Is(err, ErrInvalidAmount):
		metrics.TransactionsRejected.WithLabelValues("invalid").Inc()
		return nil, err
	default:
		err = fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if err != nil {
		metrics.TransactionsRejected.WithLabelValues("storage").Inc()
		s.log.Errorw("apply transaction failed",
			"user_id", req.UserID, "currency", req.Currency, "type", req.Type, "error", err)
		return nil, err
	}

	if res.Replayed {
		metrics.TransactionsReplayed.Inc()
		s.log.Infow("idempotent replay",
			"user_id", req.UserID, "currency", req.Currency, "transaction_id", res.TransactionID)
		return res, nil
	}

	metrics.TransactionsApplied.WithLabelValues(req.Type).Inc()
	if err := s.repo.CacheBalance(ctx, req.UserID, req.Currency, res.Version, res.BalanceAfter); err != nil {
		s.log.Warnw("write balance cache", "user_id", req.UserID, "currency", req.Currency, "error", err)
		if err := s.repo.InvalidateBalance(ctx, req.UserID, req.Currency); err != nil {
			s.log.Warnw("invalidate balance cache", "user_id", req.UserID, "currency", req.Currency, "error", err)
		}
	}
	s.log.Infow("transaction applied",
		"transaction_id", res.TransactionID, "user_id", req.UserID, "currency", req.Currency,
		"type", req.Type, "amount", req.Amount.String(), "balance_after", res.BalanceAfter.String())
	return res, nil
}

// apply runs inside tx. Any error rolls back every write made here.
func (s *WalletService) apply(ctx context.Context, tx *gorm.DB, req ApplyRequest) (*ApplyResult, error) {
	if req.IdempotencyKey != "" {
		prior, err := s.repo.FindByIdempotencyKey(ctx, tx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return replayOf(prior), errReplayed
		}
	}

	if err := s.repo.EnsureWallet(ctx, tx, req.UserID, req.Currency); err != nil {
		return nil, err
	}
	w, err := s.repo.GetWalletForUpdate(ctx, tx, req.UserID, req.Currency)
	if err != nil {
		return nil, err
	}

	// re-check now that concurrent writers to this wallet are excluded
	if req.IdempotencyKey != "" {
		prior, err := s.repo.FindByIdempotencyKey(ctx, tx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return replayOf(prior), errReplayed
		}
	}

	proposed := w.Balance.Add(req.Amount)
	if proposed.IsNegative() && !s.overdraft[req.Type] {
		return nil, ErrInsufficientFunds
	}
	if proposed.Abs().GreaterThanOrEqual(MaxAmount) {
		return nil, fmt.Errorf("%w: balance would reach %s", ErrInvalidAmount, MaxAmount)
	}

	if err := s.repo.UpdateWallet(ctx, tx, w.ID, proposed, w.Version); err != nil {
		return nil, err
	}

	t := &model.Transaction{
		WalletID:      w.ID,
		UserID:        req.UserID,
		Currency:      req.Currency,
		Type:          req.Type,
		Amount:        req.Amount,
		BalanceBefore: w.Balance,
		BalanceAfter:  proposed,
		Metadata:      req.Metadata,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		t.IdempotencyKey = &key
	}
	if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type": model.EventBalanceUpdated,
		"payload": map[string]interface{}{
			"transaction_id":    t.ID,
			"user_id":           req.UserID,
			"currency":          req.Currency,
			"amount":            req.Amount,
			"available_balance": proposed,
			"locked_balance":    decimal.Zero,
		},
	})
	if err != nil {
		return nil, err
	}
	evt := &model.OutboxEvent{
		Aggregate: model.AggregateWallet, AggregateID: w.ID,
		EventType: model.EventBalanceUpdated, Payload: string(payload),
	}
	if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
		return nil, err
	}

	return &ApplyResult{
		TransactionID: t.ID,
		UserID:        req.UserID,
		Currency:      req.Currency,
		BalanceAfter:  proposed,
		Version:       w.Version + 1,
	}, nil
}

func replayOf(t *model.Transaction) *ApplyResult {
	return &ApplyResult{
		TransactionID: t.ID,
		UserID:        t.UserID,
		Currency:      t.Currency,
		BalanceAfter:  t.BalanceAfter,
		Replayed:      true,
	}
}

// Repo exposes underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface {
	return s.repo
}
