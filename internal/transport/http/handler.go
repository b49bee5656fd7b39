package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/notify"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Dispatcher sends balance webhooks after a commit.
type Dispatcher interface {
	Dispatch(u notify.BalanceUpdate)
}

func RegisterHandlers(r gin.IRouter, svc *service.WalletService, disp Dispatcher, txTimeout time.Duration, log *zap.SugaredLogger) {
	rpc := r.Group("/v1/rpc")
	{
		rpc.POST("/apply_transaction", applyHandler(svc, disp, txTimeout))
		rpc.GET("/get_wallet_balance", balanceHandler(svc, txTimeout))
		rpc.GET("/get_all_wallet_balances", allBalancesHandler(svc, txTimeout))
		rpc.GET("/get_transactions", transactionsHandler(svc, txTimeout))
		rpc.GET("/get_wallet_summary", summaryHandler(svc, txTimeout))
	}
	admin := r.Group("/v1/admin")
	{
		admin.POST("/set_balance", setBalanceHandler(svc, disp, txTimeout, log))
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}

// writeError maps ledger errors to a structured failure.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientFunds):
		fail(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidRequest):
		fail(c, http.StatusBadRequest, err.Error())
	default:
		fail(c, http.StatusServiceUnavailable, "storage unavailable, retry with the same idempotency key")
	}
}

func withTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}

type applyReq struct {
	UserID         string         `json:"user_id" binding:"required"`
	Amount         string         `json:"amount" binding:"required"`
	Type           string         `json:"type" binding:"required"`
	Currency       string         `json:"currency" binding:"required"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       model.Metadata `json:"metadata"`
	Email          string         `json:"email"`
}

func applyHandler(svc *service.WalletService, disp Dispatcher, txTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req applyReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid amount")
			return
		}

		ctx, cancel := withTimeout(c, txTimeout)
		defer cancel()
		res, err := svc.ApplyTransaction(ctx, service.ApplyRequest{
			UserID:         req.UserID,
			Amount:         amt,
			Type:           req.Type,
			Currency:       req.Currency,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		disp.Dispatch(notify.BalanceUpdate{
			UserID: res.UserID, Email: req.Email, Currency: res.Currency,
			Available: res.BalanceAfter, Locked: decimal.Zero,
		})
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"transaction_id": res.TransactionID,
			"balance_after":  res.BalanceAfter,
		})
	}
}

func balanceHandler(svc *service.WalletService, txTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := withTimeout(c, txTimeout)
		defer cancel()
		bal, err := svc.GetBalance(ctx, c.Query("user_id"), c.Query("currency"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"available": bal})
	}
}

func allBalancesHandler(svc *service.WalletService, txTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := withTimeout(c, txTimeout)
		defer cancel()
		bals, err := svc.GetAllBalances(ctx, c.Query("user_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, bals)
	}
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return n, true
}

func transactionsHandler(svc *service.WalletService, txTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "limit", service.DefaultHistoryLimit)
		if !ok {
			return
		}
		offset, ok := queryInt(c, "offset", 0)
		if !ok {
			return
		}
		ctx, cancel := withTimeout(c, txTimeout)
		defer cancel()
		txs, err := svc.GetTransactionHistory(ctx, c.Query("user_id"), c.Query("currency"), limit, offset)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, txs)
	}
}

func summaryHandler(svc *service.WalletService, txTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "transaction_limit", 10)
		if !ok {
			return
		}
		ctx, cancel := withTimeout(c, txTimeout)
		defer cancel()
		sum, err := svc.GetWalletSummary(ctx, c.Query("user_id"), c.Query("currency"), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	}
}

type setBalanceReq struct {
	UserID         string `json:"user_id" binding:"required"`
	Currency       string `json:"currency" binding:"required"`
	NewBalance     string `json:"new_balance" binding:"required"`
	AdminID        string `json:"admin_id" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
	Email          string `json:"email"`
}

func setBalanceHandler(svc *service.WalletService, disp Dispatcher, txTimeout time.Duration, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req setBalanceReq
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		target, err := decimal.NewFromString(req.NewBalance)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid new_balance")
			return
		}

		ctx, cancel := withTimeout(c, txTimeout)
		defer cancel()
		res, err := svc.SetBalance(ctx, service.SetBalanceRequest{
			UserID: req.UserID, Currency: req.Currency, NewBalance: target,
			AdminID: req.AdminID, IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			log.Warnw("admin balance update failed", "admin_id", req.AdminID, "user_id", req.UserID, "error", err)
			writeError(c, err)
			return
		}
		if res.Skipped {
			c.JSON(http.StatusOK, gin.H{"success": true, "skipped": true, "balance": res.OldBalance})
			return
		}
		disp.Dispatch(notify.BalanceUpdate{
			UserID: res.Applied.UserID, Email: req.Email, Currency: res.Applied.Currency,
			Available: res.Applied.BalanceAfter, Locked: decimal.Zero,
		})
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"transaction_id": res.Applied.TransactionID,
			"old_balance":    res.OldBalance,
			"difference":     res.Difference,
			"balance_after":  res.Applied.BalanceAfter,
		})
	}
}
