// Package notify pushes balance_updated events to a downstream webhook.
// Delivery is best effort: the ledger is the source of truth.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceUpdate is the state pushed after a committed transaction.
type BalanceUpdate struct {
	UserID    string          `json:"user_id"`
	Email     string          `json:"email"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available_balance"`
	Locked    decimal.Decimal `json:"locked_balance"`
}

type envelope struct {
	Type    string        `json:"type"`
	Payload BalanceUpdate `json:"payload"`
}

// Notifier delivers one update.
type Notifier interface {
	Notify(ctx context.Context, u BalanceUpdate) error
}

// NopNotifier is used when no webhook is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, BalanceUpdate) error { return nil }

// WebhookNotifier POSTs updates authenticated by a shared secret header.
type WebhookNotifier struct {
	url        string
	secret     string
	header     string
	httpClient *http.Client
}

// NewWebhookNotifier builds a notifier from config. The caller's context
// bounds each request; the client timeout is a backstop.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:        cfg.URL,
		secret:     cfg.Secret,
		header:     cfg.SecretHeader,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// New returns a WebhookNotifier, or NopNotifier when no URL is set.
func New(cfg config.WebhookConfig) Notifier {
	if cfg.URL == "" {
		return NopNotifier{}
	}
	return NewWebhookNotifier(cfg)
}

func (w *WebhookNotifier) Notify(ctx context.Context, u BalanceUpdate) error {
	body, err := json.Marshal(envelope{Type: "balance_updated", Payload: u})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(w.header, w.secret)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Dispatcher runs notifications off the request path.
type Dispatcher struct {
	n       Notifier
	timeout time.Duration
	log     *zap.SugaredLogger
	wg      sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{n: n, timeout: timeout, log: log}
}

// Dispatch sends u in the background on a fresh context. Failures are logged
// and counted, never returned.
func (d *Dispatcher) Dispatch(u BalanceUpdate) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.n.Notify(ctx, u); err != nil {
			metrics.WebhookFailures.Inc()
			d.log.Warnw("balance webhook failed",
				"user_id", u.UserID, "currency", u.Currency, "error", err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }
