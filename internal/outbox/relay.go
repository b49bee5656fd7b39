// Package outbox relays committed balance events from the event_outbox
// table to Kafka. Delivery is at-least-once.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/metrics"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"go.uber.org/zap"
)

// Store is the part of the repository the relay needs.
type Store interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	MarkOutboxProcessed(ctx context.Context, id uint64) error
}

type Relay struct {
	store    Store
	batch    int
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewRelay(s Store, batch int, interval time.Duration, log *zap.SugaredLogger) *Relay {
	return &Relay{store: s, batch: batch, interval: interval, log: log}
}

// RunOnce publishes one batch and returns how many events were sent. It stops
// at the first publish failure so per-wallet order is kept.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.PollOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := r.store.PublishEvent(ctx, evt); err != nil {
			r.log.Errorf("publish id=%d: %v", evt.ID, err)
			return sent, err
		}
		if err := r.store.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			r.log.Errorf("mark processed id=%d: %v", evt.ID, err)
			return sent, err
		}
		metrics.OutboxPublished.Inc()
		sent++
	}
	return sent, nil
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				r.log.Warnf("outbox batch: %v", err)
			}
			if n > 0 {
				r.log.Infof("relayed %d events", n)
			}
		}
	}
}
