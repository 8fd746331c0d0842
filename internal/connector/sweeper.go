package connector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mkadit/iso8583/v2"
	"github.com/mkadit/iso8583/v2/internal/reversal"
	"github.com/mkadit/iso8583/v2/internal/transaction"
)

var staleStates = []transaction.State{transaction.StateSent, transaction.StateTimeout}

// SweepStale finishes transactions left in Sent or Timeout, for example
// after a crash or an unacknowledged reversal. Sent transactions are timed
// out and reversed; Timeout transactions get a repeat reversal advice
// (0420). It returns the number of transactions reversed. Transactions
// still in Created were never put on the wire; they are reported, not
// changed.
func (o *Orchestrator) SweepStale(ctx context.Context) (int, error) {
	before := o.clock().Add(-o.sweepAge)
	o.reportUndispatched(ctx, before)
	stale, err := o.store.FindStale(ctx, staleStates, before, o.sweepBatch)
	if err != nil {
		return 0, err
	}

	reversed := 0
	for _, tx := range stale {
		if err := ctx.Err(); err != nil {
			return reversed, err
		}
		logger := o.logger.With(slog.String("key", tx.Key.String()), slog.String("state", string(tx.State)))

		mti := iso8583.MTIReversalAdvice
		if tx.State == transaction.StateSent {
			if err := o.transition(ctx, tx, transaction.StateTimeout, "stale"); err != nil {
				logger.Warn("sweeper could not time out transaction", slog.Any("error", err))
				continue
			}
			mti = iso8583.MTIReversalRequest
		}

		acked, err := o.sendReversal(ctx, tx, reversal.ReasonTimeout, transaction.StateReversed, mti)
		switch {
		case err != nil:
			logger.Warn("sweeper reversal failed", slog.Any("error", err))
		case acked:
			reversed++
		}
	}
	if len(stale) > 0 {
		o.logger.Info("sweep finished", slog.Int("found", len(stale)), slog.Int("reversed", reversed))
	}
	return reversed, nil
}

func (o *Orchestrator) reportUndispatched(ctx context.Context, before time.Time) {
	created, err := o.store.FindStale(ctx, []transaction.State{transaction.StateCreated}, before, o.sweepBatch)
	if err != nil {
		o.logger.Warn("find undispatched transactions", slog.Any("error", err))
		return
	}
	o.metrics.SetUndispatched(len(created))
	for _, tx := range created {
		o.logger.Warn("transaction was never dispatched",
			slog.String("key", tx.Key.String()),
			slog.Time("inserted_at", tx.InsertedAt))
	}
}

// RunSweeper calls SweepStale every interval until ctx is done.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.SweepStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("sweep failed", slog.Any("error", err))
			}
		}
	}
}
