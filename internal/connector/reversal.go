package connector

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mkadit/iso8583/v2"
	"github.com/mkadit/iso8583/v2/internal/respcode"
	"github.com/mkadit/iso8583/v2/internal/reversal"
	"github.com/mkadit/iso8583/v2/internal/transaction"
)

// sendReversal sends a reversal for tx and moves it to target when the
// counterparty answers 00. It reports whether the reversal was
// acknowledged. Errors are returned only when nothing could be sent or
// the bookkeeping failed.
func (o *Orchestrator) sendReversal(ctx context.Context, tx *transaction.Transaction, reason reversal.Reason, target transaction.State, mti string) (bool, error) {
	ctx, span := o.tracer.Start(ctx, "connector.Reversal", trace.WithAttributes(
		attribute.String("transaction.key", tx.Key.String()),
		attribute.String("reversal.reason", reason.String()),
		attribute.String("iso8583.mti", mti),
	))
	defer span.End()

	stan := o.stan.Next()
	now := o.clock()
	msg, err := reversal.Build(tx, reason, stan, now, reversal.WithMTI(mti))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build reversal")
		o.metrics.ObserveReversal(reason.String(), "invalid")
		return false, err
	}
	if err := o.seal(msg); err != nil {
		span.RecordError(err)
		o.metrics.ObserveReversal(reason.String(), "invalid")
		return false, err
	}

	tx.ReversalSTAN = stan
	tx.ReversalReason = reason.String()
	tx.UpdatedAt = now
	if err := o.store.Update(ctx, tx); err != nil {
		return false, fmt.Errorf("record reversal attempt: %w", err)
	}

	logger := o.logger.With(
		slog.String("key", tx.Key.String()),
		slog.String("reversal_stan", stan),
		slog.String("reason", reason.String()),
	)
	logger.Info("reversal dispatched", slog.Any("message", msg))

	resp, out, dispatchErr := o.dispatch(ctx, msg, o.reversalTimeout)
	switch out {
	case outcomeTimeout:
		logger.Warn("reversal timed out")
		o.metrics.ObserveReversal(reason.String(), "timeout")
		return false, nil
	case outcomeError:
		logger.Error("reversal dispatch failed", slog.Any("error", dispatchErr))
		o.metrics.ObserveReversal(reason.String(), "error")
		return false, nil
	}

	if o.signer != nil {
		if err := o.signer.Verify(resp); err != nil {
			logger.Warn("reversal response failed MAC verification", slog.Any("error", err))
			o.metrics.ObserveReversal(reason.String(), "invalid_mac")
			return false, nil
		}
	}
	if err := matchResponse(msg, resp); err != nil {
		logger.Error("unexpected reversal response", slog.Any("error", err))
		o.metrics.ObserveReversal(reason.String(), "mismatch")
		return false, nil
	}

	code, _ := resp.GetString(iso8583.FieldResponseCode)
	if code != respcode.Approved {
		logger.Warn("reversal rejected", slog.String("response_code", code))
		o.metrics.ObserveReversal(reason.String(), "rejected")
		return false, nil
	}
	if err := o.transition(ctx, tx, target, "reversal "+stan); err != nil {
		return false, err
	}
	logger.Info("reversal acknowledged", slog.String("state", string(tx.State)))
	o.metrics.ObserveReversal(reason.String(), "acknowledged")
	return true, nil
}

// Void cancels an approved transaction at the customer's request.
func (o *Orchestrator) Void(ctx context.Context, key transaction.Key) (*Result, error) {
	return o.cancel(ctx, key, reversal.ReasonCustomerCancellation, transaction.StateVoided)
}

// Reverse reverses an approved, declined or timed out transaction.
func (o *Orchestrator) Reverse(ctx context.Context, key transaction.Key, reason reversal.Reason) (*Result, error) {
	return o.cancel(ctx, key, reason, transaction.StateReversed)
}

func (o *Orchestrator) cancel(ctx context.Context, key transaction.Key, reason reversal.Reason, target transaction.State) (*Result, error) {
	tx, err := o.store.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !transaction.CanTransition(tx.State, target) {
		return nil, &transaction.TransitionError{From: tx.State, To: target}
	}

	acked, err := o.sendReversal(context.WithoutCancel(ctx), tx, reason, target, iso8583.MTIReversalRequest)
	if err != nil {
		return nil, err
	}
	res := ResultFor(tx, o.clock())
	if !acked {
		return res, ErrNotAcknowledged
	}
	return res, nil
}

// Find returns the stored transaction for key.
func (o *Orchestrator) Find(ctx context.Context, key transaction.Key) (*transaction.Transaction, error) {
	return o.store.FindByKey(ctx, key)
}

// FindByStan returns the latest transaction carrying stan.
func (o *Orchestrator) FindByStan(ctx context.Context, stan string) (*transaction.Transaction, error) {
	return o.store.FindByStan(ctx, stan)
}

// HandleLateResponse records a response that arrived after its wait
// expired. The transaction is never changed; the timeout path already
// decided its fate. The returned error always matches ErrLateResponse.
func (o *Orchestrator) HandleLateResponse(ctx context.Context, resp *iso8583.Message) error {
	stan, _ := resp.GetString(iso8583.FieldSTAN)
	code, _ := resp.GetString(iso8583.FieldResponseCode)
	o.metrics.ObserveLateResponse()

	attrs := []any{
		slog.String("mti", resp.MTI()),
		slog.String("stan", stan),
		slog.String("response_code", code),
	}

	var (
		tx  *transaction.Transaction
		err error
	)
	if isReversalMTI(resp.MTI()) {
		tx, err = o.store.FindByReversalStan(ctx, stan)
	} else {
		tx, err = o.store.FindByStan(ctx, stan)
	}
	if err == nil {
		attrs = append(attrs,
			slog.String("key", tx.Key.String()),
			slog.String("state", string(tx.State)))
	}
	o.logger.Warn("discarding late response", attrs...)
	return fmt.Errorf("%w: MTI %s STAN %s", ErrLateResponse, resp.MTI(), stan)
}

func isReversalMTI(mti string) bool {
	return len(mti) == 4 && mti[1] == '4'
}
