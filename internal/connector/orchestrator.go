// Package connector drives card transactions through the acquirer link:
// STAN assignment, request building, persistence, dispatch with a bounded
// wait, response handling and reversals.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mkadit/iso8583/v2"
	"github.com/mkadit/iso8583/v2/internal/metrics"
	"github.com/mkadit/iso8583/v2/internal/respcode"
	"github.com/mkadit/iso8583/v2/internal/reversal"
	"github.com/mkadit/iso8583/v2/internal/transaction"
)

const tracerName = "github.com/mkadit/iso8583/v2/internal/connector"

// Dispatcher sends a request to the counterparty and returns the matching
// response. Implementations should return promptly once ctx is done.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *iso8583.Message) (*iso8583.Message, error)
}

// Store persists transactions.
type Store interface {
	Insert(ctx context.Context, tx *transaction.Transaction) error
	Update(ctx context.Context, tx *transaction.Transaction) error
	FindByKey(ctx context.Context, key transaction.Key) (*transaction.Transaction, error)
	FindByStan(ctx context.Context, stan string) (*transaction.Transaction, error)
	FindByReversalStan(ctx context.Context, stan string) (*transaction.Transaction, error)
	FindStale(ctx context.Context, states []transaction.State, before time.Time, limit int) ([]*transaction.Transaction, error)
}

// STANSource hands out trace audit numbers.
type STANSource interface {
	Next() string
}

// Signer adds and checks message authentication codes.
type Signer interface {
	Sign(msg *iso8583.Message) error
	Verify(msg *iso8583.Message) error
}

// Orchestrator runs the transaction flow. It is safe for concurrent use.
type Orchestrator struct {
	packager   *iso8583.CompiledPackager
	dispatcher Dispatcher
	store      Store
	stan       STANSource

	codes    *respcode.Table
	signer   Signer
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
	location *time.Location

	responseTimeout time.Duration
	reversalTimeout time.Duration
	currency        string
	acquirerID      string
	sweepAge        time.Duration
	sweepBatch      int
}

type Option func(*Orchestrator)

func WithResponseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.responseTimeout = d
		}
	}
}

func WithReversalTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.reversalTimeout = d
		}
	}
}

// WithCurrency sets DE49 on outgoing requests.
func WithCurrency(code string) Option {
	return func(o *Orchestrator) {
		o.currency = code
	}
}

// WithAcquirerID sets DE32 on outgoing requests.
func WithAcquirerID(id string) Option {
	return func(o *Orchestrator) {
		o.acquirerID = id
	}
}

func WithResponseCodes(t *respcode.Table) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.codes = t
		}
	}
}

// WithSigner signs requests and verifies responses.
func WithSigner(s Signer) Option {
	return func(o *Orchestrator) {
		o.signer = s
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now and sets the location used for transaction
// keys and message timestamps.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
		if loc != nil {
			o.location = loc
		}
	}
}

// WithSweep configures how old a Sent or Timeout transaction must be
// before the sweeper picks it up, and how many are handled per pass.
func WithSweep(age time.Duration, batch int) Option {
	return func(o *Orchestrator) {
		if age > 0 {
			o.sweepAge = age
		}
		if batch > 0 {
			o.sweepBatch = batch
		}
	}
}

func New(packager *iso8583.CompiledPackager, dispatcher Dispatcher, store Store, stan STANSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		packager:        packager,
		dispatcher:      dispatcher,
		store:           store,
		stan:            stan,
		codes:           respcode.Default(),
		tracer:          otel.Tracer(tracerName),
		logger:          slog.Default(),
		now:             time.Now,
		location:        time.Local,
		responseTimeout: 30 * time.Second,
		reversalTimeout: 30 * time.Second,
		currency:        "704",
		sweepAge:        2 * time.Minute,
		sweepBatch:      50,
	}
	for _, opt := range opts {
		opt(o)
	}
	// A transaction still inside Process must never be swept.
	if floor := o.responseTimeout + o.reversalTimeout; o.sweepAge < floor {
		o.sweepAge = floor
	}
	return o
}

func (o *Orchestrator) clock() time.Time {
	return o.now().In(o.location)
}

// Process runs one financial request end to end. Requests that cannot be
// built or persisted return an error and leave nothing behind. Once the
// transaction is stored every outcome, including timeouts and dispatch
// failures, is reported through the Result.
func (o *Orchestrator) Process(ctx context.Context, req *Request) (*Result, error) {
	profile, err := LookupProfile(req.ProfileName())
	if err != nil {
		return nil, err
	}
	if err := req.Validate(profile); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "connector.Process", trace.WithAttributes(
		attribute.String("transaction.type", profile.Name),
		attribute.String("terminal.id", req.TerminalID),
		attribute.String("transaction.correlation_id", req.TransactionID),
	))
	defer span.End()

	stan := o.stan.Next()
	now := o.clock()
	span.SetAttributes(attribute.String("iso8583.stan", stan))

	msg, err := o.buildRequest(req, profile, stan, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, err
	}

	tx := transaction.New(msg, now)
	tx.CorrelationID = req.TransactionID
	if tx.CorrelationID == "" {
		tx.CorrelationID = uuid.NewString()
	}
	if err := o.store.Insert(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist")
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	// The client going away must not stop the bookkeeping.
	persistCtx := context.WithoutCancel(ctx)
	logger := o.logger.With(
		slog.String("key", tx.Key.String()),
		slog.String("type", profile.Name),
		slog.String("correlation_id", tx.CorrelationID),
	)

	if err := o.transition(persistCtx, tx, transaction.StateSent, ""); err != nil {
		logger.Error("transaction left in CREATED", slog.Any("error", err))
		span.RecordError(err)
		return nil, err
	}
	logger.Info("request dispatched", slog.Any("message", msg))

	resp, out, dispatchErr := o.dispatch(ctx, msg, o.responseTimeout)
	status := StatusFailed
	switch out {
	case outcomeResponse:
		status, err = o.handleResponse(persistCtx, tx, msg, resp, logger)
	case outcomeTimeout:
		logger.Warn("no response before deadline", slog.Duration("wait", o.responseTimeout))
		status, err = StatusTimeout, o.handleTimeout(persistCtx, tx, logger)
	default:
		logger.Error("dispatch failed", slog.Any("error", dispatchErr))
		span.RecordError(dispatchErr)
		err = o.transition(persistCtx, tx, transaction.StateFailed, truncate(dispatchErr.Error(), 255))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update transaction")
		return nil, err
	}

	o.metrics.ObserveTransaction(profile.Name, string(tx.State))
	span.SetAttributes(attribute.String("transaction.state", string(tx.State)))
	logger.Info("transaction completed",
		slog.String("state", string(tx.State)),
		slog.String("response_code", tx.ResponseCode))
	return newResult(tx, status, o.clock()), nil
}

func (o *Orchestrator) buildRequest(req *Request, p Profile, stan string, now time.Time) (*iso8583.Message, error) {
	icc, err := req.ICC()
	if err != nil {
		return nil, err
	}

	b := iso8583.NewBuilder()
	defer b.Release()

	b.MTI(p.MTI).
		ProcessingCode(p.ProcessingCode).
		STAN(stan).
		Timestamps(now).
		Field(iso8583.FieldPOSEntryMode, "051").
		Field(iso8583.FieldPOSConditionCode, "00").
		TerminalID(strings.TrimSpace(req.TerminalID)).
		Field(iso8583.FieldCurrencyCode, o.currency).
		FieldIf(iso8583.FieldAcquirerID, o.acquirerID).
		FieldIf(iso8583.FieldAdditionalData, req.AdditionalData)
	if p.AmountRequired || req.Amount.IsPositive() {
		b.Amount(req.AmountMinor())
	}
	if mid := strings.TrimSpace(req.MerchantID); mid != "" {
		b.MerchantID(mid)
	}
	if icc != nil {
		card, err := iso8583.ExtractICCData(icc)
		if err != nil {
			return nil, fmt.Errorf("%w: de55: %v", ErrInvalidRequest, err)
		}
		b.Field(iso8583.FieldICCData, icc).
			FieldIf(iso8583.FieldPAN, card.PAN).
			FieldIf(iso8583.FieldExpiryDate, card.ExpiryYYMM()).
			FieldIf(iso8583.FieldCardSequenceNumber, card.PANSequence).
			FieldIf(iso8583.FieldTrack2, card.Track2)
	}

	msg, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := o.packager.GetValidator().ValidateMessage(msg, p.Required); err != nil {
		return nil, err
	}
	if err := o.seal(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// seal signs msg when a signer is configured and checks that it encodes.
func (o *Orchestrator) seal(msg *iso8583.Message) error {
	if o.signer != nil {
		if err := o.signer.Sign(msg); err != nil {
			return err
		}
	}
	if _, err := o.packager.Build(msg); err != nil {
		return fmt.Errorf("encode %s: %w", msg.MTI(), err)
	}
	return nil
}

func (o *Orchestrator) handleResponse(ctx context.Context, tx *transaction.Transaction, req, resp *iso8583.Message, logger *slog.Logger) (string, error) {
	if o.signer != nil {
		if err := o.signer.Verify(resp); err != nil {
			// An unauthenticated response proves nothing about the outcome.
			logger.Warn("response failed MAC verification", slog.Any("error", err))
			return StatusTimeout, o.handleTimeout(ctx, tx, logger)
		}
	}
	if err := matchResponse(req, resp); err != nil {
		logger.Error("unexpected response", slog.Any("error", err), slog.Any("message", resp))
		return StatusFailed, o.transition(ctx, tx, transaction.StateFailed, err.Error())
	}

	if err := tx.ApplyResponse(resp); err != nil {
		logger.Error("malformed response", slog.Any("error", err), slog.Any("message", resp))
		return StatusFailed, o.transition(ctx, tx, transaction.StateFailed, truncate(err.Error(), 255))
	}
	if tx.ResponseCode == "" {
		return StatusFailed, o.transition(ctx, tx, transaction.StateFailed, "response without DE39")
	}
	tx.ResponseMessage = o.codes.Message(tx.ResponseCode)
	logger.Info("response received", slog.Any("message", resp))

	if o.codes.IsApproved(tx.ResponseCode) {
		return StatusApproved, o.transition(ctx, tx, transaction.StateApproved, tx.ResponseCode)
	}
	return StatusDeclined, o.transition(ctx, tx, transaction.StateDeclined, tx.ResponseCode)
}

// handleTimeout marks tx as timed out and sends an automatic reversal. A
// reversal that is not acknowledged leaves tx in Timeout for the sweeper.
func (o *Orchestrator) handleTimeout(ctx context.Context, tx *transaction.Transaction, logger *slog.Logger) error {
	if err := o.transition(ctx, tx, transaction.StateTimeout, ""); err != nil {
		return err
	}
	acked, err := o.sendReversal(ctx, tx, reversal.ReasonTimeout, transaction.StateReversed, iso8583.MTIReversalRequest)
	if err != nil {
		logger.Error("automatic reversal failed", slog.Any("error", err))
		return nil
	}
	if !acked {
		logger.Warn("automatic reversal not acknowledged, left for sweeper")
	}
	return nil
}

// matchResponse checks that resp answers req.
func matchResponse(req, resp *iso8583.Message) error {
	want, err := iso8583.ResponseMTI(req.MTI())
	if err != nil {
		return err
	}
	if resp.MTI() != want {
		return fmt.Errorf("response MTI %s does not answer %s", resp.MTI(), req.MTI())
	}
	reqStan, _ := req.GetString(iso8583.FieldSTAN)
	respStan, _ := resp.GetString(iso8583.FieldSTAN)
	if reqStan != respStan {
		return fmt.Errorf("response STAN %q does not match %q", respStan, reqStan)
	}
	return nil
}

// transition applies a state change and persists it.
func (o *Orchestrator) transition(ctx context.Context, tx *transaction.Transaction, to transaction.State, note string) error {
	from := tx.State
	if err := tx.TransitionTo(to, o.clock(), note); err != nil {
		return err
	}
	if err := o.store.Update(ctx, tx); err != nil {
		return fmt.Errorf("persist %s -> %s: %w", from, to, err)
	}
	o.metrics.ObserveTransition(string(from), string(to))
	return nil
}

type outcome int

const (
	outcomeResponse outcome = iota
	outcomeTimeout
	outcomeError
)

func (out outcome) String() string {
	switch out {
	case outcomeResponse:
		return "response"
	case outcomeTimeout:
		return "timeout"
	default:
		return "error"
	}
}

type dispatchResult struct {
	resp *iso8583.Message
	err  error
}

// dispatch sends msg and waits at most wait for the response. A response
// arriving after the wait is handed to HandleLateResponse.
func (o *Orchestrator) dispatch(ctx context.Context, msg *iso8583.Message, wait time.Duration) (*iso8583.Message, outcome, error) {
	ctx, span := o.tracer.Start(ctx, "connector.Dispatch", trace.WithAttributes(
		attribute.String("iso8583.mti", msg.MTI()),
		attribute.Int64("dispatch.wait_ms", wait.Milliseconds()),
	))
	defer span.End()

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	defer o.metrics.TrackInflight()()
	start := time.Now()

	ch := make(chan dispatchResult, 1)
	go func() {
		resp, err := o.dispatcher.Dispatch(waitCtx, msg)
		ch <- dispatchResult{resp: resp, err: err}
	}()

	var (
		resp *iso8583.Message
		out  outcome
		err  error
	)
	select {
	case r := <-ch:
		resp, err = r.resp, r.err
		switch {
		case err != nil && isTimeout(err):
			out = outcomeTimeout
		case err != nil:
			out = outcomeError
		case resp == nil:
			out, err = outcomeError, errors.New("dispatcher returned no response")
		default:
			out = outcomeResponse
		}
	case <-waitCtx.Done():
		out, err = outcomeTimeout, waitCtx.Err()
		go o.drainLate(ch)
	}
	o.metrics.ObserveDispatch(msg.MTI(), out.String(), time.Since(start))
	span.SetAttributes(attribute.String("dispatch.outcome", out.String()))
	if out == outcomeError {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch")
	}
	return resp, out, err
}

func (o *Orchestrator) drainLate(ch <-chan dispatchResult) {
	r := <-ch
	if r.err != nil || r.resp == nil {
		return
	}
	_ = o.HandleLateResponse(context.Background(), r.resp)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
