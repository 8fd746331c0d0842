// Package mockbank simulates an issuer switch for development and tests.
// It can be used in process as a dispatcher or served over TCP.
package mockbank

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/mkadit/iso8583/v2"
	"github.com/mkadit/iso8583/v2/internal/respcode"
)

// DefaultDeclineCodes are picked at random for declined requests unless
// WithDeclineCodes replaces them.
var DefaultDeclineCodes = []string{"05", "51", "14", "54", "57"}

// echoed are copied from the request into the response.
var echoed = []int{
	iso8583.FieldPAN,
	iso8583.FieldProcessingCode,
	iso8583.FieldAmount,
	iso8583.FieldSTAN,
	iso8583.FieldLocalTime,
	iso8583.FieldLocalDate,
	iso8583.FieldExpiryDate,
	iso8583.FieldPOSEntryMode,
	iso8583.FieldAcquirerID,
	iso8583.FieldTerminalID,
	iso8583.FieldMerchantID,
	iso8583.FieldCurrencyCode,
	iso8583.FieldNetworkMgmtCode,
	iso8583.FieldOriginalData,
}

// Signer matches the connector's MAC signer.
type Signer interface {
	Sign(msg *iso8583.Message) error
}

// Bank answers requests. The zero value is not usable; use New.
type Bank struct {
	packager     *iso8583.CompiledPackager
	approvalRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	fixedCode    string
	declineCodes []string
	reversalCode string
	signer       Signer
	now          func() time.Time
	logger       *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Bank)

// WithApprovalRate sets the share of requests approved, clamped to [0,1].
func WithApprovalRate(rate float64) Option {
	return func(b *Bank) {
		b.approvalRate = min(max(rate, 0), 1)
	}
}

// WithDelay makes every answer take a random time within [lo, hi].
func WithDelay(lo, hi time.Duration) Option {
	return func(b *Bank) {
		if hi < lo {
			hi = lo
		}
		b.minDelay, b.maxDelay = lo, hi
	}
}

// WithResponseCode answers every financial request with code.
func WithResponseCode(code string) Option {
	return func(b *Bank) {
		b.fixedCode = code
	}
}

// WithDeclineCodes sets the codes a random decline picks from. An empty
// list keeps DefaultDeclineCodes.
func WithDeclineCodes(codes ...string) Option {
	return func(b *Bank) {
		if len(codes) > 0 {
			b.declineCodes = slices.Clone(codes)
		}
	}
}

// WithReversalCode answers reversals with code instead of 00.
func WithReversalCode(code string) Option {
	return func(b *Bank) {
		b.reversalCode = code
	}
}

func WithSigner(s Signer) Option {
	return func(b *Bank) {
		b.signer = s
	}
}

// WithSeed makes the random choices reproducible.
func WithSeed(seed uint64) Option {
	return func(b *Bank) {
		b.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bank) {
		b.now = now
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bank) {
		if l != nil {
			b.logger = l
		}
	}
}

func New(packager *iso8583.CompiledPackager, opts ...Option) *Bank {
	b := &Bank{
		packager:     packager,
		approvalRate: 0.9,
		minDelay:     50 * time.Millisecond,
		maxDelay:     500 * time.Millisecond,
		declineCodes: DefaultDeclineCodes,
		reversalCode: respcode.Approved,
		now:          time.Now,
		logger:       slog.Default(),
		rng:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5DEECE66D)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dispatch sends msg through the wire codec, waits the simulated delay and
// returns the decoded answer.
func (b *Bank) Dispatch(ctx context.Context, msg *iso8583.Message) (*iso8583.Message, error) {
	wire, err := b.packager.Build(msg)
	if err != nil {
		return nil, err
	}
	req, err := b.packager.Parse(wire)
	if err != nil {
		return nil, err
	}

	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := b.Respond(req)
	if err != nil {
		return nil, err
	}
	respWire, err := b.packager.Build(resp)
	if err != nil {
		return nil, err
	}
	return b.packager.Parse(respWire)
}

// wait sleeps for the simulated network delay or until ctx is done.
func (b *Bank) wait(ctx context.Context) error {
	d := b.delay()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Bank) delay() time.Duration {
	if b.maxDelay <= b.minDelay {
		return b.minDelay
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.minDelay + time.Duration(b.rng.Int64N(int64(b.maxDelay-b.minDelay)+1))
}

// Respond builds the answer to req without any delay.
func (b *Bank) Respond(req *iso8583.Message) (*iso8583.Message, error) {
	respMTI, err := iso8583.ResponseMTI(req.MTI())
	if err != nil {
		return nil, err
	}
	resp := iso8583.NewMessage()
	if err := resp.SetMTI(respMTI); err != nil {
		return nil, err
	}
	for _, n := range echoed {
		f, err := req.GetField(n)
		if err != nil {
			continue
		}
		if err := resp.SetField(n, f.String()); err != nil {
			return nil, err
		}
	}

	now := b.now()
	code := b.decide(req)
	if err := resp.SetField(iso8583.FieldTransmissionDateTime, now.Format("0102150405")); err != nil {
		return nil, err
	}
	if err := resp.SetField(iso8583.FieldResponseCode, code); err != nil {
		return nil, err
	}
	if !req.IsNMM() {
		if err := resp.SetField(iso8583.FieldRRN, b.rrn(now)); err != nil {
			return nil, err
		}
		if code == respcode.Approved {
			if err := resp.SetField(iso8583.FieldAuthCode, b.authCode()); err != nil {
				return nil, err
			}
		}
	}
	if b.signer != nil && !req.IsNMM() {
		if err := b.signer.Sign(resp); err != nil {
			return nil, fmt.Errorf("sign response: %w", err)
		}
	}

	b.logger.Info("mock bank answered",
		slog.String("mti", respMTI),
		slog.String("response_code", code))
	return resp, nil
}

func (b *Bank) decide(req *iso8583.Message) string {
	mti := req.MTI()
	switch {
	case req.IsNMM():
		return respcode.Approved
	case mti[1] == '4':
		return b.reversalCode
	case b.fixedCode != "":
		return b.fixedCode
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rng.Float64() < b.approvalRate {
		return respcode.Approved
	}
	return b.declineCodes[b.rng.IntN(len(b.declineCodes))]
}

// rrn returns YDDDHH followed by six random digits.
func (b *Bank) rrn(now time.Time) string {
	b.mu.Lock()
	n := b.rng.IntN(1000000)
	b.mu.Unlock()
	return fmt.Sprintf("%d%03d%02d%06d", now.Year()%10, now.YearDay(), now.Hour(), n)
}

func (b *Bank) authCode() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("%06d", 100000+b.rng.IntN(900000))
}
