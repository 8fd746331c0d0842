// Package reversal builds 0400 reversal requests that reference an
// earlier financial request through DE90.
package reversal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mkadit/iso8583/v2"
	"github.com/mkadit/iso8583/v2/internal/transaction"
)

var ErrMissingOriginalData = errors.New("missing original data")

// Reason is why a transaction is being reversed. It is carried in DE56.
type Reason int

const (
	ReasonTimeout Reason = iota + 1
	ReasonCustomerCancellation
	ReasonSuspectedMalfunction
	ReasonUnableToDeliver
	ReasonOther
)

var reasonCodes = map[Reason]string{
	ReasonTimeout:              "68",
	ReasonCustomerCancellation: "17",
	ReasonSuspectedMalfunction: "96",
	ReasonUnableToDeliver:      "68",
	ReasonOther:                "99",
}

var reasonNames = map[Reason]string{
	ReasonTimeout:              "timeout",
	ReasonCustomerCancellation: "customer_cancellation",
	ReasonSuspectedMalfunction: "suspected_malfunction",
	ReasonUnableToDeliver:      "unable_to_deliver",
	ReasonOther:                "other",
}

// Code returns the two digit reason code.
func (r Reason) Code() string {
	if c, ok := reasonCodes[r]; ok {
		return c
	}
	return reasonCodes[ReasonOther]
}

func (r Reason) String() string {
	if n, ok := reasonNames[r]; ok {
		return n
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ParseReason resolves a reason by name, as returned by String.
func ParseReason(name string) (Reason, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for r, n := range reasonNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown reversal reason %q", name)
}

// copied are the elements repeated from the original request.
var copied = []int{
	iso8583.FieldPAN,
	iso8583.FieldProcessingCode,
	iso8583.FieldAmount,
	iso8583.FieldPOSEntryMode,
	iso8583.FieldPOSConditionCode,
	iso8583.FieldAcquirerID,
	iso8583.FieldTerminalID,
	iso8583.FieldMerchantID,
	iso8583.FieldCurrencyCode,
}

type options struct {
	mti string
}

type Option func(*options)

// WithMTI overrides the reversal MTI, for example 0420 for an advice.
func WithMTI(mti string) Option {
	return func(o *options) {
		o.mti = mti
	}
}

// Build returns a reversal request for orig using a fresh stan. DE7, DE12
// and DE13 are taken from now.
func Build(orig *transaction.Transaction, reason Reason, stan string, now time.Time, opts ...Option) (*iso8583.Message, error) {
	o := options{mti: iso8583.MTIReversalRequest}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := OriginalData(orig)
	if err != nil {
		return nil, err
	}

	b := iso8583.NewBuilder()
	defer b.Release()

	b.MTI(o.mti).
		STAN(stan).
		Timestamps(now).
		Field(iso8583.FieldOriginalData, data).
		Field(iso8583.FieldReasonCode, reason.Code())
	for _, n := range copied {
		if v, ok := orig.Fields[n]; ok && v != "" {
			b.Field(n, v)
		}
	}
	return b.Build()
}

// OriginalData assembles DE90: original MTI (4), STAN (6), transmission
// date and time MMDDhhmmss (10), acquirer id (11) and forwarder id (11).
func OriginalData(orig *transaction.Transaction) (string, error) {
	if orig == nil {
		return "", fmt.Errorf("%w: no original transaction", ErrMissingOriginalData)
	}
	mti := orig.MTI
	if mti == "" {
		return "", fmt.Errorf("%w: original MTI", ErrMissingOriginalData)
	}
	if err := iso8583.ValidateMTI(mti); err != nil {
		return "", fmt.Errorf("%w: original MTI: %v", ErrMissingOriginalData, err)
	}

	stan := orig.STAN
	if stan == "" {
		stan = orig.Fields[iso8583.FieldSTAN]
	}
	if stan == "" {
		return "", fmt.Errorf("%w: original STAN", ErrMissingOriginalData)
	}
	if len(stan) > 6 {
		return "", fmt.Errorf("%w: original STAN %q", ErrMissingOriginalData, stan)
	}

	dateTime := orig.Fields[iso8583.FieldTransmissionDateTime]
	if len(dateTime) != 10 {
		if len(orig.Date) != 8 || len(orig.Time) != 6 {
			return "", fmt.Errorf("%w: original date and time", ErrMissingOriginalData)
		}
		dateTime = orig.Date[4:] + orig.Time
	}

	return mti +
		iso8583.PadLeft(stan, 6, '0') +
		dateTime +
		institution(orig.Fields[iso8583.FieldAcquirerID]) +
		institution(orig.Fields[iso8583.FieldForwarderID]), nil
}

// institution renders an institution id as 11 zero-padded digits.
func institution(id string) string {
	if len(id) > 11 {
		id = id[len(id)-11:]
	}
	return iso8583.PadLeft(id, 11, '0')
}
