package connector

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mkadit/iso8583/v2/internal/transaction"
)

// maxAmountMinor bounds amounts to the twelve digits of DE4.
var maxAmountMinor = decimal.New(1, 12)

var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrUnsupportedTransaction = errors.New("unsupported transaction type")
	ErrLateResponse           = errors.New("late response")
	ErrNotAcknowledged        = errors.New("reversal not acknowledged")
)

// Request is a card transaction submitted by a terminal or the admin API.
type Request struct {
	MsgType         string          `json:"msgType"`
	TerminalID      string          `json:"trmId"`
	TransactionID   string          `json:"transactionId"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionType string          `json:"transactionType,omitempty"`
	MerchantID      string          `json:"merchantId,omitempty"`
	// CardData is a JSON document of the form {"emvData":{"de55":"<hex>"}}.
	CardData       string `json:"cardData,omitempty"`
	AdditionalData string `json:"additionalData,omitempty"`
}

// CardData is the decoded form of Request.CardData.
type CardData struct {
	EMVData struct {
		DE55       string `json:"de55"`
		DE55Length *int   `json:"de55Length,omitempty"`
	} `json:"emvData"`
}

// ProfileName picks the transaction type. MsgType wins over
// TransactionType when both are set.
func (r *Request) ProfileName() string {
	if strings.TrimSpace(r.MsgType) != "" {
		return r.MsgType
	}
	return r.TransactionType
}

// Validate checks the request shape before any message is built.
func (r *Request) Validate(p Profile) error {
	var errs []error
	tid := strings.TrimSpace(r.TerminalID)
	if tid == "" {
		errs = append(errs, errors.New("trmId is required"))
	} else if len(tid) > 8 {
		errs = append(errs, fmt.Errorf("trmId %q exceeds 8 characters", tid))
	}
	if len(strings.TrimSpace(r.MerchantID)) > 15 {
		errs = append(errs, fmt.Errorf("merchantId exceeds 15 characters"))
	}
	if r.Amount.IsNegative() {
		errs = append(errs, errors.New("amount must not be negative"))
	}
	if p.AmountRequired && !r.Amount.IsPositive() {
		errs = append(errs, fmt.Errorf("amount is required for %s", p.Name))
	}
	if !r.Amount.Equal(r.Amount.Truncate(2)) {
		errs = append(errs, errors.New("amount has more than two decimal places"))
	}
	if r.Amount.Shift(2).GreaterThanOrEqual(maxAmountMinor) {
		errs = append(errs, fmt.Errorf("amount %s exceeds 12 digits in minor units", r.Amount))
	}
	if len(r.AdditionalData) > 999 {
		errs = append(errs, errors.New("additionalData exceeds 999 characters"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// AmountMinor returns the amount in minor units (two decimals).
func (r *Request) AmountMinor() int64 {
	return r.Amount.Shift(2).IntPart()
}

// ICC decodes the DE55 bytes carried in CardData, or nil when absent.
func (r *Request) ICC() ([]byte, error) {
	if strings.TrimSpace(r.CardData) == "" {
		return nil, nil
	}
	var cd CardData
	if err := json.Unmarshal([]byte(r.CardData), &cd); err != nil {
		return nil, fmt.Errorf("%w: cardData: %v", ErrInvalidRequest, err)
	}
	raw := strings.TrimSpace(cd.EMVData.DE55)
	if raw == "" {
		return nil, nil
	}
	icc, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: de55 is not hex: %v", ErrInvalidRequest, err)
	}
	if cd.EMVData.DE55Length != nil && *cd.EMVData.DE55Length != len(icc) {
		return nil, fmt.Errorf("%w: de55Length %d does not match %d bytes", ErrInvalidRequest, *cd.EMVData.DE55Length, len(icc))
	}
	return icc, nil
}

// Result summarises what happened to a transaction.
type Result struct {
	Status            string          `json:"status"`
	TransactionID     string          `json:"transactionId"`
	TerminalID        string          `json:"terminalId"`
	STAN              string          `json:"stan"`
	TransactionDate   string          `json:"transactionDate"`
	TransactionTime   string          `json:"transactionTime"`
	ResponseCode      string          `json:"responseCode,omitempty"`
	AuthorizationCode string          `json:"authorizationCode,omitempty"`
	RRN               string          `json:"rrn,omitempty"`
	ResponseMessage   string          `json:"responseMessage"`
	TransactionState  string          `json:"transactionState"`
	Amount            decimal.Decimal `json:"amount"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Status values reported in Result.
const (
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
	StatusTimeout  = "TIMEOUT"
	StatusFailed   = "FAILED"
	StatusVoided   = "VOIDED"
	StatusReversed = "REVERSED"
	StatusPending  = "PENDING"
)

func newResult(tx *transaction.Transaction, status string, at time.Time) *Result {
	return &Result{
		Status:            status,
		TransactionID:     tx.CorrelationID,
		TerminalID:        tx.TerminalID,
		STAN:              tx.STAN,
		TransactionDate:   tx.Date,
		TransactionTime:   tx.Time,
		ResponseCode:      tx.ResponseCode,
		AuthorizationCode: tx.AuthCode,
		RRN:               tx.RRN,
		ResponseMessage:   tx.ResponseMessage,
		TransactionState:  string(tx.State),
		Amount:            decimal.New(tx.AmountMinor, -2),
		Timestamp:         at,
	}
}

// ResultFor reports a stored transaction using its current state.
func ResultFor(tx *transaction.Transaction, at time.Time) *Result {
	return newResult(tx, statusForState(tx), at)
}

func statusForState(tx *transaction.Transaction) string {
	switch tx.State {
	case transaction.StateApproved:
		return StatusApproved
	case transaction.StateDeclined:
		return StatusDeclined
	case transaction.StateVoided:
		return StatusVoided
	case transaction.StateFailed:
		return StatusFailed
	case transaction.StateReversed:
		if tx.ResponseCode == "" {
			return StatusTimeout
		}
		return StatusReversed
	case transaction.StateTimeout:
		return StatusTimeout
	default:
		return StatusPending
	}
}
