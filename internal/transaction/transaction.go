package transaction

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/mkadit/iso8583/v2"
)

const (
	DateLayout = "20060102"
	TimeLayout = "150405"
)

// Key identifies a transaction: local date (YYYYMMDD), local time
// (HHMMSS) and STAN. It is unique per switch.
type Key struct {
	Date string
	Time string
	STAN string
}

func NewKey(at time.Time, stan string) Key {
	return Key{Date: at.Format(DateLayout), Time: at.Format(TimeLayout), STAN: stan}
}

func (k Key) String() string {
	return k.Date + "/" + k.Time + "/" + k.STAN
}

// Change is one entry of a transaction's state history.
type Change struct {
	From State
	To   State
	At   time.Time
	Note string
}

// Transaction is the persisted record of one financial request and what
// happened to it.
type Transaction struct {
	Key
	ID            string
	CorrelationID string
	MTI           string
	Processing    string
	TerminalID    string
	MerchantID    string
	AmountMinor   int64
	Currency      string
	Fields        map[int]string

	State   State
	Version int

	ResponseCode    string
	ResponseMessage string
	AuthCode        string
	RRN             string

	ReversalSTAN   string
	ReversalReason string

	InsertedAt time.Time
	UpdatedAt  time.Time

	history []Change
	saved   int
}

// New creates a transaction in StateCreated from a request message. The
// key is taken from at and the message's DE11.
func New(msg *iso8583.Message, at time.Time) *Transaction {
	stan, _ := msg.GetString(iso8583.FieldSTAN)
	tx := &Transaction{
		Key:        NewKey(at, stan),
		MTI:        msg.MTI(),
		Fields:     FieldsFromMessage(msg),
		State:      StateCreated,
		InsertedAt: at,
		UpdatedAt:  at,
	}
	tx.Processing = tx.Fields[iso8583.FieldProcessingCode]
	tx.TerminalID = strings.TrimSpace(tx.Fields[iso8583.FieldTerminalID])
	tx.MerchantID = strings.TrimSpace(tx.Fields[iso8583.FieldMerchantID])
	tx.Currency = tx.Fields[iso8583.FieldCurrencyCode]
	if amount, err := strconv.ParseInt(tx.Fields[iso8583.FieldAmount], 10, 64); err == nil {
		tx.AmountMinor = amount
	}
	tx.history = []Change{{To: StateCreated, At: at}}
	return tx
}

// TransitionTo moves the transaction to state to. On rejection the state
// is left unchanged and a *TransitionError is returned.
func (t *Transaction) TransitionTo(to State, at time.Time, note string) error {
	next, err := Transition(t.State, to)
	if err != nil {
		return err
	}
	t.history = append(t.history, Change{From: t.State, To: next, At: at, Note: note})
	t.State = next
	t.Version++
	t.UpdatedAt = at
	return nil
}

var responseFields = map[string]iso8583.ExtractSpec{
	"response_code": {Field: iso8583.FieldResponseCode, Trim: iso8583.TrimBoth, DataType: iso8583.DataTypeAlphanumeric},
	"auth_code":     {Field: iso8583.FieldAuthCode, Trim: iso8583.TrimBoth},
	"rrn":           {Field: iso8583.FieldRRN, Trim: iso8583.TrimBoth, DataType: iso8583.DataTypeAlphanumeric},
}

// ApplyResponse copies the response code, authorization code and RRN
// from a response message. Nothing is copied when any of them is
// malformed.
func (t *Transaction) ApplyResponse(resp *iso8583.Message) error {
	values, err := iso8583.Extract(resp, responseFields)
	if err != nil {
		return err
	}
	t.ResponseCode = values["response_code"]
	t.AuthCode = values["auth_code"]
	t.RRN = values["rrn"]
	return nil
}

// History returns a copy of the recorded state changes.
func (t *Transaction) History() []Change {
	out := make([]Change, len(t.history))
	copy(out, t.history)
	return out
}

// UnsavedChanges returns the changes recorded since the last MarkSaved.
func (t *Transaction) UnsavedChanges() []Change {
	if t.saved >= len(t.history) {
		return nil
	}
	out := make([]Change, len(t.history)-t.saved)
	copy(out, t.history[t.saved:])
	return out
}

func (t *Transaction) MarkSaved() {
	t.saved = len(t.history)
}

// Restore sets the history of a transaction loaded from storage.
func (t *Transaction) Restore(history []Change) {
	t.history = append([]Change(nil), history...)
	t.saved = len(t.history)
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.Fields = make(map[int]string, len(t.Fields))
	for k, v := range t.Fields {
		c.Fields[k] = v
	}
	c.history = append([]Change(nil), t.history...)
	return &c
}

// FieldsFromMessage flattens a message into text values. Binary fields
// are stored as upper-case hex.
func FieldsFromMessage(msg *iso8583.Message) map[int]string {
	out := make(map[int]string)
	for _, n := range msg.GetPresentFields() {
		f, err := msg.GetField(n)
		if err != nil {
			continue
		}
		if f.Type() == iso8583.FieldTypeB {
			out[n] = iso8583.HexUpper(f.Bytes())
			continue
		}
		out[n] = f.String()
	}
	return out
}

// Message rebuilds the original request. Fields declared binary in cp are
// decoded from hex.
func (t *Transaction) Message(cp *iso8583.CompiledPackager) (*iso8583.Message, error) {
	msg := iso8583.NewMessage()
	if err := msg.SetMTI(t.MTI); err != nil {
		return nil, err
	}
	for n, v := range t.Fields {
		var value any = v
		if isBinary(cp, n) {
			raw, err := hex.DecodeString(v)
			if err != nil {
				return nil, &iso8583.FieldError{Field: n, Err: iso8583.ErrInvalidHex}
			}
			value = raw
		}
		if err := msg.SetField(n, value); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func isBinary(cp *iso8583.CompiledPackager, n int) bool {
	cfg, ok := cp.GetFieldConfig(n)
	return ok && (cfg.Format == iso8583.FormatBinary || cfg.Type == iso8583.FieldTypeB)
}
