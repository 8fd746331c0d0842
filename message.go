package iso8583

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
)

// Message represents a single ISO8583 message: the MTI and the present
// data elements. The bitmap is kept in step with the field mapping on
// every mutation so the two never disagree.
type Message struct {
	mti    [4]byte
	fields [MaxFieldNumber]Field
	bitmap BitmapManager
	mu     sync.RWMutex
}

// NewMessage creates an empty message and applies opts.
func NewMessage(opts ...MessageOption) *Message {
	msg := &Message{}
	for _, opt := range opts {
		opt(msg)
	}
	return msg
}

// Reset clears the message for reuse.
func (m *Message) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *Message) reset() {
	m.mti = [4]byte{}
	m.bitmap.Reset()
	for i := range m.fields {
		m.fields[i].reset()
	}
}

// MTI returns the Message Type Indicator.
func (m *Message) MTI() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return string(m.mti[:])
}

// SetMTI sets the Message Type Indicator.
func (m *Message) SetMTI(mti string) error {
	if err := ValidateMTI(mti); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.mti[:], mti)
	return nil
}

// IsRequest reports whether the MTI function digit is even.
func (m *Message) IsRequest() bool {
	return IsRequestMTI(m.MTI())
}

// IsResponse reports whether the MTI function digit is odd.
func (m *Message) IsResponse() bool {
	mti := m.MTI()
	return len(mti) == 4 && !IsRequestMTI(mti) && isDigits([]byte(mti))
}

// IsNMM reports whether the message is a network management message.
func (m *Message) IsNMM() bool {
	switch m.MTI() {
	case MTINetworkRequest, MTINetworkResponse:
		return true
	default:
		return false
	}
}

// GetField returns a copy of the specified field.
// Returns ErrFieldNotFound if the field is not present.
func (m *Message) GetField(fieldNum int) (Field, error) {
	if fieldNum < 2 || fieldNum > MaxFieldNumber {
		return Field{}, ErrInvalidField
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	f := &m.fields[fieldNum-1]
	if !f.present {
		return Field{}, ErrFieldNotFound
	}
	return f.clone(), nil
}

// SetField sets the value of a data field (2-128) and its bitmap bit.
// It accepts string, []byte or int. Strings and ints are stored as
// ASCII text; []byte is stored as binary and copied.
func (m *Message) SetField(fieldNum int, value any) error {
	var (
		data []byte
		typ  FieldType
	)
	switch v := value.(type) {
	case string:
		data, typ = []byte(v), FieldTypeANS
	case []byte:
		data, typ = cloneBytes(v), FieldTypeB
	case int:
		data, typ = []byte(strconv.Itoa(v)), FieldTypeN
	default:
		return &FieldError{Field: fieldNum, Err: fmt.Errorf("unsupported value type %T", value)}
	}
	return m.setField(fieldNum, data, typ)
}

// SetNumeric sets an integer field zero-padded to width digits.
func (m *Message) SetNumeric(fieldNum int, value int, width int) error {
	if value < 0 {
		return &FieldError{Field: fieldNum, Err: ErrInvalidNumeric}
	}
	var buf [20]byte
	if width > len(buf) {
		return &FieldError{Field: fieldNum, Err: ErrFieldTooLong}
	}
	n := formatIntToBytes(buf[:], value, width)
	return m.setField(fieldNum, cloneBytes(buf[:n]), FieldTypeN)
}

func (m *Message) setField(fieldNum int, data []byte, typ FieldType) error {
	if fieldNum < 2 || fieldNum > MaxFieldNumber {
		return &FieldError{Field: fieldNum, Err: ErrInvalidField}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fields[fieldNum-1].set(data, typ)
	return m.bitmap.SetField(fieldNum)
}

// ClearField removes a field and its bitmap bit.
func (m *Message) ClearField(fieldNum int) error {
	if fieldNum < 2 || fieldNum > MaxFieldNumber {
		return &FieldError{Field: fieldNum, Err: ErrInvalidField}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fields[fieldNum-1].reset()
	return m.bitmap.ClearField(fieldNum)
}

// HasField returns true if the field is present in the message.
func (m *Message) HasField(fieldNum int) bool {
	if fieldNum < 2 || fieldNum > MaxFieldNumber {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fields[fieldNum-1].present
}

// GetPresentFields returns all field numbers present in the message, ascending.
func (m *Message) GetPresentFields() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bitmap.PresentFields()
}

// GetString is a convenience helper to get a field's value as a string.
func (m *Message) GetString(fieldNum int) (string, error) {
	field, err := m.GetField(fieldNum)
	if err != nil {
		return "", err
	}
	return field.String(), nil
}

// GetBytes is a convenience helper to get a field's value as a byte slice.
func (m *Message) GetBytes(fieldNum int) ([]byte, error) {
	field, err := m.GetField(fieldNum)
	if err != nil {
		return nil, err
	}
	return field.Bytes(), nil
}

// GetInt is a convenience helper to get a field's value as an integer.
func (m *Message) GetInt(fieldNum int) (int, error) {
	field, err := m.GetField(fieldNum)
	if err != nil {
		return 0, err
	}
	return field.Int()
}

// Bitmap returns the encoded bitmap of the present fields.
func (m *Message) Bitmap() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bitmap.AppendTo(nil)
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clone := &Message{mti: m.mti, bitmap: m.bitmap}
	for i := range m.fields {
		if m.fields[i].present {
			clone.fields[i] = m.fields[i].clone()
		}
	}
	return clone
}

// Equal reports whether both messages carry the same MTI and the same
// field values. Field content types are not compared.
func (m *Message) Equal(other *Message) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	a, b := m.Clone(), other.Clone()
	if a.mti != b.mti {
		return false
	}
	for i := range a.fields {
		if a.fields[i].present != b.fields[i].present {
			return false
		}
		if !bytes.Equal(a.fields[i].data, b.fields[i].data) {
			return false
		}
	}
	return true
}

// CreateResponse generates a response message based on the current message.
// It clones the message, flips the MTI (e.g., 0200 -> 0210)
// and sets the response code (field 39).
func (m *Message) CreateResponse(responseCode string) (*Message, error) {
	respMTI, err := ResponseMTI(m.MTI())
	if err != nil {
		return nil, fmt.Errorf("cannot create response: %w", err)
	}

	resMsg := m.Clone()
	copy(resMsg.mti[:], respMTI)
	if err := resMsg.SetField(FieldResponseCode, responseCode); err != nil {
		return nil, err
	}
	return resMsg, nil
}

// LogValue implements slog.LogValuer. Cardholder data is masked and binary
// fields are rendered as hex.
func (m *Message) LogValue() slog.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()

	present := m.bitmap.PresentFields()
	fieldArgs := make([]any, 0, len(present))
	for _, fieldNum := range present {
		f := &m.fields[fieldNum-1]
		fieldArgs = append(fieldArgs, slog.String(strconv.Itoa(fieldNum), logFieldValue(fieldNum, f)))
	}

	return slog.GroupValue(
		slog.String("MTI", string(m.mti[:])),
		slog.Group("Fields", fieldArgs...),
	)
}

func logFieldValue(fieldNum int, f *Field) string {
	switch fieldNum {
	case FieldPAN:
		return MaskPAN(string(f.data))
	case FieldTrack2, FieldPINBlock, FieldICCData, FieldPrimaryMAC, FieldSecondaryMAC:
		return fmt.Sprintf("[REDACTED %d bytes]", len(f.data))
	}
	if f.fieldType == FieldTypeB {
		return hex.EncodeToString(f.data)
	}
	return string(f.data)
}

// MaskPAN keeps the first six and last four digits of a card number.
func MaskPAN(pan string) string {
	if len(pan) <= 10 {
		return "****"
	}
	return pan[:6] + PadRight("", len(pan)-10, '*') + pan[len(pan)-4:]
}
