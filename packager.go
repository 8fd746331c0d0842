package iso8583

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// CompiledPackager holds the complete specification (schema) for an ISO8583
// message: the field specification table, the MTI encoding and the TCP
// length indicator. It is immutable and safe for concurrent use; Parse and
// Build keep no shared state.
type CompiledPackager struct {
	fieldConfigs    map[int]FieldConfig
	mtiEncoding     MTIEncoding
	lengthIndicator LengthIndicatorConfig
	validator       *CompiledValidator
}

// NewCompiledPackager creates a new CompiledPackager from a PackagerConfig.
// The field table is copied. Entries with an unknown format are kept and
// reported as ErrUnknownFieldFormat when the field is encountered.
func NewCompiledPackager(config *PackagerConfig) *CompiledPackager {
	fields := make(map[int]FieldConfig, len(config.Fields))
	for n, fc := range config.Fields {
		fields[n] = fc
	}
	cp := &CompiledPackager{
		fieldConfigs:    fields,
		mtiEncoding:     config.MTIEncoding,
		lengthIndicator: config.LengthIndicator,
	}
	cp.validator = compileValidator(fields)
	return cp
}

// GetFieldConfig retrieves the configuration for a specific field number.
func (cp *CompiledPackager) GetFieldConfig(fieldNum int) (FieldConfig, bool) {
	config, exists := cp.fieldConfigs[fieldNum]
	return config, exists
}

func (cp *CompiledPackager) GetValidator() *CompiledValidator {
	return cp.validator
}

func (cp *CompiledPackager) LengthIndicator() LengthIndicatorConfig {
	return cp.lengthIndicator
}

func (cp *CompiledPackager) MTIEncoding() MTIEncoding {
	return cp.mtiEncoding
}

// Parse decodes a hex-encoded wire message.
func (cp *CompiledPackager) Parse(wire string) (*Message, error) {
	data, err := hex.DecodeString(strings.TrimSpace(wire))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return cp.Unpack(data)
}

// Unpack decodes a raw (binary) message: MTI, bitmap, then each present
// field in ascending order.
func (cp *CompiledPackager) Unpack(data []byte) (*Message, error) {
	mti, offset, err := unpackMTI(data, cp.mtiEncoding)
	if err != nil {
		return nil, err
	}

	msg := NewMessage()
	copy(msg.mti[:], mti)

	n, err := msg.bitmap.Unpack(data[offset:])
	if err != nil {
		return nil, err
	}
	offset += n

	for _, fieldNum := range msg.bitmap.PresentFields() {
		config, ok := cp.fieldConfigs[fieldNum]
		if !ok {
			return nil, &FieldError{Field: fieldNum, Err: ErrUnknownFieldFormat}
		}
		value, consumed, err := DecodeField(data[offset:], config)
		if err != nil {
			return nil, &FieldError{Field: fieldNum, Err: err}
		}
		msg.fields[fieldNum-1].set(value, config.Type)
		offset += consumed
	}

	if offset != len(data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(data)-offset)
	}
	return msg, nil
}

// Build encodes msg as an uppercase hex wire string.
func (cp *CompiledPackager) Build(msg *Message) (string, error) {
	buf := getBuffer()
	defer func() { putBuffer(buf) }()

	var err error
	buf, err = cp.appendPacked(buf, msg)
	if err != nil {
		return "", err
	}

	out := make([]byte, len(buf)*2)
	encodeHexUpper(out, buf)
	return string(out), nil
}

// Pack encodes msg into raw bytes.
func (cp *CompiledPackager) Pack(msg *Message) ([]byte, error) {
	return cp.appendPacked(make([]byte, 0, 256), msg)
}

func (cp *CompiledPackager) appendPacked(dst []byte, msg *Message) ([]byte, error) {
	if msg == nil {
		return dst, fmt.Errorf("%w: nil message", ErrUnknownMTI)
	}
	msg.mu.RLock()
	defer msg.mu.RUnlock()

	dst, err := packMTI(dst, msg.mti, cp.mtiEncoding)
	if err != nil {
		return dst, err
	}
	dst = msg.bitmap.AppendTo(dst)

	for _, fieldNum := range msg.bitmap.PresentFields() {
		config, ok := cp.fieldConfigs[fieldNum]
		if !ok {
			return dst, &FieldError{Field: fieldNum, Err: ErrMissingFieldSpec}
		}
		dst, err = EncodeField(dst, config, msg.fields[fieldNum-1].data)
		if err != nil {
			return dst, &FieldError{Field: fieldNum, Err: err}
		}
	}
	return dst, nil
}

// MACInput returns the packed bytes a MAC is computed over: the whole
// message up to, but excluding, the MAC field. The MAC field must be the
// highest present field; if it is absent a zero placeholder is used.
func (cp *CompiledPackager) MACInput(msg *Message, macField int) ([]byte, error) {
	config, ok := cp.fieldConfigs[macField]
	if !ok {
		return nil, &FieldError{Field: macField, Err: ErrMissingFieldSpec}
	}

	work := msg.Clone()
	if !work.HasField(macField) {
		if err := work.SetField(macField, make([]byte, config.Length)); err != nil {
			return nil, err
		}
	}
	present := work.GetPresentFields()
	if present[len(present)-1] != macField {
		return nil, &FieldError{Field: macField, Err: ErrMACPosition}
	}

	packed, err := cp.Pack(work)
	if err != nil {
		return nil, err
	}
	return packed[:len(packed)-config.Length], nil
}

// Parse decodes a hex wire message using a field table and BCD MTI.
func Parse(wire string, fields map[int]FieldConfig) (*Message, error) {
	return NewCompiledPackager(&PackagerConfig{Fields: fields}).Parse(wire)
}

// Build encodes msg using a field table and BCD MTI.
func Build(msg *Message, fields map[int]FieldConfig) (string, error) {
	return NewCompiledPackager(&PackagerConfig{Fields: fields}).Build(msg)
}

// LoadPackagerFromJSON unmarshals a JSON byte slice into a PackagerConfig
// and returns a new CompiledPackager.
func LoadPackagerFromJSON(data []byte) (*CompiledPackager, error) {
	var config PackagerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse packager config: %w", err)
	}
	return NewCompiledPackager(&config), nil
}

// LoadPackagerFromYAML is the YAML counterpart of LoadPackagerFromJSON.
func LoadPackagerFromYAML(data []byte) (*CompiledPackager, error) {
	var config PackagerConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse packager config: %w", err)
	}
	return NewCompiledPackager(&config), nil
}

// DefaultPackagerConfig returns the built-in table with a BCD MTI and no
// length indicator.
func DefaultPackagerConfig() *PackagerConfig {
	return &PackagerConfig{
		Fields:      DefaultFields,
		MTIEncoding: MTIEncodingBCD,
		LengthIndicator: LengthIndicatorConfig{
			Type:   LengthIndicatorNone,
			Length: 0,
		},
	}
}

// NewPackagerConfig creates a new PackagerConfig using the options pattern.
func NewPackagerConfig(opts ...PackagerOption) *PackagerConfig {
	config := DefaultPackagerConfig()
	fields := make(map[int]FieldConfig, len(config.Fields))
	for n, fc := range config.Fields {
		fields[n] = fc
	}
	config.Fields = fields
	for _, opt := range opts {
		opt(config)
	}
	return config
}
