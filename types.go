package iso8583

import (
	"fmt"
	"strings"
)

// FieldType is the content class of a data element.
type FieldType int

const (
	FieldTypeANS FieldType = iota
	FieldTypeAN
	FieldTypeN
	FieldTypeB
	FieldTypeZ
)

func (t FieldType) String() string {
	switch t {
	case FieldTypeAN:
		return "AN"
	case FieldTypeN:
		return "N"
	case FieldTypeB:
		return "B"
	case FieldTypeZ:
		return "Z"
	default:
		return "ANS"
	}
}

func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *FieldType) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "ANS", "":
		*t = FieldTypeANS
	case "AN":
		*t = FieldTypeAN
	case "N":
		*t = FieldTypeN
	case "B":
		*t = FieldTypeB
	case "Z":
		*t = FieldTypeZ
	default:
		return fmt.Errorf("unknown field type %q", text)
	}
	return nil
}

// FieldFormat selects the wire encoding of a data element.
// The zero value is not a valid format.
type FieldFormat int

const (
	FormatUnknown FieldFormat = iota
	FormatFixedNumeric
	FormatFixedAlpha
	FormatLLVAR
	FormatLLLVAR
	FormatBinary
)

var formatNames = map[FieldFormat]string{
	FormatFixedNumeric: "fixed_numeric",
	FormatFixedAlpha:   "fixed_alpha",
	FormatLLVAR:        "llvar",
	FormatLLLVAR:       "lllvar",
	FormatBinary:       "binary",
}

func (f FieldFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

func (f FieldFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText accepts the canonical names plus a few common aliases.
// Unrecognized names decode to FormatUnknown so that a bad entry fails
// at parse/build time with ErrUnknownFieldFormat for that field only.
func (f *FieldFormat) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "fixed_numeric", "numeric", "n":
		*f = FormatFixedNumeric
	case "fixed_alpha", "alpha", "an", "ans":
		*f = FormatFixedAlpha
	case "llvar":
		*f = FormatLLVAR
	case "lllvar":
		*f = FormatLLLVAR
	case "binary", "b":
		*f = FormatBinary
	default:
		*f = FormatUnknown
	}
	return nil
}

// MTIEncoding selects how the 4 MTI digits are carried on the wire.
type MTIEncoding int

const (
	// MTIEncodingBCD packs the MTI into 2 bytes (4 hex characters).
	MTIEncodingBCD MTIEncoding = iota
	// MTIEncodingASCII carries the MTI as 4 ASCII bytes.
	MTIEncodingASCII
)

func (e MTIEncoding) MarshalText() ([]byte, error) {
	if e == MTIEncodingASCII {
		return []byte("ascii"), nil
	}
	return []byte("bcd"), nil
}

func (e *MTIEncoding) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "bcd", "":
		*e = MTIEncodingBCD
	case "ascii":
		*e = MTIEncodingASCII
	default:
		return fmt.Errorf("unknown MTI encoding %q", text)
	}
	return nil
}

type LengthIndicatorType int

const (
	LengthIndicatorNone LengthIndicatorType = iota
	LengthIndicatorBinary
	LengthIndicatorASCII
	LengthIndicatorHex
)

func (t *LengthIndicatorType) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "none", "":
		*t = LengthIndicatorNone
	case "binary":
		*t = LengthIndicatorBinary
	case "ascii":
		*t = LengthIndicatorASCII
	case "hex":
		*t = LengthIndicatorHex
	default:
		return fmt.Errorf("unknown length indicator %q", text)
	}
	return nil
}

// Field holds one data element value as carried in a Message.
// Numeric values are ASCII digits, alpha values are ASCII text and
// binary values are raw bytes.
type Field struct {
	data      []byte
	fieldType FieldType
	present   bool
}

type TLV struct {
	Tag    []byte
	Length int
	Value  []byte
}

// FieldConfig is one entry of the field specification table.
// Length is the fixed digit/byte count for fixed formats; MaxLength is
// the upper bound for LLVAR and LLLVAR.
type FieldConfig struct {
	Name      string      `json:"name,omitempty" yaml:"name,omitempty"`
	Format    FieldFormat `json:"format" yaml:"format"`
	Type      FieldType   `json:"type" yaml:"type"`
	Length    int         `json:"length,omitempty" yaml:"length,omitempty"`
	MaxLength int         `json:"max_length,omitempty" yaml:"max_length,omitempty"`
}

type LengthIndicatorConfig struct {
	Type   LengthIndicatorType `json:"type" yaml:"type"`
	Length int                 `json:"length" yaml:"length"`
}

// PackagerConfig is the declarative description of a payment network's
// message layout.
type PackagerConfig struct {
	Fields          map[int]FieldConfig   `json:"fields" yaml:"fields"`
	MTIEncoding     MTIEncoding           `json:"mti_encoding" yaml:"mti_encoding"`
	LengthIndicator LengthIndicatorConfig `json:"length_indicator" yaml:"length_indicator"`
}

const (
	DefaultBufferSize   = 4096
	MaxFieldNumber      = 128
	BitmapSize          = 8
	SecondaryBitmapSize = 8

	maxLLVAR  = 99
	maxLLLVAR = 999
)
