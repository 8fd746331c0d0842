package iso8583

import "fmt"

// Format errors. They are local to parse/build and never retried.
var (
	ErrMalformedBitmap    = fmt.Errorf("malformed bitmap")
	ErrBufferUnderrun     = fmt.Errorf("buffer underrun")
	ErrFieldTooLong       = fmt.Errorf("field too long")
	ErrUnknownFieldFormat = fmt.Errorf("unknown field format")
	ErrMissingFieldSpec   = fmt.Errorf("missing field spec")
	ErrUnknownMTI         = fmt.Errorf("unknown MTI")
)

var (
	ErrInvalidField     = fmt.Errorf("invalid field")
	ErrFieldNotFound    = fmt.Errorf("field not found")
	ErrInvalidLength    = fmt.Errorf("invalid field length")
	ErrInvalidNumeric   = fmt.Errorf("non-numeric value")
	ErrInvalidHex       = fmt.Errorf("invalid hex")
	ErrTrailingData     = fmt.Errorf("trailing data after last field")
	ErrInvalidTLV       = fmt.Errorf("invalid TLV data")
	ErrValidationFailed = fmt.Errorf("validation failed")
	ErrBufferTooSmall   = fmt.Errorf("buffer too small")
	ErrMACPosition      = fmt.Errorf("MAC field must be the last present field")

	ErrUnsupportedLengthIndicator = fmt.Errorf("unsupported length indicator type")
)

type FieldError struct {
	Field int
	Err   error
}

func (fe *FieldError) Error() string {
	return fmt.Sprintf("field %d: %v", fe.Field, fe.Err)
}

func (fe *FieldError) Unwrap() error {
	return fe.Err
}

type ValidationError struct {
	Field   int
	Rule    string
	Message string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %d (%s): %s", ve.Field, ve.Rule, ve.Message)
}

func (ve *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

type TLVError struct {
	Tag []byte
	Err error
}

func (te *TLVError) Error() string {
	return fmt.Sprintf("TLV tag %X: %v", te.Tag, te.Err)
}

func (te *TLVError) Unwrap() error {
	return te.Err
}
