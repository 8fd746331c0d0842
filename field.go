package iso8583

import (
	"fmt"
	"strconv"
)

// String returns the field's data as a string.
func (f *Field) String() string {
	if !f.present {
		return ""
	}
	return string(f.data)
}

// Bytes returns the field's raw data.
func (f *Field) Bytes() []byte {
	if !f.present {
		return nil
	}
	return f.data
}

// Int parses the field's data as an integer.
func (f *Field) Int() (int, error) {
	if !f.present {
		return 0, ErrFieldNotFound
	}
	return strconv.Atoi(string(f.data))
}

// Int64 parses the field's data as an int64.
func (f *Field) Int64() (int64, error) {
	if !f.present {
		return 0, ErrFieldNotFound
	}
	return strconv.ParseInt(string(f.data), 10, 64)
}

// Length returns the length of the field's data in bytes.
func (f *Field) Length() int {
	return len(f.data)
}

func (f *Field) Type() FieldType {
	return f.fieldType
}

func (f *Field) IsPresent() bool {
	return f.present
}

func (f *Field) set(data []byte, fieldType FieldType) {
	f.data = data
	f.fieldType = fieldType
	f.present = true
}

func (f *Field) reset() {
	f.data = nil
	f.fieldType = FieldTypeANS
	f.present = false
}

// clone returns a deep copy of the field.
func (f *Field) clone() Field {
	c := Field{fieldType: f.fieldType, present: f.present}
	if f.data != nil {
		c.data = make([]byte, len(f.data))
		copy(c.data, f.data)
	}
	return c
}

// formatIntToBytes converts an integer to its ASCII representation in the buffer,
// zero-padded on the left to width.
func formatIntToBytes(buf []byte, value int, width int) int {
	if value == 0 {
		if width > 0 {
			for i := 0; i < width; i++ {
				buf[i] = '0'
			}
			return width
		}
		buf[0] = '0'
		return 1
	}

	i := len(buf) - 1
	for value > 0 {
		buf[i] = byte(value%10 + '0')
		value /= 10
		i--
	}

	digits := len(buf) - 1 - i
	if width > digits {
		padding := width - digits
		copy(buf[padding:], buf[i+1:])
		for j := 0; j < padding; j++ {
			buf[j] = '0'
		}
		return width
	}

	copy(buf, buf[i+1:])
	return digits
}

// appendDecimal appends val as a zero-padded decimal of exactly digits characters.
func appendDecimal(dst []byte, val, digits int) []byte {
	var tmp [4]byte
	for i := digits - 1; i >= 0; i-- {
		tmp[i] = byte(val%10 + '0')
		val /= 10
	}
	return append(dst, tmp[:digits]...)
}

func parseASCIIToInt(b []byte) (int, error) {
	n := 0
	for _, ch := range b {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("invalid character '%c' in numeric string", ch)
		}
		n = n*10 + int(ch-'0')
	}
	return n, nil
}

func isDigits(b []byte) bool {
	for _, ch := range b {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

// check reports whether the entry describes an encodable format.
func (fc FieldConfig) check() error {
	switch fc.Format {
	case FormatFixedNumeric, FormatFixedAlpha, FormatBinary:
		if fc.Length <= 0 {
			return fmt.Errorf("%w: %s requires a positive length", ErrUnknownFieldFormat, fc.Format)
		}
	case FormatLLVAR:
		if fc.MaxLength <= 0 || fc.MaxLength > maxLLVAR {
			return fmt.Errorf("%w: llvar max length %d not in 1..%d", ErrUnknownFieldFormat, fc.MaxLength, maxLLVAR)
		}
	case FormatLLLVAR:
		if fc.MaxLength <= 0 || fc.MaxLength > maxLLLVAR {
			return fmt.Errorf("%w: lllvar max length %d not in 1..%d", ErrUnknownFieldFormat, fc.MaxLength, maxLLLVAR)
		}
	default:
		return ErrUnknownFieldFormat
	}
	return nil
}

// EncodeField appends the wire encoding of value under cfg to dst.
func EncodeField(dst []byte, cfg FieldConfig, value []byte) ([]byte, error) {
	if err := cfg.check(); err != nil {
		return dst, err
	}

	switch cfg.Format {
	case FormatFixedNumeric:
		return packBCD(dst, value, cfg.Length)

	case FormatFixedAlpha, FormatBinary:
		if len(value) > cfg.Length {
			return dst, fmt.Errorf("%w: %d bytes, declared %d", ErrFieldTooLong, len(value), cfg.Length)
		}
		if len(value) < cfg.Length {
			return dst, fmt.Errorf("%w: fixed length mismatch: expected %d, got %d", ErrInvalidLength, cfg.Length, len(value))
		}
		return append(dst, value...), nil

	case FormatLLVAR:
		if len(value) > cfg.MaxLength {
			return dst, fmt.Errorf("%w: %d bytes, max %d", ErrFieldTooLong, len(value), cfg.MaxLength)
		}
		dst = appendDecimal(dst, len(value), 2)
		return append(dst, value...), nil

	case FormatLLLVAR:
		if len(value) > cfg.MaxLength {
			return dst, fmt.Errorf("%w: %d bytes, max %d", ErrFieldTooLong, len(value), cfg.MaxLength)
		}
		dst = appendDecimal(dst, len(value), 3)
		return append(dst, value...), nil
	}
	return dst, ErrUnknownFieldFormat
}

// DecodeField decodes one value under cfg from the start of data and
// returns it along with the number of bytes consumed. The returned value
// does not alias data.
func DecodeField(data []byte, cfg FieldConfig) ([]byte, int, error) {
	if err := cfg.check(); err != nil {
		return nil, 0, err
	}

	switch cfg.Format {
	case FormatFixedNumeric:
		return unpackBCD(data, cfg.Length)

	case FormatFixedAlpha, FormatBinary:
		if len(data) < cfg.Length {
			return nil, 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferUnderrun, cfg.Length, len(data))
		}
		return cloneBytes(data[:cfg.Length]), cfg.Length, nil

	case FormatLLVAR:
		return decodeVar(data, 2, cfg.MaxLength)

	case FormatLLLVAR:
		return decodeVar(data, 3, cfg.MaxLength)
	}
	return nil, 0, ErrUnknownFieldFormat
}

func decodeVar(data []byte, prefix, maxLen int) ([]byte, int, error) {
	if len(data) < prefix {
		return nil, 0, fmt.Errorf("%w: length prefix needs %d bytes, have %d", ErrBufferUnderrun, prefix, len(data))
	}
	n, err := parseASCIIToInt(data[:prefix])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	if n > maxLen {
		return nil, 0, fmt.Errorf("%w: length prefix %d, max %d", ErrFieldTooLong, n, maxLen)
	}
	if len(data) < prefix+n {
		return nil, 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferUnderrun, n, len(data)-prefix)
	}
	return cloneBytes(data[prefix : prefix+n]), prefix + n, nil
}

// packBCD left-pads digits with zeros to length and packs two digits per
// byte. Odd lengths carry one leading zero nibble.
func packBCD(dst []byte, digits []byte, length int) ([]byte, error) {
	if len(digits) > length {
		return dst, fmt.Errorf("%w: %d digits, declared %d", ErrFieldTooLong, len(digits), length)
	}
	if !isDigits(digits) {
		return dst, fmt.Errorf("%w: %q", ErrInvalidNumeric, digits)
	}

	width := length + length%2
	pad := width - len(digits)
	nibble := func(i int) byte {
		if i < pad {
			return 0
		}
		return digits[i-pad] - '0'
	}
	for i := 0; i < width; i += 2 {
		dst = append(dst, nibble(i)<<4|nibble(i+1))
	}
	return dst, nil
}

func unpackBCD(data []byte, length int) ([]byte, int, error) {
	size := (length + 1) / 2
	if len(data) < size {
		return nil, 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferUnderrun, size, len(data))
	}

	out := make([]byte, 0, size*2)
	for _, b := range data[:size] {
		hi, lo := b>>4, b&0x0F
		if hi > 9 || lo > 9 {
			return nil, 0, fmt.Errorf("%w: byte %02X is not packed decimal", ErrInvalidNumeric, b)
		}
		out = append(out, '0'+hi, '0'+lo)
	}
	return out[len(out)-length:], size, nil
}

func cloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// PadLeft left-pads s with pad to width. Longer values are returned unchanged.
func PadLeft(s string, width int, pad byte) string {
	if len(s) >= width {
		return s
	}
	buf := make([]byte, width)
	n := width - len(s)
	for i := 0; i < n; i++ {
		buf[i] = pad
	}
	copy(buf[n:], s)
	return string(buf)
}

// PadRight right-pads s with pad to width. Longer values are returned unchanged.
func PadRight(s string, width int, pad byte) string {
	if len(s) >= width {
		return s
	}
	buf := make([]byte, width)
	copy(buf, s)
	for i := len(s); i < width; i++ {
		buf[i] = pad
	}
	return string(buf)
}
