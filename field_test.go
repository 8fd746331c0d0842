package iso8583

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedNumericPacking(t *testing.T) {
	cfg := fixedN(4, "test")

	encoded, err := EncodeField(nil, cfg, []byte("123"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x23}, encoded)

	decoded, n, err := DecodeField(encoded, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "0123", string(decoded))
}

func TestFixedNumericOddLength(t *testing.T) {
	cfg := fixedN(3, "pos entry mode")

	encoded, err := EncodeField(nil, cfg, []byte("051"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x51}, encoded)

	decoded, _, err := DecodeField(encoded, cfg)
	require.NoError(t, err)
	assert.Equal(t, "051", string(decoded))
}

func TestFixedNumericErrors(t *testing.T) {
	cfg := fixedN(4, "test")

	_, err := EncodeField(nil, cfg, []byte("12345"))
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, err = EncodeField(nil, cfg, []byte("12a4"))
	assert.ErrorIs(t, err, ErrInvalidNumeric)

	_, _, err = DecodeField([]byte{0x01}, cfg)
	assert.ErrorIs(t, err, ErrBufferUnderrun)

	_, _, err = DecodeField([]byte{0x1A, 0x00}, cfg)
	assert.ErrorIs(t, err, ErrInvalidNumeric)
}

func TestLLVARBoundaries(t *testing.T) {
	cfg := llvar(99, "test")

	encoded, err := EncodeField(nil, cfg, []byte{})
	require.NoError(t, err)
	assert.Equal(t, "00", string(encoded))
	decoded, n, err := DecodeField(encoded, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, decoded)

	max := strings.Repeat("A", 99)
	encoded, err = EncodeField(nil, cfg, []byte(max))
	require.NoError(t, err)
	assert.Equal(t, "99"+max, string(encoded))
	decoded, n, err = DecodeField(encoded, cfg)
	require.NoError(t, err)
	assert.Equal(t, 101, n)
	assert.Equal(t, max, string(decoded))

	_, err = EncodeField(nil, cfg, []byte(strings.Repeat("A", 100)))
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func TestLLVARDeclaredMax(t *testing.T) {
	cfg := llvarN(19, "PAN")

	_, err := EncodeField(nil, cfg, []byte(strings.Repeat("4", 20)))
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, _, err = DecodeField([]byte("20"+strings.Repeat("4", 20)), cfg)
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func TestVariableDecodeErrors(t *testing.T) {
	cfg := lllvar(999, "test")

	_, _, err := DecodeField([]byte("01"), cfg)
	assert.ErrorIs(t, err, ErrBufferUnderrun)

	_, _, err = DecodeField([]byte("005ABC"), cfg)
	assert.ErrorIs(t, err, ErrBufferUnderrun)

	_, _, err = DecodeField([]byte("0x5ABCDE"), cfg)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestLLLVARRoundTrip(t *testing.T) {
	cfg := lllvarB(999, "ICC")
	value := []byte{0x9F, 0x26, 0x08, 0x00, 0xFF}

	encoded, err := EncodeField(nil, cfg, value)
	require.NoError(t, err)
	assert.Equal(t, "005", string(encoded[:3]))

	decoded, n, err := DecodeField(encoded, cfg)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, value, decoded)
}

func TestFixedAlphaAndBinary(t *testing.T) {
	alpha := fixedA(8, "terminal")

	encoded, err := EncodeField(nil, alpha, []byte("TERM0001"))
	require.NoError(t, err)
	decoded, _, err := DecodeField(encoded, alpha)
	require.NoError(t, err)
	assert.Equal(t, "TERM0001", string(decoded))

	_, err = EncodeField(nil, alpha, []byte("TERM00012"))
	assert.ErrorIs(t, err, ErrFieldTooLong)
	_, err = EncodeField(nil, alpha, []byte("TERM"))
	assert.ErrorIs(t, err, ErrInvalidLength)

	bin := fixedB(8, "MAC")
	_, _, err = DecodeField([]byte{1, 2, 3}, bin)
	assert.ErrorIs(t, err, ErrBufferUnderrun)
}

func TestDecodeFieldDoesNotAlias(t *testing.T) {
	data := []byte("04ABCD")
	decoded, _, err := DecodeField(data, llvar(10, "test"))
	require.NoError(t, err)
	data[2] = 'Z'
	assert.Equal(t, "ABCD", string(decoded))
}

func TestUnknownFormat(t *testing.T) {
	_, err := EncodeField(nil, FieldConfig{Format: FormatUnknown, Length: 4}, []byte("1234"))
	assert.ErrorIs(t, err, ErrUnknownFieldFormat)

	_, _, err = DecodeField([]byte("1234"), FieldConfig{Format: FormatFixedAlpha})
	assert.ErrorIs(t, err, ErrUnknownFieldFormat)
}

func TestPadding(t *testing.T) {
	assert.Equal(t, "MERCHANT001    ", PadRight("MERCHANT001", 15, ' '))
	assert.Equal(t, "000042", PadLeft("42", 6, '0'))
	assert.Equal(t, "TOOLONG", PadLeft("TOOLONG", 3, '0'))
}
