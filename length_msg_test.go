package iso8583

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthIndicatorRoundTrip(t *testing.T) {
	configs := []LengthIndicatorConfig{
		{Type: LengthIndicatorBinary, Length: 2},
		{Type: LengthIndicatorBinary, Length: 4},
		{Type: LengthIndicatorASCII, Length: 4},
		{Type: LengthIndicatorHex, Length: 4},
	}
	for _, cfg := range configs {
		prefix, err := AppendLengthIndicator(nil, 200, cfg)
		require.NoError(t, err)
		require.Len(t, prefix, cfg.Length)

		n, consumed, err := ReadLengthIndicator(append(prefix, 'x'), cfg)
		require.NoError(t, err)
		assert.Equal(t, 200, n)
		assert.Equal(t, cfg.Length, consumed)
	}
}

func TestLengthIndicatorEncodings(t *testing.T) {
	ascii, err := AppendLengthIndicator(nil, 200, LengthIndicatorConfig{Type: LengthIndicatorASCII, Length: 4})
	require.NoError(t, err)
	assert.Equal(t, "0200", string(ascii))

	hexPrefix, err := AppendLengthIndicator(nil, 200, LengthIndicatorConfig{Type: LengthIndicatorHex, Length: 4})
	require.NoError(t, err)
	assert.Equal(t, "00C8", string(hexPrefix))

	bin, err := AppendLengthIndicator(nil, 258, LengthIndicatorConfig{Type: LengthIndicatorBinary, Length: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, bin)
}

func TestLengthIndicatorErrors(t *testing.T) {
	_, err := AppendLengthIndicator(nil, 10000, LengthIndicatorConfig{Type: LengthIndicatorASCII, Length: 4})
	assert.Error(t, err)

	_, err = AppendLengthIndicator(nil, 1, LengthIndicatorConfig{Type: LengthIndicatorBinary, Length: 3})
	assert.Error(t, err)

	_, _, err = ReadLengthIndicator([]byte{0x01}, LengthIndicatorConfig{Type: LengthIndicatorBinary, Length: 2})
	assert.ErrorIs(t, err, ErrBufferUnderrun)

	_, _, err = ReadLengthIndicator([]byte("02x0"), LengthIndicatorConfig{Type: LengthIndicatorASCII, Length: 4})
	assert.Error(t, err)

	n, consumed, err := ReadLengthIndicator([]byte("abc"), LengthIndicatorConfig{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, consumed)
}

func TestFrameRoundTrip(t *testing.T) {
	cfg := LengthIndicatorConfig{Type: LengthIndicatorBinary, Length: 2}
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, cfg, []byte("0200ABCD")))
	require.NoError(t, WriteFrame(&buf, cfg, []byte("0210")))
	assert.Equal(t, []byte{0x00, 0x08}, buf.Bytes()[:2])

	first, err := ReadFrame(&buf, cfg)
	require.NoError(t, err)
	assert.Equal(t, "0200ABCD", string(first))
	second, err := ReadFrame(&buf, cfg)
	require.NoError(t, err)
	assert.Equal(t, "0210", string(second))

	_, err = ReadFrame(&buf, cfg)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameErrors(t *testing.T) {
	none := LengthIndicatorConfig{Type: LengthIndicatorNone}
	assert.ErrorIs(t, WriteFrame(io.Discard, none, []byte("x")), ErrUnsupportedLengthIndicator)
	_, err := ReadFrame(bytes.NewReader([]byte("x")), none)
	assert.ErrorIs(t, err, ErrUnsupportedLengthIndicator)

	cfg := LengthIndicatorConfig{Type: LengthIndicatorASCII, Length: 4}
	_, err = ReadFrame(bytes.NewReader([]byte("0010short")), cfg)
	assert.ErrorIs(t, err, ErrBufferUnderrun)

	_, err = ReadFrame(bytes.NewReader([]byte("0000")), cfg)
	assert.ErrorIs(t, err, ErrInvalidLength)
}
