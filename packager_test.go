package iso8583

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest(t *testing.T) *Message {
	t.Helper()
	msg, err := NewBuilder().
		MTI(MTIFinancialRequest).
		PAN("4111111111111111").
		ProcessingCode("000000").
		Amount(10050).
		STAN("000001").
		Field(FieldTransmissionDateTime, "1019120000").
		Field(FieldLocalTime, "120000").
		Field(FieldLocalDate, "1019").
		Field(FieldPOSEntryMode, "051").
		Field(FieldPOSConditionCode, "00").
		TerminalID("TERM0001").
		MerchantID("MERCHANT001").
		Field(FieldCurrencyCode, "704").
		Field(FieldICCData, []byte{0x5A, 0x02, 0x41, 0x11}).
		Field(FieldOriginalData, strings.Repeat("0", 42)).
		Build()
	require.NoError(t, err)
	return msg
}

func TestBuildKnownVector(t *testing.T) {
	msg := NewMessage(WithMTI("0200"), WithField(3, "000000"), WithField(11, "000001"))

	wire, err := Build(msg, DefaultFields)
	require.NoError(t, err)
	assert.Equal(t, "0200"+"2020000000000000"+"000000"+"000001", wire)

	parsed, err := Parse(wire, DefaultFields)
	require.NoError(t, err)
	assert.True(t, msg.Equal(parsed))
}

func TestParseBuildRoundTrip(t *testing.T) {
	for _, enc := range []MTIEncoding{MTIEncodingBCD, MTIEncodingASCII} {
		packager := NewCompiledPackager(NewPackagerConfig(WithMTIEncodingOption(enc)))
		msg := sampleRequest(t)

		wire, err := packager.Build(msg)
		require.NoError(t, err)
		assert.Equal(t, strings.ToUpper(wire), wire)

		parsed, err := packager.Parse(wire)
		require.NoError(t, err)
		assert.True(t, msg.Equal(parsed), "encoding %v", enc)
		assert.Equal(t, msg.GetPresentFields(), parsed.GetPresentFields())

		icc, err := parsed.GetBytes(FieldICCData)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x5A, 0x02, 0x41, 0x11}, icc)
	}
}

func TestASCIIMTIOnWire(t *testing.T) {
	packager := NewCompiledPackager(NewPackagerConfig(WithMTIEncodingOption(MTIEncodingASCII)))
	wire, err := packager.Build(NewMessage(WithMTI("0800"), WithField(70, "301")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(wire, "30383030"))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		wire string
		err  error
	}{
		{"not hex", "02ZZ", ErrInvalidHex},
		{"empty", "", ErrUnknownMTI},
		{"bad class", "0900" + "2000000000000000" + "000000", ErrUnknownMTI},
		{"short bitmap", "0200" + "2000", ErrMalformedBitmap},
		{"missing secondary", "0200" + "A000000000000000" + "000000", ErrMalformedBitmap},
		{"field underrun", "0200" + "2000000000000000" + "0000", ErrBufferUnderrun},
		{"trailing bytes", "0200" + "2000000000000000" + "000000" + "FF", ErrTrailingData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.wire, DefaultFields)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParseUnknownFieldFormat(t *testing.T) {
	fields := map[int]FieldConfig{11: fixedN(6, "STAN")}
	_, err := Parse("0200"+"2000000000000000"+"000000", fields)
	require.ErrorIs(t, err, ErrUnknownFieldFormat)

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Field)
}

func TestBuildErrors(t *testing.T) {
	fields := map[int]FieldConfig{3: fixedN(6, "processing code")}

	_, err := Build(NewMessage(WithMTI("0200"), WithField(11, "000001")), fields)
	assert.ErrorIs(t, err, ErrMissingFieldSpec)

	_, err = Build(NewMessage(WithMTI("0200"), WithField(3, "0000001")), fields)
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, err = Build(NewMessage(WithField(3, "000000")), fields)
	assert.ErrorIs(t, err, ErrUnknownMTI)
}

func TestLoadPackagerFromYAMLAndJSON(t *testing.T) {
	yamlDoc := `
mti_encoding: ascii
length_indicator:
  type: binary
  length: 2
fields:
  3: {format: fixed_numeric, type: N, length: 6}
  41: {format: fixed_alpha, type: ANS, length: 8}
  48: {format: lllvar, max_length: 999}
  55: {format: lllvar, type: B, max_length: 255}
  60: {format: bogus, length: 1}
`
	packager, err := LoadPackagerFromYAML([]byte(yamlDoc))
	require.NoError(t, err)
	assert.Equal(t, MTIEncodingASCII, packager.MTIEncoding())
	assert.Equal(t, LengthIndicatorBinary, packager.LengthIndicator().Type)

	fc, ok := packager.GetFieldConfig(55)
	require.True(t, ok)
	assert.Equal(t, FormatLLLVAR, fc.Format)
	assert.Equal(t, FieldTypeB, fc.Type)

	_, err = packager.Build(NewMessage(WithMTI("0200"), WithField(60, "X")))
	assert.ErrorIs(t, err, ErrUnknownFieldFormat)

	jsonDoc := `{"fields":{"11":{"format":"fixed_numeric","type":"N","length":6}}}`
	packager, err = LoadPackagerFromJSON([]byte(jsonDoc))
	require.NoError(t, err)
	wire, err := packager.Build(NewMessage(WithMTI("0200"), WithField(11, "42")))
	require.NoError(t, err)
	assert.Equal(t, "0200"+"0020000000000000"+"000042", wire)
}

func TestMACInput(t *testing.T) {
	packager := NewCompiledPackager(DefaultPackagerConfig())
	msg := NewMessage(WithMTI("0200"), WithField(3, "000000"), WithField(11, "000001"))

	input, err := packager.MACInput(msg, FieldPrimaryMAC)
	require.NoError(t, err)
	// 2 MTI + 8 bitmap + 3 + 3
	require.Len(t, input, 16)
	assert.Equal(t, byte(0x01), input[9], "MAC bit set in the bitmap")
	assert.False(t, msg.HasField(FieldPrimaryMAC), "input message untouched")

	require.NoError(t, msg.SetField(FieldOriginalData, strings.Repeat("0", 42)))
	_, err = packager.MACInput(msg, FieldPrimaryMAC)
	assert.ErrorIs(t, err, ErrMACPosition)
}
