package iso8583

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	msg := NewMessage(
		WithMTI("0210"),
		WithField(FieldAuthCode, "A1B2  "),
		WithField(FieldRRN, "252921000123"),
		WithField(FieldOriginalData, "020000012310191200000000000000000000000000"),
	)

	values, err := Extract(msg, map[string]ExtractSpec{
		"authCode":   {Field: FieldAuthCode, Trim: TrimRight, DataType: DataTypeAlphanumeric},
		"rrn":        {Field: FieldRRN, DataType: DataTypeNumeric, Required: true},
		"origMTI":    {Field: FieldOriginalData, From: 1, Until: 4},
		"origSTAN":   {Field: FieldOriginalData, From: 5, Until: 10},
		"origTime":   {Field: FieldOriginalData, From: 11, Until: 20, Format: FormatMMDDhhmmss},
		"settlement": {Field: 15},
		"acquirer":   {Field: FieldOriginalData, From: 21, Until: 31, Trim: TrimLeft, PadChar: "0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "A1B2", values["authCode"])
	assert.Equal(t, "252921000123", values["rrn"])
	assert.Equal(t, "0200", values["origMTI"])
	assert.Equal(t, "000123", values["origSTAN"])
	assert.Equal(t, "1019120000", values["origTime"])
	assert.Equal(t, "", values["acquirer"])
	_, ok := values["settlement"]
	assert.False(t, ok)
}

func TestExtractCollectsErrors(t *testing.T) {
	msg := NewMessage(WithMTI("0210"), WithField(FieldRRN, "25292100012X"))

	_, err := Extract(msg, map[string]ExtractSpec{
		"rrn":  {Field: FieldRRN, DataType: DataTypeNumeric},
		"code": {Field: FieldResponseCode, Required: true},
		"time": {Field: FieldRRN, From: 1, Until: 4, Format: FormatMMDD},
	})
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "code (field 39): required but not found")
	assert.Contains(t, err.Error(), "rrn (field 37)")
	assert.Contains(t, err.Error(), "time (field 37)")
}
