package iso8583

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageClassification(t *testing.T) {
	tests := []struct {
		mti      string
		request  bool
		response bool
	}{
		{"0200", true, false},
		{"0210", false, true},
		{"0400", true, false},
		{"0410", false, true},
		{"0420", true, false},
		{"0430", false, true},
	}
	for _, tt := range tests {
		msg := NewMessage(WithMTI(tt.mti))
		assert.Equal(t, tt.request, msg.IsRequest(), tt.mti)
		assert.Equal(t, tt.response, msg.IsResponse(), tt.mti)
	}
}

func TestSetMTIRejectsUnknown(t *testing.T) {
	msg := NewMessage()
	assert.ErrorIs(t, msg.SetMTI("02A0"), ErrUnknownMTI)
	assert.ErrorIs(t, msg.SetMTI("020"), ErrUnknownMTI)
	assert.ErrorIs(t, msg.SetMTI("0000"), ErrUnknownMTI)
	assert.NoError(t, msg.SetMTI("0800"))
	assert.True(t, msg.IsNMM())
}

func TestFieldAndBitmapStayInStep(t *testing.T) {
	msg := NewMessage(WithMTI("0200"))
	require.NoError(t, msg.SetField(3, "000000"))
	require.NoError(t, msg.SetNumeric(11, 42, 6))
	require.NoError(t, msg.SetField(90, "0"))

	assert.Equal(t, []int{3, 11, 90}, msg.GetPresentFields())
	assert.Len(t, msg.Bitmap(), 16)

	stan, err := msg.GetString(11)
	require.NoError(t, err)
	assert.Equal(t, "000042", stan)

	require.NoError(t, msg.ClearField(90))
	assert.Equal(t, []int{3, 11}, msg.GetPresentFields())
	assert.Len(t, msg.Bitmap(), 8)

	_, err = msg.GetField(90)
	assert.ErrorIs(t, err, ErrFieldNotFound)

	assert.ErrorIs(t, msg.SetField(1, "x"), ErrInvalidField)
	assert.ErrorIs(t, msg.SetField(129, "x"), ErrInvalidField)
	assert.Error(t, msg.SetField(4, 1.5))
}

func TestCloneIsDeep(t *testing.T) {
	raw := []byte{0x01, 0x02}
	msg := NewMessage(WithMTI("0200"), WithField(52, raw))
	raw[0] = 0xFF

	clone := msg.Clone()
	require.True(t, msg.Equal(clone))

	require.NoError(t, clone.SetField(52, []byte{0x09, 0x09}))
	got, err := msg.GetBytes(52)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, got)
	assert.False(t, msg.Equal(clone))
}

func TestCreateResponse(t *testing.T) {
	req := NewMessage(WithMTI("0200"), WithField(11, "000123"), WithField(41, "TERM0001"))

	resp, err := req.CreateResponse("00")
	require.NoError(t, err)
	assert.Equal(t, "0210", resp.MTI())
	assert.True(t, resp.IsResponse())

	code, err := resp.GetString(FieldResponseCode)
	require.NoError(t, err)
	assert.Equal(t, "00", code)

	stan, _ := resp.GetString(FieldSTAN)
	assert.Equal(t, "000123", stan)
	assert.False(t, req.HasField(FieldResponseCode))

	_, err = resp.CreateResponse("00")
	assert.ErrorIs(t, err, ErrUnknownMTI)
}

func TestLogValueMasksCardData(t *testing.T) {
	msg := NewMessage(
		WithMTI("0200"),
		WithField(FieldPAN, "4111111111111111"),
		WithField(FieldTrack2, "4111111111111111=2512101"),
		WithField(FieldTerminalID, "TERM0001"),
	)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("outbound", slog.Any("message", msg))

	out := buf.String()
	assert.Contains(t, out, "411111******1111")
	assert.Contains(t, out, "TERM0001")
	assert.NotContains(t, out, "4111111111111111")
}

func TestMaskPAN(t *testing.T) {
	assert.Equal(t, "411111******1111", MaskPAN("4111111111111111"))
	assert.Equal(t, "****", MaskPAN("12345"))
}
