package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkadit/iso8583/v2"
)

const testKey = "000102030405060708090A0B0C0D0E0F"

func newSigner(t *testing.T) (*Signer, *iso8583.CompiledPackager) {
	t.Helper()
	cp := iso8583.NewCompiledPackager(iso8583.DefaultPackagerConfig())
	s, err := NewSigner(testKey, cp)
	require.NoError(t, err)
	return s, cp
}

func request(t *testing.T) *iso8583.Message {
	t.Helper()
	return iso8583.NewBuilder().
		MTI(iso8583.MTIFinancialRequest).
		ProcessingCode("000000").
		Amount(10050).
		STAN("000001").
		TerminalID("TERM0001").
		MustBuild()
}

func TestSignAndVerify(t *testing.T) {
	s, cp := newSigner(t)
	msg := request(t)

	require.NoError(t, s.Sign(msg))
	mac, err := msg.GetBytes(iso8583.FieldPrimaryMAC)
	require.NoError(t, err)
	assert.Len(t, mac, MACLength)

	wire, err := cp.Build(msg)
	require.NoError(t, err)
	parsed, err := cp.Parse(wire)
	require.NoError(t, err)
	assert.NoError(t, s.Verify(parsed))
}

func TestVerifyDetectsTampering(t *testing.T) {
	s, _ := newSigner(t)
	msg := request(t)
	require.NoError(t, s.Sign(msg))

	require.NoError(t, msg.SetField(iso8583.FieldAmount, "000000099999"))
	assert.ErrorIs(t, s.Verify(msg), ErrMACMismatch)
}

func TestVerifyMissingMAC(t *testing.T) {
	s, _ := newSigner(t)
	assert.ErrorIs(t, s.Verify(request(t)), ErrMACMismatch)
}

func TestSignUsesSecondaryMAC(t *testing.T) {
	s, cp := newSigner(t)
	msg := request(t)
	require.NoError(t, msg.SetField(iso8583.FieldOriginalData, "020000000100000000000000000000000000000000"))

	require.NoError(t, s.Sign(msg))
	assert.False(t, msg.HasField(iso8583.FieldPrimaryMAC))
	assert.True(t, msg.HasField(iso8583.FieldSecondaryMAC))

	wire, err := cp.Build(msg)
	require.NoError(t, err)
	parsed, err := cp.Parse(wire)
	require.NoError(t, err)
	assert.NoError(t, s.Verify(parsed))
}

func TestMACField(t *testing.T) {
	msg := request(t)
	assert.Equal(t, iso8583.FieldPrimaryMAC, MACField(msg))
	require.NoError(t, msg.SetField(iso8583.FieldNetworkMgmtCode, "301"))
	assert.Equal(t, iso8583.FieldSecondaryMAC, MACField(msg))
}

func TestNewSignerValidation(t *testing.T) {
	cp := iso8583.NewCompiledPackager(iso8583.DefaultPackagerConfig())

	_, err := NewSigner("zz", cp)
	assert.Error(t, err)
	_, err = NewSigner("0011", cp)
	assert.Error(t, err)
}
