package transaction

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkadit/iso8583/v2"
)

func TestTransitionTable(t *testing.T) {
	legal := map[State][]State{
		StateCreated:  {StateSent},
		StateSent:     {StateApproved, StateDeclined, StateTimeout, StateFailed},
		StateTimeout:  {StateReversed},
		StateApproved: {StateVoided, StateReversed},
		StateDeclined: {StateReversed},
	}

	for _, from := range States() {
		for _, to := range States() {
			want := false
			for _, s := range legal[from] {
				if s == to {
					want = true
				}
			}
			got, err := Transition(from, to)
			if want {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, got)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, from, got)

			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, from, te.From)
			assert.Equal(t, to, te.To)
		}
	}
}

func TestTerminalStatesHaveNoForwardEdges(t *testing.T) {
	for _, s := range []State{StateReversed, StateVoided, StateFailed} {
		assert.True(t, s.IsTerminal())
		for _, to := range States() {
			assert.False(t, CanTransition(s, to), "%s -> %s", s, to)
		}
	}
	assert.True(t, StateDeclined.IsTerminal())
	assert.False(t, StateApproved.IsTerminal())
}

func TestParseState(t *testing.T) {
	s, err := ParseState(" approved ")
	require.NoError(t, err)
	assert.Equal(t, StateApproved, s)

	for _, st := range States() {
		got, err := ParseState(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err = ParseState("PENDING")
	assert.Error(t, err)
}

func newRequest(t *testing.T) *iso8583.Message {
	t.Helper()
	msg, err := iso8583.NewBuilder().
		MTI(iso8583.MTIFinancialRequest).
		ProcessingCode("000000").
		Amount(10050).
		STAN("000042").
		TerminalID("TERM0001").
		MerchantID("MERCHANT01").
		Field(iso8583.FieldCurrencyCode, "704").
		Field(iso8583.FieldICCData, []byte{0x5A, 0x01, 0x12}).
		Build()
	require.NoError(t, err)
	return msg
}

func TestTransactionLifecycle(t *testing.T) {
	at := time.Date(2025, 3, 4, 10, 11, 12, 0, time.UTC)
	tx := New(newRequest(t), at)

	assert.Equal(t, Key{Date: "20250304", Time: "101112", STAN: "000042"}, tx.Key)
	assert.Equal(t, "20250304/101112/000042", tx.Key.String())
	assert.Equal(t, StateCreated, tx.State)
	assert.Equal(t, "TERM0001", tx.TerminalID)
	assert.Equal(t, "MERCHANT01", tx.MerchantID)
	assert.Equal(t, int64(10050), tx.AmountMinor)
	assert.Equal(t, "5A0112", tx.Fields[iso8583.FieldICCData])

	require.NoError(t, tx.TransitionTo(StateSent, at.Add(time.Second), ""))
	require.NoError(t, tx.TransitionTo(StateApproved, at.Add(2*time.Second), "00"))
	assert.Equal(t, 2, tx.Version)

	h := tx.History()
	require.Len(t, h, 3)
	assert.Equal(t, State(""), h[0].From)
	assert.Equal(t, StateSent, h[2].From)
	assert.Equal(t, StateApproved, h[2].To)
}

func TestTransactionRejectsIllegalTransition(t *testing.T) {
	at := time.Now()
	tx := New(newRequest(t), at)

	err := tx.TransitionTo(StateVoided, at, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateCreated, tx.State)
	assert.Equal(t, 0, tx.Version)
	assert.Len(t, tx.History(), 1)
}

func TestUnsavedChanges(t *testing.T) {
	at := time.Now()
	tx := New(newRequest(t), at)
	assert.Len(t, tx.UnsavedChanges(), 1)

	tx.MarkSaved()
	assert.Empty(t, tx.UnsavedChanges())

	require.NoError(t, tx.TransitionTo(StateSent, at, ""))
	changes := tx.UnsavedChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, StateSent, changes[0].To)
}

func TestMessageRoundTrip(t *testing.T) {
	req := newRequest(t)
	tx := New(req, time.Now())

	cp := iso8583.NewCompiledPackager(iso8583.DefaultPackagerConfig())
	msg, err := tx.Message(cp)
	require.NoError(t, err)
	assert.True(t, req.Equal(msg))

	icc, err := msg.GetBytes(iso8583.FieldICCData)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x5A, 0x01, 0x12}, icc)
}

func TestCloneIsDeep(t *testing.T) {
	tx := New(newRequest(t), time.Now())
	c := tx.Clone()
	c.Fields[iso8583.FieldSTAN] = "999999"
	require.NoError(t, c.TransitionTo(StateSent, time.Now(), ""))

	assert.Equal(t, "000042", tx.Fields[iso8583.FieldSTAN])
	assert.Equal(t, StateCreated, tx.State)
	assert.Len(t, tx.History(), 1)
}

func TestApplyResponse(t *testing.T) {
	resp := iso8583.NewBuilder().
		MTI(iso8583.MTIFinancialResponse).
		STAN("000042").
		Field(iso8583.FieldResponseCode, "00").
		Field(iso8583.FieldAuthCode, "123456").
		Field(iso8583.FieldRRN, "506310000042").
		MustBuild()

	var tx Transaction
	require.NoError(t, tx.ApplyResponse(resp))
	assert.Equal(t, "00", tx.ResponseCode)
	assert.Equal(t, "123456", tx.AuthCode)
	assert.Equal(t, "506310000042", tx.RRN)

	require.NoError(t, resp.SetField(iso8583.FieldRRN, "5063-0000042"))
	var bad Transaction
	assert.ErrorIs(t, bad.ApplyResponse(resp), iso8583.ErrValidationFailed)
	assert.Empty(t, bad.ResponseCode)
}
