package mockbank

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkadit/iso8583/v2"
)

var fixedNow = time.Date(2025, 3, 4, 10, 11, 12, 0, time.UTC)

func newBank(opts ...Option) *Bank {
	cp := iso8583.NewCompiledPackager(iso8583.DefaultPackagerConfig())
	base := []Option{WithSeed(7), WithDelay(0, 0), WithClock(func() time.Time { return fixedNow })}
	return New(cp, append(base, opts...)...)
}

func saleRequest(stan string) *iso8583.Message {
	return iso8583.NewBuilder().
		MTI(iso8583.MTIFinancialRequest).
		ProcessingCode("000000").
		Amount(10050).
		STAN(stan).
		Timestamps(fixedNow).
		Field(iso8583.FieldPOSEntryMode, "051").
		Field(iso8583.FieldPOSConditionCode, "00").
		TerminalID("TERM0001").
		MerchantID("MERCHANT001").
		Field(iso8583.FieldCurrencyCode, "704").
		MustBuild()
}

func TestRespondApproved(t *testing.T) {
	bank := newBank(WithResponseCode("00"))

	resp, err := bank.Respond(saleRequest("000123"))
	require.NoError(t, err)

	assert.Equal(t, iso8583.MTIFinancialResponse, resp.MTI())
	for _, n := range []int{3, 4, 11, 12, 13, 22, 41, 42, 49} {
		assert.True(t, resp.HasField(n), "field %d", n)
	}
	stan, _ := resp.GetString(iso8583.FieldSTAN)
	assert.Equal(t, "000123", stan)
	code, _ := resp.GetString(iso8583.FieldResponseCode)
	assert.Equal(t, "00", code)

	rrn, err := resp.GetString(iso8583.FieldRRN)
	require.NoError(t, err)
	assert.Len(t, rrn, 12)
	assert.Equal(t, "506310", rrn[:6])

	auth, err := resp.GetString(iso8583.FieldAuthCode)
	require.NoError(t, err)
	assert.Len(t, auth, 6)
	assert.GreaterOrEqual(t, auth, "100000")
}

func TestRespondDeclined(t *testing.T) {
	bank := newBank(WithApprovalRate(0))

	resp, err := bank.Respond(saleRequest("000124"))
	require.NoError(t, err)

	code, _ := resp.GetString(iso8583.FieldResponseCode)
	assert.Contains(t, DefaultDeclineCodes, code)
	assert.False(t, resp.HasField(iso8583.FieldAuthCode))
}

func TestRespondConfiguredDeclineCodes(t *testing.T) {
	bank := newBank(WithApprovalRate(0), WithDeclineCodes("55", "61"))

	for i := 0; i < 20; i++ {
		resp, err := bank.Respond(saleRequest(fmt.Sprintf("%06d", 200+i)))
		require.NoError(t, err)
		code, _ := resp.GetString(iso8583.FieldResponseCode)
		assert.Contains(t, []string{"55", "61"}, code)
	}

	bank = newBank(WithApprovalRate(0), WithDeclineCodes())
	resp, err := bank.Respond(saleRequest("000300"))
	require.NoError(t, err)
	code, _ := resp.GetString(iso8583.FieldResponseCode)
	assert.Contains(t, DefaultDeclineCodes, code)
}

func TestRespondReversalAndNetwork(t *testing.T) {
	bank := newBank(WithApprovalRate(0))

	rev := saleRequest("000125")
	require.NoError(t, rev.SetMTI(iso8583.MTIReversalRequest))
	require.NoError(t, rev.SetField(iso8583.FieldOriginalData, "0200000124"+"0304101112"+"00000000000"+"00000000000"))
	resp, err := bank.Respond(rev)
	require.NoError(t, err)
	assert.Equal(t, iso8583.MTIReversalResponse, resp.MTI())
	code, _ := resp.GetString(iso8583.FieldResponseCode)
	assert.Equal(t, "00", code)
	assert.True(t, resp.HasField(iso8583.FieldOriginalData))

	echo := iso8583.NewBuilder().
		MTI(iso8583.MTINetworkRequest).
		STAN("000001").
		Field(iso8583.FieldNetworkMgmtCode, "301").
		MustBuild()
	resp, err = bank.Respond(echo)
	require.NoError(t, err)
	assert.Equal(t, iso8583.MTINetworkResponse, resp.MTI())
	assert.False(t, resp.HasField(iso8583.FieldRRN))
	nmc, _ := resp.GetString(iso8583.FieldNetworkMgmtCode)
	assert.Equal(t, "301", nmc)
}

func TestRespondRejectsResponse(t *testing.T) {
	bank := newBank()
	msg := saleRequest("000126")
	require.NoError(t, msg.SetMTI(iso8583.MTIFinancialResponse))

	_, err := bank.Respond(msg)
	assert.ErrorIs(t, err, iso8583.ErrUnknownMTI)
}

func TestDispatchHonoursContext(t *testing.T) {
	bank := newBank(WithDelay(time.Second, time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := bank.Dispatch(ctx, saleRequest("000127"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDispatchRoundTrip(t *testing.T) {
	bank := newBank(WithResponseCode("51"))

	resp, err := bank.Dispatch(context.Background(), saleRequest("000128"))
	require.NoError(t, err)
	code, _ := resp.GetString(iso8583.FieldResponseCode)
	assert.Equal(t, "51", code)
}

func TestServerAnswersFrames(t *testing.T) {
	bank := newBank(WithResponseCode("00"))
	srv := NewServer(bank, 2)
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	framing := iso8583.LengthIndicatorConfig{Type: iso8583.LengthIndicatorBinary, Length: 2}
	wire, err := bank.packager.Build(saleRequest("000129"))
	require.NoError(t, err)
	require.NoError(t, iso8583.WriteFrame(conn, framing, []byte(wire)))

	frame, err := iso8583.ReadFrame(conn, framing)
	require.NoError(t, err)
	resp, err := bank.packager.Parse(string(frame))
	require.NoError(t, err)
	assert.Equal(t, iso8583.MTIFinancialResponse, resp.MTI())
	stan, _ := resp.GetString(iso8583.FieldSTAN)
	assert.Equal(t, "000129", stan)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
