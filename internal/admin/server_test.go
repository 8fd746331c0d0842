package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkadit/iso8583/v2"
	"github.com/mkadit/iso8583/v2/internal/connector"
	"github.com/mkadit/iso8583/v2/internal/metrics"
	"github.com/mkadit/iso8583/v2/internal/reversal"
	"github.com/mkadit/iso8583/v2/internal/storage"
	"github.com/mkadit/iso8583/v2/internal/transaction"
)

var fixedNow = time.Date(2025, 3, 4, 10, 11, 12, 0, time.UTC)

type stubService struct {
	processErr error
	cancelErr  error
	tx         *transaction.Transaction
	gotReq     *connector.Request
	gotKey     transaction.Key
	gotReason  reversal.Reason
}

func (s *stubService) Process(_ context.Context, req *connector.Request) (*connector.Result, error) {
	s.gotReq = req
	if s.processErr != nil {
		return nil, s.processErr
	}
	return connector.ResultFor(s.tx, fixedNow), nil
}

func (s *stubService) Find(_ context.Context, key transaction.Key) (*transaction.Transaction, error) {
	s.gotKey = key
	if s.tx == nil || s.tx.Key != key {
		return nil, storage.ErrNotFound
	}
	return s.tx, nil
}

func (s *stubService) FindByStan(_ context.Context, stan string) (*transaction.Transaction, error) {
	if s.tx == nil || s.tx.STAN != stan {
		return nil, fmt.Errorf("find: %w", storage.ErrNotFound)
	}
	return s.tx, nil
}

func (s *stubService) Void(_ context.Context, key transaction.Key) (*connector.Result, error) {
	s.gotKey = key
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	return connector.ResultFor(s.tx, fixedNow), nil
}

func (s *stubService) Reverse(_ context.Context, key transaction.Key, reason reversal.Reason) (*connector.Result, error) {
	s.gotKey = key
	s.gotReason = reason
	if s.cancelErr != nil {
		return connector.ResultFor(s.tx, fixedNow), s.cancelErr
	}
	return connector.ResultFor(s.tx, fixedNow), nil
}

func approvedTx(t *testing.T) *transaction.Transaction {
	t.Helper()
	msg := iso8583.NewBuilder().
		MTI(iso8583.MTIFinancialRequest).
		ProcessingCode("000000").
		PAN("4111111111111111").
		Amount(10050).
		STAN("000001").
		Timestamps(fixedNow).
		TerminalID("TERM0001").
		MustBuild()
	tx := transaction.New(msg, fixedNow)
	tx.CorrelationID = "tx-1"
	require.NoError(t, tx.TransitionTo(transaction.StateSent, fixedNow, ""))
	require.NoError(t, tx.TransitionTo(transaction.StateApproved, fixedNow, "00"))
	tx.ResponseCode = "00"
	return tx
}

func newTestServer(svc Service, limiter *RateLimiter) (*Server, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	metrics.New(reg).ObserveLateResponse()
	return New(Config{Service: svc, Gatherer: reg, Limiter: limiter, Now: func() time.Time { return fixedNow }}), reg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmit(t *testing.T) {
	svc := &stubService{tx: approvedTx(t)}
	srv, _ := newTestServer(svc, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/transactions",
		`{"msgType":"SALE","trmId":"TERM0001","transactionId":"tx-1","amount":"100.50"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res connector.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, connector.StatusApproved, res.Status)
	assert.Equal(t, "000001", res.STAN)
	require.NotNil(t, svc.gotReq)
	assert.Equal(t, "TERM0001", svc.gotReq.TerminalID)
	assert.Equal(t, int64(10050), svc.gotReq.AmountMinor())
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{"msgType":`, nil, http.StatusBadRequest},
		{"invalid request", `{}`, fmt.Errorf("%w: trmId is required", connector.ErrInvalidRequest), http.StatusBadRequest},
		{"unsupported", `{}`, connector.ErrUnsupportedTransaction, http.StatusBadRequest},
		{"validation", `{}`, &iso8583.ValidationError{Field: 4, Rule: "mandatory", Message: "missing"}, http.StatusBadRequest},
		{"duplicate", `{}`, storage.ErrDuplicate, http.StatusConflict},
		{"internal", `{}`, errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(&stubService{processErr: tt.err}, nil)
			rec := do(t, srv.Handler(), http.MethodPost, "/v1/transactions", tt.body)
			assert.Equal(t, tt.want, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestGetTransaction(t *testing.T) {
	svc := &stubService{tx: approvedTx(t)}
	srv, _ := newTestServer(svc, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/v1/transactions/20250304/101112/000001", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "APPROVED", view["transactionState"])
	assert.Equal(t, "0200", view["mti"])
	assert.Equal(t, "411111******1111", view["pan"])
	assert.Len(t, view["history"], 3)

	rec = do(t, srv.Handler(), http.MethodGet, "/v1/transactions/stan/000001", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/v1/transactions/20250304/101112/000002", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv.Handler(), http.MethodGet, "/v1/transactions/stan/000009", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVoidAndReversal(t *testing.T) {
	svc := &stubService{tx: approvedTx(t)}
	srv, _ := newTestServer(svc, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/v1/transactions/20250304/101112/000001/void", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, transaction.Key{Date: "20250304", Time: "101112", STAN: "000001"}, svc.gotKey)

	rec = do(t, srv.Handler(), http.MethodPost, "/v1/transactions/20250304/101112/000001/reversal", `{"reason":"suspected_malfunction"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reversal.ReasonSuspectedMalfunction, svc.gotReason)

	rec = do(t, srv.Handler(), http.MethodPost, "/v1/transactions/20250304/101112/000001/reversal", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reversal.ReasonOther, svc.gotReason)

	rec = do(t, srv.Handler(), http.MethodPost, "/v1/transactions/20250304/101112/000001/reversal", `{"reason":"whim"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"illegal transition", &transaction.TransitionError{From: transaction.StateDeclined, To: transaction.StateVoided}, http.StatusConflict},
		{"conflict", storage.ErrConflict, http.StatusConflict},
		{"not found", storage.ErrNotFound, http.StatusNotFound},
		{"not acknowledged", connector.ErrNotAcknowledged, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(&stubService{tx: approvedTx(t), cancelErr: tt.err}, nil)
			rec := do(t, srv.Handler(), http.MethodPost, "/v1/transactions/20250304/101112/000001/reversal", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	srv, _ := newTestServer(&stubService{tx: approvedTx(t), cancelErr: connector.ErrNotAcknowledged}, nil)
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/transactions/20250304/101112/000001/reversal", "")
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Result)
	assert.Equal(t, "APPROVED", body.Result.TransactionState)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(&stubService{}, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "isoconn_transactions_late_responses_total 1")
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(1, 2, nil)
	srv, _ := newTestServer(&stubService{tx: approvedTx(t)}, limiter)

	path := "/v1/transactions/stan/000001"
	assert.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, srv.Handler(), http.MethodGet, path, "").Code)

	other := httptest.NewRequest(http.MethodGet, path, nil)
	other.RemoteAddr = "10.0.0.9:5555"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/healthz", "").Code)
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(60, 1, nil)
	now := fixedNow
	limiter.now = func() time.Time { return now }

	limiter.limiter("a")
	limiter.limiter("b")
	assert.Len(t, limiter.visitors, 2)

	now = now.Add(10 * time.Minute)
	limiter.limiter("b")
	assert.Len(t, limiter.visitors, 1)
}
