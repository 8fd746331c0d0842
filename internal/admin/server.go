// Package admin exposes the connector over HTTP: submitting transactions,
// looking them up, voids and reversals, health and metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkadit/iso8583/v2"
	"github.com/mkadit/iso8583/v2/internal/connector"
	"github.com/mkadit/iso8583/v2/internal/reversal"
	"github.com/mkadit/iso8583/v2/internal/storage"
	"github.com/mkadit/iso8583/v2/internal/transaction"
)

// Service is the part of the orchestrator the API needs.
type Service interface {
	Process(ctx context.Context, req *connector.Request) (*connector.Result, error)
	Find(ctx context.Context, key transaction.Key) (*transaction.Transaction, error)
	FindByStan(ctx context.Context, stan string) (*transaction.Transaction, error)
	Void(ctx context.Context, key transaction.Key) (*connector.Result, error)
	Reverse(ctx context.Context, key transaction.Key, reason reversal.Reason) (*connector.Result, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Service  Service
	Gatherer prometheus.Gatherer
	Limiter  *RateLimiter
	Logger   *slog.Logger
	Now      func() time.Time
}

type Server struct {
	service  Service
	gatherer prometheus.Gatherer
	limiter  *RateLimiter
	logger   *slog.Logger
	now      func() time.Time

	router http.Handler
}

func New(cfg Config) *Server {
	s := &Server{
		service:  cfg.Service,
		gatherer: cfg.Gatherer,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/transactions", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.Post("/", s.submit)
		api.Get("/stan/{stan}", s.getByStan)
		api.Route("/{date}/{time}/{stan}", func(tx chi.Router) {
			tx.Get("/", s.get)
			tx.Post("/void", s.void)
			tx.Post("/reversal", s.reverse)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req connector.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	res, err := s.service.Process(r.Context(), &req)
	if err != nil {
		s.fail(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	tx, err := s.service.Find(r.Context(), keyFromPath(r))
	if err != nil {
		s.fail(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.detail(tx))
}

func (s *Server) getByStan(w http.ResponseWriter, r *http.Request) {
	tx, err := s.service.FindByStan(r.Context(), chi.URLParam(r, "stan"))
	if err != nil {
		s.fail(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.detail(tx))
}

func (s *Server) void(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Void(r.Context(), keyFromPath(r))
	if err != nil {
		s.fail(w, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) reverse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}
	reason := reversal.ReasonOther
	if body.Reason != "" {
		var err error
		if reason, err = reversal.ParseReason(body.Reason); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	res, err := s.service.Reverse(r.Context(), keyFromPath(r), reason)
	if err != nil {
		s.fail(w, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func keyFromPath(r *http.Request) transaction.Key {
	return transaction.Key{
		Date: chi.URLParam(r, "date"),
		Time: chi.URLParam(r, "time"),
		STAN: chi.URLParam(r, "stan"),
	}
}

type changeView struct {
	From string    `json:"from,omitempty"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

type detailView struct {
	*connector.Result
	MTI            string       `json:"mti"`
	ProcessingCode string       `json:"processingCode"`
	MerchantID     string       `json:"merchantId,omitempty"`
	PAN            string       `json:"pan,omitempty"`
	ReversalSTAN   string       `json:"reversalStan,omitempty"`
	ReversalReason string       `json:"reversalReason,omitempty"`
	Version        int          `json:"version"`
	History        []changeView `json:"history"`
}

func (s *Server) detail(tx *transaction.Transaction) detailView {
	v := detailView{
		Result:         connector.ResultFor(tx, s.now()),
		MTI:            tx.MTI,
		ProcessingCode: tx.Processing,
		MerchantID:     tx.MerchantID,
		ReversalSTAN:   tx.ReversalSTAN,
		ReversalReason: tx.ReversalReason,
		Version:        tx.Version,
	}
	if pan := tx.Fields[iso8583.FieldPAN]; pan != "" {
		v.PAN = iso8583.MaskPAN(pan)
	}
	for _, c := range tx.History() {
		v.History = append(v.History, changeView{From: string(c.From), To: string(c.To), At: c.At, Note: c.Note})
	}
	return v
}

type errorBody struct {
	Error  string            `json:"error"`
	Result *connector.Result `json:"result,omitempty"`
}

// fail maps service errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error, res *connector.Result) {
	var validation *iso8583.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, connector.ErrInvalidRequest),
		errors.Is(err, connector.ErrUnsupportedTransaction),
		errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, transaction.ErrInvalidTransition),
		errors.Is(err, storage.ErrConflict),
		errors.Is(err, storage.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, connector.ErrNotAcknowledged):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Result: res})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
