// Command connector runs the ISO8583 transaction connector: the admin HTTP
// API, the orchestrator and the stale transaction sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mkadit/iso8583/v2"
	"github.com/mkadit/iso8583/v2/internal/admin"
	"github.com/mkadit/iso8583/v2/internal/config"
	"github.com/mkadit/iso8583/v2/internal/connector"
	"github.com/mkadit/iso8583/v2/internal/logging"
	"github.com/mkadit/iso8583/v2/internal/metrics"
	"github.com/mkadit/iso8583/v2/internal/mockbank"
	"github.com/mkadit/iso8583/v2/internal/respcode"
	"github.com/mkadit/iso8583/v2/internal/security"
	"github.com/mkadit/iso8583/v2/internal/stan"
	"github.com/mkadit/iso8583/v2/internal/storage"
	"github.com/mkadit/iso8583/v2/internal/transaction"
	"github.com/mkadit/iso8583/v2/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/connector.toml", "path to the TOML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "connector:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Service, cfg.Environment, cfg.Logging)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	packager, err := cfg.LoadPackager()
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	store := storage.NewGormStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Continue today's STAN sequence after a restart.
	today := time.Now().In(loc).Format(transaction.DateLayout)
	last, err := store.MaxStan(ctx, today)
	if err != nil {
		return err
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	gen := stan.NewGenerator(
		stan.WithLocation(loc),
		stan.WithStart(last, today),
		stan.WithResetHook(func(date string) {
			m.ObserveStanReset()
			logger.Info("stan counter reset", slog.String("date", date))
		}),
	)

	var signer *security.Signer
	if cfg.Security.MACKey != "" {
		if signer, err = security.NewSigner(cfg.Security.MACKey, packager); err != nil {
			return err
		}
	}

	var orch *connector.Orchestrator
	late := func(ctx context.Context, msg *iso8583.Message) error {
		return orch.HandleLateResponse(ctx, msg)
	}
	dispatcher, closeDispatcher, err := newDispatcher(cfg, packager, signer, m, logger, late)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	opts := []connector.Option{
		connector.WithResponseTimeout(cfg.Connector.ResponseTimeout.Duration),
		connector.WithReversalTimeout(cfg.Connector.ReversalTimeout.Duration),
		connector.WithCurrency(cfg.Connector.Currency),
		connector.WithAcquirerID(cfg.Connector.AcquirerID),
		connector.WithResponseCodes(respcode.Default().Merge(cfg.ResponseCodes)),
		connector.WithMetrics(m),
		connector.WithLogger(logger),
		connector.WithClock(time.Now, loc),
		connector.WithSweep(cfg.Connector.SweepAge.Duration, cfg.Connector.SweepBatch),
	}
	if signer != nil {
		opts = append(opts, connector.WithSigner(signer))
	}
	orch = connector.New(packager, dispatcher, store, gen, opts...)

	go func() {
		if err := orch.RunSweeper(ctx, cfg.Connector.SweepInterval.Duration); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sweeper stopped", slog.Any("error", err))
		}
	}()

	api := admin.New(admin.Config{
		Service:  orch,
		Gatherer: registry,
		Limiter:  admin.NewRateLimiter(cfg.Admin.RequestsPerMinute, cfg.Admin.Burst, logger),
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:         cfg.Admin.Listen,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Admin.ReadTimeout.Duration,
		WriteTimeout: cfg.Admin.WriteTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API listening",
			slog.String("addr", cfg.Admin.Listen),
			slog.String("dispatcher", cfg.Connector.Dispatcher))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newDispatcher(cfg *config.Config, packager *iso8583.CompiledPackager, signer *security.Signer, m *metrics.Metrics, logger *slog.Logger, late transport.LateHandler) (connector.Dispatcher, func(), error) {
	switch cfg.Connector.Dispatcher {
	case "tcp":
		client := transport.NewClient(cfg.Transport.Address, packager,
			transport.WithDialTimeout(cfg.Transport.DialTimeout.Duration),
			transport.WithWriteTimeout(cfg.Transport.WriteTimeout.Duration),
			transport.WithBreaker(cfg.Transport.BreakerMaxFailures, cfg.Transport.BreakerOpenTimeout.Duration),
			transport.WithConcurrency(cfg.Transport.Concurrency),
			transport.WithMetrics(m),
			transport.WithLateHandler(late),
			transport.WithLogger(logger),
		)
		return client, func() { client.Close() }, nil
	case "mock", "":
		opts := []mockbank.Option{
			mockbank.WithApprovalRate(cfg.MockBank.ApprovalRate),
			mockbank.WithDelay(cfg.MockBank.MinDelay.Duration, cfg.MockBank.MaxDelay.Duration),
			mockbank.WithDeclineCodes(cfg.MockBank.DeclineCodes...),
			mockbank.WithLogger(logger),
		}
		if signer != nil {
			opts = append(opts, mockbank.WithSigner(signer))
		}
		return mockbank.New(packager, opts...), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown dispatcher %q", cfg.Connector.Dispatcher)
	}
}
