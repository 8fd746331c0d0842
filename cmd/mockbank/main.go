// Command mockbank serves the simulated issuer over TCP for local runs of
// the connector with dispatcher = "tcp".
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkadit/iso8583/v2/internal/config"
	"github.com/mkadit/iso8583/v2/internal/logging"
	"github.com/mkadit/iso8583/v2/internal/mockbank"
	"github.com/mkadit/iso8583/v2/internal/security"
)

func main() {
	configPath := flag.String("config", "configs/connector.toml", "path to the TOML configuration")
	listen := flag.String("listen", "", "override mockbank.listen")
	flag.Parse()

	if err := run(*configPath, *listen); err != nil {
		fmt.Fprintln(os.Stderr, "mockbank:", err)
		os.Exit(1)
	}
}

func run(configPath, listen string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.MockBank.Listen = listen
	}
	logger := logging.Setup("iso8583-mockbank", cfg.Environment, cfg.Logging)

	packager, err := cfg.LoadPackager()
	if err != nil {
		return err
	}
	opts := []mockbank.Option{
		mockbank.WithApprovalRate(cfg.MockBank.ApprovalRate),
		mockbank.WithDelay(cfg.MockBank.MinDelay.Duration, cfg.MockBank.MaxDelay.Duration),
		mockbank.WithDeclineCodes(cfg.MockBank.DeclineCodes...),
		mockbank.WithLogger(logger),
	}
	if cfg.Security.MACKey != "" {
		signer, err := security.NewSigner(cfg.Security.MACKey, packager)
		if err != nil {
			return err
		}
		opts = append(opts, mockbank.WithSigner(signer))
	}

	srv := mockbank.NewServer(mockbank.New(packager, opts...), cfg.Transport.Concurrency)
	if err := srv.Listen(cfg.MockBank.Listen); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx)
}
