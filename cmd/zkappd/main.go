// main.go - zkappd: off-thread proving for a message-board zkApp.
//
// Usage:
//
//	zkappd deploy-local        # fund a local fee payer, deploy Message and Add
//	zkappd serve               # HTTP front-end + controller + in-process worker
//	zkappd worker              # serve the proving pipeline over HTTP RPC
//
// Configuration lives in zkappd.json (created with defaults on first run);
// every key can be overridden with a ZKAPP_ environment variable.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"zkapp/internal/logging"
	"zkapp/internal/metrics"
	"zkapp/internal/network"
	"zkapp/internal/pipeline"
)

var version = "dev"

// env is shared by every subcommand once the root pre-run has loaded it.
type env struct {
	configPath string
	cfg        *Config
	log        *logging.Logger
	metrics    *metrics.Collector
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	e := &env{}
	var logLevel string

	root := &cobra.Command{
		Use:           "zkappd",
		Short:         "zkApp proving daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(e.configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config %s: %w", e.configPath, err)
			}

			opts := logging.Options{
				Level:     cfg.LogLevel,
				File:      cfg.LogFile,
				Component: cmd.Name(),
				JSON:      cfg.JSONLogs,
			}
			if cfg.EnableAudit {
				opts.AuditFile = cfg.AuditLogPath
			}
			l, err := logging.New(opts)
			if err != nil {
				return err
			}
			logging.RouteGnark(l.Logger)

			e.cfg, e.log, e.metrics = cfg, l, metrics.NewCollector()
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if e.log != nil {
				return e.log.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", "zkappd.json", "path to the JSON config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(e),
		newWorkerCmd(e),
		newDeployLocalCmd(e),
	)
	return root
}

// newResolver maps a pipeline endpoint to a fetcher. "local" uses the
// in-process ledger when there is one, and the local GraphQL endpoint
// otherwise.
func newResolver(cfg *Config, local network.Fetcher, logger zerolog.Logger) pipeline.NetworkResolver {
	return func(endpoint string) (network.Fetcher, error) {
		if endpoint == network.LocalEndpoint {
			if local != nil {
				return local, nil
			}
			endpoint = cfg.LedgerURL
		}
		return newGraphQLClient(cfg, endpoint, logger), nil
	}
}

func newGraphQLClient(cfg *Config, endpoint string, logger zerolog.Logger) *network.Client {
	return network.NewClient(network.ClientConfig{
		Endpoint:   endpoint,
		Timeout:    30 * time.Second,
		MaxRetries: cfg.RPCMaxRetries,
		Logger:     logger,
	})
}
