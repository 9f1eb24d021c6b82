package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"zkapp/internal/contract"
	"zkapp/internal/controller"
	"zkapp/internal/ledger"
	"zkapp/internal/network"
	"zkapp/internal/pipeline"
	"zkapp/internal/wallet"
	"zkapp/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front-end, the controller and a worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), e)
		},
	}
}

// services is everything serve needs, split out so tests can build it
// without listening.
type services struct {
	ctrl    *controller.Controller
	ledger  *ledger.Ledger
	fetcher network.Fetcher
	api     *APIServer
}

func buildServices(cfg *Config, e *env) (*services, error) {
	log := e.log.Logger
	if cfg.ZkAppAddress == "" {
		return nil, errors.New("zkapp_address is not set; run deploy-local or set ZKAPP_ZKAPP_ADDRESS")
	}

	s := &services{}
	var (
		local   network.Fetcher
		backend wallet.Backend
	)
	if cfg.IsLocal() {
		l, err := ledger.Open(cfg.LedgerPath, log)
		if err != nil {
			return nil, err
		}
		s.ledger, local, backend = l, l, l
		s.fetcher = l
	} else {
		c := newGraphQLClient(cfg, cfg.Network, log)
		backend = c
		s.fetcher = c
	}

	var w controller.Wallet
	switch lw, err := wallet.LoadWallet(cfg.WalletPath, backend, log); {
	case err == nil:
		w = lw
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("path", cfg.WalletPath).Msg("no wallet file, message submission is disabled")
	default:
		return nil, err
	}

	load := func(context.Context) (controller.Worker, error) {
		if cfg.WorkerURL != "" {
			return worker.Connect(cfg.WorkerURL, cfg.RPCMaxRetries, log, e.metrics), nil
		}
		return worker.Start(worker.Options{
			Pipeline: pipeline.Config{
				Contract: contract.MessageContract,
				KeyDir:   cfg.KeyDir,
				Resolver: newResolver(cfg, local, log),
			},
			Logger:  log,
			Metrics: e.metrics,
		}), nil
	}
	s.ctrl = controller.New(cfg.Controller(), load, w,
		controller.WithLogger(log),
		controller.WithMetrics(e.metrics),
	)

	s.api = NewAPIServer(APIOptions{
		App:     s.ctrl,
		Ledger:  s.ledger,
		Health:  newHealth(cfg, s.ctrl, s.fetcher),
		Metrics: e.metrics,
		Limiter: NewClientRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		Logger:  log,
		Audit:   e.log,
		Timeout: cfg.Timeout(),
	})
	return s, nil
}

func newHealth(cfg *Config, ctrl *controller.Controller, fetcher network.Fetcher) *HealthChecker {
	hc := NewHealthChecker(version)
	hc.RegisterComponent("worker", func(context.Context) error {
		s := ctrl.Session()
		switch {
		case s.Error != "":
			return errors.New(s.Error)
		case !s.Ready:
			return ErrDegraded{Reason: s.Status}
		}
		return nil
	})
	hc.RegisterComponent("network", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := fetcher.FetchAccount(ctx, cfg.ZkAppAddress)
		if errors.Is(err, network.ErrAccountNotFound) {
			return ErrDegraded{Reason: "zkApp account not found"}
		}
		return err
	})
	hc.RegisterComponent("session", func(context.Context) error {
		s := ctrl.Session()
		switch {
		case !s.HasWallet && s.Ready:
			return ErrDegraded{Reason: controller.StatusWalletNotFound}
		case s.HasWallet && !s.FeePayerExists && s.Ready:
			return ErrDegraded{Reason: "fee payer not funded"}
		}
		return nil
	})
	return hc
}

func runServe(ctx context.Context, e *env) error {
	log := e.log.Logger
	s, err := buildServices(e.cfg, e)
	if err != nil {
		return err
	}
	defer s.ctrl.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.api.Start(e.cfg.ListenAddr)
	})
	g.Go(func() error {
		runController(gctx, s.ctrl, log)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.api.Shutdown(sctx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// runController drives setup. Failures are already in the session status,
// so the API keeps serving them.
func runController(ctx context.Context, ctrl *controller.Controller, log zerolog.Logger) {
	if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("controller setup did not complete")
		return
	}
	log.Info().Str("status", ctrl.Session().Status).Msg("controller ready")
}
