package main

import (
	"context"

	"github.com/spf13/cobra"

	"zkapp/internal/contract"
	"zkapp/internal/pipeline"
	"zkapp/internal/rpc"
	"zkapp/internal/worker"
)

func newWorkerCmd(e *env) *cobra.Command {
	var contractName string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve the proving pipeline over HTTP RPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), e, contractName)
		},
	}
	cmd.Flags().StringVar(&contractName, "contract", contract.MessageContract, "contract the pipeline loads")
	return cmd
}

func runWorker(ctx context.Context, e *env, contractName string) error {
	log := e.log.Logger
	p := pipeline.New(pipeline.Config{
		Contract: contractName,
		KeyDir:   e.cfg.KeyDir,
		Resolver: newResolver(e.cfg, nil, log),
		Logger:   &log,
		Metrics:  e.metrics,
	})
	srv := rpc.NewServer(e.cfg.WorkerListenAddr, worker.NewService(p, log), log)
	if err := srv.Start(nil); err != nil {
		return err
	}
	log.Info().Str("address", srv.Address).Str("contract", contractName).Msg("worker ready")

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
