package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"zkapp/internal/contract"
	"zkapp/internal/controller"
	"zkapp/internal/ledger"
	"zkapp/internal/network"
	"zkapp/internal/pipeline"
	"zkapp/internal/wallet"
)

func newDeployLocalCmd(e *env) *cobra.Command {
	var fund string
	cmd := &cobra.Command{
		Use:   "deploy-local",
		Short: "Fund a fee payer on the local ledger and deploy the Message and Add contracts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, err := network.ParseMina(fund)
			if err != nil {
				return fmt.Errorf("--fund: %w", err)
			}
			res, err := deployLocal(cmd.Context(), e, amount)
			if err != nil {
				return err
			}
			printDeployment(cmd.OutOrStdout(), res)

			// Point serve at what was just deployed.
			e.cfg.Network = network.LocalEndpoint
			e.cfg.ZkAppAddress = res.Contracts[contract.MessageContract]
			return SaveConfig(e.cfg, e.configPath)
		},
	}
	cmd.Flags().StringVar(&fund, "fund", "1000", "MINA credited to the fee payer")
	return cmd
}

// deployment summarizes a deploy-local run.
type deployment struct {
	FeePayer    string
	FeePayerKey string
	Contracts   map[string]string
	AddTxHash   string
	AddSum      string
}

func deployLocal(ctx context.Context, e *env, amount uint64) (*deployment, error) {
	cfg, log := e.cfg, e.log.Logger

	l, err := ledger.Open(cfg.LedgerPath, log)
	if err != nil {
		return nil, err
	}
	w, err := openOrCreateWallet(cfg.WalletPath, l, log)
	if err != nil {
		return nil, err
	}
	sk, err := w.FeePayer()
	if err != nil {
		return nil, err
	}
	feePayer := sk.PublicKey().Address()
	if err := l.Fund(feePayer, amount); err != nil {
		return nil, err
	}

	res := &deployment{
		FeePayer:    feePayer,
		FeePayerKey: sk.String(),
		Contracts:   make(map[string]string),
	}
	for _, name := range []string{contract.MessageContract, contract.AddContract} {
		p, address, err := deployContract(ctx, e, l, feePayer, name)
		if err != nil {
			return nil, fmt.Errorf("deploy %s: %w", name, err)
		}
		res.Contracts[name] = address

		if name != contract.AddContract {
			continue
		}
		hash, sum, err := invokeAdd(ctx, p, w, cfg.Fee, "5", "10")
		if err != nil {
			return nil, fmt.Errorf("add(5, 10): %w", err)
		}
		res.AddTxHash, res.AddSum = hash, sum
	}
	e.log.Audit("deploy_local", map[string]any{
		"fee_payer": feePayer,
		"message":   res.Contracts[contract.MessageContract],
		"add":       res.Contracts[contract.AddContract],
	})
	return res, nil
}

func openOrCreateWallet(path string, backend wallet.Backend, log zerolog.Logger) (*wallet.Wallet, error) {
	w, err := wallet.LoadWallet(path, backend, log)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if w, err = wallet.Generate("local", backend, log); err != nil {
		return nil, err
	}
	if err := w.Save(path); err != nil {
		return nil, fmt.Errorf("failed to save wallet: %w", err)
	}
	log.Info().Str("path", path).Msg("created wallet")
	return w, nil
}

// deployContract compiles name, deploys it at a fresh address and returns
// the pipeline bound to that instance.
func deployContract(ctx context.Context, e *env, l *ledger.Ledger, feePayer, name string) (*pipeline.Pipeline, string, error) {
	log := e.log.Logger
	zk, err := contract.GeneratePrivateKey()
	if err != nil {
		return nil, "", err
	}
	address := zk.PublicKey().Address()

	p := pipeline.New(pipeline.Config{
		Contract: name,
		KeyDir:   e.cfg.KeyDir,
		Resolver: func(string) (network.Fetcher, error) { return l, nil },
		Logger:   &log,
		Metrics:  e.metrics,
	})
	if err := p.SetActiveNetwork(network.LocalEndpoint); err != nil {
		return nil, "", err
	}
	if err := p.LoadContract(); err != nil {
		return nil, "", err
	}
	if err := p.Compile(ctx); err != nil {
		return nil, "", err
	}
	vks, err := p.VerificationKeys()
	if err != nil {
		return nil, "", err
	}
	if err := l.Deploy(feePayer, address, name, vks); err != nil {
		return nil, "", err
	}
	if err := p.InitInstance(address); err != nil {
		return nil, "", err
	}
	return p, address, nil
}

func invokeAdd(ctx context.Context, p *pipeline.Pipeline, w *wallet.Wallet, fee string, a, b string) (string, string, error) {
	if err := p.Build(ctx, pipeline.Invocation{Method: contract.AddMethod, Args: []string{a, b}}); err != nil {
		return "", "", err
	}
	if err := p.Prove(ctx); err != nil {
		return "", "", err
	}
	tx, err := p.ExportTransaction()
	if err != nil {
		return "", "", err
	}
	sent, err := w.SendTransaction(ctx, controller.SendRequest{
		Transaction: tx,
		FeePayer:    controller.FeePayerConfig{Fee: fee, Memo: "deploy-local"},
	})
	if err != nil {
		return "", "", err
	}
	state, err := p.ContractState(ctx)
	if err != nil {
		return "", "", err
	}
	return sent.Hash, state["sum"], nil
}

func printDeployment(out io.Writer, d *deployment) {
	fmt.Fprintf(out, "Fee payer:        %s\n", d.FeePayer)
	fmt.Fprintf(out, "Fee payer key:    %s\n", d.FeePayerKey)
	fmt.Fprintf(out, "Message zkApp:    %s\n", d.Contracts[contract.MessageContract])
	fmt.Fprintf(out, "Add zkApp:        %s\n", d.Contracts[contract.AddContract])
	fmt.Fprintf(out, "add(5, 10) tx:    %s\n", d.AddTxHash)
	fmt.Fprintf(out, "Add state sum:    %s\n", d.AddSum)
}
