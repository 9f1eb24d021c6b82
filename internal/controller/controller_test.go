package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkapp/internal/contract"
	"zkapp/internal/network"
	"zkapp/internal/pipeline"
	"zkapp/internal/rpc"
	"zkapp/internal/txn"
	"zkapp/internal/worker"
)

type stubWallet struct {
	accounts []string
	hash     string
	sendErr  error
	sent     []SendRequest
}

func (w *stubWallet) RequestAccounts(context.Context) ([]string, error) {
	return w.accounts, nil
}

func (w *stubWallet) SendTransaction(_ context.Context, req SendRequest) (*SendResult, error) {
	w.sent = append(w.sent, req)
	if w.sendErr != nil {
		return nil, w.sendErr
	}
	return &SendResult{Hash: w.hash}, nil
}

// fakeWorker records calls and can be told to fail one of them.
type fakeWorker struct {
	mu       sync.Mutex
	calls    []string
	failOn   string
	failWith error
	exists   map[string]bool
	state    map[string]string
}

func (f *fakeWorker) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if name == f.failOn {
		return f.failWith
	}
	return nil
}

func (f *fakeWorker) SetActiveNetwork(context.Context, string) error { return f.record("setNetwork") }
func (f *fakeWorker) LoadContract(context.Context) error             { return f.record("loadContract") }
func (f *fakeWorker) Compile(context.Context) (int, error)           { return 1, f.record("compile") }
func (f *fakeWorker) InitInstance(context.Context, string) error     { return f.record("initInstance") }
func (f *fakeWorker) Build(context.Context, string, ...string) error { return f.record("build") }
func (f *fakeWorker) Prove(context.Context) error                    { return f.record("prove") }
func (f *fakeWorker) Close() error                                   { return nil }

func (f *fakeWorker) ExportTransaction(context.Context) (string, error) {
	return `{"accountUpdates":[{}]}`, f.record("exportTransaction")
}

func (f *fakeWorker) ReadState(context.Context) (map[string]string, error) {
	return f.state, f.record("readState")
}

func (f *fakeWorker) FetchAccount(_ context.Context, address string) (*worker.AccountResult, error) {
	if err := f.record("fetchAccount"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exists[address] {
		return &worker.AccountResult{Exists: true, Account: &network.Account{Address: address}}, nil
	}
	return &worker.AccountResult{ErrorCode: rpc.CodeNotFound}, nil
}

func (f *fakeWorker) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Network = "local"
	cfg.ZkAppAddress = "zkapp"
	cfg.PollInterval = time.Millisecond
	return cfg
}

func loaderFor(w Worker) LoadWorker {
	return func(context.Context) (Worker, error) { return w, nil }
}

func TestSetupOrder(t *testing.T) {
	fw := &fakeWorker{exists: map[string]bool{"payer": true, "zkapp": true}}
	c := New(testConfig(), loaderFor(fw), &stubWallet{accounts: []string{"payer"}})

	var statuses []string
	c.Subscribe(func(s Session) { statuses = append(statuses, s.Status) })

	require.NoError(t, c.Setup(context.Background()))
	assert.Equal(t, []string{
		"setNetwork", "fetchAccount", "loadContract", "compile", "initInstance", "fetchAccount",
	}, fw.Calls())

	s := c.Session()
	assert.True(t, s.Ready)
	assert.True(t, s.FeePayerExists)
	assert.True(t, s.ZkAppExists)
	assert.Equal(t, StatusSetupComplete, s.Status)
	assert.Contains(t, statuses, "Compiling zkApp...")
	assert.Contains(t, statuses, "Using key: payer")
}

func TestSetupWithoutWallet(t *testing.T) {
	fw := &fakeWorker{}
	c := New(testConfig(), loaderFor(fw), nil)

	require.NoError(t, c.Setup(context.Background()))
	s := c.Session()
	assert.Equal(t, StatusWalletNotFound, s.Status)
	assert.False(t, s.HasWallet)
	assert.Empty(t, s.Error)
	assert.Equal(t, []string{"setNetwork"}, fw.Calls())

	_, err := c.SubmitMessage(context.Background(), "hi", "key")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSetupFailureHalts(t *testing.T) {
	fw := &fakeWorker{
		exists:   map[string]bool{"payer": true},
		failOn:   "compile",
		failWith: rpc.Errorf(rpc.CodeCompile, "out of constraints"),
	}
	c := New(testConfig(), loaderFor(fw), &stubWallet{accounts: []string{"payer"}})

	err := c.Setup(context.Background())
	require.Error(t, err)
	s := c.Session()
	assert.Equal(t, "Error during setup: out of constraints", s.Status)
	assert.Equal(t, "out of constraints", s.Error)
	assert.False(t, s.Ready)
	assert.NotContains(t, fw.Calls(), "initInstance")
}

func TestSetupWorkerLoadFailure(t *testing.T) {
	c := New(testConfig(), func(context.Context) (Worker, error) {
		return nil, errors.New("spawn failed")
	}, &stubWallet{})
	require.Error(t, c.Setup(context.Background()))
	assert.True(t, strings.HasPrefix(c.Session().Status, "Error during setup: "))
}

func TestRunWaitsForFeePayer(t *testing.T) {
	fw := &fakeWorker{exists: map[string]bool{"zkapp": true}}
	c := New(testConfig(), loaderFor(fw), &stubWallet{accounts: []string{"payer"}})

	go func() {
		// Fund the fee payer after a few polls.
		for {
			n := 0
			for _, call := range fw.Calls() {
				if call == "fetchAccount" {
					n++
				}
			}
			if n >= 4 {
				fw.mu.Lock()
				fw.exists["payer"] = true
				fw.mu.Unlock()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	s := c.Session()
	assert.True(t, s.FeePayerExists)
	assert.Empty(t, s.FaucetLink)
	assert.Equal(t, StatusSetupComplete, s.Status)
}

func TestPollFailureReachesStatus(t *testing.T) {
	fw := &fakeWorker{exists: map[string]bool{"zkapp": true}}
	cfg := testConfig()
	cfg.PollMaxAttempts = 2
	c := New(cfg, loaderFor(fw), &stubWallet{accounts: []string{"payer"}})
	polls := 0
	c.Subscribe(func(s Session) {
		if s.Ready && s.Status == StatusCheckingFeePayer {
			polls++
		}
	})

	err := c.Run(context.Background())
	require.Error(t, err)
	s := c.Session()
	assert.True(t, strings.HasPrefix(s.Status, "Error checking account: "), s.Status)
	assert.Contains(t, s.Status, "did not appear after 2 attempts")
	assert.NotEmpty(t, s.Error)
	assert.False(t, s.FeePayerExists)

	assert.Equal(t, 2, polls)
}

func TestPollCancelledLeavesStatus(t *testing.T) {
	fw := &fakeWorker{exists: map[string]bool{"zkapp": true}}
	c := New(testConfig(), loaderFor(fw), &stubWallet{accounts: []string{"payer"}})
	ctx, cancel := context.WithCancel(context.Background())
	c.Subscribe(func(s Session) {
		if s.Status == StatusCheckingFeePayer && s.Ready {
			cancel()
		}
	})

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	s := c.Session()
	assert.Empty(t, s.Error)
	assert.Equal(t, StatusCheckingFeePayer, s.Status)
}

func TestFaucetLinkWhenUnfunded(t *testing.T) {
	fw := &fakeWorker{exists: map[string]bool{}}
	c := New(testConfig(), loaderFor(fw), &stubWallet{accounts: []string{"payer"}})
	require.NoError(t, c.Setup(context.Background()))
	s := c.Session()
	assert.Equal(t, "https://faucet.minaprotocol.com/?address=payer", s.FaucetLink)
	assert.Contains(t, s.Status, s.FaucetLink)
}

func TestSubmitFailureStatus(t *testing.T) {
	fw := &fakeWorker{
		exists:   map[string]bool{"payer": true, "zkapp": true},
		failOn:   "prove",
		failWith: rpc.Errorf(rpc.CodeProving, "witness not satisfied"),
	}
	c := New(testConfig(), loaderFor(fw), &stubWallet{accounts: []string{"payer"}})
	require.NoError(t, c.Setup(context.Background()))

	_, err := c.SubmitMessage(context.Background(), "hi", "key")
	assert.True(t, errors.Is(err, rpc.ErrProving))
	s := c.Session()
	assert.Equal(t, "Transaction failed: witness not satisfied", s.Status)
	assert.False(t, s.Busy)
}

func TestWalletErrorSurfacedVerbatim(t *testing.T) {
	fw := &fakeWorker{exists: map[string]bool{"payer": true, "zkapp": true}}
	wallet := &stubWallet{accounts: []string{"payer"}, sendErr: errors.New("User rejected the request.")}
	c := New(testConfig(), loaderFor(fw), wallet)
	require.NoError(t, c.Setup(context.Background()))

	_, err := c.SubmitMessage(context.Background(), "hi", "key")
	require.Error(t, err)
	assert.Equal(t, "Transaction failed: User rejected the request.", c.Session().Status)
	require.Len(t, wallet.sent, 1)
	assert.Equal(t, FeePayerConfig{Fee: "0.1", Memo: ""}, wallet.sent[0].FeePayer)
}

func TestBusyGuard(t *testing.T) {
	release := make(chan struct{})
	bw := &blockingWorker{fakeWorker: fakeWorker{exists: map[string]bool{"payer": true, "zkapp": true}}, release: release}
	c := New(testConfig(), loaderFor(bw), &stubWallet{accounts: []string{"payer"}, hash: "h"})
	require.NoError(t, c.Setup(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := c.SubmitMessage(context.Background(), "first", "key")
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Session().Busy }, time.Second, time.Millisecond)

	_, err := c.SubmitMessage(context.Background(), "second", "key")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, c.Session().Busy)
}

type blockingWorker struct {
	fakeWorker
	release chan struct{}
}

func (b *blockingWorker) Prove(ctx context.Context) error {
	<-b.release
	return b.fakeWorker.Prove(ctx)
}

func TestRetrieveMessages(t *testing.T) {
	fw := &fakeWorker{exists: map[string]bool{"payer": true}, state: map[string]string{"message": "42"}}
	c := New(testConfig(), loaderFor(fw), &stubWallet{accounts: []string{"payer"}})

	_, err := c.RetrieveMessages(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, c.Setup(context.Background()))
	fields, err := c.RetrieveMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", fields["message"])
}

// The remaining tests drive a real in-process worker.

type memFetcher struct {
	mu       sync.Mutex
	accounts map[string]*network.Account
}

func (m *memFetcher) FetchAccount(_ context.Context, address string) (*network.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[address]; ok {
		return a, nil
	}
	return nil, network.ErrAccountNotFound
}

func realSetup(t *testing.T, wallet Wallet) (*Controller, *pipeline.Pipeline) {
	t.Helper()
	payer, _ := contract.GeneratePrivateKey()
	zk, _ := contract.GeneratePrivateKey()
	f := &memFetcher{accounts: map[string]*network.Account{
		payer.PublicKey().Address(): {Address: payer.PublicKey().Address(), Balance: 1000},
		zk.PublicKey().Address():    {Address: zk.PublicKey().Address(), Contract: contract.MessageContract},
	}}
	if sw, ok := wallet.(*stubWallet); ok {
		sw.accounts = []string{payer.PublicKey().Address()}
	}

	p := pipeline.New(pipeline.Config{
		Contract: contract.MessageContract,
		Resolver: func(string) (network.Fetcher, error) { return f, nil },
	})
	svc := worker.NewService(p, zerolog.Nop())
	client := worker.NewClient(rpc.NewClient(rpc.NewPipe(svc)))

	cfg := testConfig()
	cfg.ZkAppAddress = zk.PublicKey().Address()
	c := New(cfg, loaderFor(client), wallet)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Setup(context.Background()))
	return c, p
}

func TestSubmitMessageEndToEnd(t *testing.T) {
	wallet := &stubWallet{hash: "test-hash"}
	c, p := realSetup(t, wallet)
	sk, _ := contract.GeneratePrivateKey()

	res, err := c.SubmitMessage(context.Background(), "hello zk", sk.String())
	require.NoError(t, err)
	assert.Equal(t, "https://minascan.io/devnet/tx/test-hash", res.Link)
	assert.Contains(t, c.Session().Status, "https://minascan.io/devnet/tx/test-hash")
	assert.Equal(t, "test-hash", c.Session().LastTxHash)
	assert.Equal(t, pipeline.StateExported, p.State())

	require.Len(t, wallet.sent, 1)
	tx, err := txn.Decode(wallet.sent[0].Transaction)
	require.NoError(t, err)
	assert.True(t, tx.Proven())
}

func TestEmptyMessageShortCircuits(t *testing.T) {
	wallet := &stubWallet{hash: "test-hash"}
	c, p := realSetup(t, wallet)
	sk, _ := contract.GeneratePrivateKey()

	_, err := c.SubmitMessage(context.Background(), "", sk.String())
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, StatusEmptyMessage, c.Session().Status)
	assert.Equal(t, pipeline.StateInitialized, p.State())
	assert.Empty(t, wallet.sent)

	_, err = c.SubmitMessage(context.Background(), "text", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, pipeline.StateInitialized, p.State())
}

func TestInvalidKeyIsInvocationFailure(t *testing.T) {
	c, p := realSetup(t, &stubWallet{hash: "h"})

	_, err := c.SubmitMessage(context.Background(), "hello", "not-a-key")
	assert.True(t, errors.Is(err, rpc.ErrInvocation), "got %v", err)
	assert.True(t, strings.HasPrefix(c.Session().Status, "Transaction failed: "))
	assert.Equal(t, pipeline.StateInitialized, p.State())
}
