package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkapp/internal/contract"
	"zkapp/internal/network"
	"zkapp/internal/pipeline"
	"zkapp/internal/rpc"
	"zkapp/internal/txn"
)

type stubFetcher struct {
	accounts map[string]*network.Account
	err      error
}

func (s *stubFetcher) FetchAccount(_ context.Context, address string) (*network.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	if a, ok := s.accounts[address]; ok {
		return a, nil
	}
	return nil, network.ErrAccountNotFound
}

func startWorker(t *testing.T, contractName string, f network.Fetcher) *Client {
	t.Helper()
	c := Start(Options{
		Pipeline: pipeline.Config{
			Contract: contractName,
			Resolver: func(string) (network.Fetcher, error) { return f, nil },
		},
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func address(t *testing.T) string {
	t.Helper()
	sk, err := contract.GeneratePrivateKey()
	require.NoError(t, err)
	return sk.PublicKey().Address()
}

func TestFullSequenceOverPipe(t *testing.T) {
	ctx := context.Background()
	zkApp := address(t)
	f := &stubFetcher{accounts: map[string]*network.Account{
		zkApp: {Address: zkApp, Contract: contract.AddContract, AppState: []string{"3", "0", "0", "0", "0", "0", "0", "0"}},
	}}
	c := startWorker(t, contract.AddContract, f)

	require.NoError(t, c.SetActiveNetwork(ctx, network.LocalEndpoint))
	require.NoError(t, c.LoadContract(ctx))
	n, err := c.Compile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = c.Compile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "second compile must hit the cache")

	require.NoError(t, c.InitInstance(ctx, zkApp))
	state, err := c.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sum": "3"}, state)

	require.NoError(t, c.Build(ctx, contract.AddMethod, "5", "10"))
	require.NoError(t, c.Prove(ctx))
	exported, err := c.ExportTransaction(ctx)
	require.NoError(t, err)
	tx, err := txn.Decode(exported)
	require.NoError(t, err)
	assert.True(t, tx.Proven())
	assert.Equal(t, zkApp, tx.AccountUpdates[0].Address)
}

func TestErrorCodesCrossTheBoundary(t *testing.T) {
	ctx := context.Background()
	c := startWorker(t, contract.MessageContract, &stubFetcher{})

	err := c.Prove(ctx)
	assert.True(t, errors.Is(err, rpc.ErrPrecondition), "got %v", err)

	require.NoError(t, c.SetActiveNetwork(ctx, "local"))
	err = c.SetActiveNetwork(ctx, "http://other")
	assert.True(t, errors.Is(err, rpc.ErrBadRequest), "got %v", err)

	require.NoError(t, c.LoadContract(ctx))
	_, err = c.Compile(ctx)
	require.NoError(t, err)

	err = c.InitInstance(ctx, "not-an-address")
	assert.True(t, errors.Is(err, rpc.ErrBadRequest), "got %v", err)

	require.NoError(t, c.InitInstance(ctx, address(t)))
	err = c.Build(ctx, contract.PublishMessage, "hello", "bad-key")
	assert.True(t, errors.Is(err, rpc.ErrInvocation), "got %v", err)
	assert.False(t, errors.Is(err, rpc.ErrProving))
}

func TestUnknownContract(t *testing.T) {
	c := startWorker(t, "Nope", &stubFetcher{})
	err := c.LoadContract(context.Background())
	assert.True(t, errors.Is(err, rpc.ErrLoad), "got %v", err)
}

func TestFetchAccountClassification(t *testing.T) {
	ctx := context.Background()
	known := address(t)
	f := &stubFetcher{accounts: map[string]*network.Account{known: {Address: known, Balance: 10}}}
	c := startWorker(t, contract.MessageContract, f)
	require.NoError(t, c.SetActiveNetwork(ctx, "local"))

	res, err := c.FetchAccount(ctx, known)
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, uint64(10), res.Account.Balance)

	res, err = c.FetchAccount(ctx, address(t))
	require.NoError(t, err)
	assert.False(t, res.Exists)
	assert.Equal(t, rpc.CodeNotFound, res.ErrorCode)

	_, err = c.FetchAccount(ctx, "garbage")
	assert.True(t, errors.Is(err, rpc.ErrBadRequest), "got %v", err)

	f.err = fmt.Errorf("%w: dial tcp: connection refused", network.ErrUnreachable)
	res, err = c.FetchAccount(ctx, known)
	require.NoError(t, err)
	assert.False(t, res.Exists)
	assert.Equal(t, rpc.CodeNetwork, res.ErrorCode)

	f.err = errors.New("Cannot query field")
	_, err = c.FetchAccount(ctx, known)
	assert.True(t, errors.Is(err, rpc.ErrInternal), "got %v", err)
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want rpc.Code
	}{
		{&pipeline.PreconditionError{Op: "prove", Missing: "build"}, rpc.CodePrecondition},
		{&pipeline.LoadError{Contract: "x", Err: contract.ErrUnknownContract}, rpc.CodeLoad},
		{&pipeline.CompileError{Method: "m", Err: errors.New("x")}, rpc.CodeCompile},
		{fmt.Errorf("build: %w", pipeline.ErrCompileFailed), rpc.CodeCompile},
		{&pipeline.InvocationError{Method: "m", Err: errors.New("x")}, rpc.CodeInvocation},
		{&pipeline.ProvingError{Method: "m", Err: errors.New("x")}, rpc.CodeProving},
		{network.ErrAccountNotFound, rpc.CodeNotFound},
		{fmt.Errorf("wrap: %w", network.ErrBadRequest), rpc.CodeBadRequest},
		{context.Canceled, rpc.CodeInternal},
		{fmt.Errorf("%w: i/o timeout", network.ErrUnreachable), rpc.CodeNetwork},
		{errors.New("no network resolver configured"), rpc.CodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CodeOf(tc.err), "CodeOf(%v)", tc.err)
	}
}
