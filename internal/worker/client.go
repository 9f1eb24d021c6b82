// client.go - Typed calls to a worker.

package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"zkapp/internal/metrics"
	"zkapp/internal/pipeline"
	"zkapp/internal/rpc"
)

// Client is the controller-side view of a worker.
type Client struct {
	rpc *rpc.Client
}

// NewClient wraps an rpc client.
func NewClient(c *rpc.Client) *Client {
	return &Client{rpc: c}
}

// Options configures an in-process worker.
type Options struct {
	Pipeline pipeline.Config
	Logger   zerolog.Logger
	Metrics  *metrics.Collector
}

// Start runs a pipeline behind an in-process pipe and returns a client for it.
func Start(opts Options) *Client {
	cfg := opts.Pipeline
	if cfg.Logger == nil {
		cfg.Logger = &opts.Logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = opts.Metrics
	}
	svc := NewService(pipeline.New(cfg), opts.Logger)
	return NewClient(rpc.NewClient(rpc.NewPipe(svc), rpc.WithLogger(opts.Logger), rpc.WithMetrics(opts.Metrics)))
}

// Connect returns a client for a worker served over HTTP at baseURL.
func Connect(baseURL string, maxRetries int, logger zerolog.Logger, m *metrics.Collector) *Client {
	t := rpc.NewHTTPTransport(baseURL, maxRetries, logger)
	return NewClient(rpc.NewClient(t, rpc.WithLogger(logger), rpc.WithMetrics(m)))
}

func (c *Client) SetActiveNetwork(ctx context.Context, endpoint string) error {
	return c.rpc.Call(ctx, rpc.MethodSetNetwork, SetNetworkParams{Endpoint: endpoint}, nil)
}

func (c *Client) LoadContract(ctx context.Context) error {
	return c.rpc.Call(ctx, rpc.MethodLoadContract, nil, nil)
}

// Compile returns the worker's compile count after the call.
func (c *Client) Compile(ctx context.Context) (int, error) {
	var res CompileResult
	err := c.rpc.Call(ctx, rpc.MethodCompile, nil, &res)
	return res.CompileCount, err
}

func (c *Client) InitInstance(ctx context.Context, address string) error {
	return c.rpc.Call(ctx, rpc.MethodInitInstance, AddressParams{Address: address}, nil)
}

func (c *Client) Build(ctx context.Context, method string, args ...string) error {
	return c.rpc.Call(ctx, rpc.MethodBuild, pipeline.Invocation{Method: method, Args: args}, nil)
}

func (c *Client) Prove(ctx context.Context) error {
	return c.rpc.Call(ctx, rpc.MethodProve, nil, nil)
}

func (c *Client) ExportTransaction(ctx context.Context) (string, error) {
	var res ExportResult
	if err := c.rpc.Call(ctx, rpc.MethodExportTransaction, nil, &res); err != nil {
		return "", err
	}
	return res.Transaction, nil
}

// ReadState returns the decoded contract state fields.
func (c *Client) ReadState(ctx context.Context) (map[string]string, error) {
	var res StateResult
	if err := c.rpc.Call(ctx, rpc.MethodReadState, nil, &res); err != nil {
		return nil, err
	}
	fields := map[string]string{}
	if err := json.Unmarshal([]byte(res.State), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return fields, nil
}

func (c *Client) FetchAccount(ctx context.Context, address string) (*AccountResult, error) {
	var res AccountResult
	if err := c.rpc.Call(ctx, rpc.MethodFetchAccount, AddressParams{Address: address}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Close() error {
	return c.rpc.Close()
}
