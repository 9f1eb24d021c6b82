// graphql.go - Account queries and transaction submission over GraphQL.

package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"zkapp/internal/txn"
)

const (
	// The local ledger also returns contract; remote nodes omit it.
	accountQuery = `query Account($publicKey: PublicKey!) {
  account(publicKey: $publicKey) { publicKey balance { total } nonce zkappState }
}`
	sendZkappMutation = `mutation SendZkapp($transaction: String!) {
  sendZkapp(input: { transaction: $transaction }) { hash }
}`
)

// GraphQLRequest is the body posted to a GraphQL endpoint.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// GraphQLResponse is the envelope returned by a GraphQL endpoint.
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// AccountData is the payload of the Account query.
type AccountData struct {
	Account *GraphQLAccount `json:"account"`
}

// GraphQLAccount is the account shape used on the wire. Amounts and nonces
// are decimal strings, as Mina nodes send them.
type GraphQLAccount struct {
	PublicKey  string         `json:"publicKey"`
	Balance    GraphQLBalance `json:"balance"`
	Nonce      string         `json:"nonce"`
	Contract   string         `json:"contract,omitempty"`
	ZkappState []string       `json:"zkappState,omitempty"`
}

// GraphQLBalance is the balance object of an account, in nanomina.
type GraphQLBalance struct {
	Total string `json:"total"`
}

// SendZkappData is the payload of the SendZkapp mutation.
type SendZkappData struct {
	SendZkapp struct {
		Hash string `json:"hash"`
	} `json:"sendZkapp"`
}

// ToAccount converts the wire shape into an Account.
func (g *GraphQLAccount) ToAccount() (*Account, error) {
	balance, err := strconv.ParseUint(g.Balance.Total, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", g.Balance.Total, err)
	}
	nonce, err := strconv.ParseUint(g.Nonce, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce %q: %w", g.Nonce, err)
	}
	return &Account{
		Address:  g.PublicKey,
		Balance:  balance,
		Nonce:    nonce,
		Contract: g.Contract,
		AppState: g.ZkappState,
	}, nil
}

// FromAccount converts an Account into the wire shape.
func FromAccount(a *Account) *GraphQLAccount {
	return &GraphQLAccount{
		PublicKey:  a.Address,
		Balance:    GraphQLBalance{Total: strconv.FormatUint(a.Balance, 10)},
		Nonce:      strconv.FormatUint(a.Nonce, 10),
		Contract:   a.Contract,
		ZkappState: a.AppState,
	}
}

// ClientConfig configures a GraphQL client.
type ClientConfig struct {
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
	Logger     zerolog.Logger
}

// Client talks to a GraphQL node endpoint with retrying HTTP.
type Client struct {
	endpoint string
	http     *retryablehttp.Client
	logger   zerolog.Logger
}

// NewClient creates a GraphQL client for cfg.Endpoint.
func NewClient(cfg ClientConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	rc.Logger = leveledLogger{cfg.Logger}

	return &Client{
		endpoint: cfg.Endpoint,
		http:     rc,
		logger:   cfg.Logger.With().Str("endpoint", cfg.Endpoint).Logger(),
	}
}

// Endpoint returns the configured URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// FetchAccount queries one account. A null account is ErrAccountNotFound.
func (c *Client) FetchAccount(ctx context.Context, address string) (*Account, error) {
	var data AccountData
	err := c.do(ctx, GraphQLRequest{
		Query:         accountQuery,
		OperationName: "Account",
		Variables:     map[string]any{"publicKey": address},
	}, &data)
	if err != nil {
		return nil, err
	}
	if data.Account == nil {
		return nil, ErrAccountNotFound
	}
	return data.Account.ToAccount()
}

// Submit sends a proven transaction and returns the hash the node assigned.
func (c *Client) Submit(ctx context.Context, tx *txn.Transaction) (string, error) {
	encoded, err := txn.Encode(tx)
	if err != nil {
		return "", err
	}
	var data SendZkappData
	err = c.do(ctx, GraphQLRequest{
		Query:         sendZkappMutation,
		OperationName: "SendZkapp",
		Variables:     map[string]any{"transaction": encoded},
	}, &data)
	if err != nil {
		return "", err
	}
	if data.SendZkapp.Hash == "" {
		return "", fmt.Errorf("node returned no transaction hash")
	}
	return data.SendZkapp.Hash, nil
}

func (c *Client) do(ctx context.Context, gq GraphQLRequest, out any) error {
	body, err := json.Marshal(gq)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s request failed: %w", ErrUnreachable, gq.OperationName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrUnreachable, err)
	}
	if resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrBadRequest, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: status %d", ErrUnreachable, gq.OperationName, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", gq.OperationName, resp.StatusCode)
	}

	var gr GraphQLResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		e := gr.Errors[0]
		if e.Code == "BAD_REQUEST" {
			return fmt.Errorf("%w: %s", ErrBadRequest, e.Message)
		}
		return fmt.Errorf("%s: %s", gq.OperationName, e.Message)
	}
	if out == nil || len(gr.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", gq.OperationName, err)
	}
	return nil
}

// leveledLogger routes retryablehttp's logging into zerolog.
type leveledLogger struct {
	l zerolog.Logger
}

func (z leveledLogger) Error(msg string, kv ...interface{}) { z.l.Error().Fields(kv).Msg(msg) }
func (z leveledLogger) Info(msg string, kv ...interface{})  { z.l.Debug().Fields(kv).Msg(msg) }
func (z leveledLogger) Debug(msg string, kv ...interface{}) { z.l.Trace().Fields(kv).Msg(msg) }
func (z leveledLogger) Warn(msg string, kv ...interface{})  { z.l.Warn().Fields(kv).Msg(msg) }
