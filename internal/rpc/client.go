// client.go - Request correlation on top of a Transport.

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zkapp/internal/metrics"
)

// Client issues typed calls over a Transport.
type Client struct {
	transport Transport
	logger    zerolog.Logger
	metrics   *metrics.Collector
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records round trip durations on m.
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient wraps t.
func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{transport: t, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends method with params and decodes the result into out (which may
// be nil). Worker failures are returned as *Error.
func (c *Client) Call(ctx context.Context, method Method, params, out any) (err error) {
	if !method.Valid() {
		return Errorf(CodeBadRequest, "unknown method %q", method)
	}

	req := &Request{ID: uuid.NewString(), Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", method, err)
		}
		req.Params = b
	}

	start := time.Now()
	defer func() {
		code := ""
		var re *Error
		if errors.As(err, &re) {
			code = string(re.Code)
		} else if err != nil {
			code = "transport"
		}
		c.metrics.RecordRPC(string(method), code, time.Since(start))
		c.logger.Debug().
			Str("id", req.ID).
			Str("method", string(method)).
			Dur("took", time.Since(start)).
			AnErr("error", err).
			Msg("rpc call")
	}()

	resp, err := c.transport.RoundTrip(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.ID != req.ID {
		return Errorf(CodeInternal, "%s: response id %q does not match request id %q", method, resp.ID, req.ID)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
