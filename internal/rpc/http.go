// http.go - RPC over HTTP, for a worker running in its own process.

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// Path is where the worker accepts RPC requests.
const Path = "/rpc"

const maxRequestBody = 1 << 20

// Server exposes a Handler over HTTP. Requests are served one at a time.
type Server struct {
	Address string

	handler Handler
	logger  zerolog.Logger
	mu      sync.Mutex
	server  *http.Server
	wg      sync.WaitGroup
}

// NewServer creates a server for h listening on address.
func NewServer(address string, h Handler, logger zerolog.Logger) *Server {
	return &Server{Address: address, handler: h, logger: logger}
}

// ServeHTTP decodes the envelope, runs the handler and writes the response.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.logger.Warn().Err(err).Msg("received a bad request")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var resp *Response
	if !req.Method.Valid() {
		resp = NewError(&req, Errorf(CodeBadRequest, "unknown method %q", req.Method))
	} else {
		s.logger.Debug().Str("id", req.ID).Str("method", string(req.Method)).Msg("received request")
		s.mu.Lock()
		resp = s.handler.Handle(context.WithoutCancel(r.Context()), &req)
		s.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("failed to write response")
	}
}

// Start listens on Address and serves in a goroutine. It signals on ready
// once the listener is accepting connections.
func (s *Server) Start(ready chan<- struct{}) error {
	mux := http.NewServeMux()
	mux.Handle(Path, s)

	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.Address = listener.Addr().String()
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("address", s.Address).Msg("rpc server starting")
		if ready != nil {
			ready <- struct{}{}
		}
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("rpc server failed")
		}
		s.logger.Info().Msg("rpc server stopped")
	}()
	return nil
}

// Shutdown stops the server and waits for the serve goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// HTTPTransport posts requests to a remote worker.
type HTTPTransport struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPTransport targets the worker at baseURL. Connection failures and
// 5xx responses are retried up to maxRetries times; worker errors travel
// inside the response envelope and are never retried.
func NewHTTPTransport(baseURL string, maxRetries int, logger zerolog.Logger) *HTTPTransport {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn().Str("url", req.URL.String()).Int("attempt", attempt).Msg("retrying rpc request")
		}
	}
	return &HTTPTransport{url: baseURL + Path, client: rc}
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request envelope: %w", err)
	}
	hreq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	hresp, err := t.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer hresp.Body.Close()

	if hresp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(hresp.Body, 512))
		return nil, fmt.Errorf("worker returned %s: %s", hresp.Status, bytes.TrimSpace(msg))
	}
	var resp Response
	if err := json.NewDecoder(hresp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}
	return &resp, nil
}

func (t *HTTPTransport) Close() error {
	t.client.HTTPClient.CloseIdleConnections()
	return nil
}
