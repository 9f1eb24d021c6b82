package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkapp/internal/controller"
	"zkapp/internal/ledger"
	"zkapp/internal/metrics"
	"zkapp/internal/rpc"
)

type fakeApp struct {
	session   controller.Session
	submitErr error
	state     map[string]string
	got       []SubmitMessageRequest
}

func (f *fakeApp) Session() controller.Session { return f.session }

func (f *fakeApp) SubmitMessage(_ context.Context, text, key string) (*controller.SubmitResult, error) {
	f.got = append(f.got, SubmitMessageRequest{Message: text, PrivateKey: key})
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &controller.SubmitResult{Hash: "h1", Link: "https://explorer/tx/h1"}, nil
}

func (f *fakeApp) RetrieveMessages(context.Context) (map[string]string, error) {
	if f.state == nil {
		return nil, controller.ErrNotReady
	}
	return f.state, nil
}

func newTestAPI(app App, l *ledger.Ledger, limiter *ClientRateLimiter) *APIServer {
	hc := NewHealthChecker("test")
	hc.RegisterComponent("worker", func(context.Context) error { return nil })
	return NewAPIServer(APIOptions{
		App:     app,
		Ledger:  l,
		Health:  hc,
		Metrics: metrics.NewCollector(),
		Limiter: limiter,
		Logger:  zerolog.Nop(),
		Timeout: time.Minute,
	})
}

func request(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatusAndRetrieve(t *testing.T) {
	app := &fakeApp{session: controller.Session{ID: "s1", Status: "Setup complete", Ready: true}}
	h := newTestAPI(app, nil, nil).Handler()

	w := request(t, h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var s controller.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, "Setup complete", s.Status)

	w = request(t, h, http.MethodGet, "/messages", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	app.state = map[string]string{"message": "42", "publisher": ""}
	w = request(t, h, http.MethodGet, "/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"42","publisher":""}`, w.Body.String())
}

func TestSubmitMessage(t *testing.T) {
	app := &fakeApp{}
	h := newTestAPI(app, nil, nil).Handler()

	w := request(t, h, http.MethodPost, "/messages", SubmitMessageRequest{Message: "hi", PrivateKey: "EK"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"hash":"h1","link":"https://explorer/tx/h1"}`, w.Body.String())
	assert.Equal(t, []SubmitMessageRequest{{Message: "hi", PrivateKey: "EK"}}, app.got)

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitErrorStatus(t *testing.T) {
	cases := map[error]int{
		controller.ErrBusy:                               http.StatusConflict,
		controller.ErrNotReady:                           http.StatusServiceUnavailable,
		controller.ErrEmptyMessage:                       http.StatusBadRequest,
		rpc.Errorf(rpc.CodeInvocation, "bad key"):        http.StatusBadRequest,
		rpc.Errorf(rpc.CodeProving, "constraint failed"): http.StatusBadGateway,
		context.DeadlineExceeded:                         http.StatusGatewayTimeout,
		errors.New("wallet: node unreachable"):           http.StatusBadGateway,
	}
	for err, want := range cases {
		app := &fakeApp{submitErr: err}
		w := request(t, newTestAPI(app, nil, nil).Handler(), http.MethodPost, "/messages",
			SubmitMessageRequest{Message: "hi", PrivateKey: "EK"})
		assert.Equal(t, want, w.Code, "error %v", err)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	h := newTestAPI(&fakeApp{}, nil, NewClientRateLimiter(1, 1)).Handler()
	body := SubmitMessageRequest{Message: "hi", PrivateKey: "EK"}
	assert.Equal(t, http.StatusOK, request(t, h, http.MethodPost, "/messages", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, request(t, h, http.MethodPost, "/messages", body).Code)

	// Reads are not limited.
	assert.NotEqual(t, http.StatusTooManyRequests, request(t, h, http.MethodGet, "/status", nil).Code)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	h := newTestAPI(&fakeApp{}, nil, nil).Handler()
	w := request(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)

	assert.Equal(t, http.StatusOK, request(t, h, http.MethodGet, "/metrics", nil).Code)
}

func TestLedgerRoutesOnlyWhenLocal(t *testing.T) {
	remote := newTestAPI(&fakeApp{}, nil, nil).Handler()
	assert.Equal(t, http.StatusNotFound, request(t, remote, http.MethodGet, "/tx/abc", nil).Code)

	local := newTestAPI(&fakeApp{}, ledger.New(zerolog.Nop()), nil).Handler()
	assert.Equal(t, http.StatusNotFound, request(t, local, http.MethodGet, "/tx/abc", nil).Code)

	w := request(t, local, http.MethodPost, "/graphql", map[string]any{
		"operationName": "Account",
		"variables":     map[string]any{"publicKey": "garbage"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BAD_REQUEST")
}
