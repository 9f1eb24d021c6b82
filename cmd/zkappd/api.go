// api.go - HTTP front-end for the controller
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"zkapp/internal/controller"
	"zkapp/internal/ledger"
	"zkapp/internal/logging"
	"zkapp/internal/metrics"
	"zkapp/internal/pipeline"
	"zkapp/internal/rpc"
)

// App is the surface the API drives.
type App interface {
	Session() controller.Session
	SubmitMessage(ctx context.Context, text, privateKey string) (*controller.SubmitResult, error)
	RetrieveMessages(ctx context.Context) (map[string]string, error)
}

// SubmitMessageRequest is the body of POST /messages.
type SubmitMessageRequest struct {
	Message    string `json:"message"`
	PrivateKey string `json:"privateKey"`
}

// APIServer wires the controller, health checks and metrics into gin.
type APIServer struct {
	app     App
	ledger  *ledger.Ledger
	health  *HealthChecker
	metrics *metrics.Collector
	limiter *ClientRateLimiter
	logger  zerolog.Logger
	audit   *logging.Logger
	timeout time.Duration

	router *gin.Engine
	server *http.Server
}

// APIOptions configures NewAPIServer. Ledger is nil unless the local
// network is active.
type APIOptions struct {
	App     App
	Ledger  *ledger.Ledger
	Health  *HealthChecker
	Metrics *metrics.Collector
	Limiter *ClientRateLimiter
	Logger  zerolog.Logger
	Audit   *logging.Logger
	Timeout time.Duration
}

// NewAPIServer builds the router.
func NewAPIServer(opts APIOptions) *APIServer {
	gin.SetMode(gin.ReleaseMode)
	s := &APIServer{
		app:     opts.App,
		ledger:  opts.Ledger,
		health:  opts.Health,
		metrics: opts.Metrics,
		limiter: opts.Limiter,
		logger:  opts.Logger.With().Str("component", "api").Logger(),
		audit:   opts.Audit,
		timeout: opts.Timeout,
		router:  gin.New(),
	}
	s.router.Use(gin.Recovery(), s.logRequests())
	s.setupRoutes()
	return s
}

func (s *APIServer) setupRoutes() {
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	messages := s.router.Group("/messages")
	{
		messages.GET("", s.handleRetrieve)
		if s.limiter != nil {
			messages.POST("", RateLimitMiddleware(s.limiter), s.handleSubmit)
		} else {
			messages.POST("", s.handleSubmit)
		}
	}

	if s.ledger != nil {
		s.router.POST("/graphql", gin.WrapH(s.ledger.Handler()))
		s.router.GET("/tx/:hash", s.handleTx)
	}
}

// Handler exposes the router, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

func (s *APIServer) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("api request")
	}
}

func (s *APIServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Session())
}

func (s *APIServer) handleHealth(c *gin.Context) {
	h := s.health.CheckHealth(c.Request.Context())
	code := http.StatusOK
	if h.OverallStatus == Unhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, CreateHealthResponse(h))
}

func (s *APIServer) handleSubmit(c *gin.Context) {
	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	res, err := s.app.SubmitMessage(ctx, req.Message, req.PrivateKey)
	if err != nil {
		code := submitErrorStatus(err)
		if s.audit != nil && code != http.StatusConflict {
			s.audit.Audit("message_rejected", map[string]any{
				"client": c.ClientIP(),
				"error":  err.Error(),
			})
		}
		c.JSON(code, gin.H{"error": err.Error(), "status": s.app.Session().Status})
		return
	}
	c.JSON(http.StatusOK, res)
}

func submitErrorStatus(err error) int {
	var invocation *pipeline.InvocationError
	switch {
	case errors.Is(err, controller.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, controller.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, controller.ErrEmptyMessage),
		errors.Is(err, rpc.ErrBadRequest),
		errors.Is(err, rpc.ErrInvocation),
		errors.As(err, &invocation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (s *APIServer) handleRetrieve(c *gin.Context) {
	state, err := s.app.RetrieveMessages(c.Request.Context())
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, controller.ErrNotReady) {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *APIServer) handleTx(c *gin.Context) {
	r, err := s.ledger.Tx(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

// Start listens on addr and serves until Shutdown.
func (s *APIServer) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	s.logger.Info().Str("address", addr).Msg("api server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("api server stopping")
	return s.server.Shutdown(ctx)
}
