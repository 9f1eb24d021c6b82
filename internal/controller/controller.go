// Package controller drives a worker through setup, message submission and
// state retrieval, and publishes a session status for the front-end.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zkapp/internal/contract"
	"zkapp/internal/metrics"
	"zkapp/internal/poller"
	"zkapp/internal/worker"
)

// Status texts shown to the user.
const (
	StatusWalletNotFound   = "Wallet not found."
	StatusEmptyMessage     = "Message is null. Please enter a valid message."
	StatusCreatingProof    = "Creating proof..."
	StatusSetupComplete    = "Setup complete"
	StatusCheckingFeePayer = "Checking if fee payer account exists..."
)

var (
	// ErrBusy is returned when a submission is already in progress.
	ErrBusy = errors.New("controller: a transaction is already being created")

	// ErrNotReady is returned before setup has completed with a wallet.
	ErrNotReady = errors.New("controller: setup has not completed")

	// ErrEmptyMessage is returned when the message text or key is blank.
	ErrEmptyMessage = errors.New("controller: message is empty")

	// ErrNoAccounts is returned when the wallet exposes no account.
	ErrNoAccounts = errors.New("controller: wallet returned no accounts")
)

// Worker is the set of worker operations the controller uses.
type Worker interface {
	SetActiveNetwork(ctx context.Context, endpoint string) error
	LoadContract(ctx context.Context) error
	Compile(ctx context.Context) (int, error)
	InitInstance(ctx context.Context, address string) error
	Build(ctx context.Context, method string, args ...string) error
	Prove(ctx context.Context) error
	ExportTransaction(ctx context.Context) (string, error)
	ReadState(ctx context.Context) (map[string]string, error)
	FetchAccount(ctx context.Context, address string) (*worker.AccountResult, error)
	Close() error
}

// LoadWorker starts or connects to a worker.
type LoadWorker func(ctx context.Context) (Worker, error)

// FeePayerConfig is attached to every wallet submission.
type FeePayerConfig struct {
	Fee  string `json:"fee"`
	Memo string `json:"memo"`
}

// SendRequest is what the wallet is asked to sign and send.
type SendRequest struct {
	Transaction string         `json:"transaction"`
	FeePayer    FeePayerConfig `json:"feePayer"`
}

// SendResult is the wallet's answer.
type SendResult struct {
	Hash string `json:"hash"`
}

// Wallet is the user's wallet capability.
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	SendTransaction(ctx context.Context, req SendRequest) (*SendResult, error)
}

// Config configures a Controller.
type Config struct {
	Network      string
	ZkAppAddress string

	Fee  string
	Memo string

	ExplorerTxURL string
	FaucetURL     string

	PollInterval    time.Duration
	PollMaxAttempts int
}

// DefaultConfig returns the devnet defaults.
func DefaultConfig() Config {
	return Config{
		Network:       "https://api.minascan.io/node/devnet/v1/graphql",
		Fee:           "0.1",
		Memo:          "",
		ExplorerTxURL: "https://minascan.io/devnet/tx/",
		FaucetURL:     "https://faucet.minaprotocol.com/?address=",
		PollInterval:  poller.DefaultInterval,
	}
}

// Session is a snapshot of the controller state.
type Session struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	Ready          bool   `json:"ready"`
	HasWallet      bool   `json:"hasWallet"`
	FeePayer       string `json:"feePayer,omitempty"`
	FeePayerExists bool   `json:"feePayerExists"`
	FaucetLink     string `json:"faucetLink,omitempty"`
	ZkAppExists    bool   `json:"zkAppExists"`
	Busy           bool   `json:"busy"`
	LastTxHash     string `json:"lastTxHash,omitempty"`
	LastTxLink     string `json:"lastTxLink,omitempty"`
}

// SubmitResult identifies a sent transaction.
type SubmitResult struct {
	Hash string `json:"hash"`
	Link string `json:"link"`
}

// Controller owns the session and talks to the worker.
type Controller struct {
	cfg        Config
	loadWorker LoadWorker
	wallet     Wallet
	logger     zerolog.Logger
	metrics    *metrics.Collector

	mu        sync.Mutex
	session   Session
	worker    Worker
	observers []func(Session)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l.With().Str("component", "controller").Logger() }
}

// WithMetrics records setup, submit and poll failures on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a controller. A nil wallet means no wallet is installed.
func New(cfg Config, load LoadWorker, wallet Wallet, opts ...Option) *Controller {
	c := &Controller{
		cfg:        cfg,
		loadWorker: load,
		wallet:     wallet,
		logger:     zerolog.Nop(),
		session:    Session{ID: uuid.NewString()},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the current snapshot.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Subscribe registers fn to receive every session change.
func (c *Controller) Subscribe(fn func(Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// update applies fn to the session and notifies observers outside the lock.
func (c *Controller) update(fn func(s *Session)) {
	c.mu.Lock()
	fn(&c.session)
	snap := c.session
	observers := append([]func(Session){}, c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}

func (c *Controller) setStatus(text string) {
	c.logger.Info().Msg(text)
	c.update(func(s *Session) { s.Status = text })
}

// Setup runs the setup sequence in order, stopping at the first failure.
func (c *Controller) Setup(ctx context.Context) error {
	err := c.setup(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("setup failed")
		c.metrics.RecordError("setup")
		c.update(func(s *Session) {
			s.Status = "Error during setup: " + err.Error()
			s.Error = err.Error()
		})
	}
	return err
}

func (c *Controller) setup(ctx context.Context) error {
	c.setStatus("Loading web worker...")
	w, err := c.loadWorker(ctx)
	if err != nil {
		return fmt.Errorf("failed to load worker: %w", err)
	}
	c.mu.Lock()
	c.worker = w
	c.mu.Unlock()

	c.setStatus("Done loading web worker")
	if err := w.SetActiveNetwork(ctx, c.cfg.Network); err != nil {
		return err
	}

	if c.wallet == nil {
		c.update(func(s *Session) {
			s.Status = StatusWalletNotFound
			s.HasWallet = false
		})
		return nil
	}
	c.update(func(s *Session) { s.HasWallet = true })

	c.setStatus("Requesting accounts...")
	accounts, err := c.wallet.RequestAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return ErrNoAccounts
	}
	feePayer := accounts[0]
	c.update(func(s *Session) { s.FeePayer = feePayer })
	c.setStatus("Using key: " + feePayer)

	c.setStatus(StatusCheckingFeePayer)
	res, err := w.FetchAccount(ctx, feePayer)
	if err != nil {
		return err
	}
	c.update(func(s *Session) {
		s.FeePayerExists = res.Exists
		if !res.Exists {
			s.FaucetLink = c.cfg.FaucetURL + feePayer
		}
	})

	c.setStatus("Loading contract...")
	if err := w.LoadContract(ctx); err != nil {
		return err
	}

	c.setStatus("Compiling zkApp...")
	if _, err := w.Compile(ctx); err != nil {
		return err
	}
	c.setStatus("zkApp compiled")

	if err := w.InitInstance(ctx, c.cfg.ZkAppAddress); err != nil {
		return err
	}

	c.setStatus("Getting zkApp state...")
	zk, err := w.FetchAccount(ctx, c.cfg.ZkAppAddress)
	if err != nil {
		return err
	}

	c.update(func(s *Session) {
		s.ZkAppExists = zk.Exists
		s.Ready = true
		if s.FeePayerExists {
			s.Status = StatusSetupComplete
		} else {
			s.Status = "Account does not exist. Visit the faucet to fund this fee payer account: " + s.FaucetLink
		}
	})
	return nil
}

// Run performs Setup and, when the fee payer is not funded yet, waits for
// it to appear.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Setup(ctx); err != nil {
		return err
	}
	s := c.Session()
	if !s.HasWallet || s.FeePayerExists {
		return nil
	}

	c.mu.Lock()
	w := c.worker
	c.mu.Unlock()

	p := poller.New(w, poller.Config{
		Interval:    c.cfg.PollInterval,
		MaxAttempts: c.cfg.PollMaxAttempts,
		OnAttempt:   func(int) { c.setStatus(StatusCheckingFeePayer) },
		Logger:      c.logger,
		Metrics:     c.metrics,
	})
	if _, _, err := p.WaitForAccount(ctx, s.FeePayer); err != nil {
		if ctx.Err() == nil {
			c.logger.Error().Err(err).Str("fee_payer", s.FeePayer).Msg("fee payer check failed")
			c.metrics.RecordError("poll")
			c.update(func(s *Session) {
				s.Status = "Error checking account: " + err.Error()
				s.Error = err.Error()
			})
		}
		return fmt.Errorf("waiting for fee payer: %w", err)
	}
	c.update(func(s *Session) {
		s.FeePayerExists = true
		s.FaucetLink = ""
		s.Status = StatusSetupComplete
	})
	return nil
}

// SubmitMessage builds, proves and sends a publishMessage transaction.
func (c *Controller) SubmitMessage(ctx context.Context, text, privateKey string) (*SubmitResult, error) {
	c.mu.Lock()
	if !c.session.Ready || c.worker == nil || c.wallet == nil {
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	if c.session.Busy {
		c.mu.Unlock()
		c.metrics.RecordSubmission(metrics.SubmissionRejected)
		return nil, ErrBusy
	}
	c.session.Busy = true
	w := c.worker
	feePayer := c.session.FeePayer
	c.mu.Unlock()
	defer c.update(func(s *Session) { s.Busy = false })

	res, err := c.submit(ctx, w, feePayer, text, privateKey)
	switch {
	case errors.Is(err, ErrEmptyMessage):
		c.metrics.RecordSubmission(metrics.SubmissionRejected)
		c.setStatus(StatusEmptyMessage)
	case err != nil:
		c.metrics.RecordSubmission(metrics.SubmissionFailed)
		c.logger.Error().Err(err).Msg("transaction failed")
		c.setStatus("Transaction failed: " + err.Error())
	default:
		c.metrics.RecordSubmission(metrics.SubmissionSent)
	}
	return res, err
}

func (c *Controller) submit(ctx context.Context, w Worker, feePayer, text, privateKey string) (*SubmitResult, error) {
	c.setStatus("Creating a transaction...")
	if _, err := w.FetchAccount(ctx, feePayer); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" || strings.TrimSpace(privateKey) == "" {
		return nil, ErrEmptyMessage
	}

	if err := w.Build(ctx, contract.PublishMessage, text, privateKey); err != nil {
		return nil, err
	}

	c.setStatus(StatusCreatingProof)
	if err := w.Prove(ctx); err != nil {
		return nil, err
	}

	c.setStatus("Requesting send transaction...")
	tx, err := w.ExportTransaction(ctx)
	if err != nil {
		return nil, err
	}

	c.setStatus("Getting transaction JSON...")
	sent, err := c.wallet.SendTransaction(ctx, SendRequest{
		Transaction: tx,
		FeePayer:    FeePayerConfig{Fee: c.cfg.Fee, Memo: c.cfg.Memo},
	})
	if err != nil {
		return nil, err
	}

	link := c.cfg.ExplorerTxURL + sent.Hash
	c.update(func(s *Session) {
		s.LastTxHash = sent.Hash
		s.LastTxLink = link
		s.Status = link
	})
	c.logger.Info().Str("hash", sent.Hash).Str("link", link).Msg("transaction sent")
	return &SubmitResult{Hash: sent.Hash, Link: link}, nil
}

// RetrieveMessages reads the contract state through the worker.
func (c *Controller) RetrieveMessages(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	w := c.worker
	ready := c.session.Ready
	c.mu.Unlock()
	if w == nil || !ready {
		return nil, ErrNotReady
	}
	fields, err := w.ReadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve messages: %w", err)
	}
	return fields, nil
}

// Close releases the worker.
func (c *Controller) Close() error {
	c.mu.Lock()
	w := c.worker
	c.worker = nil
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
