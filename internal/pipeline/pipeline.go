// pipeline.go - The worker-side transaction pipeline.
//
// A Pipeline owns one contract definition, its compiled circuits, at most one
// bound instance and at most one pending transaction. It moves through
//
//	Uncompiled -> Compiled -> Initialized -> Built -> Proven -> Exported
//
// with Failed as the terminal state of an unsuccessful compilation. Every
// method takes the pipeline lock, so calls are serialized.

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"

	"zkapp/internal/contract"
	"zkapp/internal/metrics"
	"zkapp/internal/network"
	"zkapp/internal/txn"
)

// State is the lifecycle position of a Pipeline.
type State int

const (
	StateUncompiled State = iota
	StateCompiled
	StateInitialized
	StateBuilt
	StateProven
	StateExported
	StateFailed
)

var stateNames = []string{"uncompiled", "compiled", "initialized", "built", "proven", "exported", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CompiledCircuit is the constraint system and key pair of one method.
type CompiledCircuit struct {
	Method string
	CCS    constraint.ConstraintSystem
	PK     groth16.ProvingKey
	VK     groth16.VerifyingKey
}

// NetworkResolver turns an endpoint into an account fetcher.
type NetworkResolver func(endpoint string) (network.Fetcher, error)

// Invocation names a contract method and its arguments.
type Invocation struct {
	Method string   `json:"method"`
	Args   []string `json:"args"`
}

// Config configures a Pipeline.
type Config struct {
	// Contract is the registry name of the contract to load.
	Contract string

	// KeyDir caches Groth16 keys between runs. Empty disables caching.
	KeyDir string

	Resolver NetworkResolver
	Logger   *zerolog.Logger
	Metrics  *metrics.Collector
}

type pendingTx struct {
	tx    *txn.Transaction
	calls []*contract.Call
}

// Pipeline is the state machine behind the worker.
type Pipeline struct {
	mu sync.Mutex

	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Collector

	state        State
	definition   *contract.Definition
	circuits     map[string]*CompiledCircuit
	compileCount int
	compileErr   error
	instance     *contract.Instance
	pending      *pendingTx

	endpoint string
	fetcher  network.Fetcher
}

// New creates an uncompiled pipeline.
func New(cfg Config) *Pipeline {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "pipeline").Logger()
	}
	return &Pipeline{
		cfg:     cfg,
		logger:  logger,
		metrics: cfg.Metrics,
		state:   StateUncompiled,
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CompileCount returns how many times circuits were actually compiled.
func (p *Pipeline) CompileCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.compileCount
}

// Endpoint returns the active network endpoint, empty if none.
func (p *Pipeline) Endpoint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoint
}

func (p *Pipeline) setState(s State) {
	if p.state != s {
		p.logger.Debug().Stringer("from", p.state).Stringer("to", s).Msg("state transition")
	}
	p.state = s
	p.metrics.SetPipelineState(s.String(), stateNames)
}

// SetActiveNetwork selects the endpoint used for account reads. It can be
// set once; repeating the same endpoint is a no-op.
func (p *Pipeline) SetActiveNetwork(endpoint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fetcher != nil {
		if endpoint == p.endpoint {
			return nil
		}
		return fmt.Errorf("%w: %s (requested %s)", ErrNetworkAlreadySet, p.endpoint, endpoint)
	}
	if p.cfg.Resolver == nil {
		return fmt.Errorf("no network resolver configured")
	}
	f, err := p.cfg.Resolver(endpoint)
	if err != nil {
		return fmt.Errorf("failed to resolve network %s: %w", endpoint, err)
	}
	p.endpoint = endpoint
	p.fetcher = f
	p.logger.Info().Str("endpoint", endpoint).Msg("network instance configured")
	return nil
}

// LoadContract resolves the configured contract definition.
func (p *Pipeline) LoadContract() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.definition != nil {
		return nil
	}
	d, err := contract.Lookup(p.cfg.Contract)
	if err != nil {
		return &LoadError{Contract: p.cfg.Contract, Err: err}
	}
	p.definition = d
	p.logger.Info().Str("contract", d.Name).Strs("methods", d.MethodNames()).Msg("contract loaded")
	return nil
}

// Compile compiles every method circuit and sets up its keys. Only the
// first call does work; later calls return the cached outcome.
func (p *Pipeline) Compile(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.definition == nil {
		return &PreconditionError{Op: "compile", Missing: "LoadContract"}
	}
	if p.circuits != nil {
		return nil
	}
	if p.compileErr != nil {
		return p.compileErr
	}

	circuits := make(map[string]*CompiledCircuit, len(p.definition.Methods))
	for _, name := range p.definition.MethodNames() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cc, err := p.compileMethod(p.definition.Methods[name])
		if err != nil {
			p.compileErr = &CompileError{Method: name, Err: err}
			p.metrics.RecordError("compile")
			p.setState(StateFailed)
			return p.compileErr
		}
		circuits[name] = cc
	}

	p.circuits = circuits
	p.compileCount++
	p.setState(StateCompiled)
	return nil
}

func (p *Pipeline) compileMethod(m *contract.Method) (*CompiledCircuit, error) {
	start := time.Now()
	ccs, err := frontend.Compile(contract.ScalarField(), r1cs.NewBuilder, m.NewCircuit())
	if err != nil {
		return nil, err
	}

	var pkPath, vkPath string
	if p.cfg.KeyDir != "" {
		pkPath, vkPath = KeyPaths(p.cfg.KeyDir, p.definition.Name, m.Name)
	}
	pk, vk, loaded, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		return nil, err
	}

	took := time.Since(start)
	p.metrics.RecordCircuitCompile(m.Name, took)
	p.logger.Info().
		Str("method", m.Name).
		Int("constraints", ccs.GetNbConstraints()).
		Bool("keys_from_disk", loaded).
		Dur("took", took).
		Msg("circuit compiled")
	return &CompiledCircuit{Method: m.Name, CCS: ccs, PK: pk, VK: vk}, nil
}

// VerificationKeys returns the serialized verifying key of every method.
func (p *Pipeline) VerificationKeys() (map[string][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireCompiled("verificationKeys"); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(p.circuits))
	for name, cc := range p.circuits {
		b, err := contract.EncodeVerifyingKey(cc.VK)
		if err != nil {
			return nil, err
		}
		out[name] = b
	}
	return out, nil
}

// InitInstance binds the loaded contract to address. Any pending
// transaction is discarded.
func (p *Pipeline) InitInstance(address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireCompiled("initInstance"); err != nil {
		return err
	}
	pk, err := contract.ParseAddress(address)
	if err != nil {
		return err
	}
	p.instance = &contract.Instance{Definition: p.definition, Address: pk}
	p.pending = nil
	p.setState(StateInitialized)
	p.logger.Info().Str("address", address).Msg("zkApp instance initialized")
	return nil
}

// Build runs a contract method and records the result as the pending
// transaction, replacing any previous one. On failure nothing is pending.
func (p *Pipeline) Build(ctx context.Context, inv Invocation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireInstance("build"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.pending != nil && p.state == StateBuilt {
		p.logger.Warn().
			Str("discarded", p.pending.calls[0].Method).
			Str("method", inv.Method).
			Msg("replacing unproven transaction")
	}
	p.pending = nil
	p.setState(StateInitialized)

	pending, err := p.transactionScope(inv)
	if err != nil {
		p.metrics.RecordError("invocation")
		return &InvocationError{Method: inv.Method, Err: err}
	}
	p.pending = pending
	p.setState(StateBuilt)
	p.logger.Info().Str("method", inv.Method).Msg("transaction built")
	return nil
}

// transactionScope invokes the method against the bound instance. A panic
// inside the contract code is turned into an error; the scope result is
// captured either way.
func (p *Pipeline) transactionScope(inv Invocation) (result *pendingTx, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("method", inv.Method).Msg("contract method panicked")
			result, err = nil, fmt.Errorf("panic in contract method: %v", r)
		}
	}()

	call, err := p.instance.Definition.Invoke(inv.Method, inv.Args)
	if err != nil {
		return nil, err
	}
	tx := &txn.Transaction{
		AccountUpdates: []txn.AccountUpdate{{
			Address:      p.instance.Address.Address(),
			Contract:     p.instance.Definition.Name,
			Method:       call.Method,
			PublicInputs: call.PublicInputs,
			AppState:     call.Updates,
		}},
	}
	return &pendingTx{tx: tx, calls: []*contract.Call{call}}, nil
}

// Prove generates a Groth16 proof for every account update of the pending
// transaction. On failure the transaction stays built and unproven.
func (p *Pipeline) Prove(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireInstance("prove"); err != nil {
		return err
	}
	if p.pending == nil {
		return &PreconditionError{Op: "prove", Missing: "build"}
	}
	if p.state == StateProven || p.state == StateExported {
		return nil
	}

	proofs := make([][]byte, len(p.pending.calls))
	for i, call := range p.pending.calls {
		if err := ctx.Err(); err != nil {
			return &ProvingError{Method: call.Method, Err: err}
		}
		b, err := p.prove(call)
		if err != nil {
			p.metrics.RecordError("proving")
			p.logger.Error().Err(err).Str("method", call.Method).Msg("proof generation failed")
			return &ProvingError{Method: call.Method, Err: err}
		}
		proofs[i] = b
	}
	for i := range proofs {
		p.pending.tx.AccountUpdates[i].Proof = proofs[i]
	}
	p.setState(StateProven)
	return nil
}

func (p *Pipeline) prove(call *contract.Call) (b []byte, err error) {
	cc, ok := p.circuits[call.Method]
	if !ok {
		return nil, fmt.Errorf("no compiled circuit for %s", call.Method)
	}

	start := time.Now()
	defer func() {
		p.metrics.RecordProofGeneration(call.Method, time.Since(start), err)
	}()

	w, err := frontend.NewWitness(call.Assignment, contract.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16Prove(cc.CCS, cc.PK, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	p.logger.Info().Str("method", call.Method).Dur("took", time.Since(start)).Msg("proof generated")
	return buf.Bytes(), nil
}

// ExportTransaction returns the JSON form of the proven pending transaction.
func (p *Pipeline) ExportTransaction() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireInstance("exportTransaction"); err != nil {
		return "", err
	}
	if p.pending == nil {
		return "", &PreconditionError{Op: "exportTransaction", Missing: "build"}
	}
	if p.state != StateProven && p.state != StateExported {
		return "", &PreconditionError{Op: "exportTransaction", Missing: "prove"}
	}
	s, err := txn.Encode(p.pending.tx)
	if err != nil {
		return "", err
	}
	p.setState(StateExported)
	return s, nil
}

// ContractState fetches the instance account and decodes its state fields.
func (p *Pipeline) ContractState(ctx context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireInstance("readState"); err != nil {
		return nil, err
	}
	if p.fetcher == nil {
		return nil, &PreconditionError{Op: "readState", Missing: "SetActiveNetwork"}
	}
	acct, err := p.fetcher.FetchAccount(ctx, p.instance.Address.Address())
	if err != nil {
		return nil, err
	}
	state := acct.AppState
	if len(state) == 0 {
		state = contract.EmptyState()
	}
	return p.instance.Definition.DecodeState(state)
}

// ReadContractState is ContractState rendered as JSON.
func (p *Pipeline) ReadContractState(ctx context.Context) (string, error) {
	fields, err := p.ContractState(ctx)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return string(b), nil
}

// FetchAccount reads an account from the active network. Results are never cached.
func (p *Pipeline) FetchAccount(ctx context.Context, address string) (*network.Account, error) {
	p.mu.Lock()
	fetcher := p.fetcher
	p.mu.Unlock()

	if fetcher == nil {
		return nil, &PreconditionError{Op: "fetchAccount", Missing: "SetActiveNetwork"}
	}
	if _, err := contract.ParseAddress(address); err != nil {
		return nil, err
	}
	return fetcher.FetchAccount(ctx, address)
}

func (p *Pipeline) requireCompiled(op string) error {
	if p.state == StateFailed {
		return fmt.Errorf("%s: %w", op, ErrCompileFailed)
	}
	if p.definition == nil {
		return &PreconditionError{Op: op, Missing: "LoadContract"}
	}
	if p.circuits == nil {
		return &PreconditionError{Op: op, Missing: "Compile"}
	}
	return nil
}

func (p *Pipeline) requireInstance(op string) error {
	if err := p.requireCompiled(op); err != nil {
		return err
	}
	if p.instance == nil {
		return &PreconditionError{Op: op, Missing: "InitInstance"}
	}
	return nil
}
