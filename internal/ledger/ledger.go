// Package ledger is a file-backed local network: funded accounts, deployed
// contracts with their verifying keys, and an append-only list of applied
// transactions. Every account update is checked against the verifying key
// stored on the target account before any state changes.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"zkapp/internal/contract"
	"zkapp/internal/network"
	"zkapp/internal/txn"
)

// AccountCreationFee is charged to the deployer for every new zkApp account.
const AccountCreationFee = 1 * network.NanominaPerMina

var (
	ErrAccountExists       = errors.New("ledger: account already exists")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrBadNonce            = errors.New("ledger: unexpected nonce")
	ErrDuplicateTx         = errors.New("ledger: transaction already applied")
	ErrNotZkApp            = errors.New("ledger: account has no contract")
	ErrContractMismatch    = errors.New("ledger: account update targets a different contract")
	ErrInvalidProof        = errors.New("ledger: invalid proof")
	ErrStateMismatch       = errors.New("ledger: state update does not follow from public inputs")
	ErrTxNotFound          = errors.New("ledger: transaction not found")
)

// Account is a ledger entry. VerificationKeys holds one serialized key per
// contract method.
type Account struct {
	Address          string            `json:"address"`
	Balance          uint64            `json:"balance"`
	Nonce            uint64            `json:"nonce"`
	Contract         string            `json:"contract,omitempty"`
	AppState         []string          `json:"appState,omitempty"`
	VerificationKeys map[string][]byte `json:"verificationKeys,omitempty"`
}

// Receipt records an applied transaction.
type Receipt struct {
	Hash      string    `json:"hash"`
	FeePayer  string    `json:"feePayer"`
	Fee       uint64    `json:"fee"`
	Nonce     uint64    `json:"nonce"`
	Memo      string    `json:"memo,omitempty"`
	Updates   []string  `json:"updates"`
	AppliedAt time.Time `json:"appliedAt"`
}

// Ledger is safe for concurrent use. When opened with a path, every
// mutation is written back to disk before it returns.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*Account
	txs      []*Receipt
	byHash   map[string]*Receipt

	path   string
	logger zerolog.Logger
}

// snapshot is the on-disk form.
type snapshot struct {
	Accounts []*Account `json:"accounts"`
	TxList   []*Receipt `json:"txList"`
}

// New creates an empty in-memory ledger.
func New(logger zerolog.Logger) *Ledger {
	return &Ledger{
		accounts: make(map[string]*Account),
		byHash:   make(map[string]*Receipt),
		logger:   logger.With().Str("component", "ledger").Logger(),
	}
}

// Open loads the ledger at path, or starts an empty one if the file does
// not exist yet. Later mutations are persisted to path.
func Open(path string, logger zerolog.Logger) (*Ledger, error) {
	l, err := LoadLedgerFromFile(path, logger)
	if errors.Is(err, os.ErrNotExist) {
		l = New(logger)
	} else if err != nil {
		return nil, err
	}
	l.path = path
	return l, nil
}

// SaveToFile writes the ledger as indented JSON, replacing any existing file.
func (l *Ledger) SaveToFile(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked(path)
}

func (l *Ledger) saveLocked(path string) error {
	snap := snapshot{TxList: l.txs}
	for _, addr := range l.sortedAddresses() {
		snap.Accounts = append(snap.Accounts, l.accounts[addr])
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadLedgerFromFile reads a ledger written by SaveToFile.
func LoadLedgerFromFile(path string, logger zerolog.Logger) (*Ledger, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode ledger %s: %w", path, err)
	}
	l := New(logger)
	for _, a := range snap.Accounts {
		l.accounts[a.Address] = a
	}
	for _, r := range snap.TxList {
		l.txs = append(l.txs, r)
		l.byHash[r.Hash] = r
	}
	return l, nil
}

func (l *Ledger) persistLocked() error {
	if l.path == "" {
		return nil
	}
	return l.saveLocked(l.path)
}

func (l *Ledger) sortedAddresses() []string {
	out := make([]string, 0, len(l.accounts))
	for a := range l.accounts {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// Fund credits amount nanomina to address, creating the account if needed.
func (l *Ledger) Fund(address string, amount uint64) error {
	if _, err := contract.ParseAddress(address); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[address]
	if !ok {
		acct = &Account{Address: address}
		l.accounts[address] = acct
	}
	acct.Balance += amount
	l.logger.Info().Str("address", address).Str("amount", network.FormatMina(amount)).Msg("account funded")
	return l.persistLocked()
}

// Deploy creates a zkApp account at address running contractName, paying
// AccountCreationFee from deployer. vks maps method names to serialized
// verifying keys and must cover every method of the contract.
func (l *Ledger) Deploy(deployer, address, contractName string, vks map[string][]byte) error {
	def, err := contract.Lookup(contractName)
	if err != nil {
		return err
	}
	if _, err := contract.ParseAddress(address); err != nil {
		return err
	}
	for _, name := range def.MethodNames() {
		vk, ok := vks[name]
		if !ok {
			return fmt.Errorf("ledger: missing verifying key for %s.%s", contractName, name)
		}
		if _, err := contract.DecodeVerifyingKey(vk); err != nil {
			return fmt.Errorf("ledger: %s.%s: %w", contractName, name, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	payer, ok := l.accounts[deployer]
	if !ok {
		return fmt.Errorf("deployer %s: %w", deployer, network.ErrAccountNotFound)
	}
	if payer.Balance < AccountCreationFee {
		return ErrInsufficientBalance
	}
	if existing, ok := l.accounts[address]; ok && existing.Contract != "" {
		return ErrAccountExists
	}

	payer.Balance -= AccountCreationFee
	payer.Nonce++
	acct, ok := l.accounts[address]
	if !ok {
		acct = &Account{Address: address}
		l.accounts[address] = acct
	}
	acct.Contract = contractName
	acct.AppState = contract.EmptyState()
	acct.VerificationKeys = make(map[string][]byte, len(vks))
	for name, vk := range vks {
		acct.VerificationKeys[name] = slices.Clone(vk)
	}

	l.logger.Info().
		Str("address", address).
		Str("contract", contractName).
		Str("deployer", deployer).
		Msg("contract deployed")
	return l.persistLocked()
}

// FetchAccount returns a copy of the account. Verifying keys are not included.
func (l *Ledger) FetchAccount(_ context.Context, address string) (*network.Account, error) {
	if _, err := contract.ParseAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", network.ErrBadRequest, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[address]
	if !ok {
		return nil, network.ErrAccountNotFound
	}
	return &network.Account{
		Address:  acct.Address,
		Balance:  acct.Balance,
		Nonce:    acct.Nonce,
		Contract: acct.Contract,
		AppState: slices.Clone(acct.AppState),
	}, nil
}

// Submit verifies and applies tx atomically. Either every account update
// is applied and the fee charged, or nothing changes.
func (l *Ledger) Submit(_ context.Context, tx *txn.Transaction) (string, error) {
	if len(tx.AccountUpdates) == 0 {
		return "", txn.ErrNoAccountUpdates
	}
	hash, err := txn.Hash(tx)
	if err != nil {
		return "", err
	}
	fee, err := parseFee(tx.FeePayer.Fee)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byHash[hash]; ok {
		return "", ErrDuplicateTx
	}
	payer, ok := l.accounts[tx.FeePayer.Address]
	if !ok {
		return "", fmt.Errorf("fee payer %s: %w", tx.FeePayer.Address, network.ErrAccountNotFound)
	}
	if tx.FeePayer.Nonce != payer.Nonce {
		return "", fmt.Errorf("%w: got %d, account is at %d", ErrBadNonce, tx.FeePayer.Nonce, payer.Nonce)
	}
	if payer.Balance < fee {
		return "", ErrInsufficientBalance
	}

	// Check everything first; apply only once all updates verified.
	for i := range tx.AccountUpdates {
		if err := l.checkUpdateLocked(&tx.AccountUpdates[i]); err != nil {
			return "", fmt.Errorf("account update %d: %w", i, err)
		}
	}

	methods := make([]string, 0, len(tx.AccountUpdates))
	for _, u := range tx.AccountUpdates {
		acct := l.accounts[u.Address]
		for _, su := range u.AppState {
			acct.AppState[su.Index] = su.Value
		}
		methods = append(methods, u.Contract+"."+u.Method)
	}
	payer.Balance -= fee
	payer.Nonce++

	r := &Receipt{
		Hash:      hash,
		FeePayer:  payer.Address,
		Fee:       fee,
		Nonce:     tx.FeePayer.Nonce,
		Memo:      tx.Memo,
		Updates:   methods,
		AppliedAt: time.Now().UTC(),
	}
	l.txs = append(l.txs, r)
	l.byHash[hash] = r

	l.logger.Info().
		Str("hash", hash).
		Str("fee_payer", payer.Address).
		Strs("updates", methods).
		Msg("transaction applied")
	return hash, l.persistLocked()
}

func (l *Ledger) checkUpdateLocked(u *txn.AccountUpdate) error {
	acct, ok := l.accounts[u.Address]
	if !ok {
		return fmt.Errorf("%s: %w", u.Address, network.ErrAccountNotFound)
	}
	if acct.Contract == "" {
		return ErrNotZkApp
	}
	if acct.Contract != u.Contract {
		return fmt.Errorf("%w: account runs %s, update is for %s", ErrContractMismatch, acct.Contract, u.Contract)
	}
	def, err := contract.Lookup(u.Contract)
	if err != nil {
		return err
	}
	m, err := def.Method(u.Method)
	if err != nil {
		return err
	}
	if !u.Proven() {
		return fmt.Errorf("%w: missing proof for %s", ErrInvalidProof, u.Method)
	}
	vk, err := contract.DecodeVerifyingKey(acct.VerificationKeys[u.Method])
	if err != nil {
		return err
	}
	if err := contract.Verify(m, vk, u.PublicInputs, u.Proof); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	want, err := m.Apply(u.PublicInputs)
	if err != nil {
		return err
	}
	if !slices.Equal(want, u.AppState) {
		return ErrStateMismatch
	}
	for _, su := range u.AppState {
		if su.Index < 0 || su.Index >= len(acct.AppState) {
			return fmt.Errorf("%w: slot %d out of range", ErrStateMismatch, su.Index)
		}
	}
	return nil
}

func parseFee(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	fee, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ledger: fee %q is not a nanomina amount", s)
	}
	return fee, nil
}

// HasTx reports whether a transaction with this hash was applied.
func (l *Ledger) HasTx(hash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byHash[hash]
	return ok
}

// Tx returns the receipt for hash.
func (l *Ledger) Tx(hash string) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.byHash[hash]
	if !ok {
		return nil, ErrTxNotFound
	}
	cp := *r
	return &cp, nil
}

// GetTxs returns all receipts in application order.
func (l *Ledger) GetTxs() []Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Receipt, len(l.txs))
	for i, r := range l.txs {
		out[i] = *r
	}
	return out
}
