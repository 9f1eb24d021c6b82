// Package wallet is a key-file wallet. It holds fee payer keys, fills in the
// fee payer section of exported transactions and submits them to a network.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"zkapp/internal/contract"
	"zkapp/internal/controller"
	"zkapp/internal/network"
	"zkapp/internal/txn"
)

// MaxMemoLength is the longest memo a transaction may carry, in bytes.
const MaxMemoLength = 32

var (
	// ErrNoKeys is returned when the wallet holds no fee payer key.
	ErrNoKeys = errors.New("wallet: no keys")

	// ErrMemoTooLong is returned for memos above MaxMemoLength.
	ErrMemoTooLong = errors.New("wallet: memo too long")
)

// Backend is the network the wallet reads nonces from and submits to.
type Backend interface {
	network.Fetcher
	network.Submitter
}

// File is the on-disk wallet: base58 private keys, first key pays fees.
type File struct {
	Name string   `json:"name"`
	Keys []string `json:"keys"`
}

// Wallet implements controller.Wallet.
type Wallet struct {
	mu      sync.Mutex
	name    string
	keys    []*contract.PrivateKey
	backend Backend
	logger  zerolog.Logger
}

var _ controller.Wallet = (*Wallet)(nil)

// New creates a wallet over keys. The first key is the fee payer.
func New(name string, keys []*contract.PrivateKey, backend Backend, logger zerolog.Logger) *Wallet {
	return &Wallet{
		name:    name,
		keys:    keys,
		backend: backend,
		logger:  logger.With().Str("component", "wallet").Str("wallet", name).Logger(),
	}
}

// Generate creates a wallet with one fresh key.
func Generate(name string, backend Backend, logger zerolog.Logger) (*Wallet, error) {
	sk, err := contract.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return New(name, []*contract.PrivateKey{sk}, backend, logger), nil
}

// LoadWallet reads a wallet file written by Save.
func LoadWallet(path string, backend Backend, logger zerolog.Logger) (*Wallet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to decode wallet %s: %w", path, err)
	}
	keys := make([]*contract.PrivateKey, 0, len(f.Keys))
	for i, s := range f.Keys {
		sk, err := contract.ParsePrivateKey(s)
		if err != nil {
			return nil, fmt.Errorf("wallet %s key %d: %w", path, i, err)
		}
		keys = append(keys, sk)
	}
	return New(f.Name, keys, backend, logger), nil
}

// Save writes the wallet to path as indented JSON with owner-only permissions.
func (w *Wallet) Save(path string) error {
	w.mu.Lock()
	f := File{Name: w.name}
	for _, sk := range w.keys {
		f.Keys = append(f.Keys, sk.String())
	}
	w.mu.Unlock()

	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// AddKey appends a key; it becomes the fee payer only if the wallet was empty.
func (w *Wallet) AddKey(sk *contract.PrivateKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys = append(w.keys, sk)
}

// FeePayer returns the fee payer key.
func (w *Wallet) FeePayer() (*contract.PrivateKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.keys) == 0 {
		return nil, ErrNoKeys
	}
	return w.keys[0], nil
}

// RequestAccounts lists the wallet's addresses, fee payer first.
func (w *Wallet) RequestAccounts(context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.keys) == 0 {
		return nil, ErrNoKeys
	}
	out := make([]string, len(w.keys))
	for i, sk := range w.keys {
		out[i] = sk.PublicKey().Address()
	}
	return out, nil
}

// SendTransaction fills in the fee payer section of req.Transaction from
// the fee payer's current on-chain nonce and submits it. Sends are
// serialized so two calls never reuse a nonce.
func (w *Wallet) SendTransaction(ctx context.Context, req controller.SendRequest) (*controller.SendResult, error) {
	tx, err := txn.Decode(req.Transaction)
	if err != nil {
		return nil, err
	}
	if !tx.Proven() {
		return nil, fmt.Errorf("wallet: refusing to send a transaction without proofs")
	}
	if len(req.FeePayer.Memo) > MaxMemoLength {
		return nil, ErrMemoTooLong
	}
	fee, err := network.ParseMina(req.FeePayer.Fee)
	if err != nil {
		return nil, fmt.Errorf("wallet: fee: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.keys) == 0 {
		return nil, ErrNoKeys
	}
	payer := w.keys[0].PublicKey().Address()

	acct, err := w.backend.FetchAccount(ctx, payer)
	if err != nil {
		return nil, fmt.Errorf("wallet: fee payer %s: %w", payer, err)
	}
	if acct.Balance < fee {
		return nil, fmt.Errorf("wallet: fee payer balance %s MINA is below fee %s MINA",
			network.FormatMina(acct.Balance), network.FormatMina(fee))
	}

	tx.FeePayer = txn.FeePayer{
		Address: payer,
		Fee:     fmt.Sprint(fee),
		Nonce:   acct.Nonce,
	}
	tx.Memo = req.FeePayer.Memo

	hash, err := w.backend.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	w.logger.Info().
		Str("hash", hash).
		Str("fee_payer", payer).
		Uint64("nonce", acct.Nonce).
		Str("fee", network.FormatMina(fee)).
		Msg("transaction submitted")
	return &controller.SendResult{Hash: hash}, nil
}
