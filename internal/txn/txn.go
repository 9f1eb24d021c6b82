// Package txn holds the transaction description that crosses the worker
// boundary: a fee payer section filled in by the wallet and one account
// update per contract method call, each carrying its Groth16 proof.
package txn

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"zkapp/internal/contract"
)

// FeePayer is the account paying for the transaction. Left empty by the
// pipeline; the wallet fills it in before submission.
type FeePayer struct {
	Address string `json:"address,omitempty"`
	Fee     string `json:"fee,omitempty"`
	Nonce   uint64 `json:"nonce"`
}

// AccountUpdate is one contract method call against a zkApp account.
type AccountUpdate struct {
	Address      string                 `json:"address"`
	Contract     string                 `json:"contract"`
	Method       string                 `json:"method"`
	PublicInputs []string               `json:"publicInputs"`
	AppState     []contract.StateUpdate `json:"appState"`
	Proof        []byte                 `json:"proof,omitempty"`
}

// Proven reports whether the update carries a proof.
func (u *AccountUpdate) Proven() bool {
	return len(u.Proof) > 0
}

// Transaction is the serializable transaction description.
type Transaction struct {
	FeePayer       FeePayer        `json:"feePayer"`
	Memo           string          `json:"memo"`
	AccountUpdates []AccountUpdate `json:"accountUpdates"`
}

// ErrNoAccountUpdates is returned when decoding a transaction with nothing to apply.
var ErrNoAccountUpdates = errors.New("txn: transaction has no account updates")

// Proven reports whether every account update carries a proof.
func (t *Transaction) Proven() bool {
	if len(t.AccountUpdates) == 0 {
		return false
	}
	for i := range t.AccountUpdates {
		if !t.AccountUpdates[i].Proven() {
			return false
		}
	}
	return true
}

// Encode returns the JSON form handed to wallets.
func Encode(t *Transaction) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	return string(b), nil
}

// Decode parses the JSON form produced by Encode.
func Decode(s string) (*Transaction, error) {
	var t Transaction
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if len(t.AccountUpdates) == 0 {
		return nil, ErrNoAccountUpdates
	}
	return &t, nil
}

// Hash identifies a transaction: base58(sha256(json)).
func Hash(t *Transaction) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to hash transaction: %w", err)
	}
	sum := sha256.Sum256(b)
	return base58.Encode(sum[:]), nil
}
