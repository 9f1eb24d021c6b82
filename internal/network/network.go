// Package network reads account state from a chain endpoint and submits
// transactions to it.
package network

import (
	"context"
	"errors"

	"zkapp/internal/txn"
)

// LocalEndpoint selects the file-backed local ledger instead of a remote node.
const LocalEndpoint = "local"

var (
	// ErrAccountNotFound is returned when the queried account does not exist.
	ErrAccountNotFound = errors.New("network: account not found")

	// ErrBadRequest is returned when the endpoint rejects the query itself.
	ErrBadRequest = errors.New("network: bad request")

	// ErrUnreachable wraps transport failures and server errors.
	ErrUnreachable = errors.New("network: node unreachable")
)

// Account is a snapshot of an on-chain account.
type Account struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`

	// Contract is the name of the deployed contract, empty for plain accounts.
	Contract string   `json:"contract,omitempty"`
	AppState []string `json:"appState,omitempty"`
}

// IsZkApp reports whether a contract is deployed on the account.
func (a *Account) IsZkApp() bool {
	return a.Contract != ""
}

// Fetcher reads account state. Implementations never cache.
type Fetcher interface {
	FetchAccount(ctx context.Context, address string) (*Account, error)
}

// Submitter accepts a signed-off transaction and returns its hash.
type Submitter interface {
	Submit(ctx context.Context, tx *txn.Transaction) (string, error)
}
