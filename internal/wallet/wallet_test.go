package wallet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkapp/internal/controller"
	"zkapp/internal/network"
	"zkapp/internal/txn"
)

type fakeBackend struct {
	accounts  map[string]*network.Account
	submitted []*txn.Transaction
	submitErr error
}

func (f *fakeBackend) FetchAccount(_ context.Context, address string) (*network.Account, error) {
	a, ok := f.accounts[address]
	if !ok {
		return nil, network.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeBackend) Submit(_ context.Context, tx *txn.Transaction) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, tx)
	return "hash-1", nil
}

func provenTx(t *testing.T) string {
	t.Helper()
	s, err := txn.Encode(&txn.Transaction{
		AccountUpdates: []txn.AccountUpdate{{
			Address:      "B62app",
			Contract:     "Add",
			Method:       "add",
			PublicInputs: []string{"3"},
			Proof:        []byte{1, 2, 3},
		}},
	})
	require.NoError(t, err)
	return s
}

func funded(t *testing.T, balance, nonce uint64) (*Wallet, *fakeBackend, string) {
	t.Helper()
	be := &fakeBackend{accounts: map[string]*network.Account{}}
	w, err := Generate("test", be, zerolog.Nop())
	require.NoError(t, err)
	accts, err := w.RequestAccounts(context.Background())
	require.NoError(t, err)
	be.accounts[accts[0]] = &network.Account{Address: accts[0], Balance: balance, Nonce: nonce}
	return w, be, accts[0]
}

func TestSendFillsFeePayer(t *testing.T) {
	w, be, payer := funded(t, 5*network.NanominaPerMina, 7)

	res, err := w.SendTransaction(context.Background(), controller.SendRequest{
		Transaction: provenTx(t),
		FeePayer:    controller.FeePayerConfig{Fee: "0.1", Memo: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hash-1", res.Hash)

	require.Len(t, be.submitted, 1)
	sent := be.submitted[0]
	assert.Equal(t, payer, sent.FeePayer.Address)
	assert.Equal(t, "100000000", sent.FeePayer.Fee)
	assert.Equal(t, uint64(7), sent.FeePayer.Nonce)
	assert.Equal(t, "hello", sent.Memo)
}

func TestSendRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unproven", func(t *testing.T) {
		w, _, _ := funded(t, network.NanominaPerMina, 0)
		s, err := txn.Encode(&txn.Transaction{AccountUpdates: []txn.AccountUpdate{{Method: "add"}}})
		require.NoError(t, err)
		_, err = w.SendTransaction(ctx, controller.SendRequest{Transaction: s, FeePayer: controller.FeePayerConfig{Fee: "0.1"}})
		assert.Error(t, err)
	})

	t.Run("memo", func(t *testing.T) {
		w, _, _ := funded(t, network.NanominaPerMina, 0)
		_, err := w.SendTransaction(ctx, controller.SendRequest{
			Transaction: provenTx(t),
			FeePayer:    controller.FeePayerConfig{Fee: "0.1", Memo: "this memo is definitely longer than thirty two bytes"},
		})
		assert.ErrorIs(t, err, ErrMemoTooLong)
	})

	t.Run("balance", func(t *testing.T) {
		w, be, _ := funded(t, 1000, 0)
		_, err := w.SendTransaction(ctx, controller.SendRequest{Transaction: provenTx(t), FeePayer: controller.FeePayerConfig{Fee: "0.1"}})
		assert.Error(t, err)
		assert.Empty(t, be.submitted)
	})

	t.Run("unfunded", func(t *testing.T) {
		be := &fakeBackend{accounts: map[string]*network.Account{}}
		w, err := Generate("empty", be, zerolog.Nop())
		require.NoError(t, err)
		_, err = w.SendTransaction(ctx, controller.SendRequest{Transaction: provenTx(t), FeePayer: controller.FeePayerConfig{Fee: "0.1"}})
		assert.ErrorIs(t, err, network.ErrAccountNotFound)
	})

	t.Run("submit error is passed through", func(t *testing.T) {
		w, be, _ := funded(t, network.NanominaPerMina, 0)
		be.submitErr = errors.New("node says no")
		_, err := w.SendTransaction(ctx, controller.SendRequest{Transaction: provenTx(t), FeePayer: controller.FeePayerConfig{Fee: "0.1"}})
		assert.EqualError(t, err, "node says no")
	})

	t.Run("no keys", func(t *testing.T) {
		w := New("none", nil, &fakeBackend{}, zerolog.Nop())
		_, err := w.RequestAccounts(ctx)
		assert.ErrorIs(t, err, ErrNoKeys)
	})
}

func TestSaveLoad(t *testing.T) {
	w, be, payer := funded(t, network.NanominaPerMina, 0)
	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, w.Save(path))

	loaded, err := LoadWallet(path, be, zerolog.Nop())
	require.NoError(t, err)
	accts, err := loaded.RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{payer}, accts)

	sk, err := loaded.FeePayer()
	require.NoError(t, err)
	orig, _ := w.FeePayer()
	assert.Equal(t, orig.String(), sk.String())
}
