package payload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/registerlabs/ledgerflow/internal/engine"
	"github.com/registerlabs/ledgerflow/internal/ledger"
	"github.com/registerlabs/ledgerflow/model"
)

// fakeWallet encrypts by prefixing "enc:{wallet}:" and decrypts by stripping
// it, so tests can assert which wallet a payload was encrypted for.
type fakeWallet struct {
	ledger.WalletClient
	encryptErr error
}

func (f *fakeWallet) EncryptPayload(_ context.Context, wallet string, plaintext []byte) ([]byte, error) {
	if f.encryptErr != nil {
		return nil, f.encryptErr
	}
	return []byte(fmt.Sprintf("enc:%s:%s", wallet, plaintext)), nil
}

func (f *fakeWallet) DecryptPayload(_ context.Context, wallet string, ciphertext []byte) ([]byte, error) {
	prefix := []byte("enc:" + wallet + ":")
	if !bytes.HasPrefix(ciphertext, prefix) {
		return nil, errors.New("decryption failed")
	}
	return bytes.TrimPrefix(ciphertext, prefix), nil
}

type fakeRegister struct {
	ledger.RegisterClient
	txs map[string]ledger.Transaction
}

func (f *fakeRegister) GetTransaction(_ context.Context, _, txID string) (ledger.Transaction, error) {
	tx, ok := f.txs[txID]
	if !ok {
		return ledger.Transaction{}, model.NewNotFoundError("transaction not found")
	}
	return tx, nil
}

func mustData(t *testing.T, raw string) model.Data {
	t.Helper()
	d, err := model.DataFromJSON([]byte(raw))
	if err != nil {
		t.Fatalf("DataFromJSON: %v", err)
	}
	return d
}

func TestCreateEncryptedPayloads(t *testing.T) {
	r := NewResolver(&fakeRegister{}, &fakeWallet{}, nil)
	disclosures := []engine.DisclosureResult{
		{ParticipantID: "buyer", Wildcard: true, Data: mustData(t, `{"amount": 100}`)},
		{ParticipantID: "seller", Fields: []string{"amount"}, Data: mustData(t, `{"amount": 100}`)},
	}
	wallets := map[string]string{"buyer": "wallet-buyer", "seller": "wallet-seller"}

	payloads, err := r.CreateEncryptedPayloads(context.Background(), disclosures, wallets)
	if err != nil {
		t.Fatalf("CreateEncryptedPayloads error: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("got %d payloads, want 2", len(payloads))
	}
	if len(payloads[0].WalletAccess) != 1 || payloads[0].WalletAccess[0] != "wallet-buyer" {
		t.Errorf("WalletAccess = %v", payloads[0].WalletAccess)
	}
	if !bytes.HasPrefix(payloads[0].Data, []byte("enc:wallet-buyer:")) {
		t.Errorf("payload not encrypted for buyer wallet: %s", payloads[0].Data)
	}
}

func TestCreateEncryptedPayloads_SkipsParticipantWithoutWallet(t *testing.T) {
	r := NewResolver(&fakeRegister{}, &fakeWallet{}, nil)
	disclosures := []engine.DisclosureResult{
		{ParticipantID: "buyer", Data: mustData(t, `{"a": 1}`)},
		{ParticipantID: "observer", Data: mustData(t, `{"a": 1}`)},
	}
	wallets := map[string]string{"buyer": "wallet-buyer"}

	payloads, err := r.CreateEncryptedPayloads(context.Background(), disclosures, wallets)
	if err != nil {
		t.Fatalf("CreateEncryptedPayloads error: %v", err)
	}
	if len(payloads) != 1 {
		t.Errorf("got %d payloads, want 1 (observer has no wallet)", len(payloads))
	}
}

func TestCreateEncryptedPayloads_ArgChecks(t *testing.T) {
	r := NewResolver(&fakeRegister{}, &fakeWallet{}, nil)
	wallets := map[string]string{"buyer": "wallet-buyer"}
	disclosures := []engine.DisclosureResult{{ParticipantID: "buyer", Data: model.Data{}}}

	if _, err := r.CreateEncryptedPayloads(context.Background(), nil, wallets); model.CodeOf(err) != model.ErrBadRequest {
		t.Errorf("empty disclosures: code = %q", model.CodeOf(err))
	}
	if _, err := r.CreateEncryptedPayloads(context.Background(), disclosures, nil); model.CodeOf(err) != model.ErrBadRequest {
		t.Errorf("empty wallets: code = %q", model.CodeOf(err))
	}
}

func TestCreateEncryptedPayloads_EncryptionFailure(t *testing.T) {
	r := NewResolver(&fakeRegister{}, &fakeWallet{encryptErr: errors.New("wallet unavailable")}, nil)
	disclosures := []engine.DisclosureResult{{ParticipantID: "buyer", Data: model.Data{}}}
	wallets := map[string]string{"buyer": "wallet-buyer"}

	if _, err := r.CreateEncryptedPayloads(context.Background(), disclosures, wallets); err == nil {
		t.Fatal("expected encryption error to propagate")
	}
}

func historicalTx(txID, wallet, plaintext string) ledger.Transaction {
	return ledger.Transaction{
		TxID: txID,
		Payloads: []ledger.TransactionPayload{
			{WalletAccess: []string{wallet}, Data: []byte("enc:" + wallet + ":" + plaintext)},
		},
	}
}

func TestAggregateHistoricalData(t *testing.T) {
	reg := &fakeRegister{txs: map[string]ledger.Transaction{
		"tx-1": historicalTx("tx-1", "wallet-buyer", `{"amount": 100, "note": "first"}`),
		"tx-2": historicalTx("tx-2", "wallet-buyer", `{"note": "second", "status": "ok"}`),
	}}
	r := NewResolver(reg, &fakeWallet{}, nil)

	got, err := r.AggregateHistoricalData(context.Background(), "reg-1", []string{"tx-1", "tx-2"}, "wallet-buyer", nil)
	if err != nil {
		t.Fatalf("AggregateHistoricalData error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got = %v, want 3 fields", got)
	}
	// Later transaction wins per field.
	if v, _ := got["note"].AsString(); v != "second" {
		t.Errorf("note = %q, want second", v)
	}
}

func TestAggregateHistoricalData_FieldFilter(t *testing.T) {
	reg := &fakeRegister{txs: map[string]ledger.Transaction{
		"tx-1": historicalTx("tx-1", "wallet-buyer", `{"amount": 100, "secret": true}`),
	}}
	r := NewResolver(reg, &fakeWallet{}, nil)

	got, err := r.AggregateHistoricalData(context.Background(), "reg-1", []string{"tx-1"}, "wallet-buyer", []string{"amount"})
	if err != nil {
		t.Fatalf("AggregateHistoricalData error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got = %v, want amount only", got)
	}
	if _, ok := got["secret"]; ok {
		t.Error("filtered field leaked through")
	}
}

func TestAggregateHistoricalData_SkipsInaccessiblePayloads(t *testing.T) {
	reg := &fakeRegister{txs: map[string]ledger.Transaction{
		"tx-1": historicalTx("tx-1", "wallet-other", `{"amount": 100}`),
	}}
	r := NewResolver(reg, &fakeWallet{}, nil)

	got, err := r.AggregateHistoricalData(context.Background(), "reg-1", []string{"tx-1"}, "wallet-buyer", nil)
	if err != nil {
		t.Fatalf("AggregateHistoricalData error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got = %v, want empty for inaccessible payloads", got)
	}
}

func TestAggregateHistoricalData_ArgChecks(t *testing.T) {
	r := NewResolver(&fakeRegister{}, &fakeWallet{}, nil)

	if _, err := r.AggregateHistoricalData(context.Background(), "reg-1", []string{"tx-1"}, "", nil); model.CodeOf(err) != model.ErrBadRequest {
		t.Errorf("empty wallet: code = %q", model.CodeOf(err))
	}

	got, err := r.AggregateHistoricalData(context.Background(), "reg-1", nil, "wallet-buyer", nil)
	if err != nil {
		t.Fatalf("empty txIDs should not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got = %v, want empty map", got)
	}
}
