package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"inferpay/storage"
)

type record struct {
	Name   string
	Amount *big.Int
	Flag   bool
}

func TestKVRoundTripAcrossCommit(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	if err := m.KVPut([]byte("rec"), &record{Name: "a", Amount: big.NewInt(7), Flag: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var inTx record
	ok, err := m.KVGet([]byte("rec"), &inTx)
	if err != nil || !ok {
		t.Fatalf("read own write: ok=%v err=%v", ok, err)
	}
	if len(db.Keys()) != 0 {
		t.Fatalf("write reached database before commit")
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	next := NewManager(db)
	var out record
	ok, err = next.KVGet([]byte("rec"), &out)
	if err != nil || !ok {
		t.Fatalf("get after commit: ok=%v err=%v", ok, err)
	}
	if out.Name != "a" || out.Amount.Int64() != 7 || !out.Flag {
		t.Fatalf("unexpected record %+v", out)
	}
}

func TestDiscardLeavesNoTrace(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	if err := m.Credit(common.HexToAddress("0x01"), "usdc", big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	m.Discard()
	if len(db.Keys()) != 0 {
		t.Fatalf("discarded unit wrote %d keys", len(db.Keys()))
	}
	if err := m.KVPut([]byte("x"), uint64(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	alice := common.HexToAddress("0xaa")
	bob := common.HexToAddress("0xbb")
	if err := m.Credit(alice, "USDC", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := m.Transfer(alice, bob, "usdc", big.NewInt(60)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := m.Transfer(alice, bob, "USDC", big.NewInt(41)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := m.Transfer(alice, alice, "USDC", big.NewInt(40)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	a, _ := m.Balance(alice, "USDC")
	b, _ := m.Balance(bob, "USDC")
	if a.Int64() != 40 || b.Int64() != 60 {
		t.Fatalf("unexpected balances alice=%s bob=%s", a, b)
	}
}

func TestHeight(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	h, err := m.Height()
	if err != nil || h != 0 {
		t.Fatalf("fresh height: %d %v", h, err)
	}
	if err := m.SetHeight(5); err != nil {
		t.Fatalf("set height: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	h, _ = NewManager(db).Height()
	if h != 5 {
		t.Fatalf("expected 5, got %d", h)
	}
}
