package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "inferpay/core/errors"
	"inferpay/core/events"
	"inferpay/core/state"
	"inferpay/storage"
)

var (
	testCustody = common.HexToAddress("0x00000000000000000000000000000000000c0570")
	testOwner   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) { r.events = append(r.events, e) }

func newTestLedger(t *testing.T, custodyBalance int64) (*Ledger, *state.Manager) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	if custodyBalance > 0 {
		if err := mgr.Credit(testCustody, "USDC", big.NewInt(custodyBalance)); err != nil {
			t.Fatalf("credit custody: %v", err)
		}
	}
	l := NewLedger(mgr, testCustody)
	l.SetNowFunc(func() int64 { return 1_700_000_000 })
	l.SetHeight(3)
	return l, mgr
}

func TestParseRequestID(t *testing.T) {
	hexID := "0x" + "11" + "00000000000000000000000000000000000000000000000000000000000022"
	id, err := ParseRequestID(hexID)
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if id[0] != 0x11 || id[31] != 0x22 {
		t.Fatalf("hex id not taken literally: %s", id)
	}
	labelA, err := ParseRequestID("job-42")
	if err != nil {
		t.Fatalf("parse label: %v", err)
	}
	labelB, _ := ParseRequestID("job-42")
	if labelA != labelB {
		t.Fatalf("label hashing not deterministic")
	}
	if _, err := ParseRequestID("   "); !errors.Is(err, coreerrors.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	l, _ := newTestLedger(t, 10_000_000)
	rec := &recordingEmitter{}
	l.SetEmitter(rec)
	id, _ := ParseRequestID("job-1")

	dep, err := l.Create(id, testOwner, "usdc", big.NewInt(10_000_000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if dep.Token != "USDC" || dep.Settled || dep.CreatedAt != 3 || dep.CreatedUnix != 1_700_000_000 {
		t.Fatalf("unexpected deposit %+v", dep)
	}
	got, err := l.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount.Cmp(big.NewInt(10_000_000)) != 0 || got.Owner != testOwner {
		t.Fatalf("unexpected stored deposit %+v", got)
	}
	if len(rec.events) != 1 || rec.events[0].EventType() != events.TypeDepositCreated {
		t.Fatalf("expected one deposit event, got %d", len(rec.events))
	}
	locked, _ := l.Locked("USDC")
	if locked.Int64() != 10_000_000 {
		t.Fatalf("expected locked 10000000, got %s", locked)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	l, _ := newTestLedger(t, 20)
	id, _ := ParseRequestID("dup")
	if _, err := l.Create(id, testOwner, "USDC", big.NewInt(5)); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := l.Create(id, testOwner, "USDC", big.NewInt(5))
	if !errors.Is(err, coreerrors.ErrDuplicateRequest) {
		t.Fatalf("expected duplicate request, got %v", err)
	}
	locked, _ := l.Locked("USDC")
	if locked.Int64() != 5 {
		t.Fatalf("duplicate changed locked total: %s", locked)
	}
}

func TestCreateValidation(t *testing.T) {
	l, _ := newTestLedger(t, 100)
	l.SetTokens([]string{"usdc"})
	id, _ := ParseRequestID("v")
	cases := []struct {
		name   string
		owner  common.Address
		token  string
		amount *big.Int
		want   error
	}{
		{"zero owner", common.Address{}, "USDC", big.NewInt(1), coreerrors.ErrInvalidArgument},
		{"zero amount", testOwner, "USDC", big.NewInt(0), coreerrors.ErrInvalidAmount},
		{"nil amount", testOwner, "USDC", nil, coreerrors.ErrInvalidAmount},
		{"unknown token", testOwner, "DAI", big.NewInt(1), coreerrors.ErrUnsupportedToken},
		{"custody shortfall", testOwner, "USDC", big.NewInt(101), coreerrors.ErrCustodyShortfall},
	}
	for _, tc := range cases {
		if _, err := l.Create(id, tc.owner, tc.token, tc.amount); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCustodyCoversAllUnsettled(t *testing.T) {
	l, _ := newTestLedger(t, 100)
	a, _ := ParseRequestID("a")
	b, _ := ParseRequestID("b")
	if _, err := l.Create(a, testOwner, "USDC", big.NewInt(60)); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := l.Create(b, testOwner, "USDC", big.NewInt(41)); !errors.Is(err, coreerrors.ErrCustodyShortfall) {
		t.Fatalf("expected custody shortfall, got %v", err)
	}
	if _, err := l.Create(b, testOwner, "USDC", big.NewInt(40)); err != nil {
		t.Fatalf("create b: %v", err)
	}
}

func TestMarkSettledOnce(t *testing.T) {
	l, _ := newTestLedger(t, 50)
	id, _ := ParseRequestID("settle")
	if _, err := l.MarkSettled(id); !errors.Is(err, coreerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := l.Create(id, testOwner, "USDC", big.NewInt(50)); err != nil {
		t.Fatalf("create: %v", err)
	}
	l.SetHeight(7)
	dep, err := l.MarkSettled(id)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !dep.Settled || dep.SettledAt != 7 {
		t.Fatalf("unexpected settled deposit %+v", dep)
	}
	if _, err := l.MarkSettled(id); !errors.Is(err, coreerrors.ErrAlreadySettled) {
		t.Fatalf("expected already settled, got %v", err)
	}
	locked, _ := l.Locked("USDC")
	if locked.Sign() != 0 {
		t.Fatalf("lock not released: %s", locked)
	}
}

func TestSettledFlagSurvivesCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := state.NewManager(db)
	if err := mgr.Credit(testCustody, "USDC", big.NewInt(9)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	id, _ := ParseRequestID("persist")
	if _, err := NewLedger(mgr, testCustody).Create(id, testOwner, "USDC", big.NewInt(9)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := NewLedger(mgr, testCustody).MarkSettled(id); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	dep, err := NewLedger(state.NewManager(db), testCustody).Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !dep.Settled || dep.Amount.Int64() != 9 {
		t.Fatalf("unexpected deposit after reload %+v", dep)
	}
}
