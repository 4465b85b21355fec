package common

import (
	"errors"
	"testing"

	coreerrors "inferpay/core/errors"
)

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 3}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 3 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1, 0)
	if !errors.Is(err, ErrQuotaRequestsExceeded) || !errors.Is(err, coreerrors.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaAmount(t *testing.T) {
	q := Quota{MaxAmountPerEpoch: 1000, EpochSeconds: 60}
	epoch := q.EpochAt(600)
	if epoch != 10 {
		t.Fatalf("unexpected epoch %d", epoch)
	}
	next, err := CheckQuota(q, epoch, QuotaNow{EpochID: epoch}, 0, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := CheckQuota(q, epoch, next, 0, 1); !errors.Is(err, ErrQuotaAmountExceeded) {
		t.Fatalf("expected ErrQuotaAmountExceeded, got %v", err)
	}
	rollover, err := CheckQuota(q, q.EpochAt(660), next, 0, 500)
	if err != nil || rollover.AmountUsed != 500 {
		t.Fatalf("unexpected rollover %+v err %v", rollover, err)
	}
}

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	view := pauses{ModuleSettlement: true}
	if err := Guard(view, ModuleSettlement); !errors.Is(err, coreerrors.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if err := Guard(view, ModuleDeposits); err != nil {
		t.Fatalf("deposits should be open: %v", err)
	}
	if err := Guard(nil, ModulePricing); err != nil {
		t.Fatalf("nil view should never pause: %v", err)
	}
}
