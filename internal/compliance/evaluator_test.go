package compliance

import (
	"context"
	"testing"
	"time"
)

type fakeHistory struct {
	units       int
	verifiedFFL bool
	lastSince   time.Time
}

func (f *fakeHistory) FirearmUnitsSince(ctx context.Context, customerID string, since time.Time) (int, error) {
	f.lastSince = since
	return f.units, nil
}

func (f *fakeHistory) HasVerifiedFFL(ctx context.Context, customerID string) (bool, error) {
	return f.verifiedFFL, nil
}

func newEvaluator(t *testing.T, hist *fakeHistory) *Evaluator {
	t.Helper()
	store, err := NewConfigStore(testSettings())
	if err != nil {
		t.Fatal(err)
	}
	return &Evaluator{Config: store, History: hist}
}

func TestEvaluateOverLimit(t *testing.T) {
	// 4 prior units + 2 in cart = 6 > 5.
	e := newEvaluator(t, &fakeHistory{units: 4, verifiedFFL: true})

	d, err := e.Evaluate(context.Background(), "cust-1", []CartLine{{Quantity: 2, IsFirearm: true}})
	if err != nil {
		t.Fatal(err)
	}
	if d.HoldType != HoldMultiFirearm {
		t.Fatalf("hold = %s, want multi_firearm", d.HoldType)
	}
	if d.FirearmCountInWindow != 6 || d.LimitAtEvaluation != 5 {
		t.Fatalf("unexpected counts: %+v", d)
	}
}

func TestEvaluateAtLimit(t *testing.T) {
	// 4 prior + 1 in cart = 5, which is not > 5.
	e := newEvaluator(t, &fakeHistory{units: 4, verifiedFFL: true})

	d, err := e.Evaluate(context.Background(), "cust-1", []CartLine{{Quantity: 1, IsFirearm: true}})
	if err != nil {
		t.Fatal(err)
	}
	if d.HoldType != HoldNone {
		t.Fatalf("hold = %s, want none", d.HoldType)
	}
}

func TestEvaluateCartOnlyOverLimit(t *testing.T) {
	// No prior history; a single six-firearm cart still trips the limit.
	e := newEvaluator(t, &fakeHistory{units: 0, verifiedFFL: true})

	d, err := e.Evaluate(context.Background(), "cust-1", []CartLine{{Quantity: 6, IsFirearm: true}})
	if err != nil {
		t.Fatal(err)
	}
	if d.HoldType != HoldMultiFirearm {
		t.Fatalf("hold = %s, want multi_firearm", d.HoldType)
	}
}

func TestEvaluateNoFirearmLinesNeverHolds(t *testing.T) {
	// Already over the limit from history, but the cart has accessories only.
	e := newEvaluator(t, &fakeHistory{units: 50, verifiedFFL: false})

	d, err := e.Evaluate(context.Background(), "cust-1", []CartLine{{Quantity: 3, IsFirearm: false}})
	if err != nil {
		t.Fatal(err)
	}
	if d.HoldType != HoldNone {
		t.Fatalf("hold = %s, want none", d.HoldType)
	}
	if d.FirearmCountInWindow != 0 {
		t.Fatalf("window count should be skipped, got %d", d.FirearmCountInWindow)
	}
}

func TestEvaluateFFLHold(t *testing.T) {
	e := newEvaluator(t, &fakeHistory{units: 0, verifiedFFL: false})

	d, err := e.Evaluate(context.Background(), "cust-1", []CartLine{{Quantity: 1, IsFirearm: true}})
	if err != nil {
		t.Fatal(err)
	}
	if d.HoldType != HoldFFLRequired {
		t.Fatalf("hold = %s, want ffl_required", d.HoldType)
	}
}

func TestEvaluateFFLTakesPrecedence(t *testing.T) {
	// Both conditions apply; FFL wins because consignee routing depends on it.
	e := newEvaluator(t, &fakeHistory{units: 10, verifiedFFL: false})

	d, err := e.Evaluate(context.Background(), "cust-1", []CartLine{{Quantity: 2, IsFirearm: true}})
	if err != nil {
		t.Fatal(err)
	}
	if d.HoldType != HoldFFLRequired {
		t.Fatalf("hold = %s, want ffl_required", d.HoldType)
	}
	if d.FirearmCountInWindow != 12 {
		t.Fatalf("window count = %d, want 12", d.FirearmCountInWindow)
	}
	if !d.MultiFirearmAlsoApplies {
		t.Fatal("masked limit breach not flagged")
	}
}

func TestEvaluateTogglesDisabled(t *testing.T) {
	hist := &fakeHistory{units: 10, verifiedFFL: false}
	e := newEvaluator(t, hist)

	off := false
	if _, err := e.Config.Update(SettingsPatch{MultiFirearmHoldEnabled: &off, FFLHoldEnabled: &off}); err != nil {
		t.Fatal(err)
	}

	d, err := e.Evaluate(context.Background(), "cust-1", []CartLine{{Quantity: 2, IsFirearm: true}})
	if err != nil {
		t.Fatal(err)
	}
	if d.HoldType != HoldNone {
		t.Fatalf("hold = %s, want none with toggles off", d.HoldType)
	}
}

func TestEvaluateWindowIsTrailing(t *testing.T) {
	hist := &fakeHistory{units: 0, verifiedFFL: true}
	e := newEvaluator(t, hist)

	before := time.Now().UTC().AddDate(0, 0, -30)
	if _, err := e.Evaluate(context.Background(), "cust-1", []CartLine{{Quantity: 1, IsFirearm: true}}); err != nil {
		t.Fatal(err)
	}
	after := time.Now().UTC().AddDate(0, 0, -30)

	if hist.lastSince.Before(before) || hist.lastSince.After(after) {
		t.Fatalf("window start %v outside [%v, %v]", hist.lastSince, before, after)
	}
}

func TestHoldTypeRoundTrip(t *testing.T) {
	for _, h := range []HoldType{HoldNone, HoldFFLRequired, HoldMultiFirearm} {
		parsed, err := ParseHoldType(h.String())
		if err != nil {
			t.Fatalf("parse %s: %v", h, err)
		}
		if parsed != h {
			t.Fatalf("round trip %s -> %s", h, parsed)
		}
	}
	if _, err := ParseHoldType("bogus"); err == nil {
		t.Fatal("expected error for unknown hold type")
	}
}
