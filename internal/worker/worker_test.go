package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rangemark.org/internal/compliance"
	"rangemark.org/internal/gateway"
	"rangemark.org/internal/order"
)

type flakyGateway struct {
	mu              sync.Mutex
	captureFailures int
	voidFailures    int
}

func (f *flakyGateway) Authorize(ctx context.Context, req gateway.AuthorizeRequest) (gateway.Result, error) {
	return gateway.Result{TransactionID: "auth-" + req.IdempotencyKey}, nil
}

func (f *flakyGateway) Capture(ctx context.Context, authID string) (gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureFailures > 0 {
		f.captureFailures--
		return gateway.Result{}, gateway.ErrUnavailable
	}
	return gateway.Result{TransactionID: "cap-" + authID}, nil
}

func (f *flakyGateway) Void(ctx context.Context, authID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voidFailures > 0 {
		f.voidFailures--
		return gateway.ErrUnavailable
	}
	return nil
}

func TestSweepRetriesParkedCapture(t *testing.T) {
	ctx := context.Background()
	store := order.NewInMemory()
	gw := &flakyGateway{captureFailures: 1}
	m := order.NewMachine(store, gw, nil)

	o := &order.Order{
		ID:         "ord_parked",
		CustomerID: "cust-1",
		Lines:      []order.Line{{SKU: "CASE-1", Quantity: 1, UnitPriceCents: 4999}},
		Currency:   "USD",
		TotalCents: 4999,
	}
	_, err := m.Create(ctx, o, compliance.HoldDecision{HoldType: compliance.HoldNone}, gateway.PaymentDetails{Token: "tok"})
	if !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected parked capture, got %v", err)
	}

	w := &Worker{Store: store, Machine: m, Interval: time.Minute}
	if err := w.SweepOnce(ctx); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}

	settled, _ := store.GetOrder(ctx, "ord_parked")
	if settled.Status != order.StatusPaid {
		t.Fatalf("status = %s, want paid", settled.Status)
	}
}

func TestSweepRetriesParkedVoid(t *testing.T) {
	ctx := context.Background()
	store := order.NewInMemory()
	gw := &flakyGateway{voidFailures: 1}
	m := order.NewMachine(store, gw, nil)

	o := &order.Order{
		ID:         "ord_heldvoid",
		CustomerID: "cust-1",
		Lines:      []order.Line{{SKU: "RIFLE-10", Quantity: 1, UnitPriceCents: 64999, IsFirearm: true}},
		Currency:   "USD",
		TotalCents: 64999,
	}
	if _, err := m.Create(ctx, o, compliance.HoldDecision{HoldType: compliance.HoldFFLRequired}, gateway.PaymentDetails{Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Void(ctx, o.ID); !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected parked void, got %v", err)
	}

	w := &Worker{Store: store, Machine: m, Interval: time.Minute}
	if err := w.SweepOnce(ctx); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}

	settled, _ := store.GetOrder(ctx, o.ID)
	if settled.Status != order.StatusVoided {
		t.Fatalf("status = %s, want voided", settled.Status)
	}
}

func TestSweepEmptyStoreIsQuiet(t *testing.T) {
	w := &Worker{Store: order.NewInMemory(), Machine: order.NewMachine(order.NewInMemory(), &flakyGateway{}, nil), Interval: time.Minute}
	if err := w.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
}
