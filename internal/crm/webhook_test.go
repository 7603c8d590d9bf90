package crm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"rangemark.org/internal/order"
)

func testOrder() *order.Order {
	return &order.Order{
		ID:         "ord_abc",
		CustomerID: "cust-1",
		TotalCents: 64999,
	}
}

func TestNotifyDeliversEvent(t *testing.T) {
	var mu sync.Mutex
	var got []event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	w.Notify(testOrder(), order.StatusHoldMultiFirearm, order.StatusPaid)
	w.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].OrderID != "ord_abc" || got[0].NewStatus != "paid" || got[0].PreviousStatus != "hold_multi_firearm" {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestDeliveryRetriesOnServerError(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	w.backoffBase = time.Millisecond
	w.Notify(testOrder(), "", order.StatusPaid)
	w.Close()

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestNotifyNeverBlocksWhenCRMIsDown(t *testing.T) {
	w := NewWebhook("http://127.0.0.1:0")
	w.backoffBase = time.Millisecond
	defer w.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize*2; i++ {
			w.Notify(testOrder(), "", order.StatusPaid)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked")
	}
}
