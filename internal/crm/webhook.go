// Package crm pushes order status transitions to the storefront CRM over a
// webhook. Delivery is asynchronous and best-effort: a slow or down CRM can
// never stall checkout or a staff action.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"rangemark.org/internal/obs"
	"rangemark.org/internal/order"
)

const defaultQueueSize = 256

// event is one status transition on the wire.
type event struct {
	OrderID        string    `json:"order_id"`
	CustomerID     string    `json:"customer_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	HoldType       string    `json:"hold_type"`
	TotalCents     int64     `json:"total_cents"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Webhook implements order.SyncEmitter. Notify enqueues; a single background
// worker drains the queue and posts each event with bounded retries. When
// the queue is full the event is dropped with a warning rather than blocking
// the caller.
type Webhook struct {
	url        string
	httpClient *http.Client

	queue chan event
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once

	// attempts and backoffBase are overridden in tests.
	attempts    int
	backoffBase time.Duration
}

var _ order.SyncEmitter = (*Webhook)(nil)

// NewWebhook starts the delivery worker. Call Close to drain and stop it.
func NewWebhook(url string) *Webhook {
	w := &Webhook{
		url:         url,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		queue:       make(chan event, defaultQueueSize),
		done:        make(chan struct{}),
		attempts:    3,
		backoffBase: 500 * time.Millisecond,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Notify implements order.SyncEmitter. It never blocks.
func (w *Webhook) Notify(o *order.Order, previous, next order.Status) {
	ev := event{
		OrderID:        o.ID,
		CustomerID:     o.CustomerID,
		PreviousStatus: string(previous),
		NewStatus:      string(next),
		HoldType:       o.HoldType.String(),
		TotalCents:     o.TotalCents,
		OccurredAt:     time.Now().UTC(),
	}
	select {
	case w.queue <- ev:
		obs.SetSyncQueueDepth(len(w.queue))
	default:
		obs.Warn("crm sync queue full, dropping event", map[string]any{
			"order_id": o.ID,
			"next":     string(next),
		})
	}
}

// Close stops accepting events and waits for the queue to drain.
func (w *Webhook) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
}

func (w *Webhook) run() {
	defer w.wg.Done()
	for {
		select {
		case ev := <-w.queue:
			w.deliver(ev)
			obs.SetSyncQueueDepth(len(w.queue))
		case <-w.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case ev := <-w.queue:
					w.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (w *Webhook) deliver(ev event) {
	body, err := json.Marshal(ev)
	if err != nil {
		obs.Error("marshal crm event", map[string]any{"order_id": ev.OrderID, "error": err.Error()})
		return
	}

	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.backoffBase << (attempt - 2))
		}
		lastErr = w.post(body)
		if lastErr == nil {
			return
		}
	}
	obs.Error("crm sync delivery failed", map[string]any{
		"order_id": ev.OrderID,
		"next":     ev.NewStatus,
		"attempts": w.attempts,
		"error":    lastErr.Error(),
	})
}

func (w *Webhook) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("crm webhook returned %d", resp.StatusCode)
	}
	return nil
}
