// Package worker re-drives orders parked in a recoverable payment failure
// state. A capture or void that lost its race with a flaky gateway is not
// abandoned: the worker sweeps capture_failed and void_failed orders on a
// fixed interval and retries them until they settle.
package worker

import (
	"context"
	"errors"
	"time"

	"rangemark.org/internal/obs"
	"rangemark.org/internal/order"
)

type Worker struct {
	Store    order.Store
	Machine  *order.Machine
	Interval time.Duration
}

// Run sweeps immediately, then on every tick until the context is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if err := w.SweepOnce(ctx); err != nil {
			obs.Error("retry sweep failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce retries every parked order once. A single order's failure never
// stops the sweep.
func (w *Worker) SweepOnce(ctx context.Context) error {
	parked, err := w.Store.ListRetryable(ctx)
	if err != nil {
		return err
	}
	if len(parked) == 0 {
		return nil
	}
	obs.Log(map[string]any{"level": "info", "msg": "retry sweep", "parked": len(parked)})

	for _, o := range parked {
		if err := w.retry(ctx, o); err != nil {
			obs.Warn("retry failed", map[string]any{
				"order_id": o.ID,
				"status":   string(o.Status),
				"error":    err.Error(),
			})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (w *Worker) retry(ctx context.Context, o *order.Order) error {
	var err error
	switch o.Status {
	case order.StatusCaptureFailed:
		_, err = w.Machine.RetryCapture(ctx, o.ID)
	case order.StatusVoidFailed:
		_, err = w.Machine.RetryVoid(ctx, o.ID)
	default:
		return nil
	}
	// Another actor settled the order between listing and retrying.
	if errors.Is(err, order.ErrInvalidTransition) {
		return nil
	}
	return err
}
