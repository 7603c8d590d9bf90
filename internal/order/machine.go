package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rangemark.org/internal/compliance"
	"rangemark.org/internal/gateway"
	"rangemark.org/internal/ids"
	"rangemark.org/internal/obs"
)

// Machine drives order lifecycle transitions. All mutating operations on a
// given order id are serialized through a per-order lock, so the
// check-then-act around capture and void can never race with itself. The
// gateway-side idempotency key (always the authorize transaction id) is the
// second line of defense, not a substitute for the lock.
type Machine struct {
	store   Store
	gateway gateway.Adapter
	emitter SyncEmitter
	locks   *keyedMutex
}

// NewMachine wires the state machine. A nil emitter disables CRM sync.
func NewMachine(store Store, gw gateway.Adapter, emitter SyncEmitter) *Machine {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Machine{
		store:   store,
		gateway: gw,
		emitter: emitter,
		locks:   newKeyedMutex(),
	}
}

// Create authorizes payment and persists the order in its initial state.
// A declined or unreachable gateway means no order is written at all. With
// no hold the authorization is captured immediately; capture failure after
// a successful authorize parks the order in capture_failed for retry, never
// a silent success.
func (m *Machine) Create(ctx context.Context, o *Order, decision compliance.HoldDecision, details gateway.PaymentDetails) (*Order, error) {
	now := time.Now().UTC()
	o.Status = StatusCreated
	o.HoldType = decision.HoldType
	o.FirearmsWindowCount = decision.FirearmCountInWindow
	o.LimitAtCreation = decision.LimitAtEvaluation
	o.SettingsVersion = decision.SettingsVersion
	o.MultiHoldOutstanding = decision.MultiFirearmAlsoApplies
	o.CreatedAt = now
	o.UpdatedAt = now

	authTxID := ids.Payment()
	res, err := m.gateway.Authorize(ctx, gateway.AuthorizeRequest{
		AmountCents:    o.TotalCents,
		Currency:       o.Currency,
		Details:        details,
		IdempotencyKey: authTxID,
	})
	if err != nil {
		// Checkout fails cleanly: the order row is never written.
		return nil, fmt.Errorf("authorize order %s: %w", o.ID, err)
	}
	o.AuthTransactionID = res.TransactionID

	switch decision.HoldType {
	case compliance.HoldFFLRequired:
		o.Status = StatusHoldFFL
	case compliance.HoldMultiFirearm:
		o.Status = StatusHoldMultiFirearm
	case compliance.HoldNone:
		o.Status = StatusCreated
	}

	authTx := PaymentTransaction{
		ID:                   authTxID,
		OrderID:              o.ID,
		Kind:                 TxAuthorize,
		GatewayTransactionID: res.TransactionID,
		AmountCents:          o.TotalCents,
		Result:               TxApproved,
		CreatedAt:            now,
	}
	if err := m.store.CreateOrder(ctx, o, authTx); err != nil {
		return nil, fmt.Errorf("persist order %s: %w", o.ID, err)
	}

	if o.Status.Held() {
		m.emitter.Notify(o, "", o.Status)
		return o, nil
	}

	// No hold: capture right away under the order lock.
	unlock := m.locks.Lock(o.ID)
	defer unlock()
	if err := m.capture(ctx, o, StatusCreated); err != nil {
		return o, err
	}
	m.emitter.Notify(o, StatusCreated, o.Status)
	return o, nil
}

// StaffClear releases a hold whose precondition is satisfied and captures
// the authorization. For an FFL hold the attached FFL must be verified;
// for a multi-firearm hold an explicit staff override is required.
func (m *Machine) StaffClear(ctx context.Context, orderID string, override bool, overrideReason string) (*Order, error) {
	unlock := m.locks.Lock(orderID)
	defer unlock()

	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case StatusHoldFFL:
		if o.FFL == nil || !o.FFL.Verified {
			return nil, fmt.Errorf("%w: ffl not verified", ErrPreconditionNotMet)
		}
	case StatusHoldMultiFirearm:
		if !override {
			return nil, fmt.Errorf("%w: multi-firearm hold requires staff override", ErrPreconditionNotMet)
		}
		o.OverrideReason = overrideReason
	default:
		return nil, fmt.Errorf("%w: cannot clear order in state %s", ErrInvalidTransition, o.Status)
	}

	prev := o.Status
	if err := m.capture(ctx, o, prev); err != nil {
		return o, err
	}
	m.emitter.Notify(o, prev, o.Status)
	return o, nil
}

// RetryCapture re-drives an order parked in capture_failed.
func (m *Machine) RetryCapture(ctx context.Context, orderID string) (*Order, error) {
	unlock := m.locks.Lock(orderID)
	defer unlock()

	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusCaptureFailed {
		return nil, fmt.Errorf("%w: retry capture from %s", ErrInvalidTransition, o.Status)
	}
	prev := o.Status
	if err := m.capture(ctx, o, prev); err != nil {
		return o, err
	}
	m.emitter.Notify(o, prev, o.Status)
	return o, nil
}

// capture performs the guarded capture call and transitions to paid. The
// caller must hold the order lock. from is the status the CAS expects.
func (m *Machine) capture(ctx context.Context, o *Order, from Status) error {
	// At-most-once guard: never call the gateway when an outcome is already
	// recorded.
	if o.CaptureTransactionID != "" {
		return nil
	}
	if o.VoidedAt != nil {
		return fmt.Errorf("%w: order already voided", ErrInvalidTransition)
	}

	now := time.Now().UTC()
	res, err := m.gateway.Capture(ctx, o.AuthTransactionID)
	switch {
	case err == nil:
		o.CaptureTransactionID = res.TransactionID
	case errors.Is(err, gateway.ErrAlreadyCaptured):
		// A retried call the gateway collapsed; the charge is keyed by the
		// auth transaction id, so exactly one settlement exists.
		obs.Warn("capture replay collapsed by gateway", map[string]any{"order_id": o.ID})
		o.CaptureTransactionID = o.AuthTransactionID
	default:
		o.Status = StatusCaptureFailed
		o.UpdatedAt = now
		if uerr := m.store.UpdateOrder(ctx, o, from); uerr != nil {
			return uerr
		}
		if aerr := m.store.AppendTransaction(ctx, PaymentTransaction{
			ID:          ids.Payment(),
			OrderID:     o.ID,
			Kind:        TxCapture,
			AmountCents: o.TotalCents,
			Result:      TxError,
			CreatedAt:   now,
		}); aerr != nil {
			obs.Warn("append capture error row", map[string]any{"order_id": o.ID, "error": aerr.Error()})
		}
		m.emitter.Notify(o, from, o.Status)
		return fmt.Errorf("capture order %s: %w", o.ID, err)
	}

	o.Status = StatusPaid
	o.ClearedAt = &now
	o.UpdatedAt = now
	if err := m.store.UpdateOrder(ctx, o, from); err != nil {
		return err
	}
	return m.store.AppendTransaction(ctx, PaymentTransaction{
		ID:                   ids.Payment(),
		OrderID:              o.ID,
		Kind:                 TxCapture,
		GatewayTransactionID: o.CaptureTransactionID,
		AmountCents:          o.TotalCents,
		Result:               TxApproved,
		CreatedAt:            now,
	})
}

// Void releases the authorization and terminates the order. Valid from any
// non-terminal, non-paid state; voiding an already voided order is a no-op
// returning the recorded result. Paid orders are rejected (refunds are a
// separate path).
func (m *Machine) Void(ctx context.Context, orderID string) (*Order, error) {
	unlock := m.locks.Lock(orderID)
	defer unlock()

	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusVoided {
		return o, nil
	}
	if o.Status == StatusPaid || o.Status == StatusFulfilled || o.CaptureTransactionID != "" {
		return nil, fmt.Errorf("%w: cannot void order in state %s", ErrInvalidTransition, o.Status)
	}

	prev := o.Status
	now := time.Now().UTC()
	err = m.gateway.Void(ctx, o.AuthTransactionID)
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrAlreadyVoided):
		obs.Warn("void replay collapsed by gateway", map[string]any{"order_id": o.ID})
	default:
		o.Status = StatusVoidFailed
		o.UpdatedAt = now
		if uerr := m.store.UpdateOrder(ctx, o, prev); uerr != nil {
			return nil, uerr
		}
		if aerr := m.store.AppendTransaction(ctx, PaymentTransaction{
			ID:          ids.Payment(),
			OrderID:     o.ID,
			Kind:        TxVoid,
			AmountCents: o.TotalCents,
			Result:      TxError,
			CreatedAt:   now,
		}); aerr != nil {
			obs.Warn("append void error row", map[string]any{"order_id": o.ID, "error": aerr.Error()})
		}
		m.emitter.Notify(o, prev, o.Status)
		return nil, fmt.Errorf("void order %s: %w", o.ID, err)
	}

	o.Status = StatusVoided
	o.VoidedAt = &now
	o.UpdatedAt = now
	if err := m.store.UpdateOrder(ctx, o, prev); err != nil {
		return nil, err
	}
	if err := m.store.AppendTransaction(ctx, PaymentTransaction{
		ID:                   ids.Payment(),
		OrderID:              o.ID,
		Kind:                 TxVoid,
		GatewayTransactionID: o.AuthTransactionID,
		AmountCents:          o.TotalCents,
		Result:               TxApproved,
		CreatedAt:            now,
	}); err != nil {
		return nil, err
	}
	m.emitter.Notify(o, prev, o.Status)
	return o, nil
}

// RetryVoid re-drives an order parked in void_failed.
func (m *Machine) RetryVoid(ctx context.Context, orderID string) (*Order, error) {
	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusVoidFailed {
		return nil, fmt.Errorf("%w: retry void from %s", ErrInvalidTransition, o.Status)
	}
	return m.Void(ctx, orderID)
}

// Fulfill marks a paid order shipped. Terminal success state.
func (m *Machine) Fulfill(ctx context.Context, orderID string) (*Order, error) {
	unlock := m.locks.Lock(orderID)
	defer unlock()

	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPaid {
		return nil, fmt.Errorf("%w: fulfill from %s", ErrInvalidTransition, o.Status)
	}
	now := time.Now().UTC()
	o.Status = StatusFulfilled
	o.UpdatedAt = now
	if err := m.store.UpdateOrder(ctx, o, StatusPaid); err != nil {
		return nil, err
	}
	m.emitter.Notify(o, StatusPaid, o.Status)
	return o, nil
}

// AttachFFL records the dealer on the order without clearing any hold.
func (m *Machine) AttachFFL(ctx context.Context, orderID string, dealer Dealer) (*Order, error) {
	unlock := m.locks.Lock(orderID)
	defer unlock()

	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, fmt.Errorf("%w: attach ffl to %s order", ErrInvalidTransition, o.Status)
	}
	o.FFL = &FFLDealerRef{
		LicenseNumber: dealer.LicenseNumber,
		BusinessName:  dealer.BusinessName,
	}
	o.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateOrder(ctx, o, o.Status); err != nil {
		return nil, err
	}
	return o, nil
}

// VerifyFFL marks the attached FFL verified. If the order was held only for
// the FFL it is cleared and captured; a masked limit breach demotes it to a
// multi-firearm hold instead.
func (m *Machine) VerifyFFL(ctx context.Context, orderID string) (*Order, error) {
	unlock := m.locks.Lock(orderID)

	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		unlock()
		return nil, err
	}
	if o.FFL == nil {
		unlock()
		return nil, ErrNoFFLAttached
	}
	now := time.Now().UTC()
	o.FFL.Verified = true
	o.FFL.VerifiedAt = &now
	o.UpdatedAt = now

	if o.Status == StatusHoldFFL && o.MultiHoldOutstanding {
		prev := o.Status
		o.Status = StatusHoldMultiFirearm
		o.HoldType = compliance.HoldMultiFirearm
		if err := m.store.UpdateOrder(ctx, o, prev); err != nil {
			unlock()
			return nil, err
		}
		m.emitter.Notify(o, prev, o.Status)
		unlock()
		return o, nil
	}

	if err := m.store.UpdateOrder(ctx, o, o.Status); err != nil {
		unlock()
		return nil, err
	}
	shouldClear := o.Status == StatusHoldFFL
	unlock()

	if shouldClear {
		return m.StaffClear(ctx, orderID, false, "")
	}
	return o, nil
}
