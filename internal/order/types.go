// Package order owns the firearms-purchase order lifecycle: hold
// application, the two-phase payment flow against the gateway, and the
// staff operations that drive holds to resolution.
package order

import (
	"context"
	"errors"
	"time"

	"rangemark.org/internal/compliance"
)

// Status is an order's lifecycle state. "created" is transient and exists
// only while the checkout request is in flight.
type Status string

const (
	StatusCreated          Status = "created"
	StatusHoldFFL          Status = "hold_ffl"
	StatusHoldMultiFirearm Status = "hold_multi_firearm"
	StatusCaptureFailed    Status = "capture_failed"
	StatusVoidFailed       Status = "void_failed"
	StatusPaid             Status = "paid"
	StatusFulfilled        Status = "fulfilled"
	StatusVoided           Status = "voided"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusVoided
}

// Held reports whether the order is waiting on a compliance hold.
func (s Status) Held() bool {
	return s == StatusHoldFFL || s == StatusHoldMultiFirearm
}

// Line is one ordered item. IsFirearm is denormalized from the product
// classification at order time so later catalog edits cannot retroactively
// change a historical order's compliance accounting.
type Line struct {
	SKU            string `json:"sku"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	IsFirearm      bool   `json:"is_firearm"`
}

// FFLDealerRef points into the externally owned FFL directory. Only the
// verification flag is owned here.
type FFLDealerRef struct {
	LicenseNumber string     `json:"license_number"`
	BusinessName  string     `json:"business_name"`
	Verified      bool       `json:"verified"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
}

// Order is the aggregate mutated only by the state machine and staff
// actions. It is never deleted, only transitioned.
type Order struct {
	ID         string              `json:"id"`
	CustomerID string              `json:"customer_id"`
	Lines      []Line              `json:"lines"`
	Currency   string              `json:"currency"`
	TotalCents int64               `json:"total_cents"`
	Status     Status              `json:"status"`
	HoldType   compliance.HoldType `json:"hold_type"`

	AuthTransactionID    string `json:"auth_transaction_id"`
	CaptureTransactionID string `json:"capture_transaction_id,omitempty"`

	FFL *FFLDealerRef `json:"ffl,omitempty"`

	// Snapshots taken at evaluation time for audit reproducibility.
	FirearmsWindowCount int    `json:"firearms_window_count"`
	LimitAtCreation     int    `json:"limit_at_creation"`
	SettingsVersion     uint64 `json:"settings_version"`
	// MultiHoldOutstanding marks an FFL hold that also breached the limit;
	// verifying the FFL demotes the order to a multi-firearm hold instead
	// of releasing it.
	MultiHoldOutstanding bool `json:"multi_hold_outstanding,omitempty"`

	OverrideReason string `json:"override_reason,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ClearedAt *time.Time `json:"cleared_at,omitempty"`
	VoidedAt  *time.Time `json:"voided_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FirearmUnits sums the firearm quantities in the order's lines.
func (o *Order) FirearmUnits() int {
	n := 0
	for _, l := range o.Lines {
		if l.IsFirearm {
			n += l.Quantity
		}
	}
	return n
}

// TxKind is the gateway operation a PaymentTransaction records.
type TxKind string

const (
	TxAuthorize TxKind = "authorize"
	TxCapture   TxKind = "capture"
	TxVoid      TxKind = "void"
)

// TxResult is the recorded outcome of one gateway call.
type TxResult string

const (
	TxApproved TxResult = "approved"
	TxDeclined TxResult = "declined"
	TxError    TxResult = "error"
)

// PaymentTransaction is one row of the append-only gateway audit trail.
// Immutable once created.
type PaymentTransaction struct {
	ID                   string    `json:"id"`
	OrderID              string    `json:"order_id"`
	Kind                 TxKind    `json:"kind"`
	GatewayTransactionID string    `json:"gateway_transaction_id,omitempty"`
	AmountCents          int64     `json:"amount_cents"`
	Result               TxResult  `json:"result"`
	CreatedAt            time.Time `json:"created_at"`
}

// Dealer is the FFL directory's view of a license.
type Dealer struct {
	LicenseNumber string
	BusinessName  string
	Active        bool
}

// Directory is the read-only FFL directory collaborator.
type Directory interface {
	Lookup(ctx context.Context, licenseNumber string) (Dealer, error)
}

var (
	ErrNotFound           = errors.New("order not found")
	ErrInvalidTransition  = errors.New("invalid order state transition")
	ErrPreconditionNotMet = errors.New("hold precondition not met")
	ErrConflict           = errors.New("order modified concurrently")
	ErrInvalidCheckout    = errors.New("invalid checkout request")
	ErrInvalidInput       = errors.New("invalid input")
	ErrFFLInactive        = errors.New("ffl license is not active")
	ErrNoFFLAttached      = errors.New("no ffl attached to order")
)
