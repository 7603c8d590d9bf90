// Package gateway wraps the external payment processor's two-phase
// primitives: authorize, capture and void. Every call carries an idempotency
// key so a retried request collapses into the original on the gateway side.
package gateway

import (
	"context"
	"errors"
)

var (
	// ErrDeclined means the processor rejected the authorization. Terminal.
	ErrDeclined = errors.New("payment declined")
	// ErrAlreadyCaptured means the authorization was captured by an earlier
	// call. Callers treat it as success-no-op.
	ErrAlreadyCaptured = errors.New("authorization already captured")
	// ErrAlreadyVoided means the authorization was voided by an earlier call.
	ErrAlreadyVoided = errors.New("authorization already voided")
	// ErrUnavailable covers timeouts and 5xx responses after the retry
	// budget is exhausted.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// PaymentDetails is the tokenized instrument collected by the storefront.
// Raw card data never reaches this service.
type PaymentDetails struct {
	Token string `json:"token"`
}

// AuthorizeRequest reserves funds without collecting them.
type AuthorizeRequest struct {
	AmountCents    int64
	Currency       string
	Details        PaymentDetails
	IdempotencyKey string
}

// Result carries the gateway-side transaction identifier.
type Result struct {
	TransactionID string
}

// Adapter is the processor surface the order core depends on. Capture and
// void use the authorize transaction id as their idempotency key.
type Adapter interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Result, error)
	Capture(ctx context.Context, authTransactionID string) (Result, error)
	Void(ctx context.Context, authTransactionID string) error
}
