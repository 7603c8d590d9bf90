package order

import (
	"context"
	"time"
)

// Store is the persistence surface the state machine mutates through.
// Implementations must make CreateOrder atomic (order, lines and the
// authorize record commit together or not at all) and must apply
// UpdateOrder as a compare-and-set on the expected statuses.
type Store interface {
	// CreateOrder persists the order with its lines and the authorize
	// transaction in one unit.
	CreateOrder(ctx context.Context, o *Order, authTx PaymentTransaction) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	// UpdateOrder writes the order only if its stored status is one of
	// expect; otherwise it returns ErrConflict.
	UpdateOrder(ctx context.Context, o *Order, expect ...Status) error
	// AppendTransaction adds one row to the append-only audit trail.
	AppendTransaction(ctx context.Context, tx PaymentTransaction) error
	ListTransactions(ctx context.Context, orderID string) ([]PaymentTransaction, error)
	// ListRetryable returns orders parked in capture_failed or void_failed,
	// oldest first, for the retry worker.
	ListRetryable(ctx context.Context) ([]*Order, error)

	// Compliance read side (satisfies compliance.PurchaseHistory).
	FirearmUnitsSince(ctx context.Context, customerID string, since time.Time) (int, error)
	HasVerifiedFFL(ctx context.Context, customerID string) (bool, error)
}
