package order

// SyncEmitter receives every order state transition for the CRM
// collaborator. Implementations must return immediately and must never
// propagate failures back into order mutation; delivery is best-effort and
// retried on the implementation's own schedule.
type SyncEmitter interface {
	Notify(o *Order, previous, next Status)
}

// NopEmitter discards notifications.
type NopEmitter struct{}

func (NopEmitter) Notify(*Order, Status, Status) {}
