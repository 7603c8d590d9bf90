package order

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used by
// tests and local runs without a Postgres DSN.
type InMemory struct {
	mu     sync.RWMutex
	orders map[string]*Order
	txs    map[string][]PaymentTransaction
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		orders: make(map[string]*Order),
		txs:    make(map[string][]PaymentTransaction),
	}
}

func (s *InMemory) CreateOrder(ctx context.Context, o *Order, authTx PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneOrder(o)
	s.orders[o.ID] = cp
	s.txs[o.ID] = append(s.txs[o.ID], authTx)
	return nil
}

func (s *InMemory) GetOrder(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *InMemory) UpdateOrder(ctx context.Context, o *Order, expect ...Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	curr, ok := s.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if len(expect) > 0 {
		matched := false
		for _, st := range expect {
			if curr.Status == st {
				matched = true
				break
			}
		}
		if !matched {
			return ErrConflict
		}
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *InMemory) AppendTransaction(ctx context.Context, tx PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.OrderID] = append(s.txs[tx.OrderID], tx)
	return nil
}

func (s *InMemory) ListTransactions(ctx context.Context, orderID string) ([]PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PaymentTransaction, len(s.txs[orderID]))
	copy(out, s.txs[orderID])
	return out, nil
}

func (s *InMemory) ListRetryable(ctx context.Context) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Order
	for _, o := range s.orders {
		if o.Status == StatusCaptureFailed || o.Status == StatusVoidFailed {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) FirearmUnitsSince(ctx context.Context, customerID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, o := range s.orders {
		if o.CustomerID != customerID || o.Status == StatusVoided {
			continue
		}
		if o.CreatedAt.Before(since) {
			continue
		}
		total += o.FirearmUnits()
	}
	return total, nil
}

func (s *InMemory) HasVerifiedFFL(ctx context.Context, customerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.CustomerID == customerID && o.FFL != nil && o.FFL.Verified {
			return true, nil
		}
	}
	return false, nil
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Lines = make([]Line, len(o.Lines))
	copy(cp.Lines, o.Lines)
	if o.FFL != nil {
		ffl := *o.FFL
		cp.FFL = &ffl
	}
	if o.ClearedAt != nil {
		t := *o.ClearedAt
		cp.ClearedAt = &t
	}
	if o.VoidedAt != nil {
		t := *o.VoidedAt
		cp.VoidedAt = &t
	}
	return &cp
}
