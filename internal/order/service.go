package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rangemark.org/internal/compliance"
	"rangemark.org/internal/gateway"
	"rangemark.org/internal/ids"
	"rangemark.org/internal/obs"
)

// CheckoutRequest is the storefront's checkout submission.
type CheckoutRequest struct {
	CustomerID string
	Lines      []Line
	Currency   string
	Payment    gateway.PaymentDetails
	// FFLLicense optionally names the customer's preferred transfer dealer.
	// It is attached unverified; attaching never clears a hold by itself.
	FFLLicense string
}

// Service orchestrates checkout: compliance evaluation, then the state
// machine's create path.
type Service struct {
	Evaluator *compliance.Evaluator
	Machine   *Machine
	Store     Store
	Directory Directory
}

// Checkout validates the cart, evaluates the hold decision and creates the
// order. On a declined or unreachable gateway nothing is persisted.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if err := validateCheckout(req); err != nil {
		return nil, err
	}

	cartLines := make([]compliance.CartLine, 0, len(req.Lines))
	var total int64
	for _, l := range req.Lines {
		cartLines = append(cartLines, compliance.CartLine{Quantity: l.Quantity, IsFirearm: l.IsFirearm})
		total += int64(l.Quantity) * l.UnitPriceCents
	}

	decision, err := s.Evaluator.Evaluate(ctx, req.CustomerID, cartLines)
	if err != nil {
		return nil, fmt.Errorf("evaluate compliance: %w", err)
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	o := &Order{
		ID:         ids.Order(),
		CustomerID: req.CustomerID,
		Lines:      req.Lines,
		Currency:   currency,
		TotalCents: total,
	}

	if req.FFLLicense != "" && s.Directory != nil {
		dealer, err := s.Directory.Lookup(ctx, req.FFLLicense)
		if err != nil {
			obs.Warn("ffl directory lookup failed at checkout", map[string]any{
				"license": req.FFLLicense,
				"error":   err.Error(),
			})
		} else if dealer.Active {
			o.FFL = &FFLDealerRef{
				LicenseNumber: dealer.LicenseNumber,
				BusinessName:  dealer.BusinessName,
			}
		}
	}

	created, err := s.Machine.Create(ctx, o, decision, req.Payment)
	if err != nil {
		obs.ObserveCheckout(checkoutOutcome(err))
		return created, err
	}

	if created.Status.Held() {
		obs.ObserveCheckout("hold")
		obs.ObserveHold(created.HoldType.String())
	} else {
		obs.ObserveCheckout("paid")
	}
	return created, nil
}

// GetOrder returns the order with its payment audit trail.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, []PaymentTransaction, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	txs, err := s.Store.ListTransactions(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return o, txs, nil
}

func validateCheckout(req CheckoutRequest) error {
	if strings.TrimSpace(req.CustomerID) == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidCheckout)
	}
	if len(req.Lines) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrInvalidCheckout)
	}
	for _, l := range req.Lines {
		if strings.TrimSpace(l.SKU) == "" {
			return fmt.Errorf("%w: line sku is required", ErrInvalidCheckout)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line quantity must be > 0", ErrInvalidCheckout)
		}
		if l.UnitPriceCents < 0 {
			return fmt.Errorf("%w: line price must be >= 0", ErrInvalidCheckout)
		}
	}
	if strings.TrimSpace(req.Payment.Token) == "" {
		return fmt.Errorf("%w: payment token is required", ErrInvalidCheckout)
	}
	return nil
}

func checkoutOutcome(err error) string {
	if errors.Is(err, gateway.ErrDeclined) {
		return "declined"
	}
	return "error"
}
