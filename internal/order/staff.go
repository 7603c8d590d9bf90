package order

import (
	"context"
	"fmt"
	"strings"

	"rangemark.org/internal/audit"
)

// StaffActionService exposes the operations available to human reviewers.
// Authentication happens at the transport layer; every method expects the
// staff principal to already be on the context for audit enrichment.
type StaffActionService struct {
	Machine   *Machine
	Store     Store
	Directory Directory
}

// AttachFFL looks the license up in the external directory and records it
// on the order. Attaching does not clear the hold; verification does.
func (s *StaffActionService) AttachFFL(ctx context.Context, orderID, licenseNumber string) (*Order, error) {
	licenseNumber = strings.TrimSpace(licenseNumber)
	if licenseNumber == "" {
		return nil, fmt.Errorf("%w: license number is required", ErrInvalidInput)
	}
	dealer, err := s.Directory.Lookup(ctx, licenseNumber)
	if err != nil {
		return nil, fmt.Errorf("ffl directory lookup: %w", err)
	}
	if !dealer.Active {
		return nil, ErrFFLInactive
	}

	o, err := s.Machine.AttachFFL(ctx, orderID, dealer)
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "order.ffl.attach", map[string]any{
		"order_id": orderID,
		"license":  licenseNumber,
		"business": dealer.BusinessName,
	})
	return o, nil
}

// VerifyFFL marks the attached FFL verified and clears the hold when the
// FFL was the only outstanding condition.
func (s *StaffActionService) VerifyFFL(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.Machine.VerifyFFL(ctx, orderID)
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "order.ffl.verify", map[string]any{
		"order_id": orderID,
		"status":   string(o.Status),
	})
	return o, nil
}

// OverrideHold bypasses a multi-firearm hold with an explicit staff
// decision. An unverified FFL hold can never be overridden.
func (s *StaffActionService) OverrideHold(ctx context.Context, orderID, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: override reason is required", ErrInvalidInput)
	}

	curr, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if curr.Status != StatusHoldMultiFirearm {
		return nil, fmt.Errorf("%w: only multi-firearm holds can be overridden", ErrPreconditionNotMet)
	}

	o, err := s.Machine.StaffClear(ctx, orderID, true, reason)
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "order.hold.override", map[string]any{
		"order_id": orderID,
		"reason":   reason,
	})
	return o, nil
}

// ForceVoid cancels the order and releases its authorization.
func (s *StaffActionService) ForceVoid(ctx context.Context, orderID, reason string) (*Order, error) {
	o, err := s.Machine.Void(ctx, orderID)
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "order.void.force", map[string]any{
		"order_id": orderID,
		"reason":   reason,
	})
	return o, nil
}

// RetryCapture re-drives a capture_failed order after a staff request.
func (s *StaffActionService) RetryCapture(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.Machine.RetryCapture(ctx, orderID)
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "order.capture.retry", map[string]any{
		"order_id": orderID,
		"status":   string(o.Status),
	})
	return o, nil
}
