package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// HoldType is the closed set of compliance holds an order can carry.
type HoldType int

const (
	HoldNone HoldType = iota
	HoldFFLRequired
	HoldMultiFirearm
)

func (h HoldType) String() string {
	switch h {
	case HoldNone:
		return "none"
	case HoldFFLRequired:
		return "ffl_required"
	case HoldMultiFirearm:
		return "multi_firearm"
	default:
		return "unknown"
	}
}

// ParseHoldType maps the wire representation back to the variant.
func ParseHoldType(s string) (HoldType, error) {
	switch s {
	case "none", "":
		return HoldNone, nil
	case "ffl_required":
		return HoldFFLRequired, nil
	case "multi_firearm":
		return HoldMultiFirearm, nil
	default:
		return HoldNone, fmt.Errorf("unknown hold type %q", s)
	}
}

func (h HoldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *HoldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHoldType(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// CartLine is the slice of a cart the evaluator cares about.
type CartLine struct {
	Quantity  int
	IsFirearm bool
}

// HoldDecision is the outcome of one evaluation, including the settings
// snapshot it was computed against.
type HoldDecision struct {
	HoldType             HoldType
	FirearmCountInWindow int
	LimitAtEvaluation    int
	SettingsVersion      uint64
	// MultiFirearmAlsoApplies is set when an FFL hold masks a limit breach,
	// so clearing the FFL condition alone must not release the order.
	MultiFirearmAlsoApplies bool
}

// PurchaseHistory is the read side the evaluator needs from storage.
type PurchaseHistory interface {
	// FirearmUnitsSince sums firearm line quantities over the customer's
	// non-voided orders created at or after the given instant.
	FirearmUnitsSince(ctx context.Context, customerID string, since time.Time) (int, error)
	// HasVerifiedFFL reports whether the customer has a verified FFL dealer
	// on file.
	HasVerifiedFFL(ctx context.Context, customerID string) (bool, error)
}

// Evaluator decides whether a proposed checkout needs a hold.
type Evaluator struct {
	Config  *ConfigStore
	History PurchaseHistory
}

// Evaluate counts the customer's firearm units inside the rolling window,
// adds the cart, and returns the hold decision. The window is a strict
// trailing interval anchored at the current time, not a calendar boundary.
func (e *Evaluator) Evaluate(ctx context.Context, customerID string, lines []CartLine) (HoldDecision, error) {
	settings := e.Config.Get()

	cartUnits := 0
	for _, l := range lines {
		if l.IsFirearm {
			cartUnits += l.Quantity
		}
	}

	decision := HoldDecision{
		HoldType:          HoldNone,
		LimitAtEvaluation: settings.FirearmLimit,
		SettingsVersion:   settings.Version,
	}

	// The limit is only evaluated on attempted firearm purchases. A customer
	// already over the limit can still buy accessories.
	if cartUnits == 0 {
		return decision, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -settings.WindowDays)
	prior, err := e.History.FirearmUnitsSince(ctx, customerID, since)
	if err != nil {
		return HoldDecision{}, fmt.Errorf("window query: %w", err)
	}
	decision.FirearmCountInWindow = prior + cartUnits

	overLimit := settings.MultiFirearmHoldEnabled && decision.FirearmCountInWindow > settings.FirearmLimit
	if overLimit {
		decision.HoldType = HoldMultiFirearm
	}

	// FFL takes precedence when both apply: consignee routing depends on it.
	if settings.FFLHoldEnabled {
		verified, err := e.History.HasVerifiedFFL(ctx, customerID)
		if err != nil {
			return HoldDecision{}, fmt.Errorf("ffl lookup: %w", err)
		}
		if !verified {
			decision.HoldType = HoldFFLRequired
			decision.MultiFirearmAlsoApplies = overLimit
		}
	}

	return decision, nil
}
