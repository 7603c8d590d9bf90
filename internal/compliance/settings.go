package compliance

import (
	"errors"
	"fmt"
	"sync"
)

// ErrValidation indicates rejected policy input. No state change is applied.
var ErrValidation = errors.New("invalid compliance settings")

// Settings is the process-wide purchase policy. Changes apply prospectively
// only; no history is kept beyond the version counter.
type Settings struct {
	WindowDays              int    `json:"window_days"`
	FirearmLimit            int    `json:"firearm_limit"`
	MultiFirearmHoldEnabled bool   `json:"multi_firearm_hold_enabled"`
	FFLHoldEnabled          bool   `json:"ffl_hold_enabled"`
	Version                 uint64 `json:"version"`
}

// SettingsPatch carries a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	WindowDays              *int  `json:"window_days,omitempty"`
	FirearmLimit            *int  `json:"firearm_limit,omitempty"`
	MultiFirearmHoldEnabled *bool `json:"multi_firearm_hold_enabled,omitempty"`
	FFLHoldEnabled          *bool `json:"ffl_hold_enabled,omitempty"`
}

// ConfigStore holds the last-committed settings snapshot. Get never blocks
// on writers beyond the mutex hold; evaluations keep the snapshot they read.
type ConfigStore struct {
	mu   sync.RWMutex
	curr Settings
}

// NewConfigStore seeds the store. Seed values are validated the same way
// updates are.
func NewConfigStore(seed Settings) (*ConfigStore, error) {
	if err := validate(seed.WindowDays, seed.FirearmLimit); err != nil {
		return nil, err
	}
	seed.Version = 1
	return &ConfigStore{curr: seed}, nil
}

// Get returns the last-committed settings snapshot.
func (c *ConfigStore) Get() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.curr
}

// Update applies a partial update atomically and returns the new snapshot.
func (c *ConfigStore) Update(patch SettingsPatch) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.curr
	if patch.WindowDays != nil {
		next.WindowDays = *patch.WindowDays
	}
	if patch.FirearmLimit != nil {
		next.FirearmLimit = *patch.FirearmLimit
	}
	if patch.MultiFirearmHoldEnabled != nil {
		next.MultiFirearmHoldEnabled = *patch.MultiFirearmHoldEnabled
	}
	if patch.FFLHoldEnabled != nil {
		next.FFLHoldEnabled = *patch.FFLHoldEnabled
	}
	if err := validate(next.WindowDays, next.FirearmLimit); err != nil {
		return Settings{}, err
	}
	next.Version = c.curr.Version + 1
	c.curr = next
	return next, nil
}

func validate(windowDays, firearmLimit int) error {
	if windowDays <= 0 {
		return fmt.Errorf("%w: window_days must be > 0", ErrValidation)
	}
	if firearmLimit <= 0 {
		return fmt.Errorf("%w: firearm_limit must be > 0", ErrValidation)
	}
	return nil
}
