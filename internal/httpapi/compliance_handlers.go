package httpapi

import (
	"errors"
	"net/http"

	"rangemark.org/internal/audit"
	"rangemark.org/internal/compliance"
)

type complianceConfigResponse struct {
	WindowDays              int    `json:"window_days"`
	FirearmLimit            int    `json:"firearm_limit"`
	MultiFirearmHoldEnabled bool   `json:"multi_firearm_hold_enabled"`
	FFLHoldEnabled          bool   `json:"ffl_hold_enabled"`
	Version                 uint64 `json:"version"`
}

type complianceConfigUpdate struct {
	WindowDays              *int  `json:"window_days,omitempty"`
	FirearmLimit            *int  `json:"firearm_limit,omitempty"`
	MultiFirearmHoldEnabled *bool `json:"multi_firearm_hold_enabled,omitempty"`
	FFLHoldEnabled          *bool `json:"ffl_hold_enabled,omitempty"`
}

func (a *API) handleGetComplianceConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toConfigResponse(a.compliance.Get()))
}

func (a *API) handleUpdateComplianceConfig(w http.ResponseWriter, r *http.Request) {
	var req complianceConfigUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := a.compliance.Update(compliance.SettingsPatch{
		WindowDays:              req.WindowDays,
		FirearmLimit:            req.FirearmLimit,
		MultiFirearmHoldEnabled: req.MultiFirearmHoldEnabled,
		FFLHoldEnabled:          req.FFLHoldEnabled,
	})
	if err != nil {
		if errors.Is(err, compliance.ErrValidation) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = audit.LogEvent(r.Context(), "compliance.settings.update", map[string]any{
		"window_days":   updated.WindowDays,
		"firearm_limit": updated.FirearmLimit,
		"version":       updated.Version,
	})
	writeJSON(w, http.StatusOK, toConfigResponse(updated))
}

func toConfigResponse(s compliance.Settings) complianceConfigResponse {
	return complianceConfigResponse{
		WindowDays:              s.WindowDays,
		FirearmLimit:            s.FirearmLimit,
		MultiFirearmHoldEnabled: s.MultiFirearmHoldEnabled,
		FFLHoldEnabled:          s.FFLHoldEnabled,
		Version:                 s.Version,
	}
}
