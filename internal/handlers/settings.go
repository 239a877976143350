package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/lyallcooper/kitaabse/internal/db"
	"github.com/lyallcooper/kitaabse/internal/scheduler"
)

// SettingsData is the relay's adjustable configuration
type SettingsData struct {
	RetentionDays        int  `json:"retention_days"`
	RetentionDaysFromEnv bool `json:"retention_days_from_env"`
}

// Settings handles GET /settings
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings())
}

func (h *Handler) settings() SettingsData {
	days := h.cfg.RetentionDays
	if !h.cfg.RetentionDaysFromEnv {
		days = scheduler.RetentionDays(h.db, days)
	}
	return SettingsData{
		RetentionDays:        days,
		RetentionDaysFromEnv: h.cfg.RetentionDaysFromEnv,
	}
}

// UpdateSettings handles PUT /settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RetentionDays int `json:"retention_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	// Environment overrides can't be changed at runtime
	if h.cfg.RetentionDaysFromEnv {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "retention is set by KITAABSE_RETENTION_DAYS",
			Field: "retention_days",
		})
		return
	}
	if body.RetentionDays < 1 || body.RetentionDays > 365 {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "must be between 1 and 365 days",
			Field: "retention_days",
		})
		return
	}

	if err := h.db.SetSetting(db.SettingRetentionDays, strconv.Itoa(body.RetentionDays)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.settings())
}
