// Package handlers serves the upload relay: browsers post uploads here, the
// relay streams them to the backend and re-publishes progress over SSE.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/config"
	"github.com/lyallcooper/kitaabse/internal/db"
	"github.com/lyallcooper/kitaabse/internal/uploader"
)

// Handler holds all HTTP handlers
type Handler struct {
	db      *db.DB
	cfg     *config.Config
	uploads *uploader.Service
	version string
}

// New creates a new Handler
func New(database *db.DB, cfg *config.Config, uploads *uploader.Service, version string) *Handler {
	return &Handler{
		db:      database,
		cfg:     cfg,
		uploads: uploads,
		version: version,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	// Uploads
	mux.HandleFunc("POST /uploads", h.CreateUpload)
	mux.HandleFunc("GET /uploads", h.ListUploads)
	mux.HandleFunc("GET /uploads/{id}", h.GetUpload)
	mux.HandleFunc("POST /uploads/{id}/cancel", h.CancelUpload)

	// Settings
	mux.HandleFunc("GET /settings", h.Settings)
	mux.HandleFunc("PUT /settings", h.UpdateSettings)

	// SSE
	mux.HandleFunc("GET /sse/uploads/{id}", h.UploadProgressSSE)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.PingContext(r.Context()); err != nil {
		status = "database unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status, "version": h.version})
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps client and backend errors onto relay status codes
func writeError(w http.ResponseWriter, err error) {
	var verr *api.ValidationError
	var aerr *api.Error
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.As(err, &aerr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: aerr.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return strconv.Itoa(m) + "m " + strconv.Itoa(s) + "s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return strconv.Itoa(h) + "h " + strconv.Itoa(m) + "m"
}
