package handlers

import (
	"log"
	"net/http"

	"github.com/lyallcooper/kitaabse/internal/db"
	"github.com/lyallcooper/kitaabse/internal/sse"
)

// CompleteData is sent as the final SSE event of an upload
type CompleteData struct {
	Status db.UploadRunStatus `json:"status"`
	BookID *int64             `json:"book_id,omitempty"`
	Error  *string            `json:"error,omitempty"`
}

// UploadProgressSSE handles SSE connections for upload progress
func (h *Handler) UploadProgressSSE(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before reading the run so no snapshot falls in between
	updates := h.uploads.Subscribe(runID)
	defer h.uploads.Unsubscribe(runID, updates)

	run, ok := h.lookupRun(w, runID)
	if !ok {
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Send initial state
	if err := h.sendEvent(w, flusher, "progress", run.Snapshot()); err != nil {
		return
	}
	if run.Status != db.UploadRunStatusRunning {
		h.sendComplete(w, flusher, run)
		return
	}

	// Listen for updates
	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				// Channel closed once the outcome is recorded
				if run, err := h.db.GetUploadRun(runID); err == nil {
					h.sendComplete(w, flusher, run)
				}
				return
			}
			if err := h.sendEvent(w, flusher, "progress", update); err != nil {
				log.Printf("sse: run %s: client gone: %v", runID, err)
				return
			}
		}
	}
}

func (h *Handler) sendComplete(w http.ResponseWriter, flusher http.Flusher, run *db.UploadRun) error {
	return h.sendEvent(w, flusher, "complete", CompleteData{
		Status: run.Status,
		BookID: run.BookID,
		Error:  run.ErrorMessage,
	})
}

// sendEvent writes one frame and flushes it. A write error means the client
// has gone away.
func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	if err := sse.WriteFrame(w, event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
