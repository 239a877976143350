package handlers

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/db"
	"github.com/lyallcooper/kitaabse/internal/types"
)

const (
	// Multipart parts above this spill to temp files
	maxUploadMemory = 8 << 20
	// Both files at their limits plus room for the text fields
	maxUploadBody = api.MaxPDFSize + api.MaxCoverSize + 1<<20

	uploadsPageSize = 20
)

// UploadRunView is the JSON form of an upload run
type UploadRunView struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	FileName    string               `json:"file_name"`
	Status      db.UploadRunStatus   `json:"status"`
	Active      bool                 `json:"active"`
	Snapshot    types.UploadProgress `json:"snapshot"`
	BookID      *int64               `json:"book_id,omitempty"`
	Error       *string              `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Duration    string               `json:"duration"`
}

func (h *Handler) runView(run *db.UploadRun) UploadRunView {
	view := UploadRunView{
		ID:          run.ID,
		Title:       run.Title,
		FileName:    run.FileName,
		Status:      run.Status,
		Active:      h.uploads.Active(run.ID),
		Snapshot:    run.Snapshot(),
		BookID:      run.BookID,
		Error:       run.ErrorMessage,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
	if run.CompletedAt != nil {
		view.Duration = formatDuration(run.CompletedAt.Sub(run.StartedAt))
	} else if run.Status == db.UploadRunStatusRunning {
		view.Duration = "Running..."
	} else {
		view.Duration = "-"
	}
	return view
}

// CreateUpload handles POST /uploads. It takes the backend's upload form and
// answers with the run ID as soon as the upload has started.
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart form: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	isPublic := true
	if v := r.FormValue("is_public"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "is_public must be a boolean", Field: "is_public"})
			return
		}
		isPublic = b
	}

	req := api.UploadRequest{
		Title:       r.FormValue("title"),
		Author:      r.FormValue("author"),
		Description: r.FormValue("description"),
		Language:    r.FormValue("language"),
		Genre:       r.FormValue("genre"),
		IsPublic:    isPublic,
	}

	// Temp files are removed when the handler returns but the upload
	// outlives the request, so parts are read into memory
	pdf, err := formFile(r, "pdf_file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "pdf_file"})
		return
	}
	if pdf != nil {
		req.PDF = *pdf
	}
	req.Cover, err = formFile(r, "cover_image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "cover_image"})
		return
	}

	run, err := h.uploads.Start(req, bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": run.ID})
}

// formFile reads one file part into memory; a missing part returns nil
func formFile(r *http.Request, field string) (*api.File, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	return &api.File{
		Name:        hdr.Filename,
		Size:        int64(len(data)),
		ContentType: hdr.Header.Get("Content-Type"),
		Reader:      bytes.NewReader(data),
	}, nil
}

// bearerToken returns the token of an "Authorization: Bearer" header
func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

// ListUploads handles GET /uploads
func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}
	offset := (page - 1) * uploadsPageSize

	runs, err := h.db.ListUploadRuns(uploadsPageSize+1, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	hasMore := len(runs) > uploadsPageSize
	if hasMore {
		runs = runs[:uploadsPageSize]
	}

	views := make([]UploadRunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, h.runView(run))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":     views,
		"page":     page,
		"has_more": hasMore,
	})
}

// GetUpload handles GET /uploads/{id}
func (h *Handler) GetUpload(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.runView(run))
}

// CancelUpload handles POST /uploads/{id}/cancel
func (h *Handler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r.PathValue("id"))
	if !ok {
		return
	}
	if !h.uploads.Cancel(run.ID) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "upload is not running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": run.ID, "status": "cancelling"})
}

// lookupRun loads a run or writes a 404
func (h *Handler) lookupRun(w http.ResponseWriter, id string) (*db.UploadRun, bool) {
	run, err := h.db.GetUploadRun(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "upload not found"})
		return nil, false
	}
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return run, true
}
