package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Upload limits enforced by the backend
const (
	MaxPDFSize   = 50 << 20
	MaxCoverSize = 5 << 20
)

var coverTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// File is one multipart file part. Size may be 0 when unknown; limits are
// then enforced while the body is built.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// OpenFile opens a local file for upload. Close it when done.
func OpenFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return File{}, err
	}
	return File{
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: coverTypes[strings.ToLower(filepath.Ext(path))],
		Reader:      f,
	}, nil
}

// Close closes the underlying reader when it is closable
func (f File) Close() error {
	if c, ok := f.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// UploadRequest is a book upload
type UploadRequest struct {
	Title       string
	Author      string
	Description string
	Language    string
	Genre       string
	IsPublic    bool
	PDF         File
	Cover       *File
}

// Validate applies the backend's upload rules before any bytes are sent
func (r *UploadRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Field: "title", Message: "is required"}
	}
	if r.Language == "" {
		return &ValidationError{Field: "language", Message: "is required"}
	}
	if !contains(Languages, r.Language) {
		return &ValidationError{Field: "language", Message: fmt.Sprintf("unknown language %q", r.Language)}
	}
	if r.Genre != "" && !contains(Genres, r.Genre) {
		return &ValidationError{Field: "genre", Message: fmt.Sprintf("unknown genre %q", r.Genre)}
	}

	if r.PDF.Reader == nil {
		return &ValidationError{Field: "pdf_file", Message: "PDF file is required"}
	}
	if !strings.HasSuffix(strings.ToLower(r.PDF.Name), ".pdf") {
		return &ValidationError{Field: "pdf_file", Message: "Only PDF files are allowed"}
	}
	if r.PDF.Size > MaxPDFSize {
		return &ValidationError{Field: "pdf_file", Message: "PDF file size cannot exceed 50MB"}
	}

	if r.Cover != nil {
		if r.Cover.Size > MaxCoverSize {
			return &ValidationError{Field: "cover_image", Message: "Image size cannot exceed 5MB"}
		}
		ct := r.Cover.ContentType
		if ct == "" {
			ct = coverTypes[strings.ToLower(filepath.Ext(r.Cover.Name))]
		}
		if ct != "image/jpeg" && ct != "image/jpg" && ct != "image/png" {
			return &ValidationError{Field: "cover_image", Message: "Only JPEG and PNG images are allowed"}
		}
	}
	return nil
}

// OpenUploadStream posts the upload with stream=true and returns the event
// stream body. Non-2xx responses are returned as *Error; the caller owns and
// must close the returned body. Cancelling ctx aborts the stream.
func (c *Client) OpenUploadStream(ctx context.Context, r UploadRequest) (io.ReadCloser, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	body, contentType, err := r.encode()
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/audiobooks/upload/", url.Values{"stream": {"true"}}, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	if err := c.checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// encode builds the multipart body in memory so the request carries a
// Content-Length
func (r *UploadRequest) encode() (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := []struct{ name, value string }{
		{"title", r.Title},
		{"author", r.Author},
		{"description", r.Description},
		{"language", r.Language},
		{"genre", r.Genre},
		{"is_public", strconv.FormatBool(r.IsPublic)},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write %s field: %w", f.name, err)
		}
	}

	if err := writeFile(w, "pdf_file", r.PDF, "application/pdf", MaxPDFSize); err != nil {
		return nil, "", err
	}
	if r.Cover != nil {
		ct := r.Cover.ContentType
		if ct == "" {
			ct = coverTypes[strings.ToLower(filepath.Ext(r.Cover.Name))]
		}
		if err := writeFile(w, "cover_image", *r.Cover, ct, MaxCoverSize); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish upload body: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, field string, f File, contentType string, limit int64) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", field, err)
	}

	n, err := io.Copy(part, io.LimitReader(f.Reader, limit+1))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	if n > limit {
		return &ValidationError{Field: field, Message: fmt.Sprintf("file exceeds %dMB", limit>>20)}
	}
	return nil
}
