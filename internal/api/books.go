package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ListBooks returns one page of the public catalog
func (c *Client) ListBooks(ctx context.Context, q BookQuery) (*Paginated[Book], error) {
	query := url.Values{}
	setIf(query, "search", q.Search)
	setIf(query, "language", q.Language)
	setIf(query, "genre", q.Genre)
	setIf(query, "status", q.Status)
	if q.Page > 0 {
		query.Set("page", strconv.Itoa(q.Page))
	}

	var out Paginated[Book]
	if err := c.call(ctx, http.MethodGet, "/api/audiobooks/books/", query, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyBooks lists the caller's uploads, optionally filtered by processing status
func (c *Client) MyBooks(ctx context.Context, status string) ([]Book, error) {
	query := url.Values{}
	setIf(query, "status", status)

	var out []Book
	if err := c.call(ctx, http.MethodGet, "/api/audiobooks/my/", query, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBook returns book details
func (c *Client) GetBook(ctx context.Context, id int64) (*Book, error) {
	var out Book
	if err := c.call(ctx, http.MethodGet, bookPath(id, ""), nil, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateBook edits the metadata of one of the caller's books
func (c *Client) UpdateBook(ctx context.Context, id int64, u BookUpdate) (*Book, error) {
	if u.Empty() {
		return nil, &ValidationError{Field: "update", Message: "no fields to change"}
	}
	if u.Title != nil && *u.Title == "" {
		return nil, &ValidationError{Field: "title", Message: "cannot be empty"}
	}
	if u.Genre != nil && *u.Genre != "" && !contains(Genres, *u.Genre) {
		return nil, &ValidationError{Field: "genre", Message: fmt.Sprintf("unknown genre %q", *u.Genre)}
	}

	var out Book
	if err := c.call(ctx, http.MethodPatch, bookPath(id, ""), nil, u, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteBook removes one of the caller's books from the catalog
func (c *Client) DeleteBook(ctx context.Context, id int64) error {
	return c.call(ctx, http.MethodDelete, bookPath(id, ""), nil, nil, nil, true)
}

// BookPages returns every page of a book with its audio state
func (c *Client) BookPages(ctx context.Context, id int64) (*BookPages, error) {
	var out BookPages
	if err := c.call(ctx, http.MethodGet, bookPath(id, "pages/"), nil, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProgress returns the caller's listening position in a book
func (c *Client) GetProgress(ctx context.Context, id int64) (*Progress, error) {
	var out Progress
	if err := c.call(ctx, http.MethodGet, bookPath(id, "progress/"), nil, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProgress stores a listening position and adds ListenedTime to the total
func (c *Client) UpdateProgress(ctx context.Context, id int64, u ProgressUpdate) (*Progress, error) {
	if u.PageNumber < 1 {
		return nil, &ValidationError{Field: "page_number", Message: "must be at least 1"}
	}
	if u.Position < 0 || u.ListenedTime < 0 {
		return nil, &ValidationError{Field: "position", Message: "must not be negative"}
	}

	var out Progress
	if err := c.call(ctx, http.MethodPut, bookPath(id, "progress/"), nil, u, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyProgress lists the caller's progress across books
func (c *Client) MyProgress(ctx context.Context, filter ProgressFilter) ([]ProgressEntry, error) {
	query := url.Values{}
	if filter != ProgressAll {
		query.Set(string(filter), "true")
	}

	var out []ProgressEntry
	if err := c.call(ctx, http.MethodGet, "/api/audiobooks/progress/", query, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func bookPath(id int64, suffix string) string {
	return fmt.Sprintf("/api/audiobooks/%d/%s", id, suffix)
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
