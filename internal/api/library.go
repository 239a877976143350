package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Library lists the caller's saved books
func (c *Client) Library(ctx context.Context, favoritesOnly bool) ([]LibraryItem, error) {
	query := url.Values{}
	if favoritesOnly {
		query.Set("favorites_only", "true")
	}

	var out []LibraryItem
	if err := c.call(ctx, http.MethodGet, "/api/audiobooks/library/", query, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// AddToLibrary saves a book to the caller's library
func (c *Client) AddToLibrary(ctx context.Context, bookID int64) error {
	if bookID <= 0 {
		return &ValidationError{Field: "book_id", Message: "is required"}
	}
	body := map[string]int64{"book_id": bookID}
	return c.call(ctx, http.MethodPost, "/api/audiobooks/library/add/", nil, body, nil, true)
}

// RemoveFromLibrary drops a book from the caller's library
func (c *Client) RemoveFromLibrary(ctx context.Context, bookID int64) error {
	return c.call(ctx, http.MethodDelete, libraryPath(bookID, ""), nil, nil, nil, true)
}

// ToggleFavorite flips the favorite flag, adding the book to the library if needed
func (c *Client) ToggleFavorite(ctx context.Context, bookID int64) (*FavoriteResult, error) {
	var out FavoriteResult
	if err := c.call(ctx, http.MethodPost, libraryPath(bookID, "favorite/"), nil, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func libraryPath(bookID int64, suffix string) string {
	return fmt.Sprintf("/api/audiobooks/library/%d/%s", bookID, suffix)
}
