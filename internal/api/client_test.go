package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

type recordingObserver struct {
	calls []error
}

func (r *recordingObserver) OnAuthRequired(err error) { r.calls = append(r.calls, err) }

func writeEnvelope(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"data":      data,
		"status":    "PASS",
		"http_code": code,
		"message":   "ok",
	})
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", opts...)
}

func TestListBooks(t *testing.T) {
	var gotQuery, gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/audiobooks/books/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		writeEnvelope(w, 200, map[string]any{
			"count":    1,
			"next":     nil,
			"previous": nil,
			"results": []map[string]any{{
				"id": 3, "title": "Godan", "author": nil, "language": "hindi",
				"total_pages": 12, "processing_status": "completed",
				"uploaded_at": "2025-01-02T03:04:05.123456Z",
			}},
		})
	}, WithTokenSource(staticToken("tok")))

	page, err := c.ListBooks(context.Background(), BookQuery{Search: "go dan", Language: "hindi", Page: 2})
	if err != nil {
		t.Fatalf("ListBooks() error = %v", err)
	}
	if gotQuery != "language=hindi&page=2&search=go+dan" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if page.Count != 1 || len(page.Results) != 1 {
		t.Fatalf("page = %+v", page)
	}
	b := page.Results[0]
	if b.ID != 3 || b.Title != "Godan" || b.Author != "" || b.TotalPages != 12 {
		t.Errorf("book = %+v", b)
	}
	if b.UploadedAt.Year() != 2025 {
		t.Errorf("UploadedAt = %v", b.UploadedAt)
	}
}

func TestNoTokenNoHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("Authorization = %q, want none", h)
		}
		writeEnvelope(w, 200, []any{})
	}, WithTokenSource(staticToken("")))

	if _, err := c.MyBooks(context.Background(), ""); err != nil {
		t.Fatalf("MyBooks() error = %v", err)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantIs     error
		wantMsg    string
		wantFields int
	}{
		{"drf not found", 404, `{"detail":"No Book matches the given query."}`, ErrNotFound, "No Book matches the given query.", 0},
		{"envelope forbidden", 403, `{"data":null,"status":"FAIL","http_code":403,"message":"This book is private"}`, ErrForbidden, "This book is private", 0},
		{"unauthorized", 401, `{"detail":"Token expired"}`, ErrUnauthorized, "Token expired", 0},
		{"serializer errors", 400, `{"email":["Enter a valid email address."]}`, nil, "email: Enter a valid email address.", 1},
		{"envelope validation", 400, `{"status":"FAIL","message":"Invalid input data","errors":{"title":["required"],"language":["bad"]}}`, nil, "Invalid input data", 2},
		{"html body", 502, `<html>Bad Gateway</html>`, nil, "<html>Bad Gateway</html>", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := c.GetBook(context.Background(), 1)

			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *Error", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
			if len(apiErr.Fields) != tt.wantFields {
				t.Errorf("Fields = %v, want %d entries", apiErr.Fields, tt.wantFields)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.wantIs)
			}
		})
	}
}

func TestEnvelopeFailWith200(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":null,"status":"FAIL","http_code":404,"message":"gone"}`)
	})
	_, err := c.GetBook(context.Background(), 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestAuthObserver(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/library/") {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail":"Given token not valid"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"nope"}`)
	}, WithAuthObserver(obs))

	c.GetBook(context.Background(), 1)
	if len(obs.calls) != 0 {
		t.Errorf("observer called for 404")
	}

	_, err := c.Library(context.Background(), false)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
	if len(obs.calls) != 1 || !errors.Is(obs.calls[0], ErrUnauthorized) {
		t.Errorf("observer calls = %v, want one unauthorized", obs.calls)
	}
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if r.Method != http.MethodPost || body["email"] != "a@b.c" || body["otp"] != "123456" {
			t.Errorf("request = %s %v", r.Method, body)
		}
		io.WriteString(w, `{"detail":"Login successful.","refresh":"r","access":"a",
			"user":{"id":5,"name":"Asha","email":"a@b.c","is_verified":true}}`)
	})

	resp, err := c.Login(context.Background(), "a@b.c", "123456")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.Access != "a" || resp.Refresh != "r" || resp.User == nil || resp.User.ID != 5 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestClientValidation(t *testing.T) {
	c := New("http://127.0.0.1:0")
	ctx := context.Background()
	empty := ""
	var vErr *ValidationError

	if _, err := c.Login(ctx, "a@b.c", " "); !errors.As(err, &vErr) || vErr.Field != "otp" {
		t.Errorf("Login without otp error = %v", err)
	}
	if _, err := c.UpdateBook(ctx, 1, BookUpdate{}); !errors.As(err, &vErr) {
		t.Errorf("UpdateBook empty error = %v", err)
	}
	if _, err := c.UpdateBook(ctx, 1, BookUpdate{Title: &empty}); !errors.As(err, &vErr) || vErr.Field != "title" {
		t.Errorf("UpdateBook blank title error = %v", err)
	}
	if _, err := c.UpdateProgress(ctx, 1, ProgressUpdate{PageNumber: 0}); !errors.As(err, &vErr) {
		t.Errorf("UpdateProgress page 0 error = %v", err)
	}
	if err := c.AddToLibrary(ctx, 0); !errors.As(err, &vErr) {
		t.Errorf("AddToLibrary(0) error = %v", err)
	}
}

func TestUpdateBook_SendsOnlySetFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/audiobooks/9/" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if len(body) != 2 || body["title"] != "New" || body["is_public"] != false {
			t.Errorf("body = %v, want title and is_public only", body)
		}
		writeEnvelope(w, 200, map[string]any{"id": 9, "title": "New"})
	})

	title, public := "New", false
	b, err := c.UpdateBook(context.Background(), 9, BookUpdate{Title: &title, IsPublic: &public})
	if err != nil {
		t.Fatalf("UpdateBook() error = %v", err)
	}
	if b.Title != "New" {
		t.Errorf("Title = %q", b.Title)
	}
}

func TestProgressAndLibraryRoutes(t *testing.T) {
	type call struct{ method, path, query, body string }
	var calls []call
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		calls = append(calls, call{r.Method, r.URL.Path, r.URL.RawQuery, strings.TrimSpace(string(b))})
		switch {
		case strings.HasSuffix(r.URL.Path, "/favorite/"):
			writeEnvelope(w, 200, map[string]any{"is_favorite": true, "message": "Book marked as favorite"})
		case strings.HasSuffix(r.URL.Path, "/progress/") && r.Method == http.MethodPut:
			writeEnvelope(w, 200, map[string]any{"current_page": 4, "completion_percentage": 40})
		default:
			writeEnvelope(w, 200, []any{})
		}
	})
	ctx := context.Background()

	p, err := c.UpdateProgress(ctx, 2, ProgressUpdate{PageNumber: 4, Position: 12, ListenedTime: 30})
	if err != nil || p.CurrentPage != 4 || p.CompletionPercentage != 40 {
		t.Errorf("UpdateProgress = %+v, %v", p, err)
	}
	c.MyProgress(ctx, ProgressCompleted)
	c.Library(ctx, true)
	c.AddToLibrary(ctx, 2)
	c.RemoveFromLibrary(ctx, 2)
	fav, err := c.ToggleFavorite(ctx, 2)
	if err != nil || !fav.IsFavorite {
		t.Errorf("ToggleFavorite = %+v, %v", fav, err)
	}

	want := []call{
		{"PUT", "/api/audiobooks/2/progress/", "", `{"page_number":4,"position":12,"listened_time":30}`},
		{"GET", "/api/audiobooks/progress/", "completed=true", ""},
		{"GET", "/api/audiobooks/library/", "favorites_only=true", ""},
		{"POST", "/api/audiobooks/library/add/", "", `{"book_id":2}`},
		{"DELETE", "/api/audiobooks/library/2/", "", ""},
		{"POST", "/api/audiobooks/library/2/favorite/", "", ""},
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %+v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, calls[i], want[i])
		}
	}
}

func TestCompletionPercentage(t *testing.T) {
	tests := []struct {
		page, total, want int
	}{
		{1, 3, 33},
		{3, 3, 100},
		{19, 20, 95},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := CompletionPercentage(tt.page, tt.total); got != tt.want {
			t.Errorf("CompletionPercentage(%d, %d) = %d, want %d", tt.page, tt.total, got, tt.want)
		}
	}
}

func TestWithBearerOverridesTokenSource(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer forwarded" {
			t.Errorf("Authorization = %q, want Bearer forwarded", got)
		}
		writeEnvelope(w, 200, []any{})
	}, WithTokenSource(staticToken("local")))

	if _, err := c.Library(WithBearer(context.Background(), "forwarded"), false); err != nil {
		t.Fatalf("Library() error = %v", err)
	}
}
