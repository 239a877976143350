package api

import "time"

// Languages accepted by the backend for Book.Language
var Languages = []string{"hindi", "english", "urdu", "bengali", "tamil", "telugu", "marathi", "gujarati", "other"}

// Genres accepted by the backend for Book.Genre
var Genres = []string{"literature", "fiction", "non_fiction", "poetry", "drama", "biography", "history", "science", "philosophy", "religion", "other"}

// Book processing states
const (
	BookUploaded   = "uploaded"
	BookProcessing = "processing"
	BookCompleted  = "completed"
	BookFailed     = "failed"
)

// Page processing states
const (
	PagePending    = "pending"
	PageProcessing = "processing"
	PageCompleted  = "completed"
	PageFailed     = "failed"
)

// User is the account profile returned at login
type User struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified,omitempty"`
}

// Tokens is the JWT pair issued on verification and login
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// AuthResponse is the body of the verify and login endpoints
type AuthResponse struct {
	Detail string `json:"detail"`
	Tokens
	User *User `json:"user,omitempty"`
}

// Book is a catalog entry. Detail-only fields are zero in list responses.
type Book struct {
	ID                 int64      `json:"id"`
	Title              string     `json:"title"`
	Author             string     `json:"author"`
	Description        string     `json:"description"`
	Language           string     `json:"language"`
	Genre              string     `json:"genre"`
	CoverURL           string     `json:"cover_url"`
	PDFURL             string     `json:"pdf_url,omitempty"`
	TotalPages         int        `json:"total_pages"`
	TotalDuration      int        `json:"total_duration"` // seconds
	Uploader           *User      `json:"uploader,omitempty"`
	ProcessingStatus   string     `json:"processing_status"`
	ProcessingProgress int        `json:"processing_progress"`
	ProcessingError    string     `json:"processing_error,omitempty"`
	IsPublic           bool       `json:"is_public"`
	ListenCount        int        `json:"listen_count"`
	FavoriteCount      int        `json:"favorite_count"`
	UploadedAt         time.Time  `json:"uploaded_at"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
	ProgressPercentage *int       `json:"progress_percentage,omitempty"`
	PagesCount         int        `json:"pages_count,omitempty"`
	IsInLibrary        bool       `json:"is_in_library,omitempty"`
	IsFavorite         bool       `json:"is_favorite,omitempty"`
	UserProgress       *Progress  `json:"user_progress,omitempty"`
}

// Page is one book page with its generated audio
type Page struct {
	ID               int64      `json:"id"`
	PageNumber       int        `json:"page_number"`
	TextContent      string     `json:"text_content"`
	AudioURL         string     `json:"audio_url"`
	AudioDuration    int        `json:"audio_duration"` // seconds
	ProcessingStatus string     `json:"processing_status"`
	ProcessingError  string     `json:"processing_error,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// HasAudio reports whether the page audio is ready to play
func (p Page) HasAudio() bool {
	return p.AudioURL != "" && p.ProcessingStatus == PageCompleted
}

// BookPages is the body of the pages endpoint
type BookPages struct {
	Book struct {
		ID               int64  `json:"id"`
		Title            string `json:"title"`
		TotalPages       int    `json:"total_pages"`
		ProcessingStatus string `json:"processing_status"`
	} `json:"book"`
	Pages []Page `json:"pages"`
}

// Progress is a user's listening position in one book
type Progress struct {
	CurrentPage          int        `json:"current_page"`
	CurrentPosition      int        `json:"current_position"`
	CompletionPercentage int        `json:"completion_percentage"`
	TotalListenedTime    int        `json:"total_listened_time"`
	IsCompleted          bool       `json:"is_completed"`
	LastListenedAt       *time.Time `json:"last_listened_at,omitempty"`
}

// ProgressEntry is one row of the all-books progress listing
type ProgressEntry struct {
	ID   int64 `json:"id"`
	Book Book  `json:"book"`
	Progress
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LibraryItem is a book saved to the user's library
type LibraryItem struct {
	ID          int64      `json:"id"`
	Book        Book       `json:"book"`
	IsFavorite  bool       `json:"is_favorite"`
	Notes       string     `json:"notes"`
	AddedAt     time.Time  `json:"added_at"`
	FavoritedAt *time.Time `json:"favorited_at,omitempty"`
}

// FavoriteResult is the body of the toggle favorite endpoint
type FavoriteResult struct {
	IsFavorite bool   `json:"is_favorite"`
	Message    string `json:"message"`
}

// Paginated is a page of a paginated listing
type Paginated[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// BookQuery filters the public catalog. Zero fields are omitted.
type BookQuery struct {
	Search   string
	Language string
	Genre    string
	Status   string
	Page     int
}

// BookUpdate holds the editable book fields; nil fields are left unchanged
type BookUpdate struct {
	Title       *string `json:"title,omitempty"`
	Author      *string `json:"author,omitempty"`
	Description *string `json:"description,omitempty"`
	Genre       *string `json:"genre,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
}

// Empty reports whether the update changes nothing
func (u BookUpdate) Empty() bool {
	return u.Title == nil && u.Author == nil && u.Description == nil && u.Genre == nil && u.IsPublic == nil
}

// ProgressUpdate is the body of a listening progress update.
// ListenedTime is a delta added to the stored total.
type ProgressUpdate struct {
	PageNumber   int `json:"page_number"`
	Position     int `json:"position"`
	ListenedTime int `json:"listened_time"`
}

// ProgressFilter narrows MyProgress
type ProgressFilter string

const (
	ProgressAll        ProgressFilter = ""
	ProgressInProgress ProgressFilter = "in_progress"
	ProgressCompleted  ProgressFilter = "completed"
)

// CompletionPercentage mirrors the backend rule: int(page/total*100)
func CompletionPercentage(page, totalPages int) int {
	if totalPages <= 0 {
		return 0
	}
	return int(float64(page) / float64(totalPages) * 100)
}

// CompletionThreshold is the percentage at which a book counts as finished
const CompletionThreshold = 95
