package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/db"
)

// ErrNotLoggedIn is returned by operations that need a session
var ErrNotLoggedIn = errors.New("not logged in")

// Settings is the persistence the store needs; *db.DB satisfies it
type Settings interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	DeleteSettings(keys ...string) error
}

// Store holds the current session. It supplies bearer tokens to the API
// client and clears itself when the backend rejects them.
type Store struct {
	settings Settings

	mu      sync.RWMutex
	access  string
	refresh string
	user    *api.User
}

// NewStore loads any persisted session
func NewStore(settings Settings) (*Store, error) {
	s := &Store{settings: settings}

	var err error
	if s.access, err = settings.GetSetting(db.SettingAccessToken); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if s.refresh, err = settings.GetSetting(db.SettingRefreshToken); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	raw, err := settings.GetSetting(db.SettingUser)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if raw != "" {
		var u api.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			log.Printf("auth: ignoring unreadable stored user: %v", err)
		} else {
			s.user = &u
		}
	}
	return s, nil
}

// Token returns the access token, or "" when signed out
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// User returns the signed-in profile, if known
func (s *Store) User() *api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// LoggedIn reports whether an access token is held
func (s *Store) LoggedIn() bool {
	return s.Token() != ""
}

// Save persists the tokens (and user, if present) from a verify or login response
func (s *Store) Save(resp *api.AuthResponse) error {
	if resp == nil || resp.Access == "" {
		return errors.New("response carries no access token")
	}
	if err := s.settings.SetSetting(db.SettingAccessToken, resp.Access); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	if err := s.settings.SetSetting(db.SettingRefreshToken, resp.Refresh); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	user := resp.User
	if user == nil {
		// Verification responses carry no profile; keep the id from the token
		if c, err := Claims(resp.Access); err == nil && c.UserID != 0 {
			user = &api.User{ID: c.UserID}
		}
	}
	if user != nil {
		b, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to encode user: %w", err)
		}
		if err := s.settings.SetSetting(db.SettingUser, string(b)); err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}
	}

	s.mu.Lock()
	s.access, s.refresh = resp.Access, resp.Refresh
	if user != nil {
		u := *user
		s.user = &u
	}
	s.mu.Unlock()
	return nil
}

// Clear signs out, removing the persisted session
func (s *Store) Clear() error {
	s.mu.Lock()
	s.access, s.refresh, s.user = "", "", nil
	s.mu.Unlock()

	if err := s.settings.DeleteSettings(db.SettingAccessToken, db.SettingRefreshToken, db.SettingUser); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Expired reports whether the access token is missing, unreadable or past its exp
func (s *Store) Expired(now time.Time) bool {
	tok := s.Token()
	if tok == "" {
		return true
	}
	c, err := Claims(tok)
	if err != nil {
		return true
	}
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// OnAuthRequired clears the session after the backend rejects it
func (s *Store) OnAuthRequired(err error) {
	if !s.LoggedIn() {
		return
	}
	log.Printf("auth: session rejected (%v), signing out", err)
	if err := s.Clear(); err != nil {
		log.Printf("auth: %v", err)
	}
}
