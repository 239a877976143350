package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/db"
)

// mockSettings is an in-memory Settings
type mockSettings struct {
	values  map[string]string
	failSet bool
}

func newMockSettings() *mockSettings {
	return &mockSettings{values: make(map[string]string)}
}

func (m *mockSettings) GetSetting(key string) (string, error) { return m.values[key], nil }

func (m *mockSettings) SetSetting(key, value string) error {
	if m.failSet {
		return errors.New("disk full")
	}
	m.values[key] = value
	return nil
}

func (m *mockSettings) DeleteSettings(keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return tok
}

func TestClaims(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		claims   jwt.MapClaims
		wantUser int64
		wantExp  time.Time
	}{
		{"numeric user id", jwt.MapClaims{"user_id": 42, "exp": exp.Unix(), "token_type": "access"}, 42, exp},
		{"string user id", jwt.MapClaims{"user_id": "7", "exp": exp.Unix()}, 7, exp},
		{"no exp", jwt.MapClaims{"user_id": 1}, 1, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Claims(signedToken(t, tt.claims))
			if err != nil {
				t.Fatalf("Claims() error = %v", err)
			}
			if c.UserID != tt.wantUser {
				t.Errorf("UserID = %d, want %d", c.UserID, tt.wantUser)
			}
			if !c.ExpiresAt.Equal(tt.wantExp) {
				t.Errorf("ExpiresAt = %v, want %v", c.ExpiresAt, tt.wantExp)
			}
		})
	}

	if _, err := Claims("not-a-jwt"); err == nil {
		t.Error("Claims(garbage) error = nil")
	}
}

func TestStore_SaveLoadClear(t *testing.T) {
	settings := newMockSettings()
	s, err := NewStore(settings)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if s.LoggedIn() || s.User() != nil {
		t.Fatal("fresh store should be signed out")
	}

	resp := &api.AuthResponse{
		Tokens: api.Tokens{Access: "acc", Refresh: "ref"},
		User:   &api.User{ID: 5, Name: "Asha", Email: "asha@example.com"},
	}
	if err := s.Save(resp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if s.Token() != "acc" {
		t.Errorf("Token() = %q, want acc", s.Token())
	}

	// A second store over the same settings sees the persisted session
	reloaded, err := NewStore(settings)
	if err != nil {
		t.Fatalf("NewStore() reload error = %v", err)
	}
	if reloaded.Token() != "acc" || reloaded.User() == nil || reloaded.User().Name != "Asha" {
		t.Errorf("reloaded session = %q / %+v", reloaded.Token(), reloaded.User())
	}

	if err := reloaded.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if reloaded.LoggedIn() || len(settings.values) != 0 {
		t.Errorf("after Clear: logged in = %v, settings = %v", reloaded.LoggedIn(), settings.values)
	}
}

func TestStore_SaveWithoutUserUsesTokenClaims(t *testing.T) {
	s, _ := NewStore(newMockSettings())
	tok := signedToken(t, jwt.MapClaims{"user_id": 9})

	if err := s.Save(&api.AuthResponse{Tokens: api.Tokens{Access: tok}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if u := s.User(); u == nil || u.ID != 9 {
		t.Errorf("User() = %+v, want id 9", u)
	}
}

func TestStore_SaveErrors(t *testing.T) {
	settings := newMockSettings()
	s, _ := NewStore(settings)

	if err := s.Save(&api.AuthResponse{}); err == nil {
		t.Error("Save(no token) error = nil")
	}

	settings.failSet = true
	if err := s.Save(&api.AuthResponse{Tokens: api.Tokens{Access: "a"}}); err == nil {
		t.Error("Save() with failing settings error = nil")
	}
	if s.LoggedIn() {
		t.Error("failed Save must not sign in")
	}
}

func TestStore_Expired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		access string
		want   bool
	}{
		{"signed out", "", true},
		{"garbage", "xyz", true},
		{"future exp", signedToken(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}), false},
		{"past exp", signedToken(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()}), true},
		{"no exp", signedToken(t, jwt.MapClaims{"user_id": 1}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := newMockSettings()
			settings.values[db.SettingAccessToken] = tt.access
			s, _ := NewStore(settings)
			if got := s.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStore_OnAuthRequiredSignsOut(t *testing.T) {
	settings := newMockSettings()
	s, _ := NewStore(settings)
	s.Save(&api.AuthResponse{Tokens: api.Tokens{Access: "a", Refresh: "r"}})

	var observer api.AuthObserver = s
	observer.OnAuthRequired(&api.Error{StatusCode: 401})

	if s.LoggedIn() {
		t.Error("still logged in after 401")
	}
	if _, ok := settings.values[db.SettingAccessToken]; ok {
		t.Error("access token still persisted")
	}
}

func TestStore_WithDatabase(t *testing.T) {
	database, err := db.Open(db.DriverModernc, t.TempDir()+"/auth.db")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer database.Close()

	s, err := NewStore(database)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := s.Save(&api.AuthResponse{Tokens: api.Tokens{Access: "a", Refresh: "r"}, User: &api.User{ID: 1}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got, _ := database.GetSetting(db.SettingRefreshToken); got != "r" {
		t.Errorf("stored refresh = %q, want r", got)
	}
}
