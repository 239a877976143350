package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/lyallcooper/kitaabse/internal/config"
	"github.com/lyallcooper/kitaabse/internal/db"
)

func TestBuildVersionString(t *testing.T) {
	tests := []struct {
		version string
		commit  string
		want    string
	}{
		{"v1.2.0", "abcdef1234", "v1.2.0"},
		{"dev", "abcdef1234", "dev-abcdef1"},
		{"dev", "abc", "dev-abc"},
		{"dev", "", "dev-unknown"},
	}
	for _, tt := range tests {
		if got := buildVersionString(tt.version, tt.commit); got != tt.want {
			t.Errorf("buildVersionString(%q, %q) = %q, want %q", tt.version, tt.commit, got, tt.want)
		}
	}
}

func TestOpen(t *testing.T) {
	cfg := &config.Config{
		APIURL:         "http://localhost:8000",
		DBPath:         filepath.Join(t.TempDir(), "nested", "kitaabse.db"),
		DBDriver:       db.DriverModernc,
		RequestTimeout: time.Second,
	}

	core, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer core.Close()

	if core.Session.LoggedIn() {
		t.Error("fresh store should have no session")
	}
	if core.Client.BaseURL() != cfg.APIURL {
		t.Errorf("BaseURL = %q", core.Client.BaseURL())
	}
}

func TestCreateServer(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KITAABSE_DB_PATH", filepath.Join(dir, "relay.db"))
	t.Setenv("KITAABSE_RETENTION_DAYS", "12")
	t.Setenv("KITAABSE_REDIS_URL", "")

	srv, err := CreateServer(ServerConfig{Port: 9191, Version: "dev", Commit: "1234567890"})
	if err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Cleanup(ctx)
	}()

	if srv.HTTP.Addr != ":9191" {
		t.Errorf("Addr = %q", srv.HTTP.Addr)
	}
	if got, _ := srv.Database.GetSetting(db.SettingRetentionDays); got != "12" {
		t.Errorf("retention setting = %q, want the environment value", got)
	}

	rec := httptest.NewRecorder()
	srv.HTTP.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d", rec.Code)
	}
}

func TestCreateServer_InvalidConfig(t *testing.T) {
	t.Setenv("KITAABSE_DB_PATH", filepath.Join(t.TempDir(), "relay.db"))
	t.Setenv("KITAABSE_SYNC_SCHEDULE", "whenever")

	if _, err := CreateServer(ServerConfig{}); err == nil {
		t.Error("CreateServer() accepted an invalid sync schedule")
	}
}
