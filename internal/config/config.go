package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
type Config struct {
	APIURL               string
	DBPath               string
	DBDriver             string
	Port                 int
	RetentionDays        int
	RetentionDaysFromEnv bool // true if retention was set via env var
	SyncSchedule         string
	RedisURL             string
	RequestTimeout       time.Duration
	UploadTimeout        time.Duration // 0 means no deadline
	SaveInterval         time.Duration
}

// LoadEnvFiles loads KEY=value files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		APIURL:         strings.TrimRight(getEnv("KITAABSE_API_URL", "http://localhost:8000"), "/"),
		DBPath:         ExpandPath(getEnv("KITAABSE_DB_PATH", "./data/kitaabse.db")),
		DBDriver:       getEnv("KITAABSE_DB_DRIVER", "sqlite"),
		Port:           getEnvInt("KITAABSE_PORT", 8090),
		RetentionDays:  getEnvInt("KITAABSE_RETENTION_DAYS", 30),
		SyncSchedule:   getEnv("KITAABSE_SYNC_SCHEDULE", "*/5 * * * *"),
		RedisURL:       getEnv("KITAABSE_REDIS_URL", ""),
		RequestTimeout: getEnvDuration("KITAABSE_REQUEST_TIMEOUT", 30*time.Second),
		UploadTimeout:  getEnvDuration("KITAABSE_UPLOAD_TIMEOUT", 0),
		SaveInterval:   getEnvDuration("KITAABSE_SAVE_INTERVAL", 10*time.Second),
	}
	cfg.RetentionDaysFromEnv = os.Getenv("KITAABSE_RETENTION_DAYS") != ""
	return cfg
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("KITAABSE_API_URL must be an http(s) URL, got %q", c.APIURL)
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "sqlite3" {
		return fmt.Errorf("KITAABSE_DB_DRIVER must be sqlite or sqlite3, got %q", c.DBDriver)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("KITAABSE_PORT out of range: %d", c.Port)
	}
	if c.RetentionDays < 1 || c.RetentionDays > 365 {
		return fmt.Errorf("KITAABSE_RETENTION_DAYS must be between 1 and 365, got %d", c.RetentionDays)
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		return fmt.Errorf("invalid KITAABSE_SYNC_SCHEDULE: %w", err)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("KITAABSE_REQUEST_TIMEOUT must be positive")
	}
	if c.UploadTimeout < 0 {
		return errors.New("KITAABSE_UPLOAD_TIMEOUT must not be negative")
	}
	if c.SaveInterval <= 0 {
		return errors.New("KITAABSE_SAVE_INTERVAL must be positive")
	}
	return nil
}

// ExpandPath expands a leading ~ to the home directory and cleans the path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(path)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("90s") or whole seconds ("90")
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
