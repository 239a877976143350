// Package app provides shared application initialization logic used by both
// the relay server and the command-line client.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lyallcooper/kitaabse/internal/api"
	"github.com/lyallcooper/kitaabse/internal/auth"
	"github.com/lyallcooper/kitaabse/internal/config"
	"github.com/lyallcooper/kitaabse/internal/db"
	"github.com/lyallcooper/kitaabse/internal/handlers"
	"github.com/lyallcooper/kitaabse/internal/publish"
	"github.com/lyallcooper/kitaabse/internal/scheduler"
	"github.com/lyallcooper/kitaabse/internal/uploader"
)

// Core is what every entry point needs: configuration, the local store, the
// stored session and a backend client authenticated with it.
type Core struct {
	Config   *config.Config
	Database *db.DB
	Session  *auth.Store
	Client   *api.Client
}

// Open loads the local store and session for cfg. Call Core.Close when done.
func Open(cfg *config.Config) (*Core, error) {
	database, err := db.Open(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	session, err := auth.NewStore(database)
	if err != nil {
		database.Close()
		return nil, err
	}

	client := api.New(cfg.APIURL,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithTokenSource(session),
		api.WithAuthObserver(session),
	)

	return &Core{
		Config:   cfg,
		Database: database,
		Session:  session,
		Client:   client,
	}, nil
}

// Close releases the local store
func (c *Core) Close() error {
	return c.Database.Close()
}

// ServerConfig contains options for creating the relay server.
type ServerConfig struct {
	// Port to listen on. If 0, uses config default.
	Port int

	// Version string for display.
	Version string

	// Commit hash for display.
	Commit string

	// BindAddress is the address to bind to. Defaults to "" (all interfaces).
	BindAddress string
}

// Server wraps the HTTP server and associated resources.
type Server struct {
	*Core
	HTTP      *http.Server
	Uploads   *uploader.Service
	Scheduler *scheduler.Scheduler
	redis     *publish.RedisSink
}

// CreateServer initializes all relay components and returns a Server.
// Call Server.Cleanup() when done to release resources.
func CreateServer(cfg ServerConfig) (*Server, error) {
	// Load configuration from environment
	appCfg := config.Load()

	// Override port if specified
	if cfg.Port > 0 {
		appCfg.Port = cfg.Port
	}
	if err := appCfg.Validate(); err != nil {
		return nil, err
	}

	log.Printf("kitaabse relay starting...")
	log.Printf("  Backend: %s", appCfg.APIURL)
	log.Printf("  Database: %s (%s)", appCfg.DBPath, appCfg.DBDriver)
	log.Printf("  Port: %d", appCfg.Port)

	core, err := Open(appCfg)
	if err != nil {
		return nil, err
	}
	database := core.Database

	// The environment wins over the stored retention setting
	if appCfg.RetentionDaysFromEnv {
		if err := database.SetSetting(db.SettingRetentionDays, strconv.Itoa(appCfg.RetentionDays)); err != nil {
			core.Close()
			return nil, fmt.Errorf("failed to store retention: %w", err)
		}
	}
	log.Printf("  Retention: %d days", scheduler.RetentionDays(database, appCfg.RetentionDays))

	if n, err := database.FailInterruptedRuns(); err != nil {
		log.Printf("Warning: failed to close interrupted uploads: %v", err)
	} else if n > 0 {
		log.Printf("  Marked %d interrupted uploads as failed", n)
	}

	// Optional fan-out to Redis
	var extra publish.Sink
	var redisSink *publish.RedisSink
	if appCfg.RedisURL != "" {
		redisSink, err = publish.NewRedisSink(appCfg.RedisURL)
		if err != nil {
			core.Close()
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisSink.Ping(ctx); err != nil {
			log.Printf("Warning: redis not reachable: %v", err)
		}
		cancel()
		extra = redisSink
		log.Printf("  Redis: publishing progress to %s*", publish.ChannelPrefix)
	}

	// Relayed uploads carry the browser's bearer token, so a 401 there
	// must not clear the relay's own session
	uploadClient := api.New(appCfg.APIURL, api.WithTokenSource(core.Session))
	uploads := uploader.NewService(database, uploader.New(uploadClient), extra, appCfg.UploadTimeout)

	// Initialize scheduler
	sched, err := scheduler.New(database, core.Client, appCfg.SyncSchedule, appCfg.RetentionDays)
	if err != nil {
		if redisSink != nil {
			redisSink.Close()
		}
		core.Close()
		return nil, err
	}
	sched.Start()

	// Build version string
	versionStr := buildVersionString(cfg.Version, cfg.Commit)

	// Set up HTTP server
	mux := http.NewServeMux()
	handlers.New(database, appCfg, uploads, versionStr).RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, appCfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  0, // Uploads may be large
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		Core:      core,
		HTTP:      server,
		Uploads:   uploads,
		Scheduler: sched,
		redis:     redisSink,
	}, nil
}

// Cleanup releases all resources held by the server. Running uploads are
// cancelled and waited for until ctx ends.
func (s *Server) Cleanup(ctx context.Context) {
	if s.Uploads != nil {
		if err := s.Uploads.Shutdown(ctx); err != nil {
			log.Printf("Warning: uploads still running at shutdown: %v", err)
		}
	}
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.Core != nil {
		s.Core.Close()
	}
}

func buildVersionString(version, commit string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	shortCommit := commit
	if len(shortCommit) > 7 {
		shortCommit = shortCommit[:7]
	}
	if shortCommit == "" {
		shortCommit = "unknown"
	}
	return version + "-" + shortCommit
}
