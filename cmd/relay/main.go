package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyallcooper/kitaabse/internal/app"
	"github.com/lyallcooper/kitaabse/internal/config"
)

// Version info - injected at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	port := flag.Int("port", 0, "port to listen on (overrides KITAABSE_PORT)")
	bind := flag.String("bind", "", "address to bind to (default all interfaces)")
	envFile := flag.String("env-file", ".env", "file of KEY=value defaults")
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	server, err := app.CreateServer(app.ServerConfig{
		Port:        *port,
		Version:     version,
		Commit:      commit,
		BindAddress: *bind,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Graceful shutdown
	idleConnsClosed := make(chan struct{})
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Cancelling uploads first ends their SSE streams
		if err := server.Uploads.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		if err := server.HTTP.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		server.Cleanup(ctx)
		close(idleConnsClosed)
	}()

	// Start server
	log.Printf("Relay listening on http://localhost:%d", server.Config.Port)
	if err := server.HTTP.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	<-idleConnsClosed
	log.Println("Server stopped")
}
