package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bcnelson/ztna-hub/internal/acl"
	"github.com/bcnelson/ztna-hub/internal/allocator"
	"github.com/bcnelson/ztna-hub/internal/api"
	"github.com/bcnelson/ztna-hub/internal/config"
	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/events"
	"github.com/bcnelson/ztna-hub/internal/heartbeat"
	"github.com/bcnelson/ztna-hub/internal/storage/sql"
	"github.com/bcnelson/ztna-hub/internal/tunnel"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Audit events go to both the log and the database
	sink := events.Multi{events.NewLogSink(), events.NewStoreSink(store)}

	// Load the rule set and build the decision engine
	rules := acl.NewStore(store, sink)
	if err := rules.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load access rules: %v", err)
	}
	engine := acl.NewEngine(rules, store, sink)

	ports := allocator.New(allocator.Config{
		TerminalRange: allocator.Range{Min: cfg.Ports.TerminalMin, Max: cfg.Ports.TerminalMax},
		HTTPSRange:    allocator.Range{Min: cfg.Ports.HTTPSMin, Max: cfg.Ports.HTTPSMax},
		Quarantine:    cfg.Ports.Quarantine,
	})

	monitor := heartbeat.NewMonitor(cfg.Heartbeat.Timeout)
	manager := tunnel.NewManager(store, engine, ports, sink, monitor, tunnel.Config{
		HubAddress: cfg.Hub.Address,
		ControlPorts: map[domain.TunnelClass]int{
			domain.ClassSystem:   cfg.Hub.SystemPort,
			domain.ClassTerminal: cfg.Hub.TerminalPort,
			domain.ClassHTTPS:    cfg.Hub.HTTPSControlPort,
		},
		HandshakeTimeout: cfg.Tunnel.HandshakeTimeout,
		ReconnectBase:    cfg.Tunnel.ReconnectBase,
		ReconnectMax:     cfg.Tunnel.ReconnectMax,
		ReevalDebounce:   cfg.Tunnel.ReevalDebounce,
	})
	monitor.SetReaper(manager)

	// Tunnels that were open before the restart come back in error state
	// and reconnect through the normal path
	if err := manager.Restore(context.Background()); err != nil {
		log.Fatalf("Failed to restore tunnel state: %v", err)
	}

	// Background sweeps: node liveness, the revocation backstop, and
	// quarantine eviction
	bg, stopBg := context.WithCancel(context.Background())
	defer stopBg()
	go monitor.Run(bg, cfg.Heartbeat.Interval)
	go manager.Run(bg, cfg.Tunnel.ReevalInterval)
	go ports.Run(bg, cfg.Ports.Quarantine)

	// Create router
	router := api.NewRouter(store, rules, engine, manager, monitor, cfg.Server.BootstrapAPIKey)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting ZTNA hub on http://%s", cfg.Server.Addr())
	log.Printf("Press Ctrl+C to stop")

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
