// Research Portal Core - Authentication and Project Access Platform
//
// This is the main entry point for the Research Portal Core service.
// The portal provides the security backbone for a research-project
// management organisation:
//   - Credential authentication with an optional TOTP second factor
//   - Rotating access/refresh token pairs with replay detection
//   - A static role permission matrix and per-record project visibility
//   - A persistent audit trail of every security-relevant event
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/oakline-systems/researchportal/migrations"

	"github.com/oakline-systems/researchportal/internal/api"
	"github.com/oakline-systems/researchportal/internal/audit"
	"github.com/oakline-systems/researchportal/internal/auth"
	"github.com/oakline-systems/researchportal/internal/infrastructure/config"
	"github.com/oakline-systems/researchportal/internal/infrastructure/database"
	"github.com/oakline-systems/researchportal/internal/infrastructure/logging"
	"github.com/oakline-systems/researchportal/internal/project"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Research Portal Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	userRepo := auth.NewUserRepository(db.DB)
	sessionRepo := auth.NewSessionRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	projectRepo := project.NewRepository(db.DB)
	memberRepo := project.NewMembershipRepository(db.DB)

	// Audit recorder: security events are written off the request path.
	// Close flushes buffered events before the database goes away.
	recorder := audit.NewRecorder(auditRepo, log.Logger, 0)
	defer func() {
		log.Info("flushing audit recorder")
		recorder.Close()
	}()

	// Authentication gateway
	authSvc := auth.NewService(userRepo, sessionRepo, recorder, log.Logger, auth.ServiceConfig{
		AccessSecret:    cfg.Security.JWT.AccessSecret,
		RefreshSecret:   cfg.Security.JWT.RefreshSecret,
		AccessTTL:       cfg.AccessTTL(),
		RefreshTTL:      cfg.RefreshTTL(),
		TwoFactorIssuer: cfg.Security.TwoFactor.Issuer,
	})

	// Bootstrap: create the first administrator if the user table is empty.
	// The generated password is logged once and must be changed.
	if _, seedErr := auth.SeedAdmin(ctx, userRepo, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	// HTTP API server
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		Security:  cfg.Security,
		Logger:    log,
		Auth:      authSvc,
		Users:     userRepo,
		Projects:  projectRepo,
		Members:   memberRepo,
		AuditRepo: auditRepo,
		AuditSink: recorder,
		DB:        db.DB,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (graceful drain)
	// 2. Audit recorder (flush)
	// 3. Database

	log.Info("Research Portal Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RESEARCHPORTAL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RESEARCHPORTAL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
