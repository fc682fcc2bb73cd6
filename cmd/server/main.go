package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/meridianhq/partner-sync/internal/api"
	"github.com/meridianhq/partner-sync/internal/config"
	"github.com/meridianhq/partner-sync/internal/crm"
	"github.com/meridianhq/partner-sync/internal/db"
	"github.com/meridianhq/partner-sync/internal/engine"
	"github.com/meridianhq/partner-sync/internal/lms"
	"github.com/meridianhq/partner-sync/internal/scheduler"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(os.Stdout)

	// Load configuration with defaults
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate minimum required config
	if cfg.DBConnectionString == "" || cfg.LMS.Token == "" {
		logger.Fatal("Missing required configuration (DB_CONNECTION_STRING and LMS_API_TOKEN must be set)")
	}

	// Initialize database
	store, err := db.NewPostgresStore(cfg.DBConnectionString)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Run migrations with retry logic
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := retry(3, 5*time.Second, func() error {
		return store.Migrate(ctx, logger)
	}); err != nil {
		logger.Fatalf("Failed to run migrations after retries: %v", err)
	}

	// Initialize API clients and the sync engine
	lmsClient := lms.NewClient(cfg.LMS, logger)
	crmClient := crm.NewClient(cfg.CRM, logger)
	syncEngine := engine.New(store, lmsClient, crmClient, cfg.Sync, logger)

	// Start the sync orchestrator
	orchestrator := scheduler.New(store, syncEngine, cfg.Sync, logger)
	if err := orchestrator.Start(ctx); err != nil {
		logger.Fatalf("Failed to start orchestrator: %v", err)
	}

	// Setup the admin API
	handler := api.NewHandler(store, syncEngine, orchestrator, logger)
	router := api.SetupRouter(handler, nil, logger)
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	orchestrator.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("Server exited properly")
}

// retry retries a function up to a certain number of attempts with a delay between attempts
func retry(attempts int, sleep time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		if attempts--; attempts > 0 {
			time.Sleep(sleep)
			return retry(attempts, sleep, fn)
		}
		return err
	}
	return nil
}
