package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tgassist-backend/internal/ai"
	"tgassist-backend/internal/api"
	"tgassist-backend/internal/auth"
	"tgassist-backend/internal/config"
	"tgassist-backend/internal/handlers"
	"tgassist-backend/internal/integrations/telegram"
	"tgassist-backend/internal/services"
	"tgassist-backend/internal/store/postgres"
)

func main() {
	log.Println("Starting TgAssist Backend...")

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	// 2. Initialize Database Connection Pool
	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	dbpool, err := pgxpool.New(dbCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: Unable to create database connection pool: %v\n", err)
	}
	defer dbpool.Close()

	if err := dbpool.Ping(dbCtx); err != nil {
		log.Fatalf("FATAL: Unable to ping database: %v\n", err)
	}
	log.Println("Database connection pool established and pinged successfully.")

	// 3. Initialize Dependencies (Store, Integrations, Services, Handlers)
	pgStore := postgres.NewPostgresStore(dbpool, cfg)
	if err := pgStore.EnsureSchema(dbCtx); err != nil {
		log.Fatalf("FATAL: Failed to ensure database schema: %v", err)
	}
	log.Println("Postgres store initialized, schema ensured.")

	tgClient := telegram.NewClient(cfg.TelegramToken, cfg.TelegramAPIBase)
	tgFiles := telegram.NewFileStore(tgClient, cfg.DownloadDir)
	log.Println("Telegram client initialized.")

	completer := ai.NewOpenRouterClient(cfg.OpenRouterKey, cfg.OpenRouterURL)
	log.Println("OpenRouter client initialized.")

	chatService := services.NewChatService(pgStore, completer, tgClient, cfg)
	log.Println("ChatService initialized.")

	scheduler := services.NewScheduler(pgStore, tgClient, cfg.SchedulerPeriod, cfg.SchedulerStopTTL)
	scheduler.Start()
	log.Println("Scheduler started.")

	webhookHandler := handlers.NewWebhookHandlers(chatService, tgClient, tgFiles, cfg)
	adminHandler := handlers.NewAdminHandlers(chatService)
	log.Println("Handlers initialized.")

	// Dev convenience: mint an admin token at startup so the admin API is
	// reachable without a separate login flow.
	if token, err := auth.NewAccessToken("admin", cfg.JWTSecret, cfg.TokenExpiration); err == nil {
		log.Printf("Admin API token (expires in %s): %s", cfg.TokenExpiration, token)
	}

	// 4. Setup Router & Inject Dependencies
	router := api.NewRouter(api.RouterDependencies{
		WebhookHandler: webhookHandler,
		AdminHandler:   adminHandler,
		Config:         cfg,
	})
	log.Println("HTTP router configured.")

	// 5. Configure and Start HTTP Server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting and listening on port %s", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: Could not listen on %s: %v\n", cfg.HTTPPort, err)
		}
		log.Println("Server listener routine stopped.")
	}()

	<-stopChan
	log.Println("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: Server graceful shutdown failed: %v", err)
	}

	if err := scheduler.Stop(); err != nil {
		log.Printf("WARN: Scheduler did not stop cleanly: %v", err)
	}

	log.Println("Server shutdown complete.")
}
