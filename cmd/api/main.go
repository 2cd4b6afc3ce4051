package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"planner/api/internal/app"
	"planner/api/internal/authpw"
	"planner/api/internal/config"
	"planner/api/internal/email"
	"planner/api/internal/notify"
	"planner/api/internal/portal"
	"planner/api/internal/search"
	"planner/api/internal/snapshot"
	"planner/api/internal/store"
	"planner/api/internal/workflow"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.SnapshotsDir, 0o755); err != nil {
		log.Fatalf("failed to create snapshots dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	emailService := email.NewService(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.SMTPFrom,
		FromName:  cfg.SMTPFromName,
		EnableTLS: true,
	})
	if emailService.IsConfigured() {
		log.Printf("email sending enabled via %s", cfg.SMTPHost)
	} else {
		log.Printf("email not configured, notifications are in-app only")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	// Redis caches validated portal grants; Postgres stays the truth.
	var portalCache *portal.RedisCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		portalCache, err = portal.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer portalCache.Close()
		log.Printf("portal grant caching enabled")
	}

	snapshotService := snapshot.New(cfg.SnapshotsDir, dataStore)
	notifyService := notify.NewService(dataStore, emailService, cfg.AppURL, cfg.InternalDomain)
	portalService := portal.NewService(dataStore, portalCache, emailService, cfg.AppURL, cfg.PortalTTL)
	engine := workflow.NewEngine(dataStore, notifyService, portalService, snapshotService)
	userService := authpw.NewService(dataStore)

	service := app.New(cfg, dataStore, engine, portalService, snapshotService, userService, searchService)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Planner API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
