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

	"edugate.org/internal/auth"
	"edugate.org/internal/config"
	"edugate.org/internal/httpapi"
	"edugate.org/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := auth.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	svc, err := auth.NewService(auth.NewPGStore(db),
		auth.WithTokenSecret(cfg.AuthSecret),
		auth.WithTokenIssuer(cfg.TokenIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithLockoutPolicy(cfg.LockoutThreshold, cfg.LockoutDuration),
		auth.WithIPThrottle(cfg.ThrottleMaxHits, cfg.ThrottleWindow),
		auth.WithPermissionCacheTTL(cfg.PermissionCacheTTL),
		auth.WithEmailVerification(cfg.RequireEmailVerification),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	ensureCtx, ensureCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsurePermissions(ensureCtx); err != nil {
		log.Fatalf("ensure permissions: %v", err)
	}
	ensureCancel()

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version,
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithRateLimit(cfg.RateLimitBurst, cfg.RateLimitPerSec),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting edugate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = db.Close()
	log.Println("Stopped")
}
