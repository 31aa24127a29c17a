package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/config"
	"authgate.org/internal/httpapi"
	"authgate.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("AUTHGATE_PG_DSN is required")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := auth.NewPGStore(db)
	svc, err := auth.NewService(store, cfg.Secret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(cfg.Bootstrap) > 0 {
		bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := svc.Bootstrap(bootCtx, cfg.Bootstrap); err != nil {
			bootCancel()
			log.Fatalf("bootstrap identities: %v", err)
		}
		bootCancel()
	}

	go svc.RunSweeper(ctx, cfg.SweepInterval, func(removed int64, err error) {
		if err != nil {
			log.Printf("sweep: %v", err)
			return
		}
		if removed > 0 {
			obs.TokensSwept(removed)
			_ = audit.LogEvent(ctx, "sweep.completed", map[string]any{"removed": removed})
		}
	})

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version)

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), cfg.RateBurst, cfg.RateLimitRPS),
						1<<20)))))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting authd %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = db.Close()
	log.Println("Stopped")
}
