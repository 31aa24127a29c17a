package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authgate.org/internal/bridge"
	"authgate.org/internal/config"
	"authgate.org/internal/httpapi"
	"authgate.org/internal/obs"
	"authgate.org/internal/resourceapi"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.LoadResource()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	client, err := bridge.NewClient(cfg.AuthURL, bridge.WithTimeout(cfg.Timeout))
	if err != nil {
		log.Fatalf("bridge: %v", err)
	}

	api := resourceapi.New(client, version)

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.RateLimit(api.Handler(), cfg.RateBurst, cfg.RateLimitRPS)))))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting resourced %s on %s (auth server %s)", version, srv.Addr, cfg.AuthURL)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
