package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kamwali/realtime/internal/api"
	"github.com/kamwali/realtime/internal/block"
	"github.com/kamwali/realtime/internal/channel"
	"github.com/kamwali/realtime/internal/config"
	"github.com/kamwali/realtime/internal/database"
	"github.com/kamwali/realtime/internal/history"
	"github.com/kamwali/realtime/internal/presence"
	"github.com/kamwali/realtime/internal/relay"
	"github.com/kamwali/realtime/internal/report"
)

func main() {
	cfg := config.Load()

	// --- Postgres ---
	if err := database.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}
	db, err := database.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	// --- Redis (online mirror reads) ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}
	defer redisClient.Close()

	// --- Broadcast bus ---
	// The API publishes moderation and KYC events onto per-user channels; the
	// relay node holding the user's connection delivers them. Without NATS the
	// in-process bus has no subscribers here, so events are silently dropped,
	// which is the correct single-binary development behavior.
	var bus channel.Bus
	if cfg.NATSURL != "" {
		natsConfig := channel.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = cfg.ServerName + "-api"
		natsBus, err := channel.NewNATSBus(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		bus = natsBus
	} else {
		log.Printf("NATS_URL not set, realtime notifications disabled")
		bus = channel.NewMemoryBus()
	}
	defer bus.Close()

	server := api.NewServer(
		api.Config{
			JWTSecret:      cfg.JWTSecret,
			AllowedOrigins: cfg.AllowedOrigins,
		},
		history.NewStore(db),
		block.NewStore(db),
		report.NewStore(db),
		relay.NewBroadcaster(bus),
		presence.NewMirror(redisClient, cfg.ServerName),
	)

	httpServer := &http.Server{
		Addr:         cfg.APIListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	log.Printf("Kamwali API server starting")
	log.Printf("  listen_addr: %s", cfg.APIListenAddr)
	log.Printf("  redis_addr:  %s", cfg.RedisAddr)
	log.Printf("  nats_url:    %s", cfg.NATSURL)
	log.Printf("  origins:     %v", cfg.AllowedOrigins)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}

	log.Printf("api server stopped")
}
