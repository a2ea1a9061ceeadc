package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/kamwali/realtime/internal/block"
	"github.com/kamwali/realtime/internal/channel"
	"github.com/kamwali/realtime/internal/config"
	"github.com/kamwali/realtime/internal/database"
	"github.com/kamwali/realtime/internal/presence"
	"github.com/kamwali/realtime/internal/protocol"
	"github.com/kamwali/realtime/internal/ratelimit"
	"github.com/kamwali/realtime/internal/relay"
	"github.com/kamwali/realtime/internal/ws"
)

// messageLimiter adapts the Redis limiter to the relay's per-sender check.
type messageLimiter struct {
	limiter *ratelimit.Limiter
}

func (l *messageLimiter) Allow(ctx context.Context, senderID string) (bool, error) {
	return l.limiter.Allow(ctx, senderID, ratelimit.RuleMessage)
}

func main() {
	cfg := config.Load()

	// --- Redis (online mirror + rate limits) ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}

	// --- Postgres (block records for the moderation gate) ---
	db, err := database.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	// --- Broadcast bus ---
	// With NATS configured, per-user channels span relay instances; without
	// it the in-process bus serves a single-node deployment.
	var bus channel.Bus
	if cfg.NATSURL != "" {
		natsConfig := channel.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = cfg.ServerName
		natsBus, err := channel.NewNATSBus(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		bus = natsBus
	} else {
		log.Printf("NATS_URL not set, using in-process broadcast bus")
		bus = channel.NewMemoryBus()
	}
	defer bus.Close()

	directory := presence.NewDirectory()
	mirror := presence.NewMirror(redisClient, cfg.ServerName)
	limiter := ratelimit.NewLimiter(redisClient)
	blocks := block.NewStore(db)

	relayConfig := relay.DefaultConfig()
	relayConfig.OnModerationStoreError = relay.ErrorPolicy(cfg.ModerationErrorPolicy)
	r := relay.New(relayConfig, directory, bus, blocks, &messageLimiter{limiter: limiter}, mirror)

	log.Printf("Kamwali relay server starting")
	log.Printf("  listen_addr:       %s", cfg.ListenAddr)
	log.Printf("  worker_pool:       %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections:   %d", cfg.MaxConnections)
	log.Printf("  read_timeout:      %s", cfg.ReadTimeout)
	log.Printf("  write_timeout:     %s", cfg.WriteTimeout)
	log.Printf("  moderation_policy: %s", relayConfig.OnModerationStoreError)
	log.Printf("  redis_addr:        %s", cfg.RedisAddr)
	log.Printf("  nats_url:          %s", cfg.NATSURL)
	log.Printf("  server_name:       %s", cfg.ServerName)

	dispatcher := ws.NewMessageDispatcher()

	// -----------------------------------------------------------------------
	// register — bind the connection to a user identity
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeRegister, func(conn *ws.Connection, msg interface{}) {
		registerMsg, ok := msg.(protocol.RegisterMsg)
		if !ok {
			return
		}
		r.Register(context.Background(), conn, registerMsg.UserID.String())
	})

	// -----------------------------------------------------------------------
	// sendMessage — relay a chat message through the moderation gate
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		r.HandleMessage(context.Background(), sendMsg)
	})

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}
	server := ws.NewServer(serverConfig, dispatcher.Dispatch)

	server.SetOnDisconnect(func(connID string) {
		r.Disconnect(context.Background(), connID)
	})

	// Keep the online mirror's TTL alive for every registered connection.
	server.SetOnHeartbeat(func(conn *ws.Connection) {
		userID, ok := directory.UserOf(conn.ID)
		if !ok {
			return
		}
		if err := mirror.Refresh(context.Background(), userID); err != nil {
			log.Printf("heartbeat: mirror refresh failed user=%s: %v", userID, err)
		}
	})

	server.SetConnectGate(func(ctx context.Context, ip string) bool {
		allowed, _ := limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		return allowed
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case sig := <-sigCh:
		log.Printf("received signal %s, shutting down", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	if err := redisClient.Close(); err != nil {
		log.Printf("redis close error: %v", err)
	}
	log.Printf("relay server stopped")
}
