package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/internal/audit"
	"github.com/Aidin1998/vendorpulse/internal/auth"
	"github.com/Aidin1998/vendorpulse/internal/backend"
	"github.com/Aidin1998/vendorpulse/internal/config"
	"github.com/Aidin1998/vendorpulse/internal/decision"
	"github.com/Aidin1998/vendorpulse/internal/notify"
	"github.com/Aidin1998/vendorpulse/internal/orderqueue"
	"github.com/Aidin1998/vendorpulse/internal/server"
	"github.com/Aidin1998/vendorpulse/internal/session"
	"github.com/Aidin1998/vendorpulse/internal/ws"
	"github.com/Aidin1998/vendorpulse/pkg/logger"
	"github.com/Aidin1998/vendorpulse/pkg/tracing"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	identity, err := auth.ParseIdentity(cfg.Auth.Token, cfg.Auth.VendorID, time.Now())
	if err != nil {
		zapLogger.Fatal("Vendor credential rejected", zap.Error(err))
	}
	zapLogger = zapLogger.With(zap.String("vendor_id", identity.VendorID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		PrettyPrint: cfg.Tracing.PrettyPrint,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up tracing", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Address), zap.Error(err))
		}
		defer redisClient.Close()
	}

	snapshots, err := openSnapshotStore(cfg, identity, redisClient)
	if err != nil {
		zapLogger.Fatal("Failed to open snapshot store", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer snapshots.Close()

	var resolved orderqueue.ResolvedSet = orderqueue.NewMemoryResolvedSet(cfg.Intake.ResolvedTTL)
	if cfg.Intake.SharedResolved {
		resolved = orderqueue.NewRedisResolvedSet(redisClient, identity.VendorID, cfg.Intake.ResolvedTTL)
	}

	api := backend.NewClient(cfg.Backend.URL, identity.Token, cfg.Backend.Timeout, zapLogger)

	socket := ws.NewClient(ws.Config{
		URL:                  cfg.Socket.URL,
		HandshakeTimeout:     cfg.Socket.HandshakeTimeout,
		WriteTimeout:         cfg.Socket.WriteTimeout,
		PongTimeout:          cfg.Socket.PongTimeout,
		HeartbeatInterval:    cfg.Socket.HeartbeatInterval,
		ReconnectDelay:       cfg.Socket.ReconnectDelay,
		ReconnectDelayMax:    cfg.Socket.ReconnectDelayMax,
		MaxReconnectAttempts: cfg.Socket.MaxReconnectAttempts,
	}, zapLogger)

	var publishers []audit.Publisher
	if cfg.Kafka.Enabled {
		kafkaPublisher := audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zapLogger)
		defer kafkaPublisher.Close()
		publishers = append(publishers, kafkaPublisher)
	}
	if cfg.Audit.RedisStream {
		publishers = append(publishers, audit.NewRedisPublisher(redisClient, 10000, zapLogger))
	}

	feed := server.NewFeed(server.DefaultReplaySize, cfg.Server.AllowedOrigins, zapLogger)

	sess := session.New(identity, session.Deps{
		Transport:     socket,
		Queue:         orderqueue.NewQueue(snapshots, resolved, zapLogger),
		Desk:          decision.NewDesk(api, zapLogger),
		Notifications: notify.NewCenter(cfg.Notifications.Capacity),
		Alerter:       notify.NewLogAlerter(zapLogger),
		Statuses:      api,
		Audit:         audit.NewEventPublisher(publishers, cfg.Kafka.Topic, zapLogger),
		Feed:          feed,
	}, session.Options{
		ValidateStatus: cfg.Intake.ValidateStatus,
		StatusTimeout:  cfg.Intake.StatusTimeout,
		EventBuffer:    cfg.Intake.EventBuffer,
	}, zapLogger)

	if err := sess.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start vendor session", zap.Error(err))
	}

	apiServer := server.NewServer(cfg.Server, sess, feed, zapLogger)
	go func() {
		if err := apiServer.Start(); err != nil {
			zapLogger.Fatal("Failed to start control API", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Control API shutdown failed", zap.Error(err))
	}
	sess.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		zapLogger.Error("Tracing shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Vendor session exited properly")
}

func openSnapshotStore(cfg *config.Config, identity auth.Identity, client *redis.Client) (orderqueue.SnapshotStore, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return orderqueue.NewRedisSnapshotStore(client, identity.VendorID, cfg.Storage.SnapshotKey), nil
	case "memory":
		return orderqueue.NewMemorySnapshotStore(), nil
	default:
		return orderqueue.NewBadgerSnapshotStore(cfg.Storage.SnapshotPath, cfg.Storage.SnapshotKey)
	}
}
