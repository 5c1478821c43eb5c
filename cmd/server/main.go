package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/rl1809/order-fulfillment/internal/adapter/handler"
	"github.com/rl1809/order-fulfillment/internal/adapter/notify"
	"github.com/rl1809/order-fulfillment/internal/adapter/storage"
	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/config"
	"github.com/rl1809/order-fulfillment/internal/core/service"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/port"
	"github.com/rl1809/order-fulfillment/internal/token"
)

const recoverBatch = 1000

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	dialect, err := storage.ParseDialect(cfg.Database.Driver)
	if err != nil {
		fatal(log, "unsupported database", err)
	}
	db, err := sql.Open(dialect.DriverName(), cfg.Database.DSN)
	if err != nil {
		fatal(log, "failed to open database", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		fatal(log, "failed to ping database", err)
	}
	log.Info("connected to database", slog.String("driver", string(dialect)))

	clk := clock.Real()
	store := storage.NewSQLStore(db, dialect, clk)
	if cfg.Database.ApplySchema {
		if err := store.Migrate(ctx); err != nil {
			fatal(log, "failed to apply schema", err)
		}
		log.Info("schema applied")
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		fatal(log, "failed to connect redis", err)
	}
	log.Info("connected to redis", slog.String("addr", cfg.Redis.Addr))
	cache := storage.NewRedisAdapter(rdb)

	// Notification channel
	var channel port.DeliveryChannel
	var amqpChannel *notify.AMQPChannel
	switch cfg.Notification.Channel {
	case "amqp":
		amqpChannel, err = notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			fatal(log, "failed to connect broker", err)
		}
		channel = amqpChannel
		log.Info("connected to broker", slog.String("exchange", cfg.AMQP.Exchange))
	default:
		channel = notify.NewLogChannel(log)
	}

	publicKey, privateKey, err := token.LoadOrGenerateKeypair(cfg.Impersonation.KeyDir)
	if err != nil {
		fatal(log, "failed to load impersonation keys", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize services
	audit := service.NewAuditService(store, clk, log)
	locks := service.NewCartLockService(cache, audit, clk, cfg.Checkout.CartLockTTL, log)
	notifier := service.NewNotificationService(store, channel, clk, service.NotificationConfig{
		MaxAttempts:       cfg.Notification.MaxAttempts,
		InitialDelay:      cfg.Notification.InitialDelay,
		BackoffMultiplier: cfg.Notification.BackoffMultiplier,
		Workers:           cfg.Notification.Workers,
		QueueSize:         cfg.Notification.QueueSize,
		AlertThreshold:    cfg.Notification.AlertThreshold,
	}, m, log)
	carts := service.NewCartService(store, store, locks, clk, log)
	checkout := service.NewCheckoutService(store, cache, store, locks, store, notify.DefaultQuoter(), notifier, clk,
		service.CheckoutConfig{SessionTTL: cfg.Checkout.SessionTTL}, m, log)
	orders := service.NewOrderService(store, notifier, audit, clk, m, log)
	inventory := service.NewInventoryService(store, audit, m, log)
	impersonation := service.NewImpersonationService(store, store, audit, publicKey, privateKey, clk,
		service.ImpersonationConfig{
			DefaultTTL:         cfg.Impersonation.DefaultTTL,
			MinTTL:             cfg.Impersonation.MinTTL,
			MaxTTL:             cfg.Impersonation.MaxTTL,
			MaxSessionsPerHour: cfg.Impersonation.MaxSessionsPerHour,
			Production:         cfg.Environment == config.Production,
		}, m, log)

	// Start notification workers and pick up what the last run left
	notifier.Start(ctx)
	if n, err := notifier.Recover(ctx, recoverBatch); err != nil {
		log.Error("failed to recover pending notifications", slog.Any("error", err))
	} else if n > 0 {
		log.Info("recovered pending notifications", slog.Int("count", n))
	}

	// Initialize gRPC server
	paymentSecret := []byte(cfg.Payment.WebhookSecret)
	if len(paymentSecret) == 0 {
		log.Warn("payment.webhook_secret is empty, payment callbacks will be rejected")
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.PaymentSecretInterceptor(paymentSecret)))
	handler.NewGRPCHandler(checkout, log).Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		fatal(log, "failed to listen", err)
	}

	go func() {
		log.Info("gRPC server listening", slog.String("addr", cfg.GRPC.Addr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", slog.Any("error", err))
		}
	}()

	// Initialize HTTP server
	app := fiber.New(fiber.Config{
		AppName:      "order-fulfillment",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	handler.NewHTTPHandler(handler.Services{
		Carts:         carts,
		Checkout:      checkout,
		Orders:        orders,
		Inventory:     inventory,
		Impersonation: impersonation,
		Audit:         audit,
		Locks:         locks,
		Users:         store,
		Gatherer:      registry,
		PaymentSecret: paymentSecret,
	}, log).Register(app)

	go func() {
		log.Info("HTTP server listening", slog.String("addr", cfg.HTTP.Addr))
		if err := app.Listen(cfg.HTTP.Addr); err != nil {
			log.Error("HTTP server error", slog.Any("error", err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Error("HTTP shutdown", slog.Any("error", err))
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	notifier.Close()
	cancel()
	log.Info("notification workers stopped")

	if amqpChannel != nil {
		if err := amqpChannel.Close(); err != nil {
			log.Error("close broker connection", slog.Any("error", err))
		}
	}
	rdb.Close()
	db.Close()
	log.Info("connections closed")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
