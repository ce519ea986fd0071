package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"go.uber.org/zap"

	"maitred/internal/api"
	"maitred/internal/billing"
	"maitred/internal/config"
	"maitred/internal/database"
	"maitred/internal/display"
	"maitred/internal/floor"
	"maitred/internal/kitchen"
	"maitred/internal/logging"
	"maitred/internal/monitoring"
	"maitred/internal/notify"
	"maitred/internal/ordering"
	"maitred/internal/realtime"
	"maitred/internal/receipt"
	"maitred/internal/store"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

// orderTables are the changes that make a cached order stale
var orderTables = []string{"orders", "order_items", "order_item_modifiers", "table_sessions", "payments"}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("maitred stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := initializeDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	bus, err := initializeBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	notifier, closeNotifier := initializeNotifier(cfg, logger)
	defer closeNotifier()
	sender := notify.NewAsync(notifier, cfg.Store.Timeout, logger)

	metrics := monitoring.NewMetrics()
	monitor := monitoring.NewMonitor()

	st := store.NewGormStore(db, store.Policy{
		Timeout:     cfg.Store.Timeout,
		ReadRetries: cfg.Store.ReadRetries,
		Backoff:     cfg.Store.Backoff,
	}, bus, logger)

	dispatcher := kitchen.NewDispatcher(st, sender, metrics, logger,
		kitchen.Options{ConfirmWindow: cfg.Kitchen.ConfirmWindow})
	orders := ordering.NewManager(st, dispatcher, metrics, logger,
		ordering.Policy{AutoFireLowestCourse: cfg.Ordering.AutoFireLowestCourse})
	tables := floor.NewService(st, logger)
	engine := billing.NewEngine(orders, dispatcher, st, tables,
		receipt.NewLogPrinter(logger), sender, metrics, logger)

	reconciler := realtime.NewReconciler(orders.RefreshRestaurant, logger)
	if err := reconciler.Follow(ctx, bus, realtime.Filter{
		RestaurantID: cfg.RestaurantID,
		Tables:       orderTables,
	}); err != nil {
		return fmt.Errorf("failed to follow changes: %w", err)
	}
	go reconciler.Run(ctx)

	hub := display.NewHub(bus, logger)
	defer hub.Close()

	server, err := api.NewServer(api.Deps{
		Store:   st,
		Floor:   tables,
		Orders:  orders,
		Kitchen: dispatcher,
		Billing: engine,
		Hub:     hub,
		Monitor: monitor,
		Logger:  logger,
	}, api.Options{
		Secret:       cfg.Auth.Secret,
		AuthDisabled: cfg.Auth.Disabled,
		RestaurantID: cfg.RestaurantID,
		RateLimit:    cfg.Server.RateLimit,
	})
	if err != nil {
		return err
	}

	go reportHealth(ctx, monitor, reconciler, hub, orders)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg.Metrics, metrics, logger)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Router,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down servers")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", zap.Error(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", zap.Error(err))
			}
		}
		cancel()
	}()

	logger.Info("starting API server", zap.Int("port", cfg.Server.Port))
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func initializeDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(database.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogMode:         cfg.Database.LogMode,
	})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if cfg.Database.Seed {
		if err := database.Seed(db, cfg.RestaurantID); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to seed database: %w", err)
		}
	}
	return db, nil
}

// initializeBus shares changes through Redis when configured so several
// instances see each other's writes.
func initializeBus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (realtime.Bus, error) {
	if !cfg.Redis.Enabled {
		return realtime.NewLocalBus(), nil
	}
	client, err := realtime.NewRedisClient(ctx, realtime.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	return realtime.NewRedisBus(client, logger), nil
}

// initializeNotifier falls back to logging when the broker is unreachable.
// Notifications are best effort and never block startup.
func initializeNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, func()) {
	if !cfg.RabbitMQ.Enabled {
		return notify.NewLogNotifier(logger), func() {}
	}
	n, err := notify.DialAMQP(notify.AMQPOptions{URL: cfg.RabbitMQ.URL, Exchange: cfg.RabbitMQ.Exchange}, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable, logging notifications", zap.Error(err))
		return notify.NewLogNotifier(logger), func() {}
	}
	return n, func() {
		if err := n.Close(); err != nil {
			logger.Warn("failed to close rabbitmq", zap.Error(err))
		}
	}
}

func reportHealth(ctx context.Context, monitor *monitoring.Monitor, reconciler *realtime.Reconciler, hub *display.Hub, orders *ordering.Manager) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.RecordComponent("reconciler", map[string]interface{}{"pending": reconciler.Pending()})
			monitor.RecordComponent("display", map[string]interface{}{"clients": hub.Clients()})
			monitor.RecordComponent("orders", map[string]interface{}{"sessions": orders.Held()})
		}
	}
}

func startMetricsServer(cfg config.MetricsConfig, metrics *monitoring.Metrics, logger *zap.Logger) *http.Server {
	metricsRouter := gin.New()
	metricsRouter.Use(gin.Recovery())
	metricsRouter.GET(cfg.Path, gin.WrapH(metrics.Handler()))

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: metricsRouter,
	}

	go func() {
		logger.Info("starting metrics server", zap.Int("port", cfg.Port))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return metricsServer
}
