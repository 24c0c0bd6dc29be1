package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"offer-market/internal/api/handlers"
	"offer-market/internal/config"
	"offer-market/internal/domain"
	"offer-market/internal/infrastructure/leader"
	"offer-market/internal/infrastructure/memory"
	"offer-market/internal/infrastructure/mysql"
	"offer-market/internal/infrastructure/redis"
	"offer-market/internal/infrastructure/websocket"
	"offer-market/internal/services"
	"offer-market/pkg/logger"
	"offer-market/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level)
	defer func() { _ = log.Sync() }()
	log.Info("Starting offer service", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Initialize offer store
	var store domain.OfferStore
	var closers []func() error

	switch cfg.Store.Driver {
	case config.StoreDriverMySQL:
		db, err := utils.InitializeMysql(ctx, cfg)
		if err != nil {
			log.Error("Failed to connect to MySQL", "error", err)
			os.Exit(1)
		}
		closers = append(closers, db.Close)
		store = mysql.NewMySQLOfferStore(db)
		log.Info("Connected to MySQL")

	case config.StoreDriverMemory:
		memStore := memory.NewOfferStore()
		if cfg.Store.CatalogPath != "" {
			n, err := memStore.LoadCatalog(cfg.Store.CatalogPath)
			if err != nil {
				log.Error("Failed to load catalog", "path", cfg.Store.CatalogPath, "error", err)
				os.Exit(1)
			}
			log.Info("Loaded catalog", "path", cfg.Store.CatalogPath, "items", n)
		}
		store = memStore
		log.Warn("Using in-memory offer store, offers are lost on restart")
	}

	// Initialize Redis only when a feature needs it
	var rdb *redisClient.Client
	if cfg.Broadcast.RelayEnabled || cfg.Ranking.SnapshotEnabled {
		rdb, err = utils.InitializeRedis(ctx, cfg)
		if err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		closers = append(closers, rdb.Close)
		log.Info("Connected to Redis", "address", cfg.Redis.Address)
	}

	runCtx, stopRunning := context.WithCancel(context.Background())
	defer stopRunning()

	// Initialize price hub
	hub := services.NewPriceHub(cfg.Broadcast.InboxSize, cfg.Broadcast.SubscriberBuffer, log)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(runCtx)
		close(hubDone)
	}()

	// Initialize services
	offerService := services.NewOfferService(store, hub, services.AdmissionPolicy{
		Baseline:     domain.BaselinePolicy(cfg.Bidding.Baseline),
		MaxAttempts:  cfg.Bidding.MaxAttempts,
		RetryBackoff: cfg.Bidding.RetryBackoff,
	}, log)
	itemService := services.NewItemService(store, log)
	rankingService := services.NewRankingService(store, cfg.Ranking.DefaultLimit, cfg.Ranking.MaxLimit, log)

	// Relay admitted prices to other instances
	if cfg.Broadcast.RelayEnabled {
		relay := services.NewPriceRelay(hub, redis.NewEventPublisher(rdb, cfg.Broadcast.RelayChannel), log)
		go relay.Run(runCtx)
		log.Info("Price relay enabled", "channel", cfg.Broadcast.RelayChannel)
	}

	// Initialize ranking snapshot job
	var snapshotJob *services.RankingSnapshotJob
	if cfg.Ranking.SnapshotEnabled {
		leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.Key, cfg.Leader.TTL)
		rankingCache := redis.NewRedisRankingCache(rdb, cfg.Ranking.SnapshotKey)
		rankingService.UseSnapshots(rankingCache)
		snapshotJob = services.NewRankingSnapshotJob(rankingService, rankingCache, leaderElection,
			cfg.Instance.ID, cfg.Ranking.SnapshotSchedule, cfg.Ranking.DefaultLimit, log)
		if err := snapshotJob.Start(runCtx); err != nil {
			log.Error("Failed to start ranking snapshot job", "error", err)
			os.Exit(1)
		}
	}

	// Initialize WebSocket connection manager
	connManager := websocket.NewConnectionManager(hub, log)
	wsHandlers := handlers.NewWebSocketHandlers(connManager, log)
	offerHandler := handlers.NewOfferHandler(offerService, itemService, rankingService, log)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: `{"time":"${time_rfc3339}","id":"${id}","remote_ip":"${remote_ip}","method":"${method}","uri":"${uri}","status":${status},"error":"${error}","latency_human":"${latency_human}","bytes_in":${bytes_in},"bytes_out":${bytes_out}}` + "\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.HEAD, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
		},
		MaxAge: 86400,
	}))

	// Routes
	offerHandler.RegisterRoutes(e)
	e.GET("/ws/price-updates", wsHandlers.Echo())

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"service":     "offer-service",
			"timestamp":   time.Now().Format(time.RFC3339),
			"store":       cfg.Store.Driver,
			"subscribers": hub.Count(),
			"instance_id": cfg.Instance.ID,
		})
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting offer server", "address", serverAddr)

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down offer service...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if snapshotJob != nil {
		if err := snapshotJob.Stop(); err != nil {
			log.Error("Failed to stop ranking snapshot job", "error", err)
		}
	}

	connManager.CloseAll()
	stopRunning()
	<-hubDone

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("Failed to close resource", "error", err)
		}
	}

	log.Info("Offer service stopped")
}
