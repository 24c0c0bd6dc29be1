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
	"offer-market/internal/api/middleware"
	"offer-market/internal/config"
	"offer-market/internal/infrastructure/redis"
	"offer-market/internal/infrastructure/websocket"
	"offer-market/internal/services"
	"offer-market/pkg/logger"
	"offer-market/pkg/utils"

	"github.com/gorilla/mux"
)

// price-stream-service fans price events relayed through Redis out to
// WebSocket viewers, so viewer load stays off the offer service.
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	// Initialize Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rdb, err := utils.InitializeRedis(ctx, cfg)
	if err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	runCtx, stopRunning := context.WithCancel(context.Background())
	defer stopRunning()

	// Initialize price hub
	hub := services.NewPriceHub(cfg.Broadcast.InboxSize, cfg.Broadcast.SubscriberBuffer, log)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(runCtx)
		close(hubDone)
	}()

	// Feed relayed events into the local hub
	eventSubscriber := redis.NewRedisEventSubscriber(rdb, cfg.Broadcast.RelayChannel, log)
	go func() {
		for {
			err := eventSubscriber.SubscribeToPriceEvents(runCtx, services.HubEventHandler(hub))
			if runCtx.Err() != nil {
				return
			}
			log.Error("Price event subscription ended, retrying", "error", err)
			time.Sleep(time.Second)
		}
	}()

	// Initialize handlers
	connManager := websocket.NewConnectionManager(hub, log)
	wsHandlers := handlers.NewWebSocketHandlers(connManager, log)

	// Setup routes
	router := mux.NewRouter()
	router.Use(middleware.CORSWithLogging(log))

	// WebSocket routes
	router.HandleFunc("/ws/price-updates", wsHandlers.HandleConnection)

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK subscribers=%d\n", hub.Count())
	}).Methods("GET")

	serverAddr := fmt.Sprintf("%s:%d", cfg.StreamServer.Host, cfg.StreamServer.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Info("Starting price stream server", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down price stream service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	connManager.CloseAll()
	stopRunning()
	<-hubDone

	log.Info("Price stream service stopped")
}
