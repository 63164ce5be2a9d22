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

	"auction-settlement/internal/api/handlers"
	"auction-settlement/internal/config"
	"auction-settlement/internal/infrastructure/iamport"
	"auction-settlement/internal/infrastructure/leader"
	"auction-settlement/internal/infrastructure/mysql"
	"auction-settlement/internal/infrastructure/redis"
	"auction-settlement/internal/infrastructure/websocket"
	"auction-settlement/internal/services"
	"auction-settlement/pkg/logger"
	"auction-settlement/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	log := logger.New()
	log.Info("Starting Auction Settlement Service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	// Initialize MySQL
	db, err := utils.InitializeMySQL(ctx, cfg)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Connected to MySQL")

	// Initialize repositories
	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	bidRepo := mysql.NewMySQLBidRepository(db)
	userRepo := mysql.NewMySQLUserRepository(db)

	// Initialize payment gateway
	gateway, err := iamport.NewClient(cfg.Iamport.BaseURL, cfg.Iamport.APIKey,
		cfg.Iamport.APISecret, cfg.Iamport.Timeout, log)
	if err != nil {
		log.Error("Failed to initialize payment gateway", "error", err)
		os.Exit(1)
	}

	// Initialize Redis based components
	eventPublisher := redis.NewEventPublisher(rdb)
	eventSubscriber := redis.NewRedisEventSubscriber(rdb, log)
	settlementLock := redis.NewRedisSettlementLock(rdb, cfg.Instance.ID, cfg.Settlement.LockTTL)
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL)

	// Initialize settler and scheduler
	settler := services.NewSettler(
		auctionRepo,
		bidRepo,
		userRepo,
		gateway,
		eventPublisher,
		settlementLock,
		leaderElection,
		cfg.Instance.ID,
		cfg.Settlement.RetryErrored,
		cfg.Settlement.MaxAttempts,
		log,
	)
	scheduler := services.NewCronSettlementScheduler(settler, cfg.Settlement.Interval, log)

	// Initialize websocket feed
	connManager := websocket.NewConnectionManager(log)
	broadcaster := websocket.NewSettlementBroadcaster(connManager)
	feedHandler := websocket.NewFeedHandler(auctionRepo, connManager, log)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	// Initialize handlers
	settlementHandler := handlers.NewSettlementHandler(settler, auctionRepo, log)

	// API routes
	api := e.Group("/api/v1")
	api.POST("/settlement/run", settlementHandler.RunNow)
	api.GET("/auctions/:id", settlementHandler.GetAuction)
	api.POST("/auctions/:id/requeue", settlementHandler.Requeue)

	e.GET("/ws/auctions/:id", feedHandler.HandleConnection)

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "settlement-service",
			"timestamp": time.Now().Format(time.RFC3339),
			"instance":  cfg.Instance.ID,
		})
	})

	runCtx, stopBackground := context.WithCancel(context.Background())

	// Start background services
	if err := scheduler.Start(runCtx); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Bridge settlement events to websocket subscribers
	go func() {
		if err := eventSubscriber.SubscribeToSettlementEvents(runCtx, broadcaster.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Settlement event subscription stopped", "error", err)
		}
	}()

	// Try to become leader
	go func() {
		for {
			became, err := leaderElection.BecomeLeader(runCtx, cfg.Instance.ID)
			if err != nil {
				log.Error("Failed to attempt leadership", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}
			if became {
				log.Info("Became settlement leader", "instance_id", cfg.Instance.ID)
			}

			select {
			case <-runCtx.Done():
				return
			case <-time.After(10 * time.Second):
			}
		}
	}()

	// Start server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting settlement service server", "address", serverAddr)

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

	log.Info("Shutting down settlement service...")

	stopBackground()

	// Graceful shutdown
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := scheduler.Stop(); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}
	if err := leaderElection.ReleaseLeadership(ctx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}

	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Settlement service stopped")
}
