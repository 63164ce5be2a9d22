package main

import (
	"context"
	"os"
	"time"

	"auction-settlement/internal/config"
	"auction-settlement/internal/infrastructure/iamport"
	"auction-settlement/internal/infrastructure/mysql"
	"auction-settlement/internal/infrastructure/redis"
	"auction-settlement/internal/services"
	"auction-settlement/pkg/logger"
	"auction-settlement/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
)

// settle-once performs a single settlement pass and exits. Intended for
// external schedulers (cloud scheduler, cron) as an alternative to the
// long-running settlement-service; both run the same job.
func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := utils.InitializeMySQL(ctx, cfg)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	gateway, err := iamport.NewClient(cfg.Iamport.BaseURL, cfg.Iamport.APIKey,
		cfg.Iamport.APISecret, cfg.Iamport.Timeout, log)
	if err != nil {
		log.Error("Failed to initialize payment gateway", "error", err)
		os.Exit(1)
	}

	settler := services.NewSettler(
		mysql.NewMySQLAuctionRepository(db),
		mysql.NewMySQLBidRepository(db),
		mysql.NewMySQLUserRepository(db),
		gateway,
		redis.NewEventPublisher(rdb),
		redis.NewRedisSettlementLock(rdb, cfg.Instance.ID, cfg.Settlement.LockTTL),
		nil, // leader election is the long-running service's concern
		cfg.Instance.ID,
		cfg.Settlement.RetryErrored,
		cfg.Settlement.MaxAttempts,
		log,
	)

	if err := settler.Run(ctx); err != nil {
		log.Error("Settlement run failed", "error", err)
		os.Exit(1)
	}

	log.Info("Settlement run finished")
}
