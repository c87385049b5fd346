package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"game-economy/config"
	"game-economy/handlers"
	"game-economy/middleware"
	"game-economy/models"
	"game-economy/services"
	"game-economy/utils"
	"game-economy/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := utils.InitLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		utils.Logger.Fatal().Err(err).Msg("failed to configure logging")
	}
	log := utils.Component("main")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Notifications: asynq when redis is configured, log otherwise.
	var sinks []workers.Sink
	var summaryCache services.SummaryCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		summaryCache = services.NewRedisSummaryCache(rdb, cfg.SummaryCacheTTL)

		aq := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer aq.Close()
		sinks = append(sinks, workers.NewAsynqSink(aq))
	} else {
		log.Warn().Msg("REDIS_ADDR not set, referral summaries are not cached and events are only logged")
		sinks = append(sinks, workers.LogSink{Log: utils.Component("events")})
	}
	dispatcher := workers.NewDispatcher(cfg.NotifyWorkers, cfg.NotifyQueueSize, sinks...)
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	var archive services.ReceiptArchive
	if cfg.R2Enabled() {
		r2, err := utils.NewR2Archive(ctx, utils.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
			CDNBaseURL:      cfg.CDNBaseURL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		archive = r2
	} else {
		log.Warn().Msg("R2 not configured, settlement receipts will not be archived")
	}

	accounts := services.NewAccountDirectory(db)
	ledger := services.NewLedgerService(db, accounts, dispatcher)
	referrals := services.NewReferralService(db, accounts, summaryCache)
	referrals.MaxDepth = cfg.ReferralMaxDepth
	referrals.MaxVisitedNodes = cfg.ReferralMaxNodes
	tournaments := services.NewTournamentService(db, ledger, referrals, archive, dispatcher)

	if cfg.ReferralRefreshInterval > 0 {
		sched, err := referrals.StartRefreshScheduler(ctx, cfg.ReferralRefreshInterval)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start referral refresh scheduler")
		}
		defer func() { _ = sched.Shutdown() }()
	}

	if cfg.SyncServiceURL != "" {
		syncWorker := workers.NewAccountSyncWorker(accounts, cfg.SyncServiceURL, "/api/v1/public/accounts", cfg.GatewayToken, cfg.SyncInterval)
		syncWorker.Start(ctx)
	} else {
		log.Warn().Msg("SYNC_SERVICE_URL not set, account facts are not synced")
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	handlers.SetupMetricsRoute(app)

	// 🔐 Everything below comes through the gateway
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Wallet-Address, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupRoutes(app, handlers.Services{
		Accounts:    accounts,
		Ledger:      ledger,
		Tournaments: tournaments,
		Referrals:   referrals,
	})

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()
	log.Info().Str("addr", cfg.ListenAddr).Strs("origins", cfg.AllowedOrigins).Msg("economy service running")

	<-ctx.Done()
	log.Info().Msg("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}
