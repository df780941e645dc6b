package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/SagarSreekumarPillai/ledgerfy-sub001/docs"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/audit"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/cache"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/config"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/handler"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/lock"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/mapper"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/matcher"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/middleware"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/pipeline"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository/memory"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/session"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/variance"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

// @title Ledger Reconciliation API
// @version 1.0
// @description API for importing bank and ledger statements and reconciling them against the internal ledger
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@ledgerfy.io

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

type stores struct {
	jobs     repository.ImportJobRepository
	mappings repository.MappingRepository
	reports  repository.ReportRepository
	ledger   repository.LedgerStore
	accounts repository.AccountDirectory
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Init(cfg.App.LogLevel)
	logger.GetLogger().Info("Starting Ledger Reconciliation Service")

	st, closeStore := openStores(cfg.Database)
	defer closeStore()

	// Locks and mapping cache
	var (
		locker       lock.Locker = lock.NewLocalLocker()
		mappingCache cache.MappingCache
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.GetLogger().WithError(err).Fatal("Failed to connect to redis")
		}
		defer rdb.Close()

		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL)
		mappingCache = cache.NewRedisMappingCache(rdb, cfg.Redis.CacheTTL)
		logger.GetLogger().WithField("address", cfg.Redis.Address).Info("Redis connection established")
	}

	// Audit trail
	var publisher audit.Publisher = audit.LogPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	// Initialize services
	fieldMapper := mapper.New(st.mappings, st.accounts, mappingCache, locker, publisher, mapper.Options{
		MinScore: cfg.Mapping.SuggestionMinScore,
		Limit:    cfg.Mapping.SuggestionLimit,
	})
	importPipeline := pipeline.New(st.jobs, st.ledger, fieldMapper, locker, publisher, pipeline.Config{
		MaxFileBytes:     cfg.Import.MaxFileBytes,
		MaxRows:          cfg.Import.MaxRows,
		Workers:          cfg.Import.Workers,
		CurrencyExponent: cfg.Import.CurrencyExponent,
		BatchSize:        cfg.App.BatchSize,
	})
	engine := matcher.NewEngine(matcher.Config{
		DateToleranceDays: cfg.Matching.DateToleranceDays,
		RoundingTolerance: cfg.Matching.RoundingTolerance(),
		ManualWindowDays:  cfg.Matching.ManualWindowDays,
	})
	analyzer, err := variance.NewAnalyzer(variance.DefaultThresholds(cfg.Variance.LowPercent, cfg.Variance.MediumPercent))
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("Invalid variance thresholds")
	}
	sessionService := session.NewService(st.reports, st.ledger, engine, analyzer, locker, publisher)

	resumed, err := importPipeline.ResumePending(context.Background())
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to resume pending imports")
	} else if resumed > 0 {
		logger.GetLogger().WithField("jobs", resumed).Info("Resumed pending imports")
	}

	// Setup router
	router := setupRouter(
		handler.NewImportHandler(importPipeline),
		handler.NewMappingHandler(fieldMapper),
		handler.NewSessionHandler(sessionService),
	)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		logger.GetLogger().WithField("address", addr).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.GetLogger().WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.GetLogger().Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.GetLogger().WithError(err).Error("Server forced to shutdown")
	}
	importPipeline.Wait()
	logger.GetLogger().Info("Server stopped")
}

func openStores(cfg config.DatabaseConfig) (stores, func()) {
	if cfg.Driver == "memory" {
		logger.GetLogger().Warn("Using in-memory storage; data is lost on restart")
		ledger := memory.NewLedgerStore()
		return stores{
			jobs:     memory.NewImportJobStore(),
			mappings: memory.NewMappingStore(),
			reports:  memory.NewReportStore(),
			ledger:   ledger,
			accounts: ledger,
		}, func() {}
	}

	// Connect to database
	db, err := connectDB(cfg)
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("Failed to connect to database")
	}
	logger.GetLogger().Info("Database connection established")

	return stores{
		jobs:     repository.NewImportJobRepository(db),
		mappings: repository.NewMappingRepository(db),
		reports:  repository.NewReportRepository(db),
		ledger:   repository.NewLedgerRepository(db),
		accounts: repository.NewAccountDirectory(db),
	}, func() { db.Close() }
}

func connectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

func setupRouter(imports *handler.ImportHandler, mappings *handler.MappingHandler, sessions *handler.SessionHandler) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.Actor())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API v1 routes
	handler.RegisterRoutes(router.Group("/api/v1"), imports, mappings, sessions)

	return router
}
