package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qval-engine/internal/bot"
	"qval-engine/internal/cache"
	"qval-engine/internal/config"
	"qval-engine/internal/db"
	"qval-engine/internal/handler"
	"qval-engine/internal/job"
	"qval-engine/internal/pipeline"
	"qval-engine/internal/repository"
	"qval-engine/internal/service"
	"qval-engine/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "qval-engine/docs"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initPostgresFunc       = db.InitPostgres
	initRedisFunc          = cache.InitRedis
	initTracerFunc         = tracing.InitTracer
	newMarketDataRepoFunc  = repository.NewMarketDataRepository
	newRunRepoFunc         = repository.NewRunRepository
	newResearchServiceFunc = service.NewResearchService
	newRefitJobFunc        = job.NewRefitJob
	startRefitJobFunc      = func(j *job.RefitJob, ctx context.Context) { go j.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newHandlerFunc         = handler.New
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Q-VAL Engine API
// @version         1.0
// @description     Fundamental scoring, nested return models and fair-value backtests for a single entity.

// @host      localhost:8080
// @BasePath  /
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initPostgresFunc(ctx, cfg.DatabaseURL)
	initRedisFunc(ctx, cfg.RedisURL)

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Repositories and migrations. The service keeps working in memory
	// without Postgres; it just loses history and the input loaders.
	var loader service.DataSetLoader
	var store service.ReportStore
	var runRepo *repository.RunRepository
	if db.Pool != nil {
		marketRepo := newMarketDataRepoFunc(db.Pool, tracer)
		if err := marketRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run input migrations: %v", err)
		}
		runRepo = newRunRepoFunc(db.Pool, tracer)
		if err := runRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run output migrations: %v", err)
		}
		loader = marketRepo
		store = runRepo
	} else {
		log.Println("Warning: no Postgres pool, pipeline runs will fail until DATABASE_URL is set")
		loader = unavailableLoader{}
	}

	var snapshotCache *cache.ScoreCache
	if cache.Client != nil {
		snapshotCache = cache.NewScoreCache(cache.Client)
	}

	researchService := newResearchServiceFunc(tracer, *cfg, loader, store, snapshotCacheOrNil(snapshotCache))

	refitJob := newRefitJobFunc(tracer, researchService, cfg.RefitHourUTC)
	startRefitJobFunc(refitJob, ctx)

	startTelegramBotFunc(cfg.TelegramBotToken, researchService)

	h := newHandlerFunc(tracer, cfg.Entity, researchService)
	h.SetAPIKey(cfg.APIKey)
	if snapshotCache != nil {
		h.SetScoreReader(snapshotCache)
	}
	if runRepo != nil {
		h.SetRunStore(runRepo)
	}

	r := newRouterFunc()
	r.Use(otelgin.Middleware("qval-engine"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

// snapshotCacheOrNil avoids handing the service a non-nil interface that
// wraps a nil pointer.
func snapshotCacheOrNil(c *cache.ScoreCache) service.SnapshotCache {
	if c == nil {
		return nil
	}
	return c
}

type unavailableLoader struct{}

func (unavailableLoader) LoadDataSet(context.Context, string, string) (*pipeline.DataSet, error) {
	return nil, fmt.Errorf("no database configured")
}
