package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KotFed0t/fund_helper/config"
	"github.com/KotFed0t/fund_helper/data"
	"github.com/KotFed0t/fund_helper/data/cache"
	"github.com/KotFed0t/fund_helper/data/repository/postgres"
	"github.com/KotFed0t/fund_helper/internal/analytics"
	"github.com/KotFed0t/fund_helper/internal/externalApi/cloudStorageApi/googleDriveApi"
	"github.com/KotFed0t/fund_helper/internal/externalApi/fundApi"
	"github.com/KotFed0t/fund_helper/internal/httpServer"
	"github.com/KotFed0t/fund_helper/internal/ledger"
	"github.com/KotFed0t/fund_helper/internal/reportGenerator/xslsxGenerator"
	"github.com/KotFed0t/fund_helper/internal/scheduler"
	"github.com/KotFed0t/fund_helper/internal/service/fundHelperService"
	"github.com/KotFed0t/fund_helper/internal/transport/rest"
	"github.com/KotFed0t/fund_helper/internal/valuationCache"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient := data.NewPostgresClient(cfg)
	defer pgClient.Close()

	pgRepo := postgres.NewPostgres(cfg, pgClient)

	redisClient := data.NewRedisClient(cfg)
	defer redisClient.Close()

	snapshotStore := cache.NewRedisCache(redisClient)

	fundApiClient := fundApi.New(cfg)

	clock := clockwork.NewRealClock()

	valuation := valuationCache.New(cfg, fundApiClient, snapshotStore, clock)

	txLedger := ledger.New(pgRepo)

	calculator := analytics.NewCalculator(valuation, clock)
	aggregator := analytics.NewAggregator(cfg, pgRepo, calculator, clock)

	reportGenerator := xslsxGenerator.New()

	googleCloudStorage := googleDriveApi.New(ctx, cfg)

	fundHelperSrv := fundHelperService.New(pgRepo, valuation, txLedger, calculator, aggregator, reportGenerator, googleCloudStorage)

	sched := scheduler.New()
	sched.NewIntervalJob("warm estimates", fundHelperSrv.WarmEstimates, cfg.Jobs.WarmEstimatesInterval, true)
	sched.NewCrontabJob("cleanup report files", fundHelperSrv.CleanupReports, cfg.Jobs.ReportsCleanupCrontab, false)
	sched.Start()
	defer sched.Stop()

	restController := rest.NewController(fundHelperSrv)

	server := httpServer.New(cfg, restController)
	server.Start()
	defer server.Stop()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-interrupt
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
