package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/airsense/forecast/internal/api"
	"github.com/airsense/forecast/internal/config"
	"github.com/airsense/forecast/internal/forecast"
	"github.com/airsense/forecast/internal/ingest"
	"github.com/airsense/forecast/pkg/logger"
)

func main() {
	importCSV := flag.String("import-csv", "", "import a raw sample CSV into the store and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	store, err := ingest.Open(cfg.Database.Path, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open telemetry store", zap.Error(err))
	}

	if *importCSV != "" {
		n, err := store.ImportCSV(context.Background(), *importCSV)
		if err != nil {
			zapLogger.Fatal("CSV import failed", zap.Error(err), zap.Int("imported", n))
		}
		zapLogger.Info("CSV import finished", zap.Int("imported", n))
		return
	}

	svc := forecast.NewService(cfg.PipelineConfig(), forecast.Options{
		Lambda:       cfg.Model.Lambda,
		HoldoutShare: cfg.Model.HoldoutShare,
		BundlePath:   cfg.Model.BundlePath,
	}, store, zapLogger)

	if err := svc.LoadBundle(); err != nil {
		zapLogger.Fatal("Failed to load model bundle", zap.Error(err))
	}

	server, err := api.NewServer(api.Config{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		RateLimit:    cfg.Server.RateLimit,
	}, svc, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to build API server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	case sig := <-quit:
		zapLogger.Info("Shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			zapLogger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}
}
