// Package main provides the entry point for the strategy evaluation server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/strategy-eval/internal/api"
	"github.com/atlas-desktop/strategy-eval/internal/config"
	"github.com/atlas-desktop/strategy-eval/internal/dataprovider"
	"github.com/atlas-desktop/strategy-eval/internal/evaluator"
	"github.com/atlas-desktop/strategy-eval/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "Config file path (yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting strategy evaluation server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("dataProvider", cfg.Data.Provider),
	)

	provider, err := buildProvider(logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialize data provider", zap.Error(err))
	}

	workers := cfg.Eval.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	registry := strategy.NewRegistry(logger)
	logger.Info("registered strategies", zap.Strings("strategies", registry.List()))

	eval := evaluator.NewEvaluator(logger, provider, workers)
	server := api.NewServer(logger, &cfg.Server, provider, registry, eval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	logger.Info("server started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", cfg.Server.Host, cfg.Server.Port)),
	)

	<-sigChan
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// buildProvider wires the configured provider behind the shared cache
func buildProvider(logger *zap.Logger, cfg *config.Config) (dataprovider.Provider, error) {
	var upstream dataprovider.Provider
	switch cfg.Data.Provider {
	case "file":
		fp, err := dataprovider.NewFileProvider(logger, cfg.Data.Dir)
		if err != nil {
			return nil, err
		}
		upstream = fp
	default:
		upstream = dataprovider.NewSyntheticProvider(logger, cfg.Data.Seed)
	}

	return dataprovider.NewCachingProvider(logger, &dataprovider.CacheConfig{
		IntradayTTL: cfg.Data.CacheIntradayTTL,
		DailyTTL:    cfg.Data.CacheDailyTTL,
		EventTTL:    cfg.Data.CacheEventTTL,
		MaxEntries:  cfg.Data.CacheSize,
	}, upstream), nil
}

func setupLogger(logCfg config.LogConfig) *zap.Logger {
	var zapLevel zapcore.Level
	switch logCfg.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "json"
	encodeLevel := zapcore.LowercaseLevelEncoder
	if logCfg.Development {
		encoding = "console"
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: logCfg.Development,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
