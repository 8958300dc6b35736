// cmd/bot/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solsniperx/internal/bot"
	"github.com/rovshanmuradov/solsniperx/internal/config"
	"github.com/rovshanmuradov/solsniperx/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the application config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	appLogger, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting solsniperx")
	if err := bot.NewRunner(cfg, appLogger.Logger).Run(context.Background()); err != nil {
		appLogger.Error("Bot execution error", zap.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}
}
