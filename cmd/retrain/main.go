package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fare-observer/src/config"
	"fare-observer/src/helpers"
	"fare-observer/src/interfaces"
	"fare-observer/src/logger"
	"fare-observer/src/models"
	"fare-observer/src/notify"
	"fare-observer/src/pipeline"
	"fare-observer/src/registry"
	"fare-observer/src/storage"
)

// Exit codes
const (
	exitDeployed     = 0
	exitError        = 1
	exitNotDeployed  = 2
	exitLeakage      = 3
	exitInsufficient = 4
)

// -----------------------------------------------------------------------------

func main() {
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(exitError)
	}
	appLogger := logger.NewLogger(conf.LogLevel, conf.Name+"-retrain")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, conf, appLogger)
	cancel()
	os.Exit(code)
}

// -----------------------------------------------------------------------------

func run(ctx context.Context, conf *config.Config, appLogger *logger.Logger) int {
	store, err := storage.NewStore(conf.MConfig, appLogger.Named("Storage"))
	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return exitError
	}
	defer store.Close()

	history, closeHistory, err := storage.NewHistorySource(ctx, conf.MConfig, appLogger.Named("History"), store)
	if err != nil {
		appLogger.Error("Failed to open history source: %v", err)
		return exitError
	}
	defer closeHistory()

	artifacts, err := storage.NewFileArtifactStore(conf.Storage.ModelDir, appLogger.Named("Artifacts"))
	if err != nil {
		appLogger.Error("Failed to open model dir: %v", err)
		return exitError
	}

	var notifier interfaces.IDeploymentNotifier
	if conf.Redis.URL != "" {
		publisher, err := notify.NewRedisPublisher(ctx, conf.MConfig, appLogger.Named("Redis"))
		if err != nil {
			appLogger.Warning("Redis unavailable, the decision will not be published: %v", err)
		} else {
			defer publisher.Close()
			notifier = publisher
		}
	}

	reg := registry.NewRegistry(store, notifier, appLogger.Named("Registry"))
	res, err := pipeline.NewPipeline(conf.MConfig, appLogger.Named("Pipeline"), history, reg, artifacts, notifier).Run(ctx)
	if err != nil {
		appLogger.Error("Retrain failed, nothing committed: %v", err)
		if helpers.IsInsufficientData(err) {
			return exitInsufficient
		}
		return exitError
	}

	ev := res.Record.Evaluation
	appLogger.Info("Run %s: %s %s (r2 %.4f, mae %.2f, permutation r2 %.4f)",
		res.RunID, res.Decision.Kind, res.Record.Version, ev.R2, ev.MAE, ev.PermutationR2)

	switch {
	case res.Decision.Kind == models.DecisionLeakage:
		return exitLeakage
	case res.Record.Deployed:
		return exitDeployed
	}
	return exitNotDeployed
}
