package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fare-observer/src/config"
	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/server"
)

// -----------------------------------------------------------------------------

func main() {
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	refresh := flag.Duration("refresh", 30*time.Second, "how often to poll the registry for a new deployed model")
	flag.Parse()

	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.NewLogger(conf.LogLevel, conf.Name)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := setupComponents(ctx, conf, appLogger)
	if err != nil {
		os.Exit(1)
	}
	defer c.Close()

	// A deployed model that no longer matches the feature schema cannot be served.
	if _, err := c.predictor.Refresh(ctx); err != nil {
		if helpers.IsSchemaMismatch(err) {
			appLogger.Fatal("Deployed model is incompatible with this build: %v", err)
		}
		appLogger.Warning("No model loaded at startup: %v", err)
	}
	if v := c.predictor.Version(); v != "" {
		appLogger.Info("Serving model %s", v)
	} else {
		appLogger.Warning("No deployed model yet, predictions return 404 until a retrain succeeds")
	}
	go c.predictor.Watch(ctx, *refresh)

	srv := server.NewFastAPIServer(conf.MConfig, appLogger.Named("Server"), c.predictor, c.registry, c.pipeline, c.store)
	*c.sinks = append(*c.sinks, srv)

	stop, err := startServers(srv, c, conf, appLogger)
	if err != nil {
		appLogger.Critical("Failed to start servers: %v", err)
		return
	}

	<-ctx.Done()
	appLogger.Info("Shutting down...")
	stop()
	appLogger.Info("Shutdown complete.")
}
