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
	datasource "fare-observer/src/data_source"
	"fare-observer/src/interfaces"
	"fare-observer/src/logger"
	"fare-observer/src/storage"
)

// -----------------------------------------------------------------------------

func main() {
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	csvPath := flag.String("csv", "", "CSV file of observations to load")
	days := flag.Int("synthetic-days", 0, "days of synthetic observations to generate (0 disables)")
	seed := flag.Uint64("seed", 42, "synthetic generator seed")
	start := flag.String("start", "", "first synthetic collection day (YYYY-MM-DD, default: days ago)")
	flag.Parse()

	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.NewLogger(conf.LogLevel, conf.Name+"-seed")

	var sources []interfaces.IObservationReader
	if *csvPath != "" {
		sources = append(sources, datasource.NewCSVSource(*csvPath, conf.Features.Currency))
	}
	if *days > 0 {
		first := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -*days)
		if *start != "" {
			if first, err = time.Parse(time.DateOnly, *start); err != nil {
				appLogger.Fatal("Invalid -start %q: %v", *start, err)
			}
		}
		sources = append(sources, datasource.NewSyntheticSource(*seed, first, *days, conf.Features.Currency))
	}
	if len(sources) == 0 {
		appLogger.Fatal("Nothing to load: pass -csv and/or -synthetic-days")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	obs, err := datasource.NewMultiSourceManager(sources, appLogger.Named("Sources")).ReadAll(ctx)
	if err != nil {
		appLogger.Fatal("Failed to read observations: %v", err)
	}

	store, err := storage.NewStore(conf.MConfig, appLogger.Named("Storage"))
	if err != nil {
		appLogger.Fatal("Failed to init db: %v", err)
	}
	defer store.Close()

	inserted, err := store.SaveObservations(ctx, obs)
	if err != nil {
		appLogger.Critical("Failed to save observations: %v", err)
		return
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		appLogger.Warning("Failed to read store stats: %v", err)
	}
	appLogger.Info("Loaded %d of %d observations (%d duplicates skipped); store has %d observations on %d routes",
		inserted, len(obs), len(obs)-inserted, stats.Observations, stats.Routes)
}
