package main

import (
	"context"

	"fare-observer/src/config"
	"fare-observer/src/inference"
	"fare-observer/src/interfaces"
	"fare-observer/src/logger"
	"fare-observer/src/notify"
	"fare-observer/src/pipeline"
	"fare-observer/src/registry"
	"fare-observer/src/storage"
)

// -----------------------------------------------------------------------------

// components holds everything main wires together.
type components struct {
	store     storage.Store
	history   interfaces.IHistorySource
	artifacts *storage.FileArtifactStore
	registry  *registry.Registry
	pipeline  *pipeline.Pipeline
	predictor *inference.Predictor
	sinks     *notify.FanOut
	closers   []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// -----------------------------------------------------------------------------

// setupComponents opens storage and builds the registry, pipeline and predictor.
// Notification sinks are appended to c.sinks as they come up.
func setupComponents(ctx context.Context, conf *config.Config, appLogger *logger.Logger) (*components, error) {
	c := &components{sinks: &notify.FanOut{}}

	store, err := storage.NewStore(conf.MConfig, appLogger.Named("Storage"))
	if err != nil {
		appLogger.Critical("Failed to init db: %v", err)
		return nil, err
	}
	c.store = store
	c.closers = append(c.closers, func() { store.Close() })

	history, closeHistory, err := storage.NewHistorySource(ctx, conf.MConfig, appLogger.Named("History"), store)
	if err != nil {
		appLogger.Critical("Failed to open history source: %v", err)
		c.Close()
		return nil, err
	}
	c.history = history
	c.closers = append(c.closers, closeHistory)

	artifacts, err := storage.NewFileArtifactStore(conf.Storage.ModelDir, appLogger.Named("Artifacts"))
	if err != nil {
		appLogger.Critical("Failed to open model dir: %v", err)
		c.Close()
		return nil, err
	}
	c.artifacts = artifacts

	if conf.Redis.URL != "" {
		publisher, err := notify.NewRedisPublisher(ctx, conf.MConfig, appLogger.Named("Redis"))
		if err != nil {
			appLogger.Warning("Redis unavailable, deployment events stay local: %v", err)
		} else {
			*c.sinks = append(*c.sinks, publisher)
			c.closers = append(c.closers, func() { publisher.Close() })
		}
	}

	c.registry = registry.NewRegistry(store, c.sinks, appLogger.Named("Registry"))
	c.pipeline = pipeline.NewPipeline(conf.MConfig, appLogger.Named("Pipeline"), history, c.registry, artifacts, c.sinks)
	c.predictor = inference.NewPredictor(conf.MConfig, appLogger.Named("Predictor"), c.registry, artifacts, history)
	return c, nil
}
