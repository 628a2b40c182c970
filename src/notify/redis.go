package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fare-observer/src/helpers"
	"fare-observer/src/logger"
	"fare-observer/src/models"

	"github.com/redis/go-redis/v9"
)

const (
	connectAttempts = 3
	connectDelay    = 200 * time.Millisecond
)

// -----------------------------------------------------------------------------
// RedisPublisher
// -----------------------------------------------------------------------------

// RedisPublisher publishes deployment events on a channel and keeps the
// deployed version under a plain key for readers that only poll.
type RedisPublisher struct {
	Client     *redis.Client
	Channel    string
	VersionKey string
	Logger     *logger.Logger
}

// -----------------------------------------------------------------------------

func NewRedisPublisher(ctx context.Context, cfg *models.MConfig, log *logger.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, helpers.NewConfigurationError("invalid redis url: %v", err)
	}
	client := redis.NewClient(opts)

	err = helpers.RetryWithBackoff(ctx, log, "redis connect", connectAttempts, connectDelay,
		func(error) bool { return true },
		func(int) error { return client.Ping(ctx).Err() })
	if err != nil {
		client.Close()
		return nil, err
	}

	log.Info("Connected to redis at %s", opts.Addr)
	return &RedisPublisher{
		Client:     client,
		Channel:    cfg.Redis.Channel,
		VersionKey: cfg.Redis.VersionKey,
		Logger:     log,
	}, nil
}

// -----------------------------------------------------------------------------

func (p *RedisPublisher) Notify(ctx context.Context, event models.MDeploymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode deployment event: %w", err)
	}
	if err := p.Client.Publish(ctx, p.Channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.Channel, err)
	}
	if event.DeployedVersion != "" {
		if err := p.Client.Set(ctx, p.VersionKey, event.DeployedVersion, 0).Err(); err != nil {
			return fmt.Errorf("set %s: %w", p.VersionKey, err)
		}
	}
	p.Logger.Debug("Published %s for %s", event.Decision, event.Version)
	return nil
}

// -----------------------------------------------------------------------------

func (p *RedisPublisher) Close() error {
	return p.Client.Close()
}
