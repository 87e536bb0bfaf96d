// Package redis dials the Redis database shared by instances that use the
// redis management registry.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/config"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/redis/go-redis/v9"
)

// backoff is the retry policy derived from config.RedisConfig.
type backoff struct {
	initial       time.Duration
	max           time.Duration
	ping          time.Duration
	total         time.Duration
	warnThreshold int // attempts logged at warn before escalating to error
}

func (b backoff) next(wait time.Duration) time.Duration {
	wait *= 2
	if wait > b.max {
		return b.max
	}
	return wait
}

func validate(cfg config.RedisConfig) error {
	switch {
	case cfg.Addr == "":
		return fmt.Errorf("redis address is required")
	case cfg.ConnectTimeout <= 0:
		return fmt.Errorf("connect_timeout must be > 0, got %v", cfg.ConnectTimeout)
	case cfg.RetryInterval <= 0:
		return fmt.Errorf("retry_interval must be > 0, got %v", cfg.RetryInterval)
	case cfg.MaxWait <= 0:
		return fmt.Errorf("max_wait must be > 0, got %v", cfg.MaxWait)
	case cfg.PingTimeout <= 0:
		return fmt.Errorf("ping_timeout must be > 0, got %v", cfg.PingTimeout)
	case cfg.WarnThreshold < 0:
		return fmt.Errorf("warn_threshold must be >= 0, got %d", cfg.WarnThreshold)
	}
	return nil
}

// Connect opens a client and pings it until it answers, backing off
// exponentially. It gives up after cfg.ConnectTimeout or when ctx ends.
func Connect(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	if err := validate(cfg); err != nil {
		log.Error("invalid management redis settings", logger.Error(err))
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	policy := backoff{
		initial:       cfg.RetryInterval,
		max:           cfg.MaxWait,
		ping:          cfg.PingTimeout,
		total:         cfg.ConnectTimeout,
		warnThreshold: cfg.WarnThreshold,
	}
	if err := ping(ctx, client, cfg.Addr, policy, log); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func ping(parent context.Context, client *redis.Client, addr string, policy backoff, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(parent, policy.total)
	defer cancel()

	log.Info("connecting to management redis",
		logger.String("addr", addr),
		logger.Duration("timeout", policy.total))

	started := time.Now()
	wait := policy.initial
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, policy.ping)
		err := client.Ping(pingCtx).Err()
		pingCancel()

		if err == nil {
			if attempt > 1 {
				log.Warn("connected to management redis after retry",
					logger.String("addr", addr),
					logger.Int("attempts", attempt),
					logger.Duration("elapsed", time.Since(started)))
			} else {
				log.Info("connected to management redis", logger.String("addr", addr))
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Error("management redis unavailable",
				logger.String("addr", addr),
				logger.Int("attempts", attempt),
				logger.Duration("timeout", policy.total),
				logger.Error(err))
			return fmt.Errorf("redis unavailable at %s after %d attempts: %w", addr, attempt, err)
		case <-timer.C:
		}

		fields := []logger.Field{
			logger.String("addr", addr),
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", wait),
			logger.Error(err),
		}
		if attempt <= policy.warnThreshold {
			log.Warn("management redis connection failed, retrying", fields...)
		} else {
			log.Error("management redis still unavailable", fields...)
		}
		wait = policy.next(wait)
	}
}
