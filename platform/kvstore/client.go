package kvstore

import (
	"context"
	"crypto/tls"
	"fmt"

	"leadflow_backend/platform/config"

	"github.com/redis/go-redis/v9"
)

// ParseRedisOptions turns a redis:// or rediss:// URL into client options,
// optionally relaxing TLS verification for managed instances with private CAs.
func ParseRedisOptions(redisURL string, tlsInsecure bool) (*redis.Options, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		opt.TLSConfig = clone
	} else if tlsInsecure {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return opt, nil
}

// NewRedisClient creates and pings a client for the coordination store.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.GetRedisURL() == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := ParseRedisOptions(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}
	opt.ReadTimeout = cfg.GetStoreTimeout()
	opt.WriteTimeout = cfg.GetStoreTimeout()

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// ClientAdapter exposes a Redis client as a health checker.
type ClientAdapter struct {
	client redis.UniversalClient
}

// NewClientAdapter wraps client for readiness checks.
func NewClientAdapter(client redis.UniversalClient) *ClientAdapter {
	return &ClientAdapter{client: client}
}

// Ping checks store connectivity.
func (a *ClientAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}
