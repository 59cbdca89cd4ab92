// Package redis caches tenant fee configuration in Redis.
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/fee"
)

const keyPrefix = "orders:fee:"

// Client is the subset of redis.Cmdable used by the cache.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ Client = (*redis.Client)(nil)

// FeeCache is a read-through fee.Source. Redis failures are logged and
// fall back to the underlying source.
type FeeCache struct {
	client Client
	source fee.Source
	ttl    time.Duration
}

var _ fee.Source = (*FeeCache)(nil)

// NewFeeCache wraps source with a cache whose entries expire after ttl.
func NewFeeCache(client Client, source fee.Source, ttl time.Duration) *FeeCache {
	return &FeeCache{client: client, source: source, ttl: ttl}
}

func key(tenantID string) string { return keyPrefix + tenantID }

// GetFeeConfig implements fee.Source.
func (c *FeeCache) GetFeeConfig(ctx context.Context, tenantID string) (fee.Config, error) {
	lg := zctx.From(ctx).With(zap.String("tenant_id", tenantID))

	raw, err := c.client.Get(ctx, key(tenantID)).Result()
	switch {
	case err == nil:
		cfg, err := decode(raw)
		if err == nil {
			return cfg, nil
		}
		lg.Warn("Discarding corrupt fee cache entry", zap.Error(err))
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Fee cache read failed", zap.Error(err))
	}

	cfg, err := c.source.GetFeeConfig(ctx, tenantID)
	if err != nil {
		return fee.Config{}, err
	}
	if err := c.client.Set(ctx, key(tenantID), encode(cfg), c.ttl).Err(); err != nil {
		lg.Warn("Fee cache write failed", zap.Error(err))
	}
	return cfg, nil
}

// Invalidate drops the cached configuration of a tenant.
func (c *FeeCache) Invalidate(ctx context.Context, tenantID string) error {
	if err := c.client.Del(ctx, key(tenantID)).Err(); err != nil {
		return errors.Wrap(err, "invalidate fee config")
	}
	return nil
}

// encode renders a config as "type:value".
func encode(cfg fee.Config) string {
	return string(cfg.Type) + ":" + cfg.Value.String()
}

func decode(raw string) (fee.Config, error) {
	typ, value, ok := strings.Cut(raw, ":")
	if !ok {
		return fee.Config{}, errors.Errorf("malformed entry %q", raw)
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return fee.Config{}, errors.Wrap(err, "parse value")
	}
	return fee.Config{Type: fee.Type(typ), Value: v}, nil
}
