package ratelimit

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/isabella232/smartstart-sub000/internal/config"
)

// ProvideRedis returns nil when no redis address is configured; every
// consumer treats a nil client as "run unthrottled".
func ProvideRedis(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

var Module = fx.Module("rate.limit",
	fx.Provide(
		ProvideRedis,
		NewSweepLimiter,
	),
)
