// Package backend opens the Repository selected by STORE_BACKEND.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"mailtrack/internal/config"
	"mailtrack/internal/store"
	"mailtrack/internal/store/memory"
	"mailtrack/internal/store/pg"
	"mailtrack/internal/store/redisstore"
)

// Open connects the configured backend. The returned close func is never nil.
func Open(ctx context.Context, cfg config.StoreConfig) (store.Repository, func(), error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case "", "memory":
		return memory.New(), func() {}, nil

	case "postgres":
		db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
			MaxConns:          cfg.DBMaxConns,
			MinConns:          cfg.DBMinConns,
			MaxConnLifetime:   cfg.DBMaxConnLifetime,
			MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
			HealthCheckPeriod: cfg.DBHealthCheckPeriod,
		})
		if err != nil {
			return nil, func() {}, err
		}
		return pg.New(db), db.Close, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, func() {}, fmt.Errorf("ping redis: %w", err)
		}
		return redisstore.New(client), func() { _ = client.Close() }, nil

	default:
		return nil, func() {}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
