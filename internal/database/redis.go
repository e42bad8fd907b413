package database

import (
	"context"
	"time"

	"github.com/banglalekha/backend/internal/config"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// InitRedis returns a connected client, or nil when Redis is unreachable so
// callers can fall back to in-process alternatives.
func InitRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr()).Msg("redis connection failed, continuing without redis")
		rdb.Close()
		return nil
	}

	log.Info().Str("addr", cfg.Addr()).Msg("redis connection established")
	return rdb
}
