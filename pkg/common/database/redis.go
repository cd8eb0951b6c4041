package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/common/config"
)

// OpenRedis returns a client even when the initial ping fails; the caller
// decides whether an unreachable Redis is fatal.
func OpenRedis(cfg *config.Config, log logrus.FieldLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Error("Failed to connect to Redis")
		return client, err
	}
	log.Info("Connected to Redis")
	return client, nil
}
