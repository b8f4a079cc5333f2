package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/cascade-loader/pkg/client"
	"github.com/Sternrassler/cascade-loader/pkg/config"
	"github.com/Sternrassler/cascade-loader/pkg/logging"
	"github.com/Sternrassler/cascade-loader/pkg/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := logging.Setup(cfg.Logging)

	// Setup Redis (optional shared rate limit budget)
	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		defer redisClient.Close()

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")
		cfg.Client.Redis = redisClient
	}

	source, err := client.New(cfg.Client)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create source client")
	}

	manager := session.NewManager(session.Options{
		Acquire:  cfg.Acquire,
		Reveal:   cfg.Reveal,
		ETATotal: cfg.ETATotal(),
		Pages:    source,
		Keys:     source,
		Logger:   logger,
	})

	e := newServer(manager)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("source", cfg.Client.BaseURL).
			Int("pages", cfg.Acquire.PageCount).
			Dur("min_interval", cfg.Acquire.MinInterval).
			Msg("Starting cascade server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down cascade server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Active session did not stop in time")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	}
}

// newRedisClient accepts a redis:// URL or a plain host:port address.
func newRedisClient(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}
