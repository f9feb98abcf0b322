package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"matchbot/internal/matching"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	boostsKey           = "matchbot:boosts:active"
	boostsGenerationKey = "matchbot:boosts:generation"
)

func boostsKeyFor(generation int64) string {
	return fmt.Sprintf("%s:%d", boostsKey, generation)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis wraps a go-redis client with logging helpers.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// Config defines connection parameters for Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// New returns a Redis client based on provided configuration.
func New(cfg Config, logger *slog.Logger) *Redis {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return NewFromClient(redis.NewClient(opts), logger)
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		logger: logger.With("component", "redis"),
	}
}

// Client exposes the underlying go-redis client.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// SetJSON caches a value as JSON with the provided TTL.
func (r *Redis) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := jsonMarshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// GetJSON retrieves JSON value and unmarshals into dest.
func (r *Redis) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	res, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := jsonUnmarshal([]byte(res), dest); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Acquire takes a short-lived exclusive lock on key. ok is false when another
// holder owns it. The returned release only deletes the lock it created.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// Detached from ctx so a cancelled request still frees the lock.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, r.client, []string{key}, token).Err(); err != nil {
			r.logger.Warn("failed releasing lock", "key", key, "error", err)
		}
	}
	return release, true, nil
}

// BoostsGeneration returns the current boost cache generation, zero when unset.
func (r *Redis) BoostsGeneration(ctx context.Context) (int64, error) {
	gen, err := r.client.Get(ctx, boostsGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", boostsGenerationKey, err)
	}
	return gen, nil
}

// GetBoosts returns the active boost set cached for generation.
func (r *Redis) GetBoosts(ctx context.Context, generation int64) ([]matching.BoostWindow, bool, error) {
	var windows []matching.BoostWindow
	ok, err := r.GetJSON(ctx, boostsKeyFor(generation), &windows)
	if err != nil || !ok {
		return nil, false, err
	}
	return windows, true, nil
}

// SetBoosts caches the active boost set for generation for ttl.
func (r *Redis) SetBoosts(ctx context.Context, generation int64, windows []matching.BoostWindow, ttl time.Duration) error {
	if windows == nil {
		windows = []matching.BoostWindow{}
	}
	return r.SetJSON(ctx, boostsKeyFor(generation), windows, ttl)
}

// InvalidateBoosts advances the generation so earlier cached sets are ignored.
func (r *Redis) InvalidateBoosts(ctx context.Context) error {
	if err := r.client.Incr(ctx, boostsGenerationKey).Err(); err != nil {
		return fmt.Errorf("redis incr %s: %w", boostsGenerationKey, err)
	}
	return nil
}

// Close releases Redis resources.
func (r *Redis) Close() error {
	return r.client.Close()
}

func jsonMarshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}

func jsonUnmarshal(data []byte, dest any) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("json unmarshal: %w", err)
	}
	return nil
}

var (
	_ matching.Locker     = (*Redis)(nil)
	_ matching.BoostCache = (*Redis)(nil)
)
