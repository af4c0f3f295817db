package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"
)

// RedisOptions holds connection parameters for the Redis backend
type RedisOptions struct {
	Addrs    []string
	Username string
	Password string
	DB       int
}

// Redis is a Backend shared by every replica of the service
type Redis struct {
	client rueidis.Client
}

var _ Backend = (*Redis)(nil)

// NewRedis connects a Redis backend
func NewRedis(opts RedisOptions) (*Redis, error) {
	if len(opts.Addrs) == 0 {
		return nil, fmt.Errorf("redis addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  opts.Addrs,
		Username:     opts.Username,
		Password:     opts.Password,
		SelectDB:     opts.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client rueidis.Client) *Redis {
	return &Redis{client: client}
}

// Get implements Backend
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cmd := r.client.B().Get().Key(key).Build()
	data, err := r.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

// Set implements Backend
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := r.client.B().Set().Key(key).Value(rueidis.BinaryString(value)).Ex(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (r *Redis) Ping(ctx context.Context) error {
	cmd := r.client.B().Ping().Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close shuts down the client
func (r *Redis) Close() {
	r.client.Close()
}

// Name implements Backend
func (*Redis) Name() string {
	return "redis"
}
