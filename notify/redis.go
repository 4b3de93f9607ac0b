package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/keywatch/errors"
)

// DefaultStream is the Redis stream push delivery consumes
const DefaultStream = "keywatch:notifications"

// RedisConfig configures the stream publisher
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen trims the stream approximately; 0 keeps 10000 entries
	MaxLen int64
}

// RedisPublisher appends notifications to a Redis stream
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher connects and pings Redis
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr)
	}
	return newRedisPublisher(client, cfg), nil
}

func newRedisPublisher(client *redis.Client, cfg RedisConfig) *RedisPublisher {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}
	return &RedisPublisher{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}
}

// Publish implements Publisher with XADD
func (p *RedisPublisher) Publish(ctx context.Context, rec Record) error {
	payload := "{}"
	if len(rec.Payload) > 0 {
		raw, err := json.Marshal(rec.Payload)
		if err != nil {
			return errors.Wrap(err, "failed to encode payload")
		}
		payload = string(raw)
	}

	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"notification_id": rec.ID,
			"user_nickname":   rec.Owner,
			"type":            rec.Type,
			"title":           rec.Title,
			"body":            rec.Body,
			"payload":         payload,
			"sent_at":         rec.SentAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return errors.Wrapf(err, "xadd to %s", p.stream)
	}
	return nil
}

// Close closes the Redis client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
