package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

const (
	TypeEventApplied  = "event.applied"
	TypePointsAwarded = "points.awarded"
)

// Message is one notification appended to the stream.
type Message struct {
	Type    string                 `json:"type"`
	Network string                 `json:"network,omitempty"`
	TxHash  string                 `json:"txHash,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Publisher delivers notifications. Publishing is best-effort: callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Message) error { return nil }

func (NopPublisher) Close() error { return nil }

// RedisPublisher appends messages to a capped Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisPublisher(ctx context.Context, cfg *config.RedisConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	logger.WithFields(map[string]interface{}{
		"addr":   cfg.Addr,
		"db":     cfg.DB,
		"stream": cfg.Stream,
	}).Info("connected to redis")

	return NewRedisPublisherWithClient(rdb, cfg.Stream, cfg.StreamMaxLen), nil
}

func NewRedisPublisherWithClient(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.New(errors.ErrInvalidInput, "encode notification", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type":    msg.Type,
			"payload": string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Send publishes msg and logs, rather than returns, any failure.
func Send(ctx context.Context, p Publisher, msg Message) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, msg); err != nil {
		logger.WithFields(map[string]interface{}{
			"type":    msg.Type,
			"tx_hash": msg.TxHash,
		}).WithError(err).Warn("failed to publish notification")
	}
}
