package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/realtime/internal/config"
	"fleet-monitor/realtime/internal/domain"
)

const spaceChannelPattern = "space:*:events"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func spaceChannel(spaceID string) string {
	return fmt.Sprintf("space:%s:events", spaceID)
}

// GetSession returns the identity stored for token, or nil when the token is
// unknown.
func (r *RedisStore) GetSession(ctx context.Context, token string) (*domain.Identity, error) {
	val, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session failed: %w", err)
	}

	var id domain.Identity
	if err := json.Unmarshal(val, &id); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &id, nil
}

func (r *RedisStore) PutSession(ctx context.Context, token string, id domain.Identity, ttl time.Duration) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return r.client.Set(ctx, sessionKey(token), raw, ttl).Err()
}

func (r *RedisStore) PublishSpace(ctx context.Context, spaceID string, payload []byte) error {
	if err := r.client.Publish(ctx, spaceChannel(spaceID), payload).Err(); err != nil {
		return fmt.Errorf("publish to space %s: %w", spaceID, err)
	}
	return nil
}

// SubscribeSpaces delivers every relayed space frame to handler until ctx is
// cancelled.
func (r *RedisStore) SubscribeSpaces(ctx context.Context, handler func(spaceID string, payload []byte)) error {
	sub := r.client.PSubscribe(ctx, spaceChannelPattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", spaceChannelPattern, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			spaceID, ok := parseSpaceChannel(msg.Channel)
			if !ok {
				continue
			}
			handler(spaceID, []byte(msg.Payload))
		}
	}
}

func parseSpaceChannel(channel string) (string, bool) {
	rest, ok := strings.CutPrefix(channel, "space:")
	if !ok {
		return "", false
	}
	spaceID, ok := strings.CutSuffix(rest, ":events")
	if !ok || spaceID == "" {
		return "", false
	}
	return spaceID, true
}
