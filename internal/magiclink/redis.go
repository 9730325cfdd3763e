package magiclink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "pal:magiclink:"

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, token string, p Payload, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode magic link payload: %w", err)
	}
	if err := s.client.Set(ctx, redisPrefix+token, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store magic link: %w", err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, token string) (Payload, error) {
	raw, err := s.client.GetDel(ctx, redisPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return Payload{}, ErrInvalidToken
	}
	if err != nil {
		return Payload{}, fmt.Errorf("consume magic link: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode magic link payload: %w", err)
	}
	return p, nil
}
