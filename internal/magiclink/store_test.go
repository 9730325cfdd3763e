package magiclink

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func stores(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := NewMemoryStore(0)
	t.Cleanup(mem.Close)

	return map[string]Store{
		"memory": mem,
		"redis":  NewRedisStore(client),
	}
}

func TestStoreSingleUse(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := Payload{UserID: 7, Email: "owner@example.com", IssuedAt: time.Now().UTC().Truncate(time.Second)}
			require.NoError(t, s.Save(ctx, "tok", p, time.Minute))

			got, err := s.Consume(ctx, "tok")
			require.NoError(t, err)
			assert.Equal(t, p.UserID, got.UserID)
			assert.Equal(t, p.Email, got.Email)
			assert.True(t, p.IssuedAt.Equal(got.IssuedAt))

			_, err = s.Consume(ctx, "tok")
			assert.ErrorIs(t, err, ErrInvalidToken)

			_, err = s.Consume(ctx, "never-issued")
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestStoreConcurrentConsume(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, "race", Payload{UserID: 1}, time.Minute))

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.Consume(ctx, "race"); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Save(context.Background(), "tok", Payload{UserID: 1}, time.Minute))

	now = now.Add(2 * time.Minute)
	_, err := s.Consume(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, s.Save(context.Background(), "old", Payload{UserID: 2}, time.Second))
	now = now.Add(time.Hour)
	s.sweep()
	s.mu.Lock()
	assert.Empty(t, s.entries)
	s.mu.Unlock()
}

func TestRedisStoreExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client)

	require.NoError(t, s.Save(context.Background(), "tok", Payload{UserID: 1}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := s.Consume(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
