// Package magiclink issues single-use sign-in tokens. Tokens live in Redis when
// configured, otherwise in process memory.
package magiclink

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidToken = errors.New("magic link is invalid or expired")

type Payload struct {
	UserID   uint      `json:"user_id"`
	Email    string    `json:"email"`
	IssuedAt time.Time `json:"issued_at"`
}

// Store persists pending tokens. Consume must remove the token atomically so a
// link can be used once across every instance sharing the store.
type Store interface {
	Save(ctx context.Context, token string, p Payload, ttl time.Duration) error
	Consume(ctx context.Context, token string) (Payload, error)
}

// NewToken returns 32 random bytes, URL-safe base64 encoded.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate magic link token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
