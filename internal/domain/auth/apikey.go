package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no API key matches a hash.
var ErrNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity data for a validated API key. UserID is the
// account the key belongs to: it attributes sessions and orders.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	UserID  int64
	Name    string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
