package csrf

import (
	"context"
	"time"
)

// TokenRecord is the stored token for one owner key
type TokenRecord struct {
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issuedAt"`
}

// TokenStore is a TTL key-value store shared by every gateway instance.
// Get returns (nil, nil) when the key does not exist.
type TokenStore interface {
	Get(ctx context.Context, key string) (*TokenRecord, error)
	Set(ctx context.Context, key string, rec TokenRecord, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
