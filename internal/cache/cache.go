package cache

import (
	"context"
	"time"
)

// Cache is the backend-agnostic store the gateway reads before invoking
// Bedrock and writes after a successful buffered response. Get reports a
// miss rather than an error so an unhealthy backend never fails a request.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
