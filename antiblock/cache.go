package antiblock

import (
	"context"
)

// Cache holds string values under (name, key) with a fixed TTL. A miss is an
// empty string, not an error.
type Cache interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}
