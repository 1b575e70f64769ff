package ports

import (
	"context"
	"time"

	"github.com/layer-3/litkit/core"
)

// CredentialStore caches session credential sets by scope key.
// Get returns core.ErrCredentialNotFound on a miss.
type CredentialStore interface {
	Get(ctx context.Context, key string) (*core.SessionCredentialSet, error)
	Set(ctx context.Context, key string, set *core.SessionCredentialSet, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
