package ports

import (
	"context"

	"github.com/layer-3/litkit/core"
)

// EventPublisher notifies other components about issued sessions and minted keys
type EventPublisher interface {
	PublishSessionIssued(ctx context.Context, scopeKey string, set *core.SessionCredentialSet) error
	PublishKeyMinted(ctx context.Context, pkp *core.MintedKeyPair) error
}
