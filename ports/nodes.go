package ports

import (
	"context"

	"github.com/layer-3/litkit/core"
)

// NodeTransport talks to individual signing nodes
type NodeTransport interface {
	// Handshake checks that a node is reachable and returns its identity
	Handshake(ctx context.Context, nodeURL string) (*core.NodeInfo, error)

	// SignSession asks a node for a session credential. A node that wants a
	// signature over its own nonce answers with a *core.ChallengeError.
	SignSession(ctx context.Context, nodeURL string, req *core.SessionRequest) (*core.NodeCredential, error)
}

// CheckpointSource yields the latest network checkpoint used as a nonce
type CheckpointSource interface {
	LatestCheckpoint(ctx context.Context) (core.FreshnessToken, error)
}
