package ports

import (
	"crypto/ecdsa"

	"github.com/layer-3/litkit/core"
)

// SessionTokenizer decodes the session tokens nodes issue, verifying them
// against the node identity key learned during the handshake and the request
// they answer
type SessionTokenizer interface {
	TokenToCredential(token string, node string, nodeKey *ecdsa.PublicKey, want *core.SessionRequest) (*core.NodeCredential, error)
}
