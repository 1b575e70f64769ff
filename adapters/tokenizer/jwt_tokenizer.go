package tokenizer

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/ports"
)

// AudienceSession is the audience of every node issued session token
const AudienceSession = "lit:session"

// ErrInvalidSessionToken is returned when a session token fails verification
var ErrInvalidSessionToken = errors.New("invalid session token")

// SessionGrant is what a node attests to when it issues a session token
type SessionGrant struct {
	Node      string
	Wallet    string
	Requests  []core.ResourceAbilityRequest
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// JWTTokenizer encodes and decodes session tokens as ES256 JWTs
type JWTTokenizer struct{}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer() *JWTTokenizer {
	return &JWTTokenizer{}
}

var _ ports.SessionTokenizer = (*JWTTokenizer)(nil)

// GrantToToken signs grant with the node identity key
func (j *JWTTokenizer) GrantToToken(signKey *ecdsa.PrivateKey, grant SessionGrant) (string, error) {
	caps := core.Capabilities(grant.Requests)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    grant.Node,
			Subject:   grant.Wallet,
			Audience:  jwt.ClaimStrings{AudienceSession},
			ExpiresAt: jwt.NewNumericDate(grant.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(grant.IssuedAt),
			ID:        uuid.New().String(),
		},
		Capabilities: caps,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// TokenToCredential verifies a session token issued by node for want and
// returns the credential it carries. A token granted to another wallet or
// over other capabilities is rejected.
func (j *JWTTokenizer) TokenToCredential(tokenStr string, node string, nodeKey *ecdsa.PublicKey, want *core.SessionRequest) (*core.NodeCredential, error) {
	if nodeKey == nil {
		return nil, fmt.Errorf("%w: no identity key for node %s", ErrInvalidSessionToken, node)
	}
	if want == nil {
		return nil, fmt.Errorf("%w: no session request to verify against", ErrInvalidSessionToken)
	}
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return nodeKey, nil
	}, jwt.WithAudience(AudienceSession), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidSessionToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrInvalidSessionToken)
	}
	if claims.Issuer != "" && claims.Issuer != node {
		return nil, fmt.Errorf("%w: issued by %s, expected %s", ErrInvalidSessionToken, claims.Issuer, node)
	}

	cred := &core.NodeCredential{
		Node:         node,
		Signature:    tokenStr,
		Expiration:   claims.ExpiresAt.Time,
		Wallet:       claims.Subject,
		Capabilities: claims.Capabilities,
	}
	if err := cred.Binds(want.WalletAddress, want.Requests); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSessionToken, err)
	}
	return cred, nil
}

// EncodePublicKey renders a node identity key as base64 PKIX DER
func EncodePublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePublicKey parses a key produced by EncodePublicKey
func DecodePublicKey(s string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identity key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity key: %w", err)
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity key is %T, expected ECDSA", pub)
	}
	return key, nil
}
