package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FreshnessToken is a recent network checkpoint used as the SIWE nonce
type FreshnessToken string

// Valid reports whether t is a usable SIWE nonce: non-empty and alphanumeric
func (t FreshnessToken) Valid() bool {
	if t == "" {
		return false
	}
	for _, r := range t {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

const (
	// DefaultSIWEDomain is the domain the nodes expect in authorization messages
	DefaultSIWEDomain = "localhost"

	// DefaultSIWEChainID is the chain id stated in authorization messages
	DefaultSIWEChainID = 1

	siweVersion    = "1"
	siweTimeLayout = "2006-01-02T15:04:05.000Z"
	recapPrefix    = "urn:recap:"
)

// AuthorizationMessage is a SIWE (EIP-4361) message carrying a ReCap of the
// requested abilities. It is immutable once built.
type AuthorizationMessage struct {
	Domain         string
	WalletAddress  string
	URI            string
	ChainID        int64
	Nonce          FreshnessToken
	IssuedAt       time.Time
	ExpirationTime time.Time
	Requests       []ResourceAbilityRequest
}

// MessageBuilder builds authorization messages. Now is the clock used for
// issued-at and expiration; it defaults to time.Now.
type MessageBuilder struct {
	Domain  string
	ChainID int64
	Now     func() time.Time
}

// Build validates its inputs and returns a message expiring ttl from now.
// Ability requests keep the caller's order.
func (b MessageBuilder) Build(walletAddress string, requests []ResourceAbilityRequest, ttl time.Duration, nonce FreshnessToken, uri string) (*AuthorizationMessage, error) {
	if !common.IsHexAddress(walletAddress) {
		return nil, fmt.Errorf("%w: malformed wallet address %q", ErrValidation, walletAddress)
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: at least one ability request is required", ErrValidation)
	}
	for i, r := range requests {
		if r.pattern == "" || !r.ability.Valid() {
			return nil, fmt.Errorf("%w: ability request %d is not initialised", ErrValidation, i)
		}
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive, got %s", ErrValidation, ttl)
	}
	if nonce == "" {
		return nil, fmt.Errorf("%w: empty freshness token", ErrValidation)
	}
	if !nonce.Valid() {
		return nil, fmt.Errorf("%w: freshness token must be alphanumeric", ErrValidation)
	}
	if err := validateURI(uri); err != nil {
		return nil, err
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	// SIWE timestamps carry millisecond precision
	issuedAt := now().UTC().Truncate(time.Millisecond)
	expiration := issuedAt.Add(ttl)
	if !expiration.After(issuedAt) {
		return nil, fmt.Errorf("%w: expiration %s is not in the future", ErrValidation, expiration.Format(siweTimeLayout))
	}

	domain := b.Domain
	if domain == "" {
		domain = DefaultSIWEDomain
	}
	chainID := b.ChainID
	if chainID == 0 {
		chainID = DefaultSIWEChainID
	}

	return &AuthorizationMessage{
		Domain:         domain,
		WalletAddress:  common.HexToAddress(walletAddress).Hex(),
		URI:            uri,
		ChainID:        chainID,
		Nonce:          nonce,
		IssuedAt:       issuedAt,
		ExpirationTime: expiration,
		Requests:       append([]ResourceAbilityRequest(nil), requests...),
	}, nil
}

// Statement is the human readable summary of the requested abilities
func (m *AuthorizationMessage) Statement() string {
	var b strings.Builder
	b.WriteString("I further authorize the stated URI to perform the following actions on my behalf:")
	for i, r := range m.Requests {
		info := abilities[r.ability]
		fmt.Fprintf(&b, " (%d) '%s': '%s' for '%s'.", i+1, info.namespace, info.name, r.Resource())
	}
	return b.String()
}

// Recap returns the ReCap resource URI encoding the requested abilities
func (m *AuthorizationMessage) Recap() string {
	att := make(map[string]map[string][]struct{}, len(m.Requests))
	for _, r := range m.Requests {
		info := abilities[r.ability]
		actions, ok := att[r.Resource()]
		if !ok {
			actions = make(map[string][]struct{})
			att[r.Resource()] = actions
		}
		actions[info.namespace+"/"+info.name] = []struct{}{{}}
	}
	// encoding/json sorts map keys, which keeps the payload stable
	payload, _ := json.Marshal(struct {
		Att map[string]map[string][]struct{} `json:"att"`
		Prf []string                         `json:"prf"`
	}{Att: att, Prf: []string{}})
	return recapPrefix + base64.RawURLEncoding.EncodeToString(payload)
}

// String renders the canonical EIP-4361 text that gets signed
func (m *AuthorizationMessage) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", m.Domain)
	b.WriteString(m.WalletAddress)
	b.WriteString("\n\n")
	b.WriteString(m.Statement())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "URI: %s\n", m.URI)
	fmt.Fprintf(&b, "Version: %s\n", siweVersion)
	fmt.Fprintf(&b, "Chain ID: %d\n", m.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s\n", m.IssuedAt.UTC().Format(siweTimeLayout))
	fmt.Fprintf(&b, "Expiration Time: %s\n", m.ExpirationTime.UTC().Format(siweTimeLayout))
	b.WriteString("Resources:\n")
	fmt.Fprintf(&b, "- %s", m.Recap())
	return b.String()
}

// Bytes returns the serialized message
func (m *AuthorizationMessage) Bytes() []byte {
	return []byte(m.String())
}

// WithNonce returns a copy of m bound to another nonce, keeping every other field
func (m *AuthorizationMessage) WithNonce(nonce FreshnessToken) *AuthorizationMessage {
	c := *m
	c.Nonce = nonce
	c.Requests = append([]ResourceAbilityRequest(nil), m.Requests...)
	return &c
}

// validateURI accepts absolute RFC 3986 URIs that fit on one line of the message
func validateURI(uri string) error {
	if strings.TrimSpace(uri) == "" {
		return fmt.Errorf("%w: empty uri", ErrValidation)
	}
	if !printable(uri) {
		return fmt.Errorf("%w: uri contains whitespace or control characters", ErrValidation)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: malformed uri: %v", ErrValidation, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("%w: uri %q has no scheme", ErrValidation, uri)
	}
	return nil
}
