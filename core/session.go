package core

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NodeInfo is what a node reports during the connection handshake
type NodeInfo struct {
	URL         string
	Version     string
	IdentityKey string
}

// SessionRequest is sent to every addressed node in a session round
type SessionRequest struct {
	RequestID     string
	WalletAddress string
	AuthSig       AuthorizationSignature
	Requests      []ResourceAbilityRequest
	Expiration    time.Time
}

// NodeCredential is the session signature a single node issued. Wallet and
// Capabilities are what the node attested to and must match the request.
type NodeCredential struct {
	Node         string    `json:"node"`
	Signature    string    `json:"sig"`
	Expiration   time.Time `json:"expiration"`
	Wallet       string    `json:"wallet,omitempty"`
	Capabilities []string  `json:"cap,omitempty"`
}

// Binds checks that the credential was issued for wallet over exactly requests
func (c NodeCredential) Binds(wallet string, requests []ResourceAbilityRequest) error {
	if !common.IsHexAddress(c.Wallet) || common.HexToAddress(c.Wallet) != common.HexToAddress(wallet) {
		return fmt.Errorf("%w: issued for wallet %q", ErrCredentialMismatch, c.Wallet)
	}
	if !slices.Equal(sortedUnique(c.Capabilities), Capabilities(requests)) {
		return fmt.Errorf("%w: capabilities differ", ErrCredentialMismatch)
	}
	return nil
}

// SessionCredentialSet maps node identities to the session signatures they issued.
// It is never mutated after construction; a refresh always builds a new set.
type SessionCredentialSet struct {
	wallet      string
	requests    []ResourceAbilityRequest
	credentials map[string]NodeCredential
	issuedAt    time.Time
	expiration  time.Time
}

// NewSessionCredentialSet assembles a set from node credentials. The set expires at the
// earliest of notAfter and every credential's own expiration.
func NewSessionCredentialSet(wallet string, requests []ResourceAbilityRequest, issuedAt, notAfter time.Time, creds []NodeCredential) (*SessionCredentialSet, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: no node credentials", ErrValidation)
	}
	set := &SessionCredentialSet{
		wallet:      wallet,
		requests:    append([]ResourceAbilityRequest(nil), requests...),
		credentials: make(map[string]NodeCredential, len(creds)),
		issuedAt:    issuedAt,
		expiration:  notAfter,
	}
	for _, c := range creds {
		if c.Expiration.IsZero() || c.Expiration.After(notAfter) {
			c.Expiration = notAfter
		}
		if c.Expiration.Before(set.expiration) {
			set.expiration = c.Expiration
		}
		set.credentials[c.Node] = c
	}
	return set, nil
}

func (s *SessionCredentialSet) WalletAddress() string { return s.wallet }
func (s *SessionCredentialSet) IssuedAt() time.Time   { return s.issuedAt }
func (s *SessionCredentialSet) Expiration() time.Time { return s.expiration }
func (s *SessionCredentialSet) Len() int              { return len(s.credentials) }

// Requests returns a copy of the ability scope the set was issued for
func (s *SessionCredentialSet) Requests() []ResourceAbilityRequest {
	return append([]ResourceAbilityRequest(nil), s.requests...)
}

// ValidAt reports whether the set may still be served at t
func (s *SessionCredentialSet) ValidAt(t time.Time) bool {
	return t.Before(s.expiration)
}

// Credential returns the credential issued by node
func (s *SessionCredentialSet) Credential(node string) (NodeCredential, bool) {
	c, ok := s.credentials[node]
	return c, ok
}

// Nodes returns the identities of the issuing nodes in sorted order
func (s *SessionCredentialSet) Nodes() []string {
	nodes := make([]string, 0, len(s.credentials))
	for n := range s.credentials {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

type sessionCredentialSetJSON struct {
	WalletAddress string                    `json:"walletAddress"`
	Requests      []ResourceAbilityRequest  `json:"resourceAbilityRequests"`
	IssuedAt      time.Time                 `json:"issuedAt"`
	Expiration    time.Time                 `json:"expiration"`
	Credentials   map[string]NodeCredential `json:"sessionSigs"`
}

func (s *SessionCredentialSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionCredentialSetJSON{
		WalletAddress: s.wallet,
		Requests:      s.requests,
		IssuedAt:      s.issuedAt,
		Expiration:    s.expiration,
		Credentials:   s.credentials,
	})
}

func (s *SessionCredentialSet) UnmarshalJSON(data []byte) error {
	var raw sessionCredentialSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Credentials) == 0 {
		return fmt.Errorf("%w: no node credentials", ErrValidation)
	}
	*s = SessionCredentialSet{
		wallet:      raw.WalletAddress,
		requests:    raw.Requests,
		credentials: raw.Credentials,
		issuedAt:    raw.IssuedAt,
		expiration:  raw.Expiration,
	}
	return nil
}
