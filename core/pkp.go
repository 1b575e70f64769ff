package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// AuthMethodType identifies how an auth method proves control of an identity
type AuthMethodType int64

const (
	AuthMethodEthWallet AuthMethodType = 1
)

func (t AuthMethodType) String() string {
	switch t {
	case AuthMethodEthWallet:
		return "EthWallet"
	default:
		return "AuthMethodType(" + strconv.FormatInt(int64(t), 10) + ")"
	}
}

// AuthMethod is the minting input that binds a key pair to a wallet identity.
// AccessToken is the JSON encoded AuthorizationSignature.
type AuthMethod struct {
	Type        AuthMethodType `json:"authMethodType"`
	AccessToken string         `json:"accessToken"`
}

// Scope is a signing permission granted to an auth method on a minted key pair
type Scope int64

const (
	ScopeNoPermissions Scope = 0
	ScopeSignAnything  Scope = 1
	ScopePersonalSign  Scope = 2
)

var scopeNames = map[Scope]string{
	ScopeNoPermissions: "NoPermissions",
	ScopeSignAnything:  "SignAnything",
	ScopePersonalSign:  "PersonalSign",
}

func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return "Scope(" + strconv.FormatInt(int64(s), 10) + ")"
}

func (s Scope) Valid() bool {
	_, ok := scopeNames[s]
	return ok
}

// RequiredAbility returns the ability an authorization must request for s to be grantable.
// The boolean is false for scopes that grant nothing.
func (s Scope) RequiredAbility() (Ability, bool) {
	switch s {
	case ScopeSignAnything, ScopePersonalSign:
		return AbilityPKPSigning, true
	default:
		return "", false
	}
}

// ParseScope accepts a scope name (case insensitive) or its numeric value
func ParseScope(v string) (Scope, error) {
	for s, name := range scopeNames {
		if strings.EqualFold(v, name) {
			return s, nil
		}
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && Scope(n).Valid() {
		return Scope(n), nil
	}
	return 0, fmt.Errorf("%w: unknown scope %q", ErrValidation, v)
}

func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: scope must be a name or number", ErrValidation)
		}
		name = strconv.FormatInt(n, 10)
	}
	parsed, err := ParseScope(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NormalizeScopes validates scopes and returns them deduplicated in ascending order
func NormalizeScopes(scopes []Scope) ([]Scope, error) {
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", ErrValidation)
	}
	seen := make(map[Scope]struct{}, len(scopes))
	out := make([]Scope, 0, len(scopes))
	for _, s := range scopes {
		if !s.Valid() {
			return nil, fmt.Errorf("%w: unknown scope %d", ErrValidation, int64(s))
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ScopesCovered checks that every scope is backed by an ability in requests
func ScopesCovered(scopes []Scope, requests []ResourceAbilityRequest) error {
	for _, s := range scopes {
		if a, ok := s.RequiredAbility(); ok && !HasAbility(requests, a) {
			return fmt.Errorf("%w: scope %s requires ability %s", ErrValidation, s, a)
		}
	}
	return nil
}

// MintRequest is submitted to the key registry contract
type MintRequest struct {
	AuthMethod   AuthMethod
	AuthMethodID []byte
	Scopes       []Scope
	SelfCustody  bool
}

// MintReceipt is the confirmed on-chain result of a mint
type MintReceipt struct {
	TokenID    string
	PublicKey  string
	EthAddress string
	TxHash     string
	CostWei    *big.Int
}

// MintedKeyPair describes a key pair whose mint transaction has been confirmed
type MintedKeyPair struct {
	TokenID       string          `json:"tokenId"`
	PublicKey     string          `json:"publicKey"`
	EthAddress    string          `json:"ethAddress,omitempty"`
	GrantedScopes []Scope         `json:"grantedScopes"`
	SelfCustody   bool            `json:"selfCustody"`
	TxHash        string          `json:"txHash,omitempty"`
	MintCost      decimal.Decimal `json:"mintCost"`
}

// WeiToEther converts a wei amount to an ether decimal
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}
