package core

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode"
)

// Ability is a capability an identity can request over a resource
type Ability string

const (
	AbilityActionExecution                  Ability = "lit-action-execution"
	AbilityPKPSigning                       Ability = "pkp-signing"
	AbilityAccessControlConditionDecryption Ability = "access-control-condition-decryption"
	AbilityAccessControlConditionSigning    Ability = "access-control-condition-signing"
	AbilityRateLimitIncreaseAuth            Ability = "rate-limit-increase-auth"
)

// WildcardResource matches every resource of a given prefix
const WildcardResource = "*"

type abilityInfo struct {
	prefix    string
	namespace string
	name      string
}

var abilities = map[Ability]abilityInfo{
	AbilityActionExecution:                  {prefix: "lit-litaction", namespace: "Threshold", name: "Execution"},
	AbilityPKPSigning:                       {prefix: "lit-pkp", namespace: "Threshold", name: "Signing"},
	AbilityAccessControlConditionDecryption: {prefix: "lit-accesscontrolcondition", namespace: "Threshold", name: "Decryption"},
	AbilityAccessControlConditionSigning:    {prefix: "lit-accesscontrolcondition", namespace: "Threshold", name: "Signing"},
	AbilityRateLimitIncreaseAuth:            {prefix: "lit-ratelimitincrease", namespace: "Auth", name: "Auth"},
}

// Valid reports whether a is part of the known vocabulary
func (a Ability) Valid() bool {
	_, ok := abilities[a]
	return ok
}

// ResourcePrefix returns the URI scheme of resources this ability applies to
func (a Ability) ResourcePrefix() string {
	return abilities[a].prefix
}

// ParseAbility accepts either the wire value or a short alias such as "pkp-signing" / "PKPSigning".
func ParseAbility(s string) (Ability, error) {
	if a := Ability(s); a.Valid() {
		return a, nil
	}
	switch strings.ToLower(s) {
	case "actionexecution", "litactionexecution", "action-execution":
		return AbilityActionExecution, nil
	case "pkpsigning":
		return AbilityPKPSigning, nil
	case "accesscontrolconditiondecryption":
		return AbilityAccessControlConditionDecryption, nil
	case "accesscontrolconditionsigning":
		return AbilityAccessControlConditionSigning, nil
	case "ratelimitincreaseauth":
		return AbilityRateLimitIncreaseAuth, nil
	}
	return "", fmt.Errorf("%w: unknown ability %q", ErrValidation, s)
}

// ResourceAbilityRequest pairs a resource pattern with the ability requested over it.
// The zero value is invalid; build one with NewAbilityRequest.
type ResourceAbilityRequest struct {
	pattern string
	ability Ability
}

// NewAbilityRequest validates and returns a resource ability request
func NewAbilityRequest(pattern string, ability Ability) (ResourceAbilityRequest, error) {
	if strings.TrimSpace(pattern) == "" {
		return ResourceAbilityRequest{}, fmt.Errorf("%w: empty resource pattern", ErrValidation)
	}
	if !printable(pattern) {
		return ResourceAbilityRequest{}, fmt.Errorf("%w: resource pattern contains whitespace or control characters", ErrValidation)
	}
	if !ability.Valid() {
		return ResourceAbilityRequest{}, fmt.Errorf("%w: unknown ability %q", ErrValidation, ability)
	}
	return ResourceAbilityRequest{pattern: pattern, ability: ability}, nil
}

// MustAbilityRequest is NewAbilityRequest for static inputs
func MustAbilityRequest(pattern string, ability Ability) ResourceAbilityRequest {
	r, err := NewAbilityRequest(pattern, ability)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultAbilityRequests returns action execution and PKP signing over every resource.
func DefaultAbilityRequests() []ResourceAbilityRequest {
	return []ResourceAbilityRequest{
		MustAbilityRequest(WildcardResource, AbilityActionExecution),
		MustAbilityRequest(WildcardResource, AbilityPKPSigning),
	}
}

func (r ResourceAbilityRequest) Pattern() string  { return r.pattern }
func (r ResourceAbilityRequest) Ability() Ability { return r.ability }

// Resource returns the full resource URI, e.g. "lit-pkp://*"
func (r ResourceAbilityRequest) Resource() string {
	return r.ability.ResourcePrefix() + "://" + r.pattern
}

// String renders the request as "<resource>#<ability>", the form used in cache keys
func (r ResourceAbilityRequest) String() string {
	return r.Resource() + "#" + string(r.ability)
}

func (r ResourceAbilityRequest) Equal(o ResourceAbilityRequest) bool {
	return r.pattern == o.pattern && r.ability == o.ability
}

// Compare orders requests by resource URI and then by ability
func (r ResourceAbilityRequest) Compare(o ResourceAbilityRequest) int {
	if c := strings.Compare(r.Resource(), o.Resource()); c != 0 {
		return c
	}
	return strings.Compare(string(r.ability), string(o.ability))
}

// Capabilities renders requests as a sorted, deduplicated list of "<resource>#<ability>"
func Capabilities(requests []ResourceAbilityRequest) []string {
	caps := make([]string, 0, len(requests))
	for _, r := range requests {
		caps = append(caps, r.String())
	}
	return sortedUnique(caps)
}

func sortedUnique(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return slices.Compact(out)
}

// SortedAbilityRequests returns a sorted copy of requests
func SortedAbilityRequests(requests []ResourceAbilityRequest) []ResourceAbilityRequest {
	out := append([]ResourceAbilityRequest(nil), requests...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// HasAbility reports whether any request grants a on the wildcard or any pattern
func HasAbility(requests []ResourceAbilityRequest, a Ability) bool {
	for _, r := range requests {
		if r.ability == a {
			return true
		}
	}
	return false
}

type abilityRequestJSON struct {
	Resource string  `json:"resource"`
	Ability  Ability `json:"ability"`
}

func (r ResourceAbilityRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(abilityRequestJSON{Resource: r.pattern, Ability: r.ability})
}

func (r *ResourceAbilityRequest) UnmarshalJSON(data []byte) error {
	var raw abilityRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	ability, err := ParseAbility(string(raw.Ability))
	if err != nil {
		return err
	}
	pattern := raw.Resource
	if prefix := ability.ResourcePrefix() + "://"; strings.HasPrefix(pattern, prefix) {
		pattern = strings.TrimPrefix(pattern, prefix)
	}
	parsed, err := NewAbilityRequest(pattern, ability)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// printable reports whether s can be written into a single line of a signed message
func printable(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
