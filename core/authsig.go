package core

import (
	"encoding/json"
	"fmt"
)

// DerivedViaPersonalSign marks signatures produced with EIP-191 personal_sign
const DerivedViaPersonalSign = "web3.eth.personal.sign"

// AuthorizationSignature is a wallet signature over a serialized AuthorizationMessage.
// Sig is 0x-prefixed hex of the 65 byte r||s||v signature.
type AuthorizationSignature struct {
	Sig           string `json:"sig"`
	DerivedVia    string `json:"derivedVia"`
	SignedMessage string `json:"signedMessage"`
	Address       string `json:"address"`
}

// JSON returns the wire encoding of the signature
func (s AuthorizationSignature) JSON() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode auth signature: %w", err)
	}
	return string(b), nil
}

// ParseAuthorizationSignature decodes the wire encoding produced by JSON
func ParseAuthorizationSignature(data string) (*AuthorizationSignature, error) {
	var s AuthorizationSignature
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("%w: malformed auth signature: %v", ErrValidation, err)
	}
	if s.Sig == "" || s.SignedMessage == "" || s.Address == "" {
		return nil, fmt.Errorf("%w: incomplete auth signature", ErrValidation)
	}
	return &s, nil
}
