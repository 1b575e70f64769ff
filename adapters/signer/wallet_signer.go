package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/litkit/ports"
)

// ErrInvalidPrivateKey is returned for unparsable key material. It never echoes the input.
var ErrInvalidPrivateKey = errors.New("invalid private key")

// WalletSigner signs with a local secp256k1 private key using EIP-191 personal_sign
type WalletSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewWalletSigner creates a signer from a hex encoded private key, with or without 0x prefix
func NewWalletSigner(hexKey string) (*WalletSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return NewWalletSignerFromKey(key), nil
}

// NewWalletSignerFromKey creates a signer from an existing key
func NewWalletSignerFromKey(key *ecdsa.PrivateKey) *WalletSigner {
	return &WalletSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

var _ ports.Signer = (*WalletSigner)(nil)

// Address returns the checksummed wallet address
func (s *WalletSigner) Address() string {
	return s.address.Hex()
}

// PrivateKey exposes the key for components that sign transactions with it
func (s *WalletSigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

// Sign produces a 65 byte personal_sign signature with V in {27, 28}
func (s *WalletSigner) Sign(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(data), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
