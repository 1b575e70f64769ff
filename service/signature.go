package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/ports"
)

// SignatureService turns authorization messages into wallet signatures.
// It keeps no state; every call signs the exact bytes it is given.
type SignatureService struct{}

// NewSignatureService creates a new signature service
func NewSignatureService() *SignatureService {
	return &SignatureService{}
}

// Sign signs msg with signer after checking that signer owns msg's wallet address
func (s *SignatureService) Sign(ctx context.Context, msg *core.AuthorizationMessage, signer ports.Signer) (*core.AuthorizationSignature, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", core.ErrValidation)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: no signer", core.ErrSigning)
	}
	signerAddr := signer.Address()
	if !common.IsHexAddress(signerAddr) {
		return nil, fmt.Errorf("%w: signer reported malformed address %q", core.ErrSigning, signerAddr)
	}
	if common.HexToAddress(signerAddr) != common.HexToAddress(msg.WalletAddress) {
		return nil, fmt.Errorf("%w: signer %s cannot sign for wallet %s", core.ErrSigning, signerAddr, msg.WalletAddress)
	}

	text := msg.String()
	sig, err := signer.Sign(ctx, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSigning, err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature must be %d bytes, got %d", core.ErrSigning, crypto.SignatureLength, len(sig))
	}

	return &core.AuthorizationSignature{
		Sig:           hexutil.Encode(sig),
		DerivedVia:    core.DerivedViaPersonalSign,
		SignedMessage: text,
		Address:       common.HexToAddress(signerAddr).Hex(),
	}, nil
}

// Verify recovers the signer of sig and checks it against the claimed address
func (s *SignatureService) Verify(sig *core.AuthorizationSignature) error {
	if sig == nil || !common.IsHexAddress(sig.Address) {
		return fmt.Errorf("%w: malformed auth signature", core.ErrValidation)
	}
	raw, err := hexutil.Decode(sig.Sig)
	if err != nil {
		return fmt.Errorf("%w: failed to decode signature: %v", core.ErrValidation, err)
	}
	if len(raw) != crypto.SignatureLength {
		return fmt.Errorf("%w: signature must be %d bytes", core.ErrValidation, crypto.SignatureLength)
	}
	// SigToPub expects the recovery id in {0,1}
	raw = append([]byte(nil), raw...)
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(sig.SignedMessage)), raw)
	if err != nil {
		return fmt.Errorf("%w: failed to recover signer: %v", core.ErrSigning, err)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(sig.Address) {
		return fmt.Errorf("%w: signature was not produced by %s", core.ErrSigning, sig.Address)
	}
	return nil
}

// EthWalletAuthMethodID derives the registry id of an EthWallet auth method
func EthWalletAuthMethodID(address string) []byte {
	return crypto.Keccak256([]byte(common.HexToAddress(address).Hex() + ":lit"))
}
