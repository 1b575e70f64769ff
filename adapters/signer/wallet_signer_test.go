package signer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well known development key, never funded
const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewWalletSigner(t *testing.T) {
	for _, in := range []string{devKey, "0x" + devKey, "  0x" + devKey + "\n"} {
		s, err := NewWalletSigner(in)
		require.NoError(t, err)
		assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address())
	}
}

func TestNewWalletSigner_InvalidKeyIsNotEchoed(t *testing.T) {
	bad := "0xdeadbeefnothex"
	_, err := NewWalletSigner(bad)
	require.ErrorIs(t, err, ErrInvalidPrivateKey)
	assert.NotContains(t, err.Error(), "deadbeef")
}

func TestWalletSigner_Sign(t *testing.T) {
	s, err := NewWalletSigner(devKey)
	require.NoError(t, err)
	data := []byte("hello")

	sig, err := s.Sign(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[crypto.RecoveryIDOffset])

	raw := append([]byte(nil), sig...)
	raw[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(data), raw)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub).Hex())

	// deterministic RFC 6979 signatures
	again, err := s.Sign(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Encode(sig), hexutil.Encode(again))
}

func TestWalletSigner_CancelledContext(t *testing.T) {
	s, err := NewWalletSigner(devKey)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Sign(ctx, []byte("hello"))
	require.ErrorIs(t, err, context.Canceled)
}
