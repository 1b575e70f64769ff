package ports

import "context"

// Signer is a wallet custody capability. Sign returns a 65 byte EIP-191
// personal_sign signature over data; Address is the 0x-prefixed wallet address.
type Signer interface {
	Address() string
	Sign(ctx context.Context, data []byte) ([]byte, error)
}
