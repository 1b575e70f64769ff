package ports

import (
	"context"

	"github.com/layer-3/litkit/core"
)

// KeyRegistry submits mint transactions to the key registry contract and waits
// for confirmation. Failures are reported as *core.ContractError.
type KeyRegistry interface {
	MintWithAuth(ctx context.Context, req core.MintRequest) (*core.MintReceipt, error)
}
