package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/ports"
)

// HeaderReader is the part of ethclient.Client the checkpoint source needs
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// BlockhashSource uses the hash of the latest block as the freshness token
type BlockhashSource struct {
	client HeaderReader
}

// NewBlockhashSource creates a checkpoint source backed by an RPC client
func NewBlockhashSource(client HeaderReader) *BlockhashSource {
	return &BlockhashSource{client: client}
}

var _ ports.CheckpointSource = (*BlockhashSource)(nil)

// LatestCheckpoint returns the 0x-prefixed hash of the chain head
func (s *BlockhashSource) LatestCheckpoint(ctx context.Context) (core.FreshnessToken, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch latest block: %w", err)
	}
	return core.FreshnessToken(header.Hash().Hex()), nil
}
