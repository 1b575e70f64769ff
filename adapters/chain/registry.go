package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/ports"
)

const pkpHelperABI = `[{"inputs":[
	{"internalType":"uint256","name":"keyType","type":"uint256"},
	{"internalType":"uint256[]","name":"permittedAuthMethodTypes","type":"uint256[]"},
	{"internalType":"bytes[]","name":"permittedAuthMethodIds","type":"bytes[]"},
	{"internalType":"bytes[]","name":"permittedAuthMethodPubkeys","type":"bytes[]"},
	{"internalType":"uint256[][]","name":"permittedAuthMethodScopes","type":"uint256[][]"},
	{"internalType":"bool","name":"addPkpEthAddressAsPermittedAddress","type":"bool"},
	{"internalType":"bool","name":"sendPkpToItself","type":"bool"}],
	"name":"mintNextAndAddAuthMethods",
	"outputs":[{"internalType":"uint256","name":"","type":"uint256"}],
	"stateMutability":"payable","type":"function"}]`

const pkpNFTABI = `[
	{"inputs":[],"name":"mintCost","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"},
		{"indexed":false,"internalType":"bytes","name":"pubkey","type":"bytes"}],
	"name":"PKPMinted","type":"event"}]`

// keyTypeECDSA is the registry's identifier for secp256k1 key pairs
var keyTypeECDSA = big.NewInt(2)

// Backend is satisfied by *ethclient.Client
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// PKPRegistry mints key pairs through the PKP helper contract and reads the
// result from the PKP NFT contract
type PKPRegistry struct {
	backend Backend
	helper  *bind.BoundContract
	nft     *bind.BoundContract
	nftAddr common.Address
	nftABI  abi.ABI
	opts    bind.TransactOpts
}

// NewPKPRegistry binds the helper and NFT contracts. opts carries the sender and its tx signer.
func NewPKPRegistry(backend Backend, helperAddr, nftAddr common.Address, opts *bind.TransactOpts) (*PKPRegistry, error) {
	helperABI, err := abi.JSON(strings.NewReader(pkpHelperABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse helper abi: %w", err)
	}
	nftABI, err := abi.JSON(strings.NewReader(pkpNFTABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse nft abi: %w", err)
	}
	if opts == nil {
		return nil, errors.New("transact opts are required")
	}
	return &PKPRegistry{
		backend: backend,
		helper:  bind.NewBoundContract(helperAddr, helperABI, backend, backend, backend),
		nft:     bind.NewBoundContract(nftAddr, nftABI, backend, backend, backend),
		nftAddr: nftAddr,
		nftABI:  nftABI,
		opts:    *opts,
	}, nil
}

var _ ports.KeyRegistry = (*PKPRegistry)(nil)

// MintCost reads the current mint price in wei
func (r *PKPRegistry) MintCost(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := r.nft.Call(&bind.CallOpts{Context: ctx}, &out, "mintCost"); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("mintCost returned %d values", len(out))
	}
	cost, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("mintCost returned %T", out[0])
	}
	return cost, nil
}

// MintWithAuth submits the mint, waits for it to be mined and returns the minted key
func (r *PKPRegistry) MintWithAuth(ctx context.Context, req core.MintRequest) (*core.MintReceipt, error) {
	cost, err := r.MintCost(ctx)
	if err != nil {
		return nil, &core.ContractError{Reason: "failed to read mint cost", Err: err}
	}

	opts := r.opts
	opts.Context = ctx
	opts.Value = cost

	tx, err := r.helper.Transact(&opts, "mintNextAndAddAuthMethods",
		keyTypeECDSA,
		[]*big.Int{big.NewInt(int64(req.AuthMethod.Type))},
		[][]byte{req.AuthMethodID},
		[][]byte{{}},
		[][]*big.Int{ScopeValues(req.Scopes)},
		true,
		req.SelfCustody,
	)
	if err != nil {
		return nil, &core.ContractError{Reason: "mint transaction rejected", Err: err}
	}
	txHash := tx.Hash().Hex()

	receipt, err := bind.WaitMined(ctx, r.backend, tx)
	if err != nil {
		reason := "failed to confirm mint transaction"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "mint transaction timed out"
		}
		return nil, &core.ContractError{TxHash: txHash, Reason: reason, Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &core.ContractError{TxHash: txHash, Reason: "mint transaction reverted"}
	}

	minted, err := r.ParseMinted(receipt.Logs)
	if err != nil {
		return nil, &core.ContractError{TxHash: txHash, Reason: "mint event missing", Err: err}
	}
	minted.TxHash = txHash
	minted.CostWei = cost
	return minted, nil
}

type pkpMinted struct {
	TokenId *big.Int
	Pubkey  []byte
}

// ParseMinted finds the PKPMinted event among logs
func (r *PKPRegistry) ParseMinted(logs []*types.Log) (*core.MintReceipt, error) {
	eventID := r.nftABI.Events["PKPMinted"].ID
	for _, l := range logs {
		if l == nil || l.Address != r.nftAddr || len(l.Topics) == 0 || l.Topics[0] != eventID {
			continue
		}
		var ev pkpMinted
		if err := r.nft.UnpackLog(&ev, "PKPMinted", *l); err != nil {
			return nil, fmt.Errorf("failed to unpack PKPMinted: %w", err)
		}
		receipt := &core.MintReceipt{
			TokenID:   ev.TokenId.String(),
			PublicKey: hexutil.Encode(ev.Pubkey),
		}
		if pub, err := crypto.UnmarshalPubkey(ev.Pubkey); err == nil {
			receipt.EthAddress = crypto.PubkeyToAddress(*pub).Hex()
		}
		return receipt, nil
	}
	return nil, errors.New("no PKPMinted event in receipt")
}

// ScopeValues converts scopes to their contract representation
func ScopeValues(scopes []core.Scope) []*big.Int {
	out := make([]*big.Int, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, big.NewInt(int64(s)))
	}
	return out
}
