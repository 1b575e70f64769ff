package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/internal/metrics"
	"github.com/layer-3/litkit/ports"
)

const (
	// MintAuthTTL is how long the authorization behind a mint stays valid
	MintAuthTTL = 10 * time.Minute

	// DefaultMintURI is the purpose string bound into mint authorizations
	DefaultMintURI = "http://localhost/createWallet"

	defaultMintTimeout = 2 * time.Minute
)

// Minter mints key pairs bound to a wallet through the key registry contract
type Minter struct {
	conn       *ConnectionManager
	builder    core.MessageBuilder
	signatures *SignatureService
	registry   ports.KeyRegistry
	events     ports.EventPublisher
	timeout    time.Duration
	logger     *slog.Logger
}

// MinterDeps are the collaborators of a Minter. Events and Logger are optional.
type MinterDeps struct {
	Conn       *ConnectionManager
	Builder    core.MessageBuilder
	Signatures *SignatureService
	Registry   ports.KeyRegistry
	Events     ports.EventPublisher
	Logger     *slog.Logger
}

// NewMinter creates a minter. timeout bounds submission plus confirmation; zero uses the default.
func NewMinter(deps MinterDeps, timeout time.Duration) *Minter {
	m := &Minter{
		conn:       deps.Conn,
		builder:    deps.Builder,
		signatures: deps.Signatures,
		registry:   deps.Registry,
		events:     deps.Events,
		timeout:    timeout,
		logger:     deps.Logger,
	}
	if m.timeout <= 0 {
		m.timeout = defaultMintTimeout
	}
	if m.signatures == nil {
		m.signatures = NewSignatureService()
	}
	if m.logger == nil {
		m.logger = discardLogger()
	}
	return m
}

// MintAbilityRequests returns the abilities a mint authorization requests for scopes:
// action execution always, PKP signing only when a scope needs it
func MintAbilityRequests(scopes []core.Scope) []core.ResourceAbilityRequest {
	requests := []core.ResourceAbilityRequest{
		core.MustAbilityRequest(core.WildcardResource, core.AbilityActionExecution),
	}
	for _, s := range scopes {
		if a, ok := s.RequiredAbility(); ok && a == core.AbilityPKPSigning {
			return append(requests, core.MustAbilityRequest(core.WildcardResource, core.AbilityPKPSigning))
		}
	}
	return requests
}

// MintKeyPair mints a key pair controlled by signer's wallet with the given scopes.
// selfCustody is passed to the registry once and cannot be changed afterwards.
// Either the confirmed key pair is returned or an error and nothing else.
func (m *Minter) MintKeyPair(ctx context.Context, signer ports.Signer, scopes []core.Scope, selfCustody bool) (*core.MintedKeyPair, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: no signer", core.ErrSigning)
	}
	scopes, err := core.NormalizeScopes(scopes)
	if err != nil {
		return nil, err
	}

	if err := m.conn.EnsureReady(ctx); err != nil {
		return nil, err
	}
	nonce, err := m.conn.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	requests := MintAbilityRequests(scopes)
	msg, err := m.builder.Build(signer.Address(), requests, MintAuthTTL, nonce, DefaultMintURI)
	if err != nil {
		return nil, err
	}
	if err := core.ScopesCovered(scopes, msg.Requests); err != nil {
		return nil, err
	}

	sig, err := m.signatures.Sign(ctx, msg, signer)
	if err != nil {
		return nil, err
	}
	token, err := sig.JSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSigning, err)
	}

	logger := m.logger.With("wallet", sig.Address, "scopes", fmt.Sprint(scopes), "self_custody", selfCustody)
	logger.Info("submitting key pair mint")

	mintCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	receipt, err := m.registry.MintWithAuth(mintCtx, core.MintRequest{
		AuthMethod: core.AuthMethod{
			Type:        core.AuthMethodEthWallet,
			AccessToken: token,
		},
		AuthMethodID: EthWalletAuthMethodID(sig.Address),
		Scopes:       scopes,
		SelfCustody:  selfCustody,
	})
	if err != nil {
		metrics.Mints.WithLabelValues("failed").Inc()
		logger.Error("key pair mint failed", "error", err)
		if errors.Is(err, core.ErrContract) {
			return nil, err
		}
		reason := "mint transaction failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "mint transaction timed out"
		}
		return nil, &core.ContractError{Reason: reason, Err: err}
	}
	if receipt == nil || receipt.TokenID == "" {
		metrics.Mints.WithLabelValues("failed").Inc()
		return nil, &core.ContractError{Reason: "registry returned no token id"}
	}

	pkp := &core.MintedKeyPair{
		TokenID:       receipt.TokenID,
		PublicKey:     receipt.PublicKey,
		EthAddress:    receipt.EthAddress,
		GrantedScopes: scopes,
		SelfCustody:   selfCustody,
		TxHash:        receipt.TxHash,
		MintCost:      core.WeiToEther(receipt.CostWei),
	}
	metrics.Mints.WithLabelValues("ok").Inc()
	logger.Info("key pair minted", "token_id", pkp.TokenID, "tx", pkp.TxHash)

	if m.events != nil {
		if err := m.events.PublishKeyMinted(ctx, pkp); err != nil {
			logger.Warn("failed to publish mint event", "error", err)
		}
	}
	return pkp, nil
}
