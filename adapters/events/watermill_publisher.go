package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/ports"
)

const (
	TopicSessionIssued = "litkit.session.issued"
	TopicKeyMinted     = "litkit.pkp.minted"
)

// SessionIssuedEvent is published after a session round succeeds. It never
// carries the credentials themselves.
type SessionIssuedEvent struct {
	ScopeKey   string    `json:"scope_key"`
	Wallet     string    `json:"wallet"`
	Nodes      []string  `json:"nodes"`
	Expiration time.Time `json:"expiration"`
}

// KeyMintedEvent is published after a mint is confirmed
type KeyMintedEvent struct {
	TokenID     string   `json:"token_id"`
	PublicKey   string   `json:"public_key"`
	EthAddress  string   `json:"eth_address,omitempty"`
	Scopes      []string `json:"scopes"`
	SelfCustody bool     `json:"self_custody"`
	TxHash      string   `json:"tx_hash,omitempty"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// PublishSessionIssued publishes a session issued event
func (p *WatermillPublisher) PublishSessionIssued(ctx context.Context, scopeKey string, set *core.SessionCredentialSet) error {
	return p.publish(ctx, TopicSessionIssued, SessionIssuedEvent{
		ScopeKey:   scopeKey,
		Wallet:     set.WalletAddress(),
		Nodes:      set.Nodes(),
		Expiration: set.Expiration(),
	})
}

// PublishKeyMinted publishes a key minted event
func (p *WatermillPublisher) PublishKeyMinted(ctx context.Context, pkp *core.MintedKeyPair) error {
	scopes := make([]string, 0, len(pkp.GrantedScopes))
	for _, s := range pkp.GrantedScopes {
		scopes = append(scopes, s.String())
	}
	return p.publish(ctx, TopicKeyMinted, KeyMintedEvent{
		TokenID:     pkp.TokenID,
		PublicKey:   pkp.PublicKey,
		EthAddress:  pkp.EthAddress,
		Scopes:      scopes,
		SelfCustody: pkp.SelfCustody,
		TxHash:      pkp.TxHash,
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
