package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/litkit/adapters/signer"
	"github.com/layer-3/litkit/adapters/store"
	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/service"
)

// clock is a manually advanced time source
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Now().UTC()} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeTransport simulates a node network in memory
type fakeTransport struct {
	handshakeDelay time.Duration
	signDelay      time.Duration
	// slow delays individual nodes on top of signDelay
	slow map[string]time.Duration
	handshakeFail  map[string]bool
	refuse         map[string]bool
	challenge      map[string]core.FreshnessToken
	// replay makes a node answer with a credential issued for another wallet and scope
	replay map[string]bool
	// credentialTTL caps what a node grants, relative to the time of signing
	credentialTTL time.Duration
	now           func() time.Time

	handshakes atomic.Int32
	signCalls  atomic.Int32
	// cancelled counts sign calls abandoned because their context ended
	cancelled atomic.Int32

	mu       sync.Mutex
	requests []core.SessionRequest
}

func (f *fakeTransport) Handshake(ctx context.Context, node string) (*core.NodeInfo, error) {
	f.handshakes.Add(1)
	if f.handshakeDelay > 0 {
		select {
		case <-time.After(f.handshakeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.handshakeFail[node] {
		return nil, errors.New("connection refused")
	}
	return &core.NodeInfo{URL: node, Version: "test"}, nil
}

func (f *fakeTransport) SignSession(ctx context.Context, node string, req *core.SessionRequest) (*core.NodeCredential, error) {
	f.signCalls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, *req)
	f.mu.Unlock()

	if delay := f.signDelay + f.slow[node]; delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			f.cancelled.Add(1)
			return nil, ctx.Err()
		}
	}
	if f.refuse[node] {
		return nil, fmt.Errorf("node %s refused", node)
	}
	if nonce, ok := f.challenge[node]; ok && !strings.Contains(req.AuthSig.SignedMessage, "Nonce: "+string(nonce)+"\n") {
		return nil, &core.ChallengeError{Node: node, Nonce: nonce}
	}
	exp := req.Expiration
	if f.credentialTTL > 0 {
		now := time.Now()
		if f.now != nil {
			now = f.now()
		}
		if capped := now.Add(f.credentialTTL); capped.Before(exp) {
			exp = capped
		}
	}
	cred := &core.NodeCredential{
		Node:         node,
		Signature:    "session-" + node,
		Expiration:   exp,
		Wallet:       req.WalletAddress,
		Capabilities: core.Capabilities(req.Requests),
	}
	if f.replay[node] {
		cred.Wallet = "0x000000000000000000000000000000000000dEaD"
		cred.Capabilities = []string{core.MustAbilityRequest("*", core.AbilityRateLimitIncreaseAuth).String()}
	}
	return cred, nil
}

func (f *fakeTransport) signedRequests() []core.SessionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.SessionRequest(nil), f.requests...)
}

type staticCheckpoints struct {
	calls atomic.Int32
}

func (s *staticCheckpoints) LatestCheckpoint(context.Context) (core.FreshnessToken, error) {
	n := s.calls.Add(1)
	return core.FreshnessToken(fmt.Sprintf("0xblock%d", n)), nil
}

// countingSigner wraps a wallet signer and counts signatures
type countingSigner struct {
	*signer.WalletSigner
	calls atomic.Int32
}

func (s *countingSigner) Sign(ctx context.Context, data []byte) ([]byte, error) {
	s.calls.Add(1)
	return s.WalletSigner.Sign(ctx, data)
}

func newSigner(t *testing.T) *countingSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &countingSigner{WalletSigner: signer.NewWalletSignerFromKey(key)}
}

// brokenSigner returns truncated signatures
type brokenSigner struct {
	*signer.WalletSigner
}

func (s brokenSigner) Sign(ctx context.Context, data []byte) ([]byte, error) {
	return []byte{1, 2, 3}, nil
}

type recordingEvents struct {
	mu       sync.Mutex
	sessions []string
	minted   []*core.MintedKeyPair
}

func (r *recordingEvents) PublishSessionIssued(_ context.Context, scopeKey string, _ *core.SessionCredentialSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, scopeKey)
	return nil
}

func (r *recordingEvents) PublishKeyMinted(_ context.Context, pkp *core.MintedKeyPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minted = append(r.minted, pkp)
	return nil
}

func (r *recordingEvents) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func nodeURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://node-%d.test", i+1)
	}
	return urls
}

type brokerFixture struct {
	clock     *clock
	transport *fakeTransport
	conn      *service.ConnectionManager
	store     *store.MemoryStore
	events    *recordingEvents
	broker    *service.SessionBroker
}

func newBrokerFixture(t *testing.T, nodes int, transport *fakeTransport, cfg service.BrokerConfig) *brokerFixture {
	t.Helper()
	clk := newClock()
	if transport == nil {
		transport = &fakeTransport{}
	}
	if transport.now == nil {
		transport.now = clk.Now
	}
	conn := service.NewConnectionManager(transport, &staticCheckpoints{}, core.NetworkConfig{
		Name:     "test",
		NodeURLs: nodeURLs(nodes),
	})
	f := &brokerFixture{
		clock:     clk,
		transport: transport,
		conn:      conn,
		store:     store.NewMemoryStore(),
		events:    &recordingEvents{},
	}
	f.broker = service.NewSessionBroker(service.BrokerDeps{
		Conn:      conn,
		Transport: transport,
		Builder:   core.MessageBuilder{Now: clk.Now},
		Store:     f.store,
		Events:    f.events,
	}, cfg)
	return f
}

func sessionParams(ttl time.Duration) service.SessionParams {
	return service.SessionParams{Requests: core.DefaultAbilityRequests(), TTL: ttl}
}
