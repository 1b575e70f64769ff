package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/internal/metrics"
	"github.com/layer-3/litkit/ports"
)

const (
	// DefaultSessionURI is the purpose string bound into session authorizations
	DefaultSessionURI = "lit:session:litkit"

	defaultNodeTimeout   = 15 * time.Second
	defaultQuorumTimeout = 30 * time.Second
	defaultTTLBucket     = time.Minute
	defaultFanOut        = 16
)

// BrokerConfig tunes the session broker
type BrokerConfig struct {
	NodeTimeout   time.Duration
	QuorumTimeout time.Duration
	TTLBucket     time.Duration
	MaxFanOut     int
}

func (c *BrokerConfig) setDefaults() {
	if c.NodeTimeout <= 0 {
		c.NodeTimeout = defaultNodeTimeout
	}
	if c.QuorumTimeout <= 0 {
		c.QuorumTimeout = defaultQuorumTimeout
	}
	if c.TTLBucket <= 0 {
		c.TTLBucket = defaultTTLBucket
	}
	if c.MaxFanOut <= 0 {
		c.MaxFanOut = defaultFanOut
	}
}

// SessionParams is the scope of a session credential request
type SessionParams struct {
	Requests []core.ResourceAbilityRequest
	TTL      time.Duration
	// URI is the purpose string bound into the authorization. Empty means DefaultSessionURI.
	URI string
}

func (p SessionParams) uri() string {
	if p.URI == "" {
		return DefaultSessionURI
	}
	return p.URI
}

// SessionBroker negotiates session credentials with the node network and
// caches them until they expire
type SessionBroker struct {
	conn       *ConnectionManager
	transport  ports.NodeTransport
	builder    core.MessageBuilder
	signatures *SignatureService
	store      ports.CredentialStore
	events     ports.EventPublisher
	cfg        BrokerConfig
	now        func() time.Time
	logger     *slog.Logger

	refresh singleflight.Group
}

// BrokerDeps are the collaborators of a SessionBroker. Events and Logger are optional.
type BrokerDeps struct {
	Conn       *ConnectionManager
	Transport  ports.NodeTransport
	Builder    core.MessageBuilder
	Signatures *SignatureService
	Store      ports.CredentialStore
	Events     ports.EventPublisher
	Logger     *slog.Logger
}

// NewSessionBroker creates a new session broker
func NewSessionBroker(deps BrokerDeps, cfg BrokerConfig) *SessionBroker {
	cfg.setDefaults()
	b := &SessionBroker{
		conn:       deps.Conn,
		transport:  deps.Transport,
		builder:    deps.Builder,
		signatures: deps.Signatures,
		store:      deps.Store,
		events:     deps.Events,
		cfg:        cfg,
		now:        time.Now,
		logger:     deps.Logger,
	}
	if deps.Builder.Now != nil {
		b.now = deps.Builder.Now
	}
	if b.signatures == nil {
		b.signatures = NewSignatureService()
	}
	if b.logger == nil {
		b.logger = discardLogger()
	}
	return b
}

// ScopeKey identifies cached credentials: the wallet, the purpose, the ttl
// bucket and the sorted ability requests
func (b *SessionBroker) ScopeKey(wallet string, params SessionParams) string {
	sorted := core.SortedAbilityRequests(params.Requests)
	parts := make([]string, 0, len(sorted))
	for _, r := range sorted {
		parts = append(parts, r.String())
	}
	bucket := (params.TTL + b.cfg.TTLBucket - 1) / b.cfg.TTLBucket
	return strings.Join([]string{
		strings.ToLower(common.HexToAddress(wallet).Hex()),
		params.uri(),
		strconv.FormatInt(int64(bucket), 10),
		strings.Join(parts, ","),
	}, "|")
}

// GetSessionCredentials returns credentials for params, from cache while they
// are still valid, otherwise from a fresh round with the node network.
// Concurrent callers for the same scope share a single round.
func (b *SessionBroker) GetSessionCredentials(ctx context.Context, signer ports.Signer, params SessionParams) (*core.SessionCredentialSet, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: no signer", core.ErrSigning)
	}
	if len(params.Requests) == 0 {
		return nil, fmt.Errorf("%w: at least one ability request is required", core.ErrValidation)
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive, got %s", core.ErrValidation, params.TTL)
	}
	if !common.IsHexAddress(signer.Address()) {
		return nil, fmt.Errorf("%w: malformed wallet address %q", core.ErrValidation, signer.Address())
	}

	key := b.ScopeKey(signer.Address(), params)
	if set, ok := b.cached(ctx, key); ok {
		metrics.SessionCache.WithLabelValues("hit").Inc()
		return set, nil
	}
	metrics.SessionCache.WithLabelValues("miss").Inc()

	ch := b.refresh.DoChan(key, func() (interface{}, error) {
		// detached from the first caller so that the others are not cancelled with it;
		// the round is bounded by its own timeouts
		roundCtx := context.WithoutCancel(ctx)
		if set, ok := b.cached(roundCtx, key); ok {
			return set, nil
		}
		set, err := b.round(roundCtx, signer, params)
		if err != nil {
			return nil, err
		}
		if ttl := set.Expiration().Sub(b.now()); ttl > 0 {
			if err := b.store.Set(roundCtx, key, set, ttl); err != nil {
				b.logger.Warn("failed to cache session credentials", "error", err)
			}
		}
		if b.events != nil {
			if err := b.events.PublishSessionIssued(roundCtx, key, set); err != nil {
				b.logger.Warn("failed to publish session event", "error", err)
			}
		}
		return set, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.SessionCredentialSet), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", core.ErrConnection, ctx.Err())
	}
}

// cached returns a stored set that is still valid. Expired entries are evicted.
func (b *SessionBroker) cached(ctx context.Context, key string) (*core.SessionCredentialSet, bool) {
	set, err := b.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrCredentialNotFound) {
			b.logger.Warn("credential store lookup failed", "error", err)
		}
		return nil, false
	}
	if !set.ValidAt(b.now()) {
		if err := b.store.Delete(ctx, key); err != nil {
			b.logger.Warn("failed to evict expired credentials", "error", err)
		}
		return nil, false
	}
	return set, true
}

// Invalidate drops cached credentials for key
func (b *SessionBroker) Invalidate(ctx context.Context, key string) error {
	return b.store.Delete(ctx, key)
}

type nodeResult struct {
	node string
	cred *core.NodeCredential
	err  error
}

func (b *SessionBroker) round(ctx context.Context, signer ports.Signer, params SessionParams) (*core.SessionCredentialSet, error) {
	if err := b.conn.EnsureReady(ctx); err != nil {
		return nil, err
	}
	nodes := b.conn.ReadyNodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no ready nodes", core.ErrConnection)
	}
	nonce, err := b.conn.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := b.builder.Build(signer.Address(), params.Requests, params.TTL, nonce, params.uri())
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	logger := b.logger.With("request_id", requestID, "wallet", msg.WalletAddress)
	auth := &lazyAuthorizer{base: msg, signer: signer, signatures: b.signatures}

	quorum := len(nodes)/2 + 1
	ctx, cancel := context.WithTimeout(ctx, b.cfg.QuorumTimeout)
	defer cancel()

	results := make(chan nodeResult, len(nodes))
	g := new(errgroup.Group)
	g.SetLimit(b.cfg.MaxFanOut)
	go func() {
		for _, node := range nodes {
			node := node // per-iteration copy; go directive is 1.21
			g.Go(func() error {
				if ctx.Err() != nil {
					results <- nodeResult{node: node, err: ctx.Err()}
					return nil
				}
				cred, err := b.exchange(ctx, node, requestID, msg, auth)
				results <- nodeResult{node: node, cred: cred, err: err}
				return nil
			})
		}
		_ = g.Wait()
	}()

	var creds []core.NodeCredential
	var failures []core.NodeFailure
collect:
	for received := 0; received < len(nodes); received++ {
		select {
		case r := <-results:
			if r.err == nil && !r.cred.Expiration.IsZero() && !r.cred.Expiration.After(b.now()) {
				r.err = errors.New("credential already expired")
			}
			if r.err != nil {
				metrics.NodeResponses.WithLabelValues("error").Inc()
				logger.Debug("node refused session", "node", r.node, "error", r.err)
				failures = append(failures, core.NodeFailure{Node: r.node, Err: r.err})
				// fail fast once quorum is out of reach
				if len(nodes)-len(failures) < quorum {
					break collect
				}
				continue
			}
			metrics.NodeResponses.WithLabelValues("ok").Inc()
			creds = append(creds, *r.cred)
			if len(creds) >= quorum {
				break collect
			}
		case <-ctx.Done():
			break collect
		}
	}
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	// late responders are cancelled; their results land in the buffered channel and are dropped
	cancel()

	if len(creds) < quorum {
		for _, f := range failures {
			if errors.Is(f.Err, core.ErrSigning) {
				metrics.SessionRounds.WithLabelValues("signing_error").Inc()
				return nil, f.Err
			}
		}
		metrics.SessionRounds.WithLabelValues("no_quorum").Inc()
		err := &core.QuorumError{
			Addressed: len(nodes),
			Required:  quorum,
			Succeeded: len(creds),
			Failures:  failures,
			TimedOut:  timedOut,
		}
		logger.Warn("session round failed", "error", err)
		return nil, err
	}

	set, err := core.NewSessionCredentialSet(msg.WalletAddress, msg.Requests, msg.IssuedAt, msg.ExpirationTime, creds)
	if err != nil {
		return nil, err
	}
	metrics.SessionRounds.WithLabelValues("ok").Inc()
	logger.Info("session credentials issued",
		"nodes", set.Len(),
		"addressed", len(nodes),
		"signatures", auth.count(),
		"expiration", set.Expiration())
	return set, nil
}

// exchange obtains one node's credential, re-signing once if the node issues a challenge
func (b *SessionBroker) exchange(ctx context.Context, node, requestID string, msg *core.AuthorizationMessage, auth *lazyAuthorizer) (*core.NodeCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.NodeTimeout)
	defer cancel()

	nonce := msg.Nonce
	for attempt := 0; attempt < 2; attempt++ {
		sig, err := auth.signature(ctx, nonce)
		if err != nil {
			return nil, err
		}
		cred, err := b.transport.SignSession(ctx, node, &core.SessionRequest{
			RequestID:     requestID,
			WalletAddress: msg.WalletAddress,
			AuthSig:       *sig,
			Requests:      msg.Requests,
			Expiration:    msg.ExpirationTime,
		})
		var challenge *core.ChallengeError
		if errors.As(err, &challenge) && attempt == 0 && challenge.Nonce != "" {
			if !challenge.Nonce.Valid() {
				return nil, fmt.Errorf("node %s challenged with a malformed nonce", node)
			}
			nonce = challenge.Nonce
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := cred.Binds(msg.WalletAddress, msg.Requests); err != nil {
			return nil, fmt.Errorf("node %s: %w", node, err)
		}
		if cred.Node == "" {
			cred.Node = node
		}
		return cred, nil
	}
	return nil, fmt.Errorf("node %s repeated its signing challenge", node)
}

// lazyAuthorizer signs the round's message at most once per distinct nonce,
// so every node that accepts the shared nonce receives the same signature
type lazyAuthorizer struct {
	base       *core.AuthorizationMessage
	signer     ports.Signer
	signatures *SignatureService

	mu   sync.Mutex
	sigs map[core.FreshnessToken]*authResult
}

type authResult struct {
	once sync.Once
	sig  *core.AuthorizationSignature
	err  error
}

func (a *lazyAuthorizer) signature(ctx context.Context, nonce core.FreshnessToken) (*core.AuthorizationSignature, error) {
	a.mu.Lock()
	if a.sigs == nil {
		a.sigs = make(map[core.FreshnessToken]*authResult)
	}
	res, ok := a.sigs[nonce]
	if !ok {
		res = &authResult{}
		a.sigs[nonce] = res
	}
	a.mu.Unlock()

	res.once.Do(func() {
		msg := a.base
		if nonce != a.base.Nonce {
			msg = a.base.WithNonce(nonce)
		}
		res.sig, res.err = a.signatures.Sign(ctx, msg, a.signer)
	})
	return res.sig, res.err
}

func (a *lazyAuthorizer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sigs)
}
