package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/internal/metrics"
	"github.com/layer-3/litkit/ports"
)

// ConnectionState is the lifecycle state of the node network connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// ConnectionStatus is a read-only snapshot of the connection
type ConnectionStatus struct {
	State   ConnectionState
	Network string
	Nodes   []string
	Reason  error
}

// ErrConnectInProgress is returned by Connect when a round for another network is in flight
var ErrConnectInProgress = errors.New("connection attempt in progress")

const (
	defaultConnectTimeout    = 30 * time.Second
	defaultCheckpointTimeout = 10 * time.Second
)

// ConnectionManager owns the connection to the node network. All state
// transitions go through it and at most one handshake round runs at a time.
type ConnectionManager struct {
	transport   ports.NodeTransport
	checkpoints ports.CheckpointSource
	logger      *slog.Logger

	connectTimeout    time.Duration
	checkpointTimeout time.Duration

	mu      sync.Mutex
	network core.NetworkConfig
	state   ConnectionState
	reason  error
	nodes   []string
	attempt *connectAttempt
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// ConnectionOption customises a ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithConnectTimeout bounds a whole handshake round
func WithConnectTimeout(d time.Duration) ConnectionOption {
	return func(m *ConnectionManager) { m.connectTimeout = d }
}

// WithCheckpointTimeout bounds a single checkpoint fetch
func WithCheckpointTimeout(d time.Duration) ConnectionOption {
	return func(m *ConnectionManager) { m.checkpointTimeout = d }
}

// WithConnectionLogger sets the logger
func WithConnectionLogger(l *slog.Logger) ConnectionOption {
	return func(m *ConnectionManager) { m.logger = l }
}

// NewConnectionManager creates a manager for network. It starts Disconnected.
func NewConnectionManager(transport ports.NodeTransport, checkpoints ports.CheckpointSource, network core.NetworkConfig, opts ...ConnectionOption) *ConnectionManager {
	m := &ConnectionManager{
		transport:         transport,
		checkpoints:       checkpoints,
		network:           network,
		connectTimeout:    defaultConnectTimeout,
		checkpointTimeout: defaultCheckpointTimeout,
		logger:            discardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect switches to network and performs a handshake round against it.
// If a round for the same network is already in flight the caller waits for
// it instead; a round for a different network makes Connect fail with
// ErrConnectInProgress.
func (m *ConnectionManager) Connect(ctx context.Context, network core.NetworkConfig) error {
	m.mu.Lock()
	if m.attempt == nil {
		m.network = network
	} else if !sameNetwork(m.network, network) {
		current := m.network.Name
		m.mu.Unlock()
		return fmt.Errorf("%w: %w to %q", core.ErrConnection, ErrConnectInProgress, current)
	}
	attempt := m.startLocked(ctx)
	m.mu.Unlock()
	return m.wait(ctx, attempt)
}

// EnsureReady returns immediately when Ready, otherwise connects to the
// configured network or joins the round already in flight
func (m *ConnectionManager) EnsureReady(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	attempt := m.startLocked(ctx)
	m.mu.Unlock()
	return m.wait(ctx, attempt)
}

// startLocked returns the in-flight attempt or starts a new one. Callers hold m.mu.
func (m *ConnectionManager) startLocked(ctx context.Context) *connectAttempt {
	if m.attempt != nil {
		return m.attempt
	}
	attempt := &connectAttempt{done: make(chan struct{})}
	m.attempt = attempt
	m.state = StateConnecting
	m.reason = nil
	network := m.network

	// the round outlives any single waiter
	roundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.connectTimeout)
	go func() {
		defer cancel()
		nodes, err := m.handshake(roundCtx, network)

		m.mu.Lock()
		if err != nil {
			m.state = StateFailed
			m.reason = err
			m.nodes = nil
		} else {
			m.state = StateReady
			m.nodes = nodes
		}
		attempt.err = err
		m.attempt = nil
		m.mu.Unlock()
		close(attempt.done)
	}()
	return attempt
}

func (m *ConnectionManager) wait(ctx context.Context, attempt *connectAttempt) error {
	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", core.ErrConnection, ctx.Err())
	}
}

func (m *ConnectionManager) handshake(ctx context.Context, network core.NetworkConfig) ([]string, error) {
	logger := m.logger.With("network", network.Name)
	if len(network.NodeURLs) == 0 {
		return nil, fmt.Errorf("%w: network %q has no bootstrap nodes", core.ErrConnection, network.Name)
	}
	required := network.RequiredNodes()
	logger.Debug("connecting to node network", "nodes", len(network.NodeURLs), "required", required)

	var (
		mu    sync.Mutex
		nodes []string
		errs  []error
	)
	// a failed node never aborts the round, so workers always return nil
	g := new(errgroup.Group)
	for _, node := range network.NodeURLs {
		node := node // per-iteration copy; go directive is 1.21
		g.Go(func() error {
			_, err := m.transport.Handshake(ctx, node)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("node handshake failed", "node", node, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", node, err))
				return nil
			}
			nodes = append(nodes, node)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(nodes)

	if len(nodes) < required {
		metrics.ConnectionAttempts.WithLabelValues("failed").Inc()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: handshake timed out after %s with %d of %d nodes", core.ErrConnection, m.connectTimeout, len(nodes), required)
		}
		return nil, fmt.Errorf("%w: %d of %d required nodes answered: %w", core.ErrConnection, len(nodes), required, errors.Join(errs...))
	}
	metrics.ConnectionAttempts.WithLabelValues("ready").Inc()
	logger.Info("connected to node network", "nodes", len(nodes))
	return nodes, nil
}

// LatestCheckpoint fetches a fresh checkpoint to use as a message nonce
func (m *ConnectionManager) LatestCheckpoint(ctx context.Context) (core.FreshnessToken, error) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state != StateReady {
		return "", fmt.Errorf("%w: connection is %s", core.ErrConnection, state)
	}

	ctx, cancel := context.WithTimeout(ctx, m.checkpointTimeout)
	defer cancel()
	token, err := m.checkpoints.LatestCheckpoint(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to fetch checkpoint: %v", core.ErrConnection, err)
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty checkpoint", core.ErrConnection)
	}
	return token, nil
}

// ReadyNodes returns the nodes that completed the last successful handshake
func (m *ConnectionManager) ReadyNodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.nodes...)
}

// State returns a snapshot of the connection
func (m *ConnectionManager) State() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectionStatus{
		State:   m.state,
		Network: m.network.Name,
		Nodes:   append([]string(nil), m.nodes...),
		Reason:  m.reason,
	}
}

// Disconnect drops the connection. A round in flight still completes and
// sets the state it reaches.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt != nil {
		return
	}
	m.state = StateDisconnected
	m.reason = nil
	m.nodes = nil
	m.logger.Info("disconnected from node network", "network", m.network.Name)
}

func sameNetwork(a, b core.NetworkConfig) bool {
	return a.Name == b.Name && a.MinNodeCount == b.MinNodeCount && slices.Equal(a.NodeURLs, b.NodeURLs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
