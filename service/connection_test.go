package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/service"
)

func testNetwork(n int) core.NetworkConfig {
	return core.NetworkConfig{Name: "test", NodeURLs: nodeURLs(n)}
}

func TestConnectionManager_EnsureReady(t *testing.T) {
	transport := &fakeTransport{}
	m := service.NewConnectionManager(transport, &staticCheckpoints{}, testNetwork(3))
	assert.Equal(t, service.StateDisconnected, m.State().State)

	require.NoError(t, m.EnsureReady(context.Background()))

	status := m.State()
	assert.Equal(t, service.StateReady, status.State)
	assert.Equal(t, "test", status.Network)
	assert.Equal(t, nodeURLs(3), status.Nodes)
	assert.Equal(t, nodeURLs(3), m.ReadyNodes())

	// already ready, no second handshake
	require.NoError(t, m.EnsureReady(context.Background()))
	assert.EqualValues(t, 3, transport.handshakes.Load())
}

func TestConnectionManager_ConcurrentEnsureReadySharesOneRound(t *testing.T) {
	transport := &fakeTransport{handshakeDelay: 50 * time.Millisecond}
	m := service.NewConnectionManager(transport, &staticCheckpoints{}, testNetwork(3))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.EnsureReady(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, transport.handshakes.Load())
}

func TestConnectionManager_Timeout(t *testing.T) {
	transport := &fakeTransport{handshakeDelay: time.Second}
	m := service.NewConnectionManager(transport, &staticCheckpoints{}, testNetwork(3),
		service.WithConnectTimeout(50*time.Millisecond))

	err := m.EnsureReady(context.Background())
	require.ErrorIs(t, err, core.ErrConnection)

	status := m.State()
	assert.Equal(t, service.StateFailed, status.State)
	require.Error(t, status.Reason)
	assert.ErrorIs(t, status.Reason, core.ErrConnection)
	assert.Empty(t, m.ReadyNodes())
}

func TestConnectionManager_TooFewNodes(t *testing.T) {
	urls := nodeURLs(3)
	transport := &fakeTransport{handshakeFail: map[string]bool{urls[0]: true, urls[2]: true}}
	m := service.NewConnectionManager(transport, &staticCheckpoints{}, testNetwork(3))

	err := m.EnsureReady(context.Background())
	require.ErrorIs(t, err, core.ErrConnection)
	assert.Equal(t, service.StateFailed, m.State().State)
}

func TestConnectionManager_MinNodeCount(t *testing.T) {
	urls := nodeURLs(3)
	transport := &fakeTransport{handshakeFail: map[string]bool{urls[0]: true, urls[2]: true}}
	network := testNetwork(3)
	network.MinNodeCount = 1
	m := service.NewConnectionManager(transport, &staticCheckpoints{}, network)

	require.NoError(t, m.EnsureReady(context.Background()))
	assert.Equal(t, []string{urls[1]}, m.ReadyNodes())
}

func TestConnectionManager_NoBootstrapNodes(t *testing.T) {
	m := service.NewConnectionManager(&fakeTransport{}, &staticCheckpoints{}, core.NetworkConfig{Name: "empty"})
	require.ErrorIs(t, m.EnsureReady(context.Background()), core.ErrConnection)
}

func TestConnectionManager_RetriesAfterFailure(t *testing.T) {
	urls := nodeURLs(1)
	transport := &fakeTransport{handshakeFail: map[string]bool{urls[0]: true}}
	m := service.NewConnectionManager(transport, &staticCheckpoints{}, testNetwork(1))
	require.Error(t, m.EnsureReady(context.Background()))

	require.NoError(t, m.Connect(context.Background(), core.NetworkConfig{Name: "other", NodeURLs: []string{"https://healthy.test"}}))
	status := m.State()
	assert.Equal(t, service.StateReady, status.State)
	assert.Equal(t, "other", status.Network)
}

func TestConnectionManager_LatestCheckpoint(t *testing.T) {
	m := service.NewConnectionManager(&fakeTransport{}, &staticCheckpoints{}, testNetwork(1))

	_, err := m.LatestCheckpoint(context.Background())
	require.ErrorIs(t, err, core.ErrConnection, "not ready yet")

	require.NoError(t, m.EnsureReady(context.Background()))
	first, err := m.LatestCheckpoint(context.Background())
	require.NoError(t, err)
	second, err := m.LatestCheckpoint(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "every call fetches a fresh checkpoint")
}

func TestConnectionManager_Disconnect(t *testing.T) {
	m := service.NewConnectionManager(&fakeTransport{}, &staticCheckpoints{}, testNetwork(3))
	require.NoError(t, m.EnsureReady(context.Background()))

	m.Disconnect()
	assert.Equal(t, service.StateDisconnected, m.State().State)
	assert.Empty(t, m.ReadyNodes())

	_, err := m.LatestCheckpoint(context.Background())
	require.ErrorIs(t, err, core.ErrConnection)
}

func TestConnectionManager_CallerCancellation(t *testing.T) {
	transport := &fakeTransport{handshakeDelay: 200 * time.Millisecond}
	m := service.NewConnectionManager(transport, &staticCheckpoints{}, testNetwork(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.EnsureReady(ctx), core.ErrConnection)

	// the round keeps going for other callers
	require.NoError(t, m.EnsureReady(context.Background()))
	assert.EqualValues(t, 1, transport.handshakes.Load())
}

func TestConnectionManager_ConnectDuringRound(t *testing.T) {
	transport := &fakeTransport{handshakeDelay: 500 * time.Millisecond}
	m := service.NewConnectionManager(transport, &staticCheckpoints{}, testNetwork(3))

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), testNetwork(3)) }()
	require.Eventually(t, func() bool {
		return m.State().State == service.StateConnecting
	}, time.Second, 5*time.Millisecond)

	other := core.NetworkConfig{Name: "other", NodeURLs: []string{"https://elsewhere.test"}}
	err := m.Connect(context.Background(), other)
	require.ErrorIs(t, err, service.ErrConnectInProgress)
	require.ErrorIs(t, err, core.ErrConnection)

	// the same network joins the round in flight
	require.NoError(t, m.Connect(context.Background(), testNetwork(3)))
	require.NoError(t, <-done)
	assert.Equal(t, "test", m.State().Network)
	assert.EqualValues(t, 3, transport.handshakes.Load())

	// once idle, switching networks starts a new round
	require.NoError(t, m.Connect(context.Background(), other))
	assert.Equal(t, "other", m.State().Network)
	assert.Equal(t, []string{"https://elsewhere.test"}, m.ReadyNodes())
}
