package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/litkit/adapters/chain"
	"github.com/layer-3/litkit/adapters/events"
	"github.com/layer-3/litkit/adapters/nodes"
	"github.com/layer-3/litkit/adapters/signer"
	"github.com/layer-3/litkit/adapters/store"
	"github.com/layer-3/litkit/adapters/tokenizer"
	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/internal/config"
	"github.com/layer-3/litkit/ports"
	"github.com/layer-3/litkit/service"
)

// app holds the wired services for one process
type app struct {
	cfg     *config.Config
	signer  *signer.WalletSigner
	conn    *service.ConnectionManager
	broker  *service.SessionBroker
	minter  *service.Minter
	toolkit *service.Toolkit
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg}

	wallet, err := signer.NewWalletSigner(cfg.PrivateKey.Reveal())
	if err != nil {
		return nil, err
	}
	a.signer = wallet
	logger.Info("wallet loaded", "address", wallet.Address(), "network", cfg.Network.Name)

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", cfg.RPCURL, err)
	}
	a.closers = append(a.closers, func() error { rpc.Close(); return nil })

	transport := nodes.NewHTTPTransport(&http.Client{Timeout: cfg.NodeTimeout}, tokenizer.NewJWTTokenizer())
	a.conn = service.NewConnectionManager(transport, chain.NewBlockhashSource(rpc), cfg.NetworkConfig(),
		service.WithConnectTimeout(cfg.ConnectTimeout),
		service.WithCheckpointTimeout(cfg.NodeTimeout),
		service.WithConnectionLogger(logger.With("component", "connection")),
	)

	credStore, publisher, err := a.storage(ctx, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	eventPub := events.NewWatermillPublisher(publisher)

	builder := core.MessageBuilder{}
	signatures := service.NewSignatureService()

	a.broker = service.NewSessionBroker(service.BrokerDeps{
		Conn:       a.conn,
		Transport:  transport,
		Builder:    builder,
		Signatures: signatures,
		Store:      credStore,
		Events:     eventPub,
		Logger:     logger.With("component", "broker"),
	}, service.BrokerConfig{
		NodeTimeout:   cfg.NodeTimeout,
		QuorumTimeout: cfg.QuorumTimeout,
		TTLBucket:     cfg.TTLBucket,
	})

	var registry ports.KeyRegistry = unconfiguredRegistry{}
	if cfg.CanMint() {
		opts, err := bind.NewKeyedTransactorWithChainID(wallet.PrivateKey(), big.NewInt(cfg.Network.ChainID))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to build transactor: %w", err)
		}
		pkpRegistry, err := chain.NewPKPRegistry(rpc, cfg.HelperAddress, cfg.NFTAddress, opts)
		if err != nil {
			a.Close()
			return nil, err
		}
		registry = pkpRegistry
	}

	a.minter = service.NewMinter(service.MinterDeps{
		Conn:       a.conn,
		Builder:    builder,
		Signatures: signatures,
		Registry:   registry,
		Events:     eventPub,
		Logger:     logger.With("component", "minter"),
	}, cfg.MintTimeout)

	a.toolkit = service.NewToolkit(a.broker, a.minter, wallet).WithSessionURI(cfg.SessionURI)
	return a, nil
}

// storage picks redis for the credential cache and event stream when configured,
// otherwise process local implementations
func (a *app) storage(ctx context.Context, logger *slog.Logger) (ports.CredentialStore, message.Publisher, error) {
	wmLogger := watermill.NewSlogLogger(logger.With("component", "events"))

	if a.cfg.RedisURL == "" {
		pubsub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		a.closers = append(a.closers, pubsub.Close)
		return store.NewMemoryStore(), pubsub, nil
	}

	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wmLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	a.closers = append(a.closers, publisher.Close)
	return store.NewRedisStore(client), publisher, nil
}

// Close releases everything newApp opened, most recent first
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

type unconfiguredRegistry struct{}

func (unconfiguredRegistry) MintWithAuth(context.Context, core.MintRequest) (*core.MintReceipt, error) {
	return nil, &core.ContractError{Reason: "pkp_helper_address and pkp_nft_address are not configured"}
}
