// Package config loads litkit settings from flags, environment and an optional file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/internal/network"
)

// EnvPrefix prefixes every environment variable, e.g. LITKIT_PRIVATE_KEY
const EnvPrefix = "LITKIT"

const (
	KeyNetwork        = "network"
	KeyPrivateKey     = "private_key"
	KeyRPCURL         = "rpc_url"
	KeyNodes          = "nodes"
	KeyMinNodes       = "min_nodes"
	KeyHelperAddress  = "pkp_helper_address"
	KeyNFTAddress     = "pkp_nft_address"
	KeyRedisURL       = "redis_url"
	KeyListenAddr     = "listen_addr"
	KeyAPIToken       = "api_token"
	KeyDebug          = "debug"
	KeyConnectTimeout = "timeouts.connect"
	KeyNodeTimeout    = "timeouts.node"
	KeyQuorumTimeout  = "timeouts.quorum"
	KeyMintTimeout    = "timeouts.mint"
	KeyTTLBucket      = "cache.ttl_bucket"
	KeySessionURI     = "session_uri"
)

const redactedPlaceholder = "[REDACTED]"

// ErrMissingPrivateKey is returned when no wallet key is configured
var ErrMissingPrivateKey = errors.New("no private key configured: set LITKIT_PRIVATE_KEY")

// Secret holds sensitive material. It never prints or logs its value.
type Secret string

func (s Secret) String() string { return redactedPlaceholder }

func (s Secret) GoString() string { return redactedPlaceholder }

func (s Secret) LogValue() slog.Value { return slog.StringValue(redactedPlaceholder) }

// Reveal returns the secret value
func (s Secret) Reveal() string { return string(s) }

// Config is the resolved configuration
type Config struct {
	Network        network.Preset
	PrivateKey     Secret
	RPCURL         string
	Nodes          []string
	MinNodes       int
	HelperAddress  common.Address
	NFTAddress     common.Address
	RedisURL       string
	ListenAddr     string
	APIToken       Secret
	Debug          bool
	ConnectTimeout time.Duration
	NodeTimeout    time.Duration
	QuorumTimeout  time.Duration
	MintTimeout    time.Duration
	TTLBucket      time.Duration
	SessionURI     string
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyNetwork, network.DatilDev)
	v.SetDefault(KeyListenAddr, ":9000")
	v.SetDefault(KeyConnectTimeout, 30*time.Second)
	v.SetDefault(KeyNodeTimeout, 15*time.Second)
	v.SetDefault(KeyQuorumTimeout, 30*time.Second)
	v.SetDefault(KeyMintTimeout, 2*time.Minute)
	v.SetDefault(KeyTTLBucket, time.Minute)
}

// New returns a viper instance reading LITKIT_* environment variables
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load resolves and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	preset, err := network.Lookup(v.GetString(KeyNetwork))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Network:        preset,
		PrivateKey:     Secret(strings.TrimSpace(v.GetString(KeyPrivateKey))),
		RPCURL:         v.GetString(KeyRPCURL),
		Nodes:          nodeList(v.GetStringSlice(KeyNodes)),
		MinNodes:       v.GetInt(KeyMinNodes),
		RedisURL:       v.GetString(KeyRedisURL),
		ListenAddr:     v.GetString(KeyListenAddr),
		APIToken:       Secret(v.GetString(KeyAPIToken)),
		Debug:          v.GetBool(KeyDebug),
		ConnectTimeout: v.GetDuration(KeyConnectTimeout),
		NodeTimeout:    v.GetDuration(KeyNodeTimeout),
		QuorumTimeout:  v.GetDuration(KeyQuorumTimeout),
		MintTimeout:    v.GetDuration(KeyMintTimeout),
		TTLBucket:      v.GetDuration(KeyTTLBucket),
		SessionURI:     v.GetString(KeySessionURI),
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = preset.RPCURL
	}
	if cfg.PrivateKey == "" {
		return nil, ErrMissingPrivateKey
	}
	for _, key := range []string{KeyHelperAddress, KeyNFTAddress} {
		if addr := v.GetString(key); addr != "" && !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("%s: malformed address %q", key, addr)
		}
	}
	cfg.HelperAddress = common.HexToAddress(v.GetString(KeyHelperAddress))
	cfg.NFTAddress = common.HexToAddress(v.GetString(KeyNFTAddress))
	return cfg, nil
}

// NetworkConfig returns the node network the connection manager should use
func (c *Config) NetworkConfig() core.NetworkConfig {
	return core.NetworkConfig{
		Name:         c.Network.Name,
		NodeURLs:     c.Nodes,
		MinNodeCount: c.MinNodes,
	}
}

// CanMint reports whether registry contract addresses are configured
func (c *Config) CanMint() bool {
	return c.HelperAddress != (common.Address{}) && c.NFTAddress != (common.Address{})
}

// LogLevel returns the slog level selected by the debug flag
func (c *Config) LogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// nodeList accepts both repeated values and a single comma separated value
func nodeList(values []string) []string {
	var nodes []string
	for _, v := range values {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimRight(strings.TrimSpace(n), "/"); n != "" {
				nodes = append(nodes, n)
			}
		}
	}
	return nodes
}
