package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/layer-3/litkit/internal/config"
	"github.com/layer-3/litkit/internal/network"
)

func main() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.OutOrStderr(), err)
		os.Exit(1)
	}
}

// NewRootCmd builds the litkit command tree
func NewRootCmd() *cobra.Command {
	v := config.New()

	rootCmd := &cobra.Command{
		Use:           "litkit",
		Short:         "Client toolkit for the Lit node network: session signatures and PKP minting",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if file, _ := cmd.Flags().GetString(flagConfig); file != "" {
				v.SetConfigFile(file)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config %s: %w", file, err)
				}
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagConfig, "", "path to a config file (yaml, toml or json)")
	flags.String(config.KeyNetwork, network.DatilDev, "node network preset")
	flags.String("rpc-url", "", "chain RPC endpoint, defaults to the network's")
	flags.StringSlice(config.KeyNodes, nil, "node URLs")
	flags.Int("min-nodes", 0, "nodes that must complete the handshake, default is a majority")
	flags.String("redis-url", "", "redis for the credential cache and event stream, default is in-process")
	flags.Bool(config.KeyDebug, false, "enable debug logging")
	bindFlags(v, rootCmd, map[string]string{
		config.KeyNetwork:  config.KeyNetwork,
		config.KeyRPCURL:   "rpc-url",
		config.KeyNodes:    config.KeyNodes,
		config.KeyMinNodes: "min-nodes",
		config.KeyRedisURL: "redis-url",
		config.KeyDebug:    config.KeyDebug,
	}, true)

	rootCmd.AddCommand(
		serveCmd(v),
		mintCmd(v),
		sessionCmd(v),
	)
	return rootCmd
}

const flagConfig = "config"

// bindFlags binds viper keys to the named flags of cmd
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for key, flag := range keys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// setup loads the configuration and wires the application
func setup(cmd *cobra.Command, v *viper.Viper) (*app, *slog.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel()}))
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}
