package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/internal/config"
	"github.com/layer-3/litkit/service"
	transport "github.com/layer-3/litkit/transport/http"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the toolkit over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			a, logger, err := setup(cmd, v)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.cfg.Debug {
				gin.SetMode(gin.ReleaseMode)
			}
			if a.cfg.APIToken.Reveal() == "" {
				logger.Warn("no api token configured, tool routes are unauthenticated")
			}

			// connect in the background, first tool call waits for it
			go func() {
				if err := a.conn.EnsureReady(ctx); err != nil {
					logger.Error("initial connection failed", "error", err)
				}
			}()

			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           transport.SetupRouter(a.toolkit, a.conn, a.cfg.APIToken.Reveal(), logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down: %w", err)
			}
			a.conn.Disconnect()
			return nil
		},
	}
	cmd.Flags().String("listen", ":9000", "HTTP listen address")
	bindFlags(v, cmd, map[string]string{config.KeyListenAddr: "listen"}, false)
	return cmd
}

func mintCmd(v *viper.Viper) *cobra.Command {
	var (
		selfCustody bool
		scopeNames  []string
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a PKP controlled by the configured wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scopes := make([]core.Scope, 0, len(scopeNames))
			for _, name := range scopeNames {
				s, err := core.ParseScope(name)
				if err != nil {
					return err
				}
				scopes = append(scopes, s)
			}

			a, _, err := setup(cmd, v)
			if err != nil {
				return err
			}
			defer a.Close()

			args, err := json.Marshal(service.MintArgs{SendPKPToItself: selfCustody, Scopes: scopes})
			if err != nil {
				return err
			}
			return invokeTool(cmd, a, service.ToolMintPKP, args)
		},
	}
	cmd.Flags().BoolVar(&selfCustody, "self-custody", false, "transfer the PKP NFT to the PKP's own address")
	cmd.Flags().StringSliceVar(&scopeNames, "scope", []string{core.ScopeSignAnything.String()}, "auth method scopes")
	return cmd
}

func sessionCmd(v *viper.Viper) *cobra.Command {
	var (
		abilityNames []string
		ttl          time.Duration
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Obtain session signatures for the configured wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var requests []core.ResourceAbilityRequest
			for _, name := range abilityNames {
				ability, err := core.ParseAbility(name)
				if err != nil {
					return err
				}
				r, err := core.NewAbilityRequest(core.WildcardResource, ability)
				if err != nil {
					return err
				}
				requests = append(requests, r)
			}

			a, _, err := setup(cmd, v)
			if err != nil {
				return err
			}
			defer a.Close()

			args, err := json.Marshal(service.SessionArgs{Abilities: requests, TTLSeconds: int64(ttl / time.Second)})
			if err != nil {
				return err
			}
			return invokeTool(cmd, a, service.ToolGetSessionSigs, args)
		},
	}
	cmd.Flags().StringSliceVar(&abilityNames, "ability", nil, "abilities to request on every resource, default is all")
	cmd.Flags().DurationVar(&ttl, "ttl", service.DefaultSessionTTL, "session lifetime")
	return cmd
}

func invokeTool(cmd *cobra.Command, a *app, name string, args json.RawMessage) error {
	out, err := a.toolkit.Invoke(cmd.Context(), name, args)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
