package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/runtime"
	srv "github.com/mohammad-safakhou/proposer/internal/server"
)

func tokenCMD(load func() (*config.Config, error)) *cobra.Command {
	var subject string
	var ttl time.Duration
	var scopes []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			if secret == nil {
				return errors.New("server.jwt_secret is not configured (PROPOSER_SERVER_JWT_SECRET)")
			}
			tok, err := runtime.SignJWT(subject, secret, ttl, scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{srv.ScopeRunsRead, srv.ScopeRunsWrite}, "scopes to embed")
	return cmd
}
