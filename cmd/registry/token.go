package main

import (
	"fmt"

	"github.com/spf13/cobra"

	jwttoken "propledger/internal/jwt_token"
	"propledger/internal/platform/config"
	id "propledger/pkg/domain"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a principal",
	Long: "Mint a bearer token signed with the configured JWT key. Intended for " +
		"local development and operations; production callers obtain tokens " +
		"from the identity provider that shares the signing key.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read()
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		raw, _ := cmd.Flags().GetString("principal")
		principal, err := id.ParsePrincipalID(raw)
		if err != nil {
			return fmt.Errorf("principal: %w", err)
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}

		svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
		token, err := svc.GenerateAccessToken(principal, ttl)
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
