package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/support-dispatch/internal/auth"
)

var tokenFlags struct {
	subject string
	scopes  []string
	ttl     int
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a service token for webhook producers and operators",
	RunE:  runToken,
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.subject, "subject", "", "Token subject, e.g. the producing service (required)")
	f.StringSliceVar(&tokenFlags.scopes, "scope", []string{string(auth.ScopeChanges)}, "Granted scopes (changes:write, dispatch:write, admin)")
	f.IntVar(&tokenFlags.ttl, "ttl", 60, "Lifetime in minutes")

	_ = tokenCmd.MarkFlagRequired("subject")
}

func runToken(cmd *cobra.Command, _ []string) error {
	if cfg.Auth.ServiceTokenSecret == "" {
		return fmt.Errorf("AUTH_SERVICE_TOKEN_SECRET is not set")
	}
	scopes := make([]auth.Scope, 0, len(tokenFlags.scopes))
	for _, s := range tokenFlags.scopes {
		switch scope := auth.Scope(s); scope {
		case auth.ScopeChanges, auth.ScopeDispatch, auth.ScopeAdmin:
			scopes = append(scopes, scope)
		default:
			return fmt.Errorf("unknown scope %q", s)
		}
	}

	tokens := auth.NewTokenManager(cfg.Auth.ServiceTokenSecret, cfg.Auth.ServiceTokenIssuer, tokenFlags.ttl)
	token, expires, err := tokens.GenerateToken(tokenFlags.subject, scopes...)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format("2006-01-02 15:04:05 MST"))
	return nil
}
