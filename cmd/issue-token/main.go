package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/reentry-case-api/internal/models"
	"github.com/noah-isme/reentry-case-api/internal/service"
	"github.com/noah-isme/reentry-case-api/pkg/config"
)

// issue-token mints staff access tokens for local development and smoke tests.
// Production tokens come from the organisation's identity provider.
func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type tokenOptions struct {
	userID string
	role   string
	email  string
	name   string
	ttl    time.Duration
	secret string
	issuer string
}

func run(args []string, stdout, stderr io.Writer) error {
	cmd := newRootCommand(stdout, config.Load)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.Execute()
}

func newRootCommand(stdout io.Writer, loadConfig func() (*config.Config, error)) *cobra.Command {
	opts := tokenOptions{}
	cmd := &cobra.Command{
		Use:           "issue-token",
		Short:         "Mint a signed staff access token",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role := models.UserRole(strings.ToUpper(strings.TrimSpace(opts.role)))
			if !validRole(role) {
				return fmt.Errorf("unknown role %q", opts.role)
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			secret, issuer := cfg.JWT.Secret, cfg.JWT.Issuer
			if opts.secret != "" {
				secret = opts.secret
			}
			if opts.issuer != "" {
				issuer = opts.issuer
			}
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}

			auth := service.NewAuthService(zap.NewNop(), service.AuthConfig{
				AccessTokenSecret: secret,
				AccessTokenExpiry: opts.ttl,
				Issuer:            issuer,
			})
			token, expiresAt, err := auth.IssueToken(service.StaffIdentity{
				ID:       opts.userID,
				Email:    opts.email,
				FullName: opts.name,
				Role:     role,
			})
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}

			fmt.Fprintln(stdout, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.userID, "user-id", "", "staff user id (token subject)")
	flags.StringVar(&opts.role, "role", "", "ADMIN, BRIDGE_TEAM, MENTORSHIP_LEADER or MENTOR")
	flags.StringVar(&opts.email, "email", "", "staff email")
	flags.StringVar(&opts.name, "name", "", "staff display name")
	flags.DurationVar(&opts.ttl, "ttl", 8*time.Hour, "token lifetime")
	flags.StringVar(&opts.secret, "secret", "", "signing secret, defaults to JWT_SECRET")
	flags.StringVar(&opts.issuer, "issuer", "", "issuer, defaults to JWT_ISSUER")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func validRole(role models.UserRole) bool {
	for _, r := range models.StaffRoles {
		if r == role {
			return true
		}
	}
	return false
}
