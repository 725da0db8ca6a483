package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/barrowworks/barrow/internal/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "API token helpers",
	Long:  "Hash static API tokens for configuration and mint short-lived JWTs.",
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash <token>",
	Short: "Hash a static API token",
	Long: `Print the bcrypt hash of a token for the auth.hashed_tokens list.
The plaintext token is never stored by the service.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashToken(args[0])
		if err != nil {
			return fmt.Errorf("hash token: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a short-lived JWT",
	Long:  "Sign a JWT with the configured auth.jwt_secret for service-to-service calls.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is not configured")
		}

		verifier := auth.NewVerifier(auth.Config{Enabled: true, JWTSecret: cfg.Auth.JWTSecret})
		token, err := verifier.GenerateToken(tokenSubject, tokenTTL)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenHashCmd)
	tokenCmd.AddCommand(tokenCreateCmd)

	tokenCreateCmd.Flags().StringVar(&tokenSubject, "subject", "barrow-cli", "token subject")
	tokenCreateCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
