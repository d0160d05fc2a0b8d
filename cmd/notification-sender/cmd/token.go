package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lupppig/notifysender/internal/security"
	"github.com/lupppig/notifysender/internal/server"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := cfg.Server.JWTSecret
		if secret == "" {
			return fmt.Errorf("server.jwt_secret is not configured (NOTIFIER_JWT_SECRET)")
		}
		tok, err := server.GenerateToken(secret, tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		if !IsQuiet() {
			fmt.Fprintf(os.Stderr, "signed with secret %s, expires in %s\n", security.Fingerprint(secret), tokenTTL)
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}
