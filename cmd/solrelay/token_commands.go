package main

import (
	"fmt"
	"time"

	"github.com/brojonat/solrelay/service/auth"
	"github.com/urfave/cli/v2"
)

func issueTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue",
		Usage: "Sign a session token for a subject",
		Description: `Sign an HS256 session token the relay's auth gate accepts.

Example:
  AUTH_TOKEN_SECRET=... solrelay token issue --subject alice --ttl 1h`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "subject",
				Aliases:  []string{"s"},
				Usage:    "Subject (principal) the token is issued to",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: time.Hour,
			},
			&cli.StringFlag{
				Name:    "secret",
				Usage:   "HMAC signing secret",
				EnvVars: []string{"AUTH_TOKEN_SECRET"},
			},
			&cli.StringFlag{
				Name:    "issuer",
				Usage:   "Token issuer (iss claim)",
				EnvVars: []string{"AUTH_TOKEN_ISSUER"},
			},
		},
		Action: func(c *cli.Context) error {
			secret := c.String("secret")
			if secret == "" {
				return fmt.Errorf("secret is required (set AUTH_TOKEN_SECRET env var or use --secret)")
			}
			if c.Duration("ttl") <= 0 {
				return fmt.Errorf("ttl must be positive")
			}

			token, err := auth.Issue([]byte(secret), c.String("issuer"), c.String("subject"), c.Duration("ttl"), time.Now())
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}
