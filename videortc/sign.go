package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jech/videortc/token"
)

func signCmd() *cobra.Command {
	var keyFile, issuer string
	var expiry time.Duration

	cmd := &cobra.Command{
		Use:   "sign url",
		Short: "Print a signed stream URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := readConfig()
			if issuer == "" {
				issuer = c.SignIssuer
			}
			var s *token.Signer
			var err error
			switch {
			case keyFile != "":
				var keys []map[string]interface{}
				keys, err = token.ReadKeys(keyFile)
				if err == nil {
					s, err = token.NewSigner(keys[0], issuer)
				}
			case c.SignKey != nil:
				s, err = token.NewSigner(c.SignKey, issuer)
			default:
				var secret []byte
				secret, err = readSecret()
				s = &token.Signer{
					Key:    secret,
					Method: jwt.SigningMethodHS256,
					Issuer: issuer,
				}
			}
			if err != nil {
				return err
			}
			s.Expiry = expiry
			if s.Expiry == 0 {
				s.Expiry = time.Duration(c.SignExpiry)
			}
			u, err := s.Sign(args[0])
			if err != nil {
				return err
			}
			fmt.Println(u)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key", "", "JWK `file`")
	cmd.Flags().StringVar(&issuer, "issuer", "", "token `issuer`")
	cmd.Flags().DurationVar(&expiry, "expiry", 0,
		"signature `lifetime` (default 24h)")
	return cmd
}

func readSecret() ([]byte, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("no key given and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Secret: ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, errors.New("empty secret")
	}
	return secret, nil
}
