package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// runTokenCommand mints an HS256 bearer token for local testing against a
// node that shares the secret.
func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secret := fs.String("secret", "", "HMAC secret configured as RPC.JWTSecret")
	sub := fs.String("sub", "", "Caller address placed in the sub claim")
	scope := fs.String("scope", "", "Space-separated scopes (funder, relay, notifier)")
	issuer := fs.String("issuer", "", "Issuer claim, when the node enforces one")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*secret) == "" || !common.IsHexAddress(*sub) || strings.TrimSpace(*scope) == "" {
		fmt.Fprintln(stderr, "Usage: inferpay-cli token --secret <s> --sub <address> --scope <scope> [--issuer <iss>] [--ttl 1h]")
		return 1
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   common.HexToAddress(*sub).Hex(),
		"scope": strings.TrimSpace(*scope),
		"iat":   now.Unix(),
		"exp":   now.Add(*ttl).Unix(),
	}
	if *issuer != "" {
		claims["iss"] = *issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(*secret)))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, signed)
	return 0
}
