// Package main provides a CLI tool for generating role tokens for the degreeproof API.
// These tokens use the dev signing key by default and will NOT work in production.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	jwttoken "degreeproof/internal/jwt_token"
	"degreeproof/pkg/domain"
)

const (
	// Dev signing key - matches config.go when AUTH_JWT_SIGNING_KEY is not set
	devSigningKey = "dev-secret-key-change-in-production"

	defaultIssuer   = "http://localhost:8080"
	defaultAudience = "degreeproof"
	defaultTokenTTL = 15 * time.Minute
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Role      string            `json:"role"`
	ExpiresIn string            `json:"expires_in"`
	Claims    map[string]any    `json:"claims"`
	Usage     map[string]string `json:"usage"`
}

type options struct {
	subject    string
	institute  string
	signingKey string
	issuer     string
	audience   string
	ttl        time.Duration
	json       bool
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "uploader", "verifier", "admin":
		opts, err := parseFlags(os.Args[1], os.Args[2:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := generate(os.Stdout, domain.Role(os.Args[1]), opts, time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func parseFlags(name string, args []string) (options, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var o options
	fs.StringVar(&o.subject, "sub", "", "Subject (actor id). Generated if empty.")
	fs.StringVar(&o.institute, "institute", "", "Institute id (required for uploader)")
	fs.StringVar(&o.signingKey, "key", devSigningKey, "HMAC signing key")
	fs.StringVar(&o.issuer, "issuer", defaultIssuer, "Token issuer")
	fs.StringVar(&o.audience, "audience", defaultAudience, "Token audience")
	fs.DurationVar(&o.ttl, "ttl", defaultTokenTTL, "Token time-to-live")
	fs.BoolVar(&o.json, "json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.subject == "" {
		o.subject = name + "-" + uuid.NewString()
	}
	if name == string(domain.RoleUploader) && o.institute == "" {
		return options{}, fmt.Errorf("uploader tokens need -institute")
	}
	return o, nil
}

func generate(w io.Writer, role domain.Role, o options, now time.Time) error {
	actor := domain.Actor{ID: o.subject, Role: role, InstituteID: domain.InstituteID(o.institute)}
	svc := jwttoken.NewJWTService(o.signingKey, o.issuer, o.audience, o.ttl)
	token, err := svc.Mint(actor, now)
	if err != nil {
		return err
	}

	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tokenOutput{
			Token:     token,
			Role:      string(role),
			ExpiresIn: o.ttl.String(),
			Claims: map[string]any{
				"sub":          actor.ID,
				"role":         string(role),
				"institute_id": o.institute,
			},
			Usage: map[string]string{
				"header": "Authorization: Bearer <token>",
			},
		})
	}

	fmt.Fprintf(w, "%s token\n", role)
	fmt.Fprintf(w, "Subject:     %s\n", actor.ID)
	if o.institute != "" {
		fmt.Fprintf(w, "Institute:   %s\n", o.institute)
	}
	fmt.Fprintf(w, "Expires In:  %s\n\n", o.ttl)
	fmt.Fprintln(w, token)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `tokengen - Generate role tokens for the degreeproof API

WARNING: The default signing key is the dev key and will NOT work in production.

Usage:
  tokengen <uploader|verifier|admin> [flags]

Examples:
  tokengen uploader -institute I1
  tokengen verifier -ttl 1h
  tokengen admin -json`)
}
