package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bookguard/config"
	"bookguard/core"
	"bookguard/csrf"
	"bookguard/identity"
	"bookguard/store"

	"github.com/facebookgo/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ownerFlags identify whose token a command operates on
type ownerFlags struct {
	key       string
	session   string
	actor     string
	addr      string
	userAgent string
}

func (f *ownerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.key, "key", "", "Owner key as stored (csrf:<digest>)")
	cmd.Flags().StringVar(&f.session, "session", "", "Session id")
	cmd.Flags().StringVar(&f.actor, "actor", "", "Actor id")
	cmd.Flags().StringVar(&f.addr, "addr", "", "Client address, for callers without a session")
	cmd.Flags().StringVar(&f.userAgent, "user-agent", "", "User agent, for callers without a session")
}

func (f *ownerFlags) ownerKey() (string, error) {
	if f.key != "" {
		if !strings.HasPrefix(f.key, csrf.OwnerKeyPrefix) {
			return "", fmt.Errorf("owner key must start with %q", csrf.OwnerKeyPrefix)
		}
		return f.key, nil
	}
	if f.session == "" && f.addr == "" {
		return "", fmt.Errorf("one of --key, --session or --addr is required")
	}
	return csrf.OwnerKeyFor(identity.Identity{
		ActorID:    f.actor,
		SessionID:  f.session,
		ClientAddr: f.addr,
		UserAgent:  f.userAgent,
	}), nil
}

// TokenInspection is what the inspect command reports
type TokenInspection struct {
	OwnerKey      string    `json:"ownerKey"`
	Present       bool      `json:"present"`
	Token         string    `json:"token,omitempty"`
	IssuedAt      time.Time `json:"issuedAt,omitempty"`
	Age           string    `json:"age,omitempty"`
	StoreTTL      string    `json:"storeTtl,omitempty"`
	Expired       bool      `json:"expired"`
	RotationDue   bool      `json:"rotationDue"`
	HardExpiry    string    `json:"hardExpiry"`
	RotationAfter string    `json:"rotationAfter"`
}

func newCSRFCmd(opts *rootOptions) *cobra.Command {
	csrfCmd := &cobra.Command{
		Use:   "csrf",
		Short: "Inspect and revoke CSRF tokens in the shared token store",
		Long: `Inspect and revoke CSRF tokens held in the Redis token store.

The owner is given either as the stored key or by the attributes the
gateway derives it from: the session (and actor), or the client address
and user agent for callers without a session.`,
	}

	csrfCmd.AddCommand(newCSRFInspectCmd(opts))
	csrfCmd.AddCommand(newCSRFRevokeCmd(opts))

	return csrfCmd
}

func newCSRFInspectCmd(opts *rootOptions) *cobra.Command {
	owner := &ownerFlags{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the token held for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := owner.ownerKey()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ts, cleanup, err := openTokenStore(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := inspectToken(ctx, ts, cfg.CSRF, key, time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, result)
			}

			fmt.Fprintln(out)
			printSection(out, "CSRF Token")
			printField(out, "Owner key", result.OwnerKey)
			if !result.Present {
				fmt.Fprintf(out, "  %s\n", warningColor.Sprint("No token stored for this owner"))
				return nil
			}
			printField(out, "Token", result.Token)
			printField(out, "Issued at", result.IssuedAt.Format(time.RFC3339))
			printField(out, "Age", result.Age)
			printField(out, "Store TTL", result.StoreTTL)
			printField(out, "Expired", formatBool(result.Expired))
			printField(out, "Rotation due", formatBool(result.RotationDue))
			return nil
		},
	}
	owner.register(cmd)

	return cmd
}

func newCSRFRevokeCmd(opts *rootOptions) *cobra.Command {
	owner := &ownerFlags{}

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Delete the token held for an owner",
		Long:  "Delete the owner's token. The next state-changing request from that owner is rejected until a new token is fetched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := owner.ownerKey()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ts, cleanup, err := openTokenStore(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			guard, err := csrf.NewGuard(cfg.CSRF, ts, zap.NewNop().Sugar())
			if err != nil {
				return err
			}
			if err := guard.Revoke(ctx, key); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, map[string]interface{}{"ownerKey": key, "revoked": true})
			}
			fmt.Fprintf(out, "%s Revoked token for %s\n", successColor.Sprint("✓"), key)
			return nil
		},
	}
	owner.register(cmd)

	return cmd
}

// openTokenStore connects to the Redis token store. The in-process store
// lives inside the gateway and cannot be reached from the CLI.
func openTokenStore(cfg *config.Config) (*store.RedisTokenStore, func(), error) {
	if cfg.CSRF.Store == "memory" {
		return nil, nil, fmt.Errorf("csrf.store is memory: tokens live inside the gateway process")
	}

	breaker, err := core.NewCircuitBreaker("csrf-cli", cfg.CircuitBreaker, clock.New())
	if err != nil {
		return nil, nil, err
	}
	logger := zap.NewNop().Sugar()
	ts := store.NewRedisTokenStore(core.NewRedisCache(cfg.Redis, logger), breaker, logger)
	return ts, func() { _ = ts.Close() }, nil
}

// inspectableStore is a token store that also reports remaining lifetimes
type inspectableStore interface {
	csrf.TokenStore
	TTL(ctx context.Context, key string) (time.Duration, error)
}

func inspectToken(ctx context.Context, ts inspectableStore, cfg csrf.Config, key string, now time.Time) (*TokenInspection, error) {
	result := &TokenInspection{
		OwnerKey:      key,
		HardExpiry:    cfg.HardExpiry.String(),
		RotationAfter: cfg.RotationThreshold.String(),
	}

	rec, err := ts.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	if rec == nil {
		return result, nil
	}

	ttl, err := ts.TTL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read token ttl: %w", err)
	}

	age := now.Sub(rec.IssuedAt)
	result.Present = true
	result.Token = maskToken(rec.Token)
	result.IssuedAt = rec.IssuedAt
	result.Age = age.Truncate(time.Second).String()
	result.StoreTTL = ttl.Truncate(time.Second).String()
	result.Expired = age > cfg.HardExpiry
	result.RotationDue = !result.Expired && age > cfg.RotationThreshold
	return result, nil
}

// maskToken keeps enough of the token to correlate with client logs
func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:6] + strings.Repeat("*", 6)
}
