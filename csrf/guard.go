package csrf

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bookguard/fingerprint"
	"bookguard/identity"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OwnerKeyPrefix namespaces owner keys in the token store
const OwnerKeyPrefix = "csrf:"

// TokenResponse is returned by the token endpoint
type TokenResponse struct {
	CSRFToken string `json:"csrfToken"`
	ExpiresIn int    `json:"expiresIn"`
	Timestamp string `json:"timestamp"`
}

// Result is the outcome of a validation. Err is set on rejection; Rotated is
// set when a replacement token was stored for the owner.
type Result struct {
	Err     *Error
	Rotated *TokenRecord
}

// Valid reports whether the request passed validation
func (r *Result) Valid() bool {
	return r.Err == nil
}

// Option configures a Guard
type Option func(*Guard)

// WithClock replaces the wall clock, used by tests
func WithClock(clk clock.Clock) Option {
	return func(g *Guard) {
		g.clock = clk
	}
}

// WithRandom replaces the token entropy source, used by tests
func WithRandom(r io.Reader) Option {
	return func(g *Guard) {
		g.random = r
	}
}

// Guard is the CSRF token lifecycle manager
type Guard struct {
	cfg    Config
	store  TokenStore
	logger *zap.SugaredLogger
	clock  clock.Clock
	random io.Reader

	// failOpenLog samples fail-open warnings so a store outage does not flood the log
	failOpenLog *rate.Limiter
}

// NewGuard creates a guard backed by store
func NewGuard(cfg Config, store TokenStore, logger *zap.SugaredLogger, opts ...Option) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid csrf config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("csrf token store is required")
	}

	g := &Guard{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		clock:       clock.New(),
		random:      rand.Reader,
		failOpenLog: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config returns the guard configuration
func (g *Guard) Config() Config {
	return g.cfg
}

// ShouldSkip reports whether the request bypasses CSRF validation
func (g *Guard) ShouldSkip(r *http.Request) bool {
	if !g.cfg.Enabled {
		return true
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	for _, prefix := range g.cfg.SkipPaths {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// OwnerKey derives the store key for the caller. Sessions bind the token to
// the session; without one the client address and user agent are used.
func (g *Guard) OwnerKey(r *http.Request) string {
	return OwnerKeyFor(identity.FromRequest(r))
}

// OwnerKeyFor derives the store key for an identity
func OwnerKeyFor(id identity.Identity) string {
	var material string
	if id.SessionID != "" {
		material = "session:" + id.SessionID + "|actor:" + id.ActorID
	} else {
		material = "addr:" + id.ClientAddr + "|ua:" + id.UserAgent + "|actor:" + id.ActorID
	}
	return OwnerKeyPrefix + fingerprint.SumString(material)
}

func (g *Guard) newToken() (string, error) {
	buf := make([]byte, g.cfg.TokenBytes)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IssueToken creates a fresh token for the caller, replacing any previous
// one. A store failure is returned together with a usable response so the
// caller can still hand the token out.
func (g *Guard) IssueToken(ctx context.Context, r *http.Request) (*TokenResponse, error) {
	token, err := g.newToken()
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()
	resp := &TokenResponse{
		CSRFToken: token,
		ExpiresIn: int(g.cfg.HardExpiry.Seconds()),
		Timestamp: now.UTC().Format(time.RFC3339),
	}

	rec := TokenRecord{Token: token, IssuedAt: now}
	if err := g.store.Set(ctx, g.OwnerKey(r), rec, g.cfg.StoreTTL()); err != nil {
		return resp, fmt.Errorf("store csrf token: %w", err)
	}
	return resp, nil
}

// Validate checks the presented token against the stored record. Rejections
// are reported in Result.Err; a non-nil error means the guard itself failed.
func (g *Guard) Validate(ctx context.Context, r *http.Request) (*Result, error) {
	key := g.OwnerKey(r)

	rec, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load csrf token: %w", err)
	}
	if rec == nil {
		return &Result{Err: errMissing}, nil
	}

	now := g.clock.Now()
	age := now.Sub(rec.IssuedAt)
	if age > g.cfg.HardExpiry {
		if err := g.store.Delete(ctx, key); err != nil {
			g.logger.Warnw("Failed to delete expired CSRF token", "error", err)
		}
		return &Result{Err: errExpired}, nil
	}

	presented := g.presentedToken(r)
	if presented == "" {
		return &Result{Err: errNotProvided}, nil
	}
	if !tokensEqual(presented, rec.Token) {
		return &Result{Err: errInvalid}, nil
	}

	res := &Result{}
	if age > g.cfg.RotationThreshold {
		res.Rotated = g.rotate(ctx, key, now)
	}
	return res, nil
}

// rotate stores a replacement token. A failure keeps the current token,
// which stays valid until its hard expiry.
func (g *Guard) rotate(ctx context.Context, key string, now time.Time) *TokenRecord {
	token, err := g.newToken()
	if err != nil {
		g.logger.Warnw("CSRF token rotation failed", "error", err)
		return nil
	}
	rec := TokenRecord{Token: token, IssuedAt: now}
	if err := g.store.Set(ctx, key, rec, g.cfg.StoreTTL()); err != nil {
		g.logger.Warnw("CSRF token rotation failed", "error", err)
		return nil
	}
	return &rec
}

// Revoke deletes the owner's token, used on logout
func (g *Guard) Revoke(ctx context.Context, ownerKey string) error {
	if err := g.store.Delete(ctx, ownerKey); err != nil {
		return fmt.Errorf("revoke csrf token: %w", err)
	}
	return nil
}

// tokensEqual compares in constant time; differing lengths are rejected
// without a comparison.
func tokensEqual(presented, stored string) bool {
	if len(presented) != len(stored) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}

// presentedToken looks for the token in the configured headers, then in the
// JSON or form body field.
func (g *Guard) presentedToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(g.cfg.HeaderName)); v != "" {
		return v
	}
	for _, alias := range g.cfg.HeaderAliases {
		if v := strings.TrimSpace(r.Header.Get(alias)); v != "" {
			return v
		}
	}
	if g.cfg.BodyField == "" {
		return ""
	}
	return g.bodyToken(r)
}

func (g *Guard) bodyToken(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	isJSON := mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
	isForm := mediaType == "application/x-www-form-urlencoded"
	if !isJSON && !isForm {
		return ""
	}

	original := r.Body
	buf, err := io.ReadAll(io.LimitReader(original, g.cfg.MaxBodyBytes+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), original), original}
	if err != nil || int64(len(buf)) > g.cfg.MaxBodyBytes {
		return ""
	}

	if isForm {
		values, err := url.ParseQuery(string(buf))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(values.Get(g.cfg.BodyField))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(buf, &fields); err != nil {
		return ""
	}
	raw, ok := fields[g.cfg.BodyField]
	if !ok {
		return ""
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return ""
	}
	return strings.TrimSpace(token)
}
