package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// SessionCookieName is the cookie the booking application stores its session id in
const SessionCookieName = "session_id"

// Claims are the bearer token claims the gateway understands. The subject is
// the actor id; "sid" carries the session id.
type Claims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Options controls how identities are resolved from requests
type Options struct {
	JWTSecret       []byte
	TrustProxy      bool
	TrustedNetworks []string
}

// SignToken issues an HS256 bearer token for actorID. It exists for the CLI
// and for tests; production tokens come from the authentication service.
func SignToken(secret []byte, actorID, sessionID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := &Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates an HS256 bearer token and returns its claims
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Middleware attaches an Identity to every request. It never rejects: a
// missing or invalid bearer token yields an anonymous identity, and
// authorization decisions stay with the booking application.
func Middleware(opts Options, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Identity{
				ClientAddr: ClientIP(r, opts.TrustProxy, opts.TrustedNetworks),
				UserAgent:  r.UserAgent(),
			}

			if raw, ok := bearerToken(r); ok && len(opts.JWTSecret) > 0 {
				claims, err := ParseToken(opts.JWTSecret, raw)
				if err != nil {
					logger.Debugw("Ignoring invalid bearer token",
						"error", err,
						"path", r.URL.Path,
						"request_id", GetRequestIDOrDefault(r.Context()))
				} else {
					id.ActorID = claims.Subject
					id.SessionID = claims.SessionID
				}
			}

			if id.SessionID == "" {
				if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
					id.SessionID = cookie.Value
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
