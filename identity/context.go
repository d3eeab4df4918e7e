package identity

import (
	"context"
	"net/http"
)

// contextKey is a private type to prevent context key collisions across packages.
type contextKey string

const (
	// ContextKeyIdentity stores the resolved caller Identity
	ContextKeyIdentity contextKey = "identity"

	// ContextKeyRequestID stores the unique request identifier (string)
	ContextKeyRequestID contextKey = "request_id"
)

// Identity is what the request-integrity layer knows about the caller. The
// actor and session come from the authentication collaborator; the client
// address and user agent describe the connection.
type Identity struct {
	ActorID    string
	SessionID  string
	ClientAddr string
	UserAgent  string
}

// Anonymous reports whether no authenticated actor is attached
func (id Identity) Anonymous() bool {
	return id.ActorID == ""
}

// WithIdentity creates a new context carrying the identity
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, id)
}

// FromContext extracts the identity from the context.
// Returns the identity and true if found, zero value and false otherwise.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ContextKeyIdentity).(Identity)
	return id, ok
}

// FromRequest returns the identity attached to the request, filling in the
// connection attributes when the identity middleware did not run.
func FromRequest(r *http.Request) Identity {
	id, _ := FromContext(r.Context())
	if id.ClientAddr == "" {
		id.ClientAddr = ClientIP(r, false, nil)
	}
	if id.UserAgent == "" {
		id.UserAgent = r.UserAgent()
	}
	return id
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(ContextKeyRequestID).(string)
	return requestID, ok
}

// GetRequestIDOrDefault extracts the request ID from the context or returns "unknown".
func GetRequestIDOrDefault(ctx context.Context) string {
	if requestID, ok := GetRequestID(ctx); ok && requestID != "" {
		return requestID
	}
	return "unknown"
}

// WithRequestID creates a new context with the request ID value.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}
