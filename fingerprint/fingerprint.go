package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// AnonymousActorPrefix marks actors derived from the client address
const AnonymousActorPrefix = "anon:"

// Tuple is the set of request attributes that make two requests "the same".
// Body and Query hold digests of the canonical forms, never raw content.
type Tuple struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Actor  string `json:"actor"`
	Body   string `json:"body,omitempty"`
	Query  string `json:"query,omitempty"`
}

// Actor returns the fingerprint actor: the authenticated user id, or the
// client address for anonymous callers.
func Actor(actorID, clientAddr string) string {
	if actorID != "" {
		return actorID
	}
	return AnonymousActorPrefix + clientAddr
}

// Sum returns the hex encoded SHA-256 digest of data
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumString returns the hex encoded SHA-256 digest of s
func SumString(s string) string {
	return Sum([]byte(s))
}

// Digest returns the fingerprint of the tuple
func (t Tuple) Digest() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode fingerprint tuple: %w", err)
	}
	return Sum(data), nil
}

// Build assembles a tuple from raw request attributes. The path is normalized,
// the body canonicalized according to contentType and the query re-encoded in
// key order before digesting.
func Build(method, path, actor, rawQuery string, body []byte, contentType string) (Tuple, error) {
	t := Tuple{
		Method: method,
		Path:   NormalizePath(path),
		Actor:  actor,
	}

	if len(body) > 0 {
		canonical, err := Canonicalize(body, contentType)
		if err != nil {
			return Tuple{}, err
		}
		t.Body = Sum(canonical)
	}

	query, err := CanonicalQuery(rawQuery)
	if err != nil {
		return Tuple{}, err
	}
	if query != "" {
		t.Query = SumString(query)
	}

	return t, nil
}
