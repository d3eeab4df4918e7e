package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"root", "/", "/"},
		{"empty", "", "/"},
		{"static", "/bookings", "/bookings"},
		{"trailing slash", "/bookings/", "/bookings"},
		{"numeric", "/hotels/42/rooms", "/hotels/:id/rooms"},
		{"uuid", "/sessions/550e8400-e29b-41d4-a716-446655440000/steps", "/sessions/:uuid/steps"},
		{"uppercase uuid", "/sessions/550E8400-E29B-41D4-A716-446655440000", "/sessions/:uuid"},
		{"slug with digits", "/sessions/abc-123/steps", "/sessions/:id/steps"},
		{"object id", "/hotels/507f1f77bcf86cd799439011", "/hotels/:id"},
		{"plain words kept", "/sessions/abc/draft", "/sessions/abc/draft"},
		{"version kept", "/api/v2/bookings", "/api/v2/bookings"},
		{"query dropped", "/bookings/7?x=1", "/bookings/:id"},
		{"hyphenated word kept", "/csrf-token", "/csrf-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePath(tt.path))
		})
	}
}

func TestNormalizePath_Idempotent(t *testing.T) {
	paths := []string{
		"/sessions/550e8400-e29b-41d4-a716-446655440000/steps",
		"/hotels/42/rooms/7",
		"/sessions/abc-123/steps",
	}
	for _, p := range paths {
		once := NormalizePath(p)
		assert.Equal(t, once, NormalizePath(once), "normalizing twice should not change %q", p)
	}

	assert.Equal(t,
		NormalizePath("/sessions/abc-123/steps"),
		NormalizePath("/sessions/def-456/steps"))
	assert.Equal(t,
		NormalizePath("/sessions/550e8400-e29b-41d4-a716-446655440000"),
		NormalizePath("/sessions/6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	assert.Equal(t, NormalizePath("/hotels/1"), NormalizePath("/hotels/99999"))
}

func TestCanonicalJSON_SortsKeysRecursively(t *testing.T) {
	a, err := CanonicalJSON([]byte(`{"b":2,"a":{"y":[1,{"d":1,"c":2}],"x":true}}`))
	require.NoError(t, err)
	b, err := CanonicalJSON([]byte(`{ "a": {"x": true, "y": [1, {"c":2, "d":1}]}, "b": 2 }`))
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":{"x":true,"y":[1,{"c":2,"d":1}]},"b":2}`, string(a))
}

func TestCanonicalJSON_PreservesNumbers(t *testing.T) {
	out, err := CanonicalJSON([]byte(`{"amount": 12345678901234567890, "rate": 1.10}`))
	require.NoError(t, err)
	assert.Equal(t, `{"amount":12345678901234567890,"rate":1.10}`, string(out))
}

func TestCanonicalJSON_Malformed(t *testing.T) {
	_, err := CanonicalJSON([]byte(`{"a":`))
	assert.ErrorIs(t, err, ErrMalformedBody)

	_, err = CanonicalJSON([]byte(`{"a":1} {"b":2}`))
	assert.ErrorIs(t, err, ErrMalformedBody)
}

func TestCanonicalize(t *testing.T) {
	out, err := Canonicalize([]byte("b=2&a=1&a=0"), "application/x-www-form-urlencoded")
	require.NoError(t, err)
	assert.Equal(t, "a=1&a=0&b=2", string(out))

	out, err = Canonicalize([]byte(`{"b":1,"a":2}`), "application/json; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(out))

	out, err = Canonicalize([]byte(`{"b":1,"a":2}`), "application/vnd.booking+json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(out))

	raw := []byte("opaque bytes")
	out, err = Canonicalize(raw, "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	out, err = Canonicalize(nil, "application/json")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestBuild_KeyOrderDoesNotMatter(t *testing.T) {
	t1, err := Build("POST", "/bookings", "user-1", "", []byte(`{"a":1,"b":2}`), "application/json")
	require.NoError(t, err)
	t2, err := Build("POST", "/bookings", "user-1", "", []byte(`{"b":2,"a":1}`), "application/json")
	require.NoError(t, err)

	d1, err := t1.Digest()
	require.NoError(t, err)
	d2, err := t2.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
}

func TestBuild_DistinguishesAttributes(t *testing.T) {
	base, err := Build("POST", "/bookings", "user-1", "", []byte(`{"a":1}`), "application/json")
	require.NoError(t, err)
	baseDigest, err := base.Digest()
	require.NoError(t, err)

	variants := map[string]func() (Tuple, error){
		"method": func() (Tuple, error) {
			return Build("PUT", "/bookings", "user-1", "", []byte(`{"a":1}`), "application/json")
		},
		"actor": func() (Tuple, error) {
			return Build("POST", "/bookings", "user-2", "", []byte(`{"a":1}`), "application/json")
		},
		"body": func() (Tuple, error) {
			return Build("POST", "/bookings", "user-1", "", []byte(`{"a":2}`), "application/json")
		},
		"query": func() (Tuple, error) {
			return Build("POST", "/bookings", "user-1", "dry_run=1", []byte(`{"a":1}`), "application/json")
		},
		"path": func() (Tuple, error) {
			return Build("POST", "/hotels", "user-1", "", []byte(`{"a":1}`), "application/json")
		},
	}

	for name, build := range variants {
		t.Run(name, func(t *testing.T) {
			tuple, err := build()
			require.NoError(t, err)
			d, err := tuple.Digest()
			require.NoError(t, err)
			assert.NotEqual(t, baseDigest, d)
		})
	}
}

func TestBuild_QueryOrderDoesNotMatter(t *testing.T) {
	t1, err := Build("DELETE", "/bookings/1", "u", "b=2&a=1", nil, "")
	require.NoError(t, err)
	t2, err := Build("DELETE", "/bookings/2", "u", "a=1&b=2", nil, "")
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
	assert.Empty(t, t1.Body)
}

func TestBuild_MalformedJSON(t *testing.T) {
	_, err := Build("POST", "/bookings", "u", "", []byte(`{broken`), "application/json")
	assert.ErrorIs(t, err, ErrMalformedBody)
}

func TestActor(t *testing.T) {
	assert.Equal(t, "user-1", Actor("user-1", "10.0.0.1"))
	assert.Equal(t, "anon:10.0.0.1", Actor("", "10.0.0.1"))
}

func TestRouteClass(t *testing.T) {
	rc, err := NewRouteClass("create", 5*time.Second, []string{`^POST /sessions$`, `^POST /bookings$`})
	require.NoError(t, err)

	assert.True(t, rc.Matches(RouteKey("POST", "/sessions")))
	assert.True(t, rc.Matches(RouteKey("POST", "/bookings")))
	assert.False(t, rc.Matches(RouteKey("PUT", "/bookings")))
	assert.False(t, rc.Matches(RouteKey("POST", "/bookings/:id")))

	_, err = NewRouteClass("bad", time.Second, []string{`(a+)+`})
	assert.Error(t, err)

	_, err = NewRouteClass("zero", 0, []string{`^POST /x$`})
	assert.Error(t, err)
}
