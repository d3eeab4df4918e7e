package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bookguard/core"
	"bookguard/csrf"
	"bookguard/identity"
	"bookguard/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/facebookgo/clock"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append(args, "--no-color"))
	err := root.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func findCommand(parent *cobra.Command, name string) *cobra.Command {
	for _, cmd := range parent.Commands() {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func TestRootCommandStructure(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"fingerprint", "csrf", "config"} {
		assert.NotNil(t, findCommand(root, name), "missing command %s", name)
	}

	csrfCmd := findCommand(root, "csrf")
	require.NotNil(t, csrfCmd)
	assert.NotNil(t, findCommand(csrfCmd, "inspect"))
	assert.NotNil(t, findCommand(csrfCmd, "revoke"))

	for _, flag := range []string{"json", "config", "no-color"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("csrf"))
	assert.True(t, IsCommand("fingerprint"))
	assert.False(t, IsCommand("--help-me"))
	assert.False(t, IsCommand(""))
}

func fingerprintJSON(t *testing.T, args ...string) FingerprintResult {
	t.Helper()
	out, err := execute(t, append([]string{"fingerprint", "--json"}, args...)...)
	require.NoError(t, err, out)
	var result FingerprintResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	return result
}

func TestFingerprintCmd(t *testing.T) {
	a := fingerprintJSON(t, "--path", "/bookings", "--actor", "user-1", "--body", `{"hotelId":"h1","nights":2}`)
	b := fingerprintJSON(t, "--path", "/bookings", "--actor", "user-1", "--body", `{ "nights": 2, "hotelId": "h1" }`)
	c := fingerprintJSON(t, "--path", "/bookings", "--actor", "user-1", "--body", `{"hotelId":"h2","nights":2}`)

	assert.Equal(t, a.Digest, b.Digest, "key order and whitespace must not change the digest")
	assert.NotEqual(t, a.Digest, c.Digest)
	assert.Len(t, a.Digest, 64)
	assert.Equal(t, "POST /bookings", a.Route)
	assert.Equal(t, "5s", a.Window)
	assert.Equal(t, "user-1", a.Tuple.Actor)
}

func TestFingerprintCmd_NormalizedPathAndAnonymousActor(t *testing.T) {
	result := fingerprintJSON(t, "--method", "put", "--path", "/hotels/123/draft", "--client-addr", "10.0.0.5")

	assert.Equal(t, "PUT /hotels/:id/draft", result.Route)
	assert.Equal(t, "1s", result.Window)
	assert.Equal(t, "anon:10.0.0.5", result.Tuple.Actor)
	assert.Empty(t, result.Tuple.Body)
}

func TestFingerprintCmd_BodyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"b":1,"a":2}`), 0o600))

	fromFile := fingerprintJSON(t, "--path", "/sessions", "--actor", "u", "--body-file", path)
	inline := fingerprintJSON(t, "--path", "/sessions", "--actor", "u", "--body", `{"a":2,"b":1}`)
	assert.Equal(t, inline.Digest, fromFile.Digest)
}

func TestFingerprintCmd_Errors(t *testing.T) {
	_, err := execute(t, "fingerprint", "--path", "/bookings")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--actor or --client-addr")

	_, err = execute(t, "fingerprint", "--actor", "u")
	require.Error(t, err, "path is required")

	_, err = execute(t, "fingerprint", "--path", "/bookings", "--actor", "u", "--body-file", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestFingerprintCmd_TextOutput(t *testing.T) {
	out, err := execute(t, "fingerprint", "--path", "/bookings", "--actor", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Request Fingerprint")
	assert.Contains(t, out, "POST /bookings")
}

func TestInspectToken(t *testing.T) {
	mock := clock.NewMock()
	issued := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	mock.Add(issued.Sub(mock.Now()))

	cfg := csrf.DefaultConfig()
	ts := store.NewMemoryTokenStore(10, cfg.StoreTTL(), mock)
	ctx := context.Background()

	result, err := inspectToken(ctx, ts, cfg, "csrf:none", mock.Now())
	require.NoError(t, err)
	assert.False(t, result.Present)

	require.NoError(t, ts.Set(ctx, "csrf:k", csrf.TokenRecord{Token: "abcdefghijklmnop", IssuedAt: issued}, cfg.StoreTTL()))

	tests := []struct {
		name     string
		elapsed  time.Duration
		rotation bool
		expired  bool
	}{
		{"fresh", 10 * time.Minute, false, false},
		{"at rotation threshold", 30 * time.Minute, false, false},
		{"past rotation threshold", 31 * time.Minute, true, false},
		{"past hard expiry", 61 * time.Minute, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := inspectToken(ctx, ts, cfg, "csrf:k", issued.Add(tt.elapsed))
			require.NoError(t, err)
			assert.True(t, result.Present)
			assert.Equal(t, "abcdef******", result.Token)
			assert.Equal(t, tt.rotation, result.RotationDue)
			assert.Equal(t, tt.expired, result.Expired)
		})
	}
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", maskToken("abcd"))
	assert.Equal(t, "abcdef******", maskToken("abcdefghij"))
}

func TestOwnerFlags(t *testing.T) {
	f := &ownerFlags{}
	_, err := f.ownerKey()
	assert.Error(t, err)

	f = &ownerFlags{key: "session:x"}
	_, err = f.ownerKey()
	assert.Error(t, err, "keys outside the csrf namespace are refused")

	f = &ownerFlags{session: "s1", actor: "u1"}
	key, err := f.ownerKey()
	require.NoError(t, err)
	assert.Equal(t, csrf.OwnerKeyFor(identity.Identity{ActorID: "u1", SessionID: "s1"}), key)
}

func TestCSRFInspectAndRevoke(t *testing.T) {
	mr := miniredis.RunT(t)
	path := writeConfig(t, "environment: development\nredis:\n  addr: "+mr.Addr()+"\n")

	logger := zap.NewNop().Sugar()
	breaker, err := core.NewCircuitBreaker("test", core.DefaultCircuitBreakerConfig(), clock.New())
	require.NoError(t, err)
	ts := store.NewRedisTokenStore(core.NewRedisCache(core.RedisOptions{
		Addr: mr.Addr(), PoolSize: 1, OpTimeout: time.Second, KeyPrefix: "bookguard:",
	}, logger), breaker, logger)
	defer ts.Close()

	key := csrf.OwnerKeyFor(identity.Identity{ActorID: "u1", SessionID: "s1"})
	rec := csrf.TokenRecord{Token: "0123456789abcdef", IssuedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, ts.Set(context.Background(), key, rec, time.Hour))

	out, err := execute(t, "csrf", "inspect", "--config", path, "--session", "s1", "--actor", "u1", "--json")
	require.NoError(t, err, out)
	var inspection TokenInspection
	require.NoError(t, json.Unmarshal([]byte(out), &inspection))
	assert.True(t, inspection.Present)
	assert.Equal(t, key, inspection.OwnerKey)
	assert.Equal(t, "012345******", inspection.Token)
	assert.False(t, inspection.RotationDue)

	out, err = execute(t, "csrf", "revoke", "--config", path, "--key", key)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Revoked token")
	assert.False(t, mr.Exists("bookguard:"+key))

	out, err = execute(t, "csrf", "inspect", "--config", path, "--key", key)
	require.NoError(t, err, out)
	assert.Contains(t, out, "No token stored")
}

func TestCSRFCmd_MemoryStoreRefused(t *testing.T) {
	path := writeConfig(t, "environment: development\ncsrf:\n  store: memory\n")
	_, err := execute(t, "csrf", "inspect", "--config", path, "--session", "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory")
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	path := writeConfig(t, `environment: development
auth:
  jwt_secret: "a-very-private-signing-key-value"
redis:
  addr: "redis:6379"
  password: "hunter2-redis"
`)

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "redis:6379")
	assert.Contains(t, out, redacted)
	assert.NotContains(t, out, "a-very-private-signing-key-value")
	assert.NotContains(t, out, "hunter2-redis")
	assert.True(t, strings.Contains(out, "hard_expiry: 1h0m0s"), out)
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "config", "validate", "--config", writeConfig(t, "environment: development\n"))
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	_, err = execute(t, "config", "validate", "--config", writeConfig(t, "environment: staging\n"))
	assert.Error(t, err)
}
