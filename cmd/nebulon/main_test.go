package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/nebulon/internal/registry"
	"github.com/ssd-technologies/nebulon/internal/registry/registrytest"
	"github.com/ssd-technologies/nebulon/internal/server"
	"github.com/ssd-technologies/nebulon/internal/storage/badgerstore"
)

const testSecret = "operator-secret"

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc, err := registry.New(store)
	require.NoError(t, err)
	srv := server.New(svc, nil, server.Options{AdminSecret: testSecret})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

// execute runs the CLI with args and returns its output.
func execute(t *testing.T, ts *httptest.Server, key string, args ...string) (string, error) {
	t.Helper()
	jsonOutput = false
	adminSecret = ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--server", ts.URL, "--key", key}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLIWorkflow(t *testing.T) {
	ts := startServer(t)
	key := filepath.Join(t.TempDir(), "agent.key")

	out, err := execute(t, ts, key, "keygen")
	require.NoError(t, err, out)
	require.Contains(t, out, "Address: ")

	addr, err := execute(t, ts, key, "whoami")
	require.NoError(t, err)
	addr = strings.TrimSpace(addr)
	_, err = registry.ParseAddress(addr)
	require.NoError(t, err)

	out, err = execute(t, ts, key, "init", registrytest.Key(0xee).String(), "--min-score", "10")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Registry initialized")

	out, err = execute(t, ts, key, "deposit", addr, "50000000", "--admin-secret", testSecret)
	require.NoError(t, err, out)

	out, err = execute(t, ts, key, "issue", "@alpha", "--name", "Alpha", "--mint", registrytest.Key(0x1001).String())
	require.NoError(t, err, out)
	assert.Contains(t, out, "@alpha")

	out, err = execute(t, ts, key, "show", "@alpha", "--json")
	require.NoError(t, err, out)
	var id identity
	require.NoError(t, json.Unmarshal([]byte(out), &id))
	assert.Equal(t, "@alpha", id.Handle)
	assert.Equal(t, addr, id.Owner)
	assert.Equal(t, uint8(registry.DeadzoneTier), id.Tier)
	assert.True(t, id.IsActive)

	out, err = execute(t, ts, key, "status", "@alpha", "--score", "42", "--tier", "3")
	require.NoError(t, err, out)
	assert.Contains(t, out, "42")

	out, err = execute(t, ts, key, "list", "--mine", "--json")
	require.NoError(t, err, out)
	var ids []identity
	require.NoError(t, json.Unmarshal([]byte(out), &ids))
	require.Len(t, ids, 1)
	assert.Equal(t, uint64(42), ids[0].Score)

	out, err = execute(t, ts, key, "registry", "--json")
	require.NoError(t, err, out)
	var snap registry.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, uint64(1), snap.Registry.TotalAgents)
	assert.Equal(t, uint64(42), snap.Registry.TotalScore)

	out, err = execute(t, ts, key, "leaderboard")
	require.NoError(t, err, out)
	assert.Contains(t, out, "@alpha")
}

func TestCLIReportsAPIErrors(t *testing.T) {
	ts := startServer(t)
	key := filepath.Join(t.TempDir(), "agent.key")
	_, err := execute(t, ts, key, "keygen")
	require.NoError(t, err)

	_, err = execute(t, ts, key, "show", "@missing")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)

	// Deposits need the operator secret.
	_, err = execute(t, ts, key, "deposit", registrytest.Key(1).String(), "5")
	require.ErrorContains(t, err, "--admin-secret")
}

func TestCLISignedCommandNeedsKey(t *testing.T) {
	ts := startServer(t)
	key := filepath.Join(t.TempDir(), "absent.key")

	_, err := execute(t, ts, key, "claim", "@alpha")
	require.ErrorContains(t, err, "needs a key")

	out, err := execute(t, ts, key, "tiers")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deadzone")
}

func TestProofFlags(t *testing.T) {
	target := registrytest.Key(7).String()
	tests := []struct {
		name  string
		flags proofFlags
		want  map[string]string
	}{
		{"handle", proofFlags{handle: "@a"}, map[string]string{"target": target, "mode": "handle", "handle": "@a"}},
		{"hex", proofFlags{hexID: "ab"}, map[string]string{"target": target, "mode": "hex_id", "hex_id": "ab"}},
		{"sns", proofFlags{platform: "moltx", external: "@x"},
			map[string]string{"target": target, "mode": "sns", "platform": "moltx", "external_handle": "@x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.body(target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := (&proofFlags{}).body(target)
	assert.Error(t, err)
}
