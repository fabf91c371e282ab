package main

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chis/regview/internal/output"
	"github.com/chis/regview/internal/registry"
)

const testDigest = "sha256:6c3c624b58dbbcd3c0dd82b4c53f04194d1247c6eebdaab7c610cf7d66709b3b"

// run executes the CLI against an isolated database.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	full := append([]string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"--env-file", "",
		"--db", dbPath,
		"--log-level", "error",
	}, args...)
	cmd.SetArgs(full)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func newRegistryServer(t *testing.T) (host, port string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	})
	mux.HandleFunc("GET /v2/_catalog", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"repositories": []string{"web"}})
	})
	mux.HandleFunc("GET /v2/web/tags/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tags": []string{"latest"}})
	})
	mux.HandleFunc("GET /v2/web/manifests/{ref}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(registry.HeaderContentDigest, testDigest)
		json.NewEncoder(w).Encode(map[string]any{
			"schemaVersion": 2,
			"config":        map[string]any{"digest": "sha256:cfg"},
			"layers":        []map[string]any{{"digest": "sha256:a", "size": 2048}},
		})
	})
	mux.HandleFunc("DELETE /v2/web/manifests/{ref}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, port, err = net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return host, port
}

func decodeEnvelope(t *testing.T, raw string) output.Response {
	t.Helper()
	var resp output.Response
	require.NoError(t, json.Unmarshal([]byte(raw), &resp), raw)
	return resp
}

// addRegistry stores a profile for the fake server and returns its ID.
func addRegistry(t *testing.T, dbPath, host, port string) string {
	t.Helper()
	out, err := run(t, dbPath, "registries", "add", "--name", "local", "--host", host, "--port", port, "--json")
	require.NoError(t, err, out)

	resp := decodeEnvelope(t, out)
	require.True(t, resp.Success)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	id, _ := data["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no arguments shows help", []string{}, "registries"},
		{"help flag", []string{"--help"}, "delete-tag"},
		{"version", []string{"version"}, "regview dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)

			require.NoError(t, cmd.Execute())
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestArgumentValidation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "regview.db")

	tests := []struct {
		name string
		args []string
	}{
		{"images without id", []string{"images"}},
		{"delete-tag missing tag", []string{"delete-tag", "id", "repo"}},
		{"add without host", []string{"registries", "add", "--name", "x"}},
		{"login without token", []string{"session", "login"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, db, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestRegistriesLifecycle(t *testing.T) {
	db := filepath.Join(t.TempDir(), "regview.db")

	out, err := run(t, db, "registries", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No registries configured")

	out, err = run(t, db, "registries", "add", "--name", "prod", "--host", "registry.example.com",
		"--port", "443", "--ssl", "--username", "ci", "--password", "hunter2", "--json")
	require.NoError(t, err, out)
	assert.NotContains(t, out, "hunter2")
	id := decodeEnvelope(t, out).Data.(map[string]any)["id"].(string)

	out, err = run(t, db, "registries", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "prod")
	assert.Contains(t, out, "registry.example.com:443")
	assert.NotContains(t, out, "hunter2")

	out, err = run(t, db, "registries", "remove", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed registry")

	out, err = run(t, db, "registries", "remove", id, "--json")
	require.Error(t, err)
	resp := decodeEnvelope(t, out)
	assert.False(t, resp.Success)
}

func TestRegistriesAddInvalid(t *testing.T) {
	db := filepath.Join(t.TempDir(), "regview.db")

	out, err := run(t, db, "registries", "add", "--name", "bad", "--host", "localhost", "--port", "70000", "--json")
	require.Error(t, err)
	resp := decodeEnvelope(t, out)
	assert.False(t, resp.Success)
	assert.Equal(t, output.KindInvalid, resp.Kind)
}

func TestImagesAndProbe(t *testing.T) {
	db := filepath.Join(t.TempDir(), "regview.db")
	host, port := newRegistryServer(t)
	id := addRegistry(t, db, host, port)

	out, err := run(t, db, "images", id)
	require.NoError(t, err, out)
	assert.Contains(t, out, "web")
	assert.Contains(t, out, "latest")

	out, err = run(t, db, "images", id, "--json", "--sort")
	require.NoError(t, err, out)
	resp := decodeEnvelope(t, out)
	require.True(t, resp.Success)
	images := resp.Data.([]any)
	require.Len(t, images, 1)
	assert.Equal(t, "web", images[0].(map[string]any)["name"])

	out, err = run(t, db, "probe", id)
	require.NoError(t, err, out)
	assert.Contains(t, out, "connected")

	out, err = run(t, db, "history", id, "--json")
	require.NoError(t, err, out)
	records := decodeEnvelope(t, out).Data.([]any)
	assert.Len(t, records, 2)
}

func TestProbeUnreachable(t *testing.T) {
	db := filepath.Join(t.TempDir(), "regview.db")
	host, port := newRegistryServer(t)
	id := addRegistry(t, db, host, port)

	// Point the stored profile at a closed port.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, closedPort, _ := net.SplitHostPort(listener.Addr().String())
	listener.Close()
	downID := addRegistry(t, db, "127.0.0.1", closedPort)
	require.NotEqual(t, id, downID)

	out, err := run(t, db, "probe", downID)
	assert.Error(t, err)
	assert.Contains(t, out, "failed")
}

func TestDeleteTag(t *testing.T) {
	db := filepath.Join(t.TempDir(), "regview.db")
	host, port := newRegistryServer(t)
	id := addRegistry(t, db, host, port)

	out, err := run(t, db, "delete-tag", id, "web", "latest", "--json")
	require.NoError(t, err, out)
	resp := decodeEnvelope(t, out)
	require.True(t, resp.Success)
	assert.Equal(t, testDigest, resp.Data.(map[string]any)["digest"])

	out, err = run(t, db, "delete-tag", "unknown", "web", "latest", "--json")
	require.Error(t, err)
	assert.False(t, decodeEnvelope(t, out).Success)
}

func TestSessionCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "regview.db")

	out, err := run(t, db, "session", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No session")

	out, err = run(t, db, "session", "login", "--token", "abc", "--ttl", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "expires")

	out, err = run(t, db, "session", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session active")

	_, err = run(t, db, "session", "login", "--token", "abc", "--ttl", "-1h")
	assert.Error(t, err)

	out, err = run(t, db, "session", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	out, err = run(t, db, "session", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No session")
}
