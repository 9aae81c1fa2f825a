package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/homemade/tap-talonone/tap"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tap-talonone v"+version)
}

func TestDiscover(t *testing.T) {
	for _, args := range [][]string{{"discover"}, {"--discover"}} {
		out, err := execute(t, args...)
		require.NoError(t, err)

		var catalog tap.Catalog
		require.NoError(t, json.Unmarshal([]byte(out), &catalog))
		assert.Len(t, catalog.Streams, 10)
	}
}

func TestDocsCommand(t *testing.T) {
	out, err := execute(t, "docs")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Stream,Field,Type,Primary Key,Replication Key,Notes\n"))
	assert.Contains(t, out, "friends,sessionId,string,✓,,")
}

func TestSync_SelectedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/users", r.URL.Path)
		fmt.Fprint(w, `{"hasMore":false,"data":[{"id":1,"email":"ada@example.com"},{"id":2,"email":"alan@example.com"}]}`)
	}))
	defer server.Close()

	config := writeFile(t, "config.json", fmt.Sprintf(`{"auth_token":"token","api_url":%q,"account_id":1}`, server.URL))
	catalog := writeFile(t, "catalog.json", `{"streams":[
		{"tap_stream_id":"users","metadata":[{"breadcrumb":[],"metadata":{"selected":true}}]},
		{"tap_stream_id":"applications","metadata":[{"breadcrumb":[],"metadata":{"selected":false}}]}
	]}`)

	out, err := execute(t, "sync", "--config", config, "--catalog", catalog)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "SCHEMA", gjson.Get(lines[0], "type").String())
	assert.Equal(t, "users", gjson.Get(lines[0], "stream").String())
	assert.Equal(t, int64(1), gjson.Get(lines[1], "record.id").Int())
	assert.Equal(t, "alan@example.com", gjson.Get(lines[2], "record.email").String())
}

func TestSync_InvalidConfig(t *testing.T) {
	config := writeFile(t, "config.json", `{"auth_token":"token"}`)
	_, err := execute(t, "sync", "--config", config)
	var configErr *tap.ConfigError
	assert.ErrorAs(t, err, &configErr)
}

func TestCheckCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "ManagementKey-v1 token" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"invalid key"}`)
			return
		}
		fmt.Fprint(w, `{"id":1}`)
	}))
	defer server.Close()

	config := writeFile(t, "config.json", fmt.Sprintf(`{"auth_token":"token","api_url":%q,"account_id":1}`, server.URL))
	out, err := execute(t, "check", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "valid for account 1")

	config = writeFile(t, "config.json", fmt.Sprintf(`{"auth_token":"wrong","api_url":%q,"account_id":1}`, server.URL))
	_, err = execute(t, "check", "--config", config)
	var transportErr *tap.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusUnauthorized, transportErr.Status)
}
