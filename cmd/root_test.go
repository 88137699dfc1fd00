package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/taleon-tracker/internal/config"
	"github.com/JakeFAU/taleon-tracker/internal/server"
)

const erynPage = `<html><body><table class="TableContent">
<tr><td colspan="2">Character Information</td></tr>
<tr><td>Level:</td><td>42</td></tr>
<tr><td>Vocation:</td><td>Elder Druid</td></tr>
</table></body></html>`

func useQuietApp(t *testing.T) {
	t.Helper()
	prev := newApp
	newApp = func(ctx context.Context, cfg config.Config) (*server.App, error) {
		return server.BuildWithLogger(ctx, cfg, zap.NewNop())
	}
	t.Cleanup(func() { newApp = prev })
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	body := fmt.Sprintf("fetcher:\n  base_url: %s\n  timeout: 2s\nsweep:\n  pause: 0s\nscheduler:\n  enabled: false\n", baseURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScrapeCommand(t *testing.T) {
	useQuietApp(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "Eryn" {
			_, _ = w.Write([]byte(erynPage))
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()
	cfgPath := writeConfig(t, upstream.URL)

	out, err := run("--config", cfgPath, "scrape", "Eryn")
	require.NoError(t, err)
	assert.Contains(t, out, "Eryn\tok\tid=1 level=42")
	assert.Contains(t, out, `vocation="Elder Druid"`)
	assert.Contains(t, out, "deaths=unknown")

	out, err = run("--config", cfgPath, "scrape", "Eryn", "Ghost")
	require.Error(t, err)
	assert.Contains(t, out, "Ghost\tfailed\tstage=fetching outcome=upstream_error")
}

func TestSweepCommandWithNoCharacters(t *testing.T) {
	useQuietApp(t)
	out, err := run("--config", writeConfig(t, "http://127.0.0.1:1"), "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "0/0 succeeded")
}

func TestMigrateRequiresDSN(t *testing.T) {
	_, err := run("--config", writeConfig(t, "http://127.0.0.1:1"), "migrate")
	require.ErrorContains(t, err, "database.dsn")
}

func TestRootRejectsMissingConfig(t *testing.T) {
	_, err := run("--config", filepath.Join(t.TempDir(), "missing.yaml"), "sweep")
	require.ErrorContains(t, err, "load config")
}

func TestCommandArgs(t *testing.T) {
	_, err := run("scrape")
	require.Error(t, err)
	_, err = run("sweep", "extra")
	require.Error(t, err)
}
