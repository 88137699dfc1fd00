package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

func TestDetectChallenge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		blocked bool
	}{
		{"profile", profileHTML, false},
		{"not found page", `<html><body><p>Character does not exist.</p></body></html>`, false},
		{"empty", "   \n", true},
		{"cloudflare title", `<html><head><title>Just a moment...</title></head></html>`, true},
		{"cloudflare script", `<div id="cf-browser-verification"></div>`, true},
		{"script shell", `<html><script>window.location.reload()</script></html>`, true},
		{"large page with scripts", "<html>" + strings.Repeat("<script>x</script>", 200) + "</html>", false},
		{"script beside table", `<table><tr><td>a</td></tr></table><script>track()</script>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reason, blocked := detectChallenge([]byte(tt.body))
			assert.Equal(t, tt.blocked, blocked, reason)
			if blocked {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestScriptDensityHighUnterminated(t *testing.T) {
	t.Parallel()

	assert.True(t, scriptDensityHigh("<p>hi</p><script src=x"))
	assert.False(t, scriptDensityHigh("<p>plain text only</p>"))
	assert.False(t, scriptDensityHigh(""))
}

func TestFetchChallengePageIsUpstreamErrorAndNotCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`<html><head><title>Just a moment...</title></head></html>`))
			return
		}
		_, _ = w.Write([]byte(profileHTML))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, nil)
	_, err := f.Fetch(context.Background(), "Alice")
	var upErr *tracker.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusOK, upErr.StatusCode)
	require.ErrorIs(t, err, ErrChallengePage)

	body, err := f.Fetch(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, profileHTML, string(body))
	assert.Equal(t, int32(2), calls.Load())
}
