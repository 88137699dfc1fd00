package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://San.Taleon.online/characterprofile.php", "san.taleon.online"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(scrapesTotal.WithLabelValues("parse_failure"))
	ObserveScrape("parse_failure", 150*time.Millisecond)
	if got := testutil.ToFloat64(scrapesTotal.WithLabelValues("parse_failure")); got != before+1 {
		t.Errorf("expected scrape counter to grow by 1, got %f -> %f", before, got)
	}

	hits := testutil.ToFloat64(fetchCacheTotal.WithLabelValues("hit"))
	ObserveCache(true)
	if got := testutil.ToFloat64(fetchCacheTotal.WithLabelValues("hit")); got != hits+1 {
		t.Errorf("expected cache hit counter to grow by 1, got %f", got)
	}

	SweepStarted()
	if got := testutil.ToFloat64(sweepInProgress); got != 1 {
		t.Errorf("expected sweep gauge 1, got %f", got)
	}
	failedBefore := testutil.ToFloat64(sweepCharactersTotal.WithLabelValues("failed"))
	ObserveSweep(3, 2, time.Second)
	if got := testutil.ToFloat64(sweepInProgress); got != 0 {
		t.Errorf("expected sweep gauge 0, got %f", got)
	}
	if got := testutil.ToFloat64(sweepCharactersTotal.WithLabelValues("failed")); got != failedBefore+2 {
		t.Errorf("expected failed counter to grow by 2, got %f", got)
	}

	errBefore := testutil.ToFloat64(eventsPublishedTotal.WithLabelValues("error"))
	ObservePublish(errors.New("down"))
	if got := testutil.ToFloat64(eventsPublishedTotal.WithLabelValues("error")); got != errBefore+1 {
		t.Errorf("expected publish error counter to grow by 1, got %f", got)
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://san.taleon.online", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned empty string", orig)
		}
	})
}
