package collyfetcher

import (
	"bytes"
	"errors"
	"strings"
)

// ErrChallengePage marks a 2xx response that carried an anti-bot interstitial
// or no usable content instead of a profile page.
var ErrChallengePage = errors.New("challenge page instead of profile")

// smallPageThreshold bounds the script-density check to tiny documents.
const smallPageThreshold = 2048

var challengeMarkers = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("challenge-platform"),
	[]byte("cf_chl_opt"),
	[]byte("<title>just a moment...</title>"),
	[]byte("attention required! | cloudflare"),
}

// detectChallenge reports why body is not a page worth extracting.
func detectChallenge(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "empty body", true
	}
	lower := bytes.ToLower(trimmed)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return "challenge marker " + string(marker), true
		}
	}
	if len(lower) < smallPageThreshold && !bytes.Contains(lower, []byte("<table")) && scriptDensityHigh(string(lower)) {
		return "script-only page", true
	}
	return "", false
}

// scriptDensityHigh reports whether <script> elements cover at least a
// quarter of the (lowercased) document.
func scriptDensityHigh(lower string) bool {
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	total := len(lower)
	if total == 0 {
		return false
	}
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// Unterminated tag; the rest is script.
			coverage += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
