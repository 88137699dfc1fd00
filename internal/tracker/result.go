package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Outcome discriminates the ScrapeResult variants.
type Outcome int

// Scrape outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeParseFailure
	OutcomeUpstreamError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeParseFailure:
		return "parse_failure"
	case OutcomeUpstreamError:
		return "upstream_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ScrapeResult is the tagged result of fetching and extracting one profile.
// Profile is only meaningful for OutcomeSuccess; Reason and StatusCode describe
// the failure variants.
type ScrapeResult struct {
	Outcome    Outcome
	Profile    Profile
	Reason     string
	StatusCode int
	Timeout    bool
}

// OK reports whether the result is the Success variant.
func (r ScrapeResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Success builds the Success variant.
func Success(p Profile) ScrapeResult {
	return ScrapeResult{Outcome: OutcomeSuccess, Profile: p}
}

// NotFound builds the NotFound variant.
func NotFound(reason string) ScrapeResult {
	return ScrapeResult{Outcome: OutcomeNotFound, Reason: reason}
}

// ParseFailure builds the ParseFailure variant.
func ParseFailure(reason string) ScrapeResult {
	return ScrapeResult{Outcome: OutcomeParseFailure, Reason: reason}
}

// Upstream converts a fetch error into the UpstreamError variant.
func Upstream(err error) ScrapeResult {
	res := ScrapeResult{Outcome: OutcomeUpstreamError}
	if err == nil {
		res.Reason = "unknown upstream failure"
		return res
	}
	res.Reason = err.Error()
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		res.StatusCode = upErr.StatusCode
		res.Timeout = upErr.Timeout
	}
	return res
}

// UpstreamError describes a failed request to the profile site.
type UpstreamError struct {
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("upstream timeout fetching %s", e.URL)
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream returned status %d for %s", e.StatusCode, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("upstream request to %s failed: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("upstream request to %s failed", e.URL)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError classifies err, marking deadline and network timeouts.
func NewUpstreamError(url string, status int, err error) *UpstreamError {
	upErr := &UpstreamError{URL: url, StatusCode: status, Err: err}
	if err == nil {
		return upErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		upErr.Timeout = true
		return upErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		upErr.Timeout = true
	}
	return upErr
}

// ErrPersistence marks a failed, rolled back reconciliation transaction.
var ErrPersistence = errors.New("persistence error")
