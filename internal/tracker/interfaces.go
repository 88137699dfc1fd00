package tracker

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves the raw profile HTML for a character. Errors are
// *UpstreamError values.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// Extractor turns profile HTML into a ScrapeResult. It never fails outright.
type Extractor interface {
	Extract(html []byte) ScrapeResult
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar). Topic names the event
// kind; implementations bound to a single topic carry it as an attribute.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archived pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces sweep IDs.
type IDGenerator interface {
	NewID() (string, error)
}
