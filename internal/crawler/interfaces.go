package crawler

import (
	"context"
	"io"
	"time"
)

// Element is one node returned by Navigator.List. Reads are scoped to the
// element's subtree and return ErrNoElement when the selector matches nothing.
type Element interface {
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector string, name string) (string, error)
}

// Navigator is the page navigation capability the walker depends on.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
	WaitPresent(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector string, name string) (string, error)
	List(ctx context.Context, selector string) ([]Element, error)
}

// Session is a navigator bound to one browser instance.
type Session interface {
	Navigator
	Close() error
}

// Browser opens navigation sessions. Each crawl owns exactly one session.
type Browser interface {
	OpenSession(ctx context.Context) (Session, error)
}

// RecordStore is the durable dedup index over DocumentRecords.
type RecordStore interface {
	Exists(identifier, reference string) bool
	FindByReference(reference string) (Stored, bool)
	FindByFingerprint(fingerprint string) (Stored, bool)
	Append(ctx context.Context, record DocumentRecord) error
	Len() int
	Close() error
}

// StoreOpener loads the record store at the start of a crawl.
type StoreOpener interface {
	OpenStore(ctx context.Context) (RecordStore, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// FileSystem is the filesystem capability used to persist documents.
type FileSystem interface {
	EnsureParentDirs(path string) error
	WriteFile(path string, data []byte) error
	FileSize(path string) (int64, error)
	Exists(path string) bool
}

// BlobStore mirrors persisted documents to secondary storage and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RecordSink receives every record after it was appended to the log.
type RecordSink interface {
	Record(ctx context.Context, record DocumentRecord) error
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
