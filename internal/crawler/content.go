package crawler

import (
	"context"
	"fmt"
)

// ContentFetcher downloads, fingerprints, and persists document bytes.
type ContentFetcher struct {
	fetcher Fetcher
	hasher  Hasher
	fs      FileSystem
}

// NewContentFetcher wires the network, hashing, and filesystem collaborators.
func NewContentFetcher(fetcher Fetcher, hasher Hasher, fs FileSystem) *ContentFetcher {
	return &ContentFetcher{fetcher: fetcher, hasher: hasher, fs: fs}
}

// Fetch downloads reference. Transport failures and non-2xx statuses are
// reported as ErrFetch.
func (c *ContentFetcher) Fetch(ctx context.Context, reference string) ([]byte, error) {
	resp, err := c.fetcher.Fetch(ctx, reference)
	if err != nil {
		return nil, FetchError(reference, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, FetchError(reference, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return resp.Body, nil
}

// Fingerprint returns the content hash of data.
func (c *ContentFetcher) Fingerprint(data []byte) (string, error) {
	sum, err := c.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("fingerprint content: %w", err)
	}
	return sum, nil
}

// Persist writes data to destination and returns the size read back from disk.
func (c *ContentFetcher) Persist(ctx context.Context, data []byte, destination string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := c.fs.EnsureParentDirs(destination); err != nil {
		return 0, PersistError(destination, err)
	}
	if err := c.fs.WriteFile(destination, data); err != nil {
		return 0, PersistError(destination, err)
	}
	size, err := c.fs.FileSize(destination)
	if err != nil {
		return 0, PersistError(destination, err)
	}
	return size, nil
}

// Size reads the on-disk size of an existing document.
func (c *ContentFetcher) Size(path string) (int64, error) {
	if !c.fs.Exists(path) {
		return 0, PersistError(path, fmt.Errorf("recorded file is missing"))
	}
	size, err := c.fs.FileSize(path)
	if err != nil {
		return 0, PersistError(path, err)
	}
	return size, nil
}

// OnDisk reports whether path still exists.
func (c *ContentFetcher) OnDisk(path string) bool {
	return c.fs.Exists(path)
}
