// Package digest computes content fingerprints.
package digest

import (
	"crypto/md5" // #nosec G501 -- md5 only matches fingerprints in legacy record logs.
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Supported algorithms.
const (
	SHA256 = "sha256"
	MD5    = "md5"
)

// Hasher implements crawler.Hasher.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns a Hasher for algorithm; an empty name selects SHA-256.
func New(algorithm string) (*Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", SHA256:
		return &Hasher{algorithm: SHA256, newHash: sha256.New}, nil
	case MD5:
		return &Hasher{algorithm: MD5, newHash: md5.New}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// Algorithm names the digest in use.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	d := h.newHash()
	if _, err := d.Write(data); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}
