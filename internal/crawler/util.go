package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func resolveReference(base *url.URL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty download reference")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse reference %q: %w", raw, err)
	}
	if base != nil && !ref.IsAbs() {
		ref = base.ResolveReference(ref)
	}
	return ref.String(), nil
}

func sanitizeSegment(raw string) string {
	cleaned := invalidFilenameChars.ReplaceAllString(raw, "_")
	cleaned = strings.Trim(cleaned, "._")
	return cleaned
}

// fileNameFor returns the last path segment of reference, or a name derived
// from the fingerprint when the reference has no usable segment. A query
// string is kept ahead of the extension so download?id=1 and download?id=2
// map to different files.
func fileNameFor(reference, fingerprint string) string {
	if u, err := url.Parse(reference); err == nil {
		name := sanitizeSegment(path.Base(u.Path))
		if query := sanitizeSegment(u.RawQuery); query != "" {
			ext := path.Ext(name)
			name = sanitizeSegment(strings.TrimSuffix(name, ext)+"_"+query) + ext
		}
		if name != "" {
			return name
		}
	}
	return fingerprintPrefix(fingerprint) + ".bin"
}

func fingerprintPrefix(fingerprint string) string {
	if len(fingerprint) > 16 {
		return fingerprint[:16]
	}
	return fingerprint
}

// disambiguate inserts the fingerprint prefix before the extension of dest.
func disambiguate(dest, fingerprint string) string {
	ext := filepath.Ext(dest)
	return strings.TrimSuffix(dest, ext) + "_" + fingerprintPrefix(fingerprint) + ext
}

// documentPath builds <root>/<dir>/<identifier>/<file name>.
func documentPath(root, dir, identifier, reference, fingerprint string) string {
	id := sanitizeSegment(identifier)
	if id == "" {
		id = "unknown"
	}
	return filepath.Join(root, dir, id, fileNameFor(reference, fingerprint))
}

// blobKey returns path relative to root with forward slashes.
func blobKey(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
