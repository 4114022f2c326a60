package crawler

import (
	"errors"
	"fmt"
)

// Error kinds. Concrete errors wrap exactly one of these so callers can
// branch with errors.Is.
var (
	// ErrAttribution means a row's identifier could not be read.
	ErrAttribution = errors.New("attribution error")
	// ErrFieldRead means one category's reference or date could not be read.
	ErrFieldRead = errors.New("field read error")
	// ErrNavigation means a page or control could not be reached.
	ErrNavigation = errors.New("navigation error")
	// ErrFetch means a document download failed.
	ErrFetch = errors.New("fetch error")
	// ErrPersist means a document or record could not be written.
	ErrPersist = errors.New("persist error")
	// ErrStoreInit means the record log could not be created or opened.
	ErrStoreInit = errors.New("store init error")

	// ErrNoElement is returned by navigators when a selector matches nothing.
	ErrNoElement = errors.New("element not found")
)

func wrapKind(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %w", kind, fmt.Errorf(format, args...))
}

// NavigationError wraps err as ErrNavigation.
func NavigationError(op string, err error) error {
	return wrapKind(ErrNavigation, "%s: %w", op, err)
}

// FetchError wraps err as ErrFetch.
func FetchError(url string, err error) error {
	return wrapKind(ErrFetch, "download %s: %w", url, err)
}

// PersistError wraps err as ErrPersist.
func PersistError(path string, err error) error {
	return wrapKind(ErrPersist, "write %s: %w", path, err)
}

// StoreInitError wraps err as ErrStoreInit.
func StoreInitError(path string, err error) error {
	return wrapKind(ErrStoreInit, "record log %s: %w", path, err)
}

// FieldReadError wraps err as ErrFieldRead.
func FieldReadError(identifier string, category Category, err error) error {
	return wrapKind(ErrFieldRead, "%s %q: %w", identifier, category, err)
}

// AttributionError wraps err as ErrAttribution.
func AttributionError(err error) error {
	return wrapKind(ErrAttribution, "read identifier: %w", err)
}

// IsProcessFatal reports whether err must stop the whole process rather than
// only the current crawl.
func IsProcessFatal(err error) bool {
	return errors.Is(err, ErrStoreInit)
}
