package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"
)

const testCatalogURL = "https://funds.example.com/de/download-center"

// fakeElement answers scoped reads from fixed maps. Attributes are keyed by
// "selector@name".
type fakeElement struct {
	texts map[string]string
	attrs map[string]string
	err   error
}

func (e *fakeElement) Text(_ context.Context, selector string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	v, ok := e.texts[selector]
	if !ok {
		return "", ErrNoElement
	}
	return v, nil
}

func (e *fakeElement) Attribute(_ context.Context, selector, name string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	v, ok := e.attrs[selector+"@"+name]
	if !ok {
		return "", ErrNoElement
	}
	return v, nil
}

type doc struct {
	href string
	date string
}

// row builds a catalog row using the default layout; docs are indexed by
// category position and nil entries have no link.
func row(identifier string, docs ...*doc) *fakeElement {
	l := DefaultLayout()
	el := &fakeElement{texts: map[string]string{}, attrs: map[string]string{}}
	if identifier != "" {
		el.texts[l.Identifier] = identifier
	}
	for i, d := range docs {
		if d == nil {
			continue
		}
		el.attrs[l.linkSelector(i)+"@href"] = d.href
		if d.date != "" {
			el.texts[l.dateSelector(i)] = d.date
		}
	}
	return el
}

// fakeNavigator serves a fixed set of catalog pages.
type fakeNavigator struct {
	mu            sync.Mutex
	layout        Layout
	pages         [][]Element
	current       int
	disclaimer    bool
	accepted      bool
	pageMissing   bool
	nextMissing   bool
	navigateErr   error
	navigated     []string
	clicks        []string
	onClickCancel context.CancelFunc
	closed        bool
}

func newFakeNavigator(pages ...[]Element) *fakeNavigator {
	return &fakeNavigator{layout: DefaultLayout(), pages: pages, disclaimer: true}
}

func (n *fakeNavigator) Navigate(_ context.Context, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.navigated = append(n.navigated, url)
	return n.navigateErr
}

func (n *fakeNavigator) WaitPresent(_ context.Context, selector string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch selector {
	case n.layout.DisclaimerButton:
		if !n.disclaimer || n.accepted {
			return errors.New("timeout waiting for disclaimer")
		}
	case n.layout.ActivePage:
		if n.pageMissing {
			return errors.New("timeout waiting for page")
		}
	case n.layout.NextButton:
		if n.nextMissing {
			return errors.New("timeout waiting for next")
		}
	}
	return nil
}

func (n *fakeNavigator) Click(_ context.Context, selector string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clicks = append(n.clicks, selector)
	switch selector {
	case n.layout.DisclaimerButton:
		n.accepted = true
	case n.layout.NextButton:
		n.current++
		if n.onClickCancel != nil {
			n.onClickCancel()
		}
	}
	return nil
}

func (n *fakeNavigator) Text(_ context.Context, selector string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if selector == n.layout.ActivePage {
		return fmt.Sprintf(" %d ", n.current+1), nil
	}
	return "", ErrNoElement
}

func (n *fakeNavigator) Attribute(_ context.Context, selector, name string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if selector == n.layout.NextButton && name == "class" {
		if n.current >= len(n.pages)-1 {
			return "paginate_button page-item next disabled", nil
		}
		return "paginate_button page-item next", nil
	}
	return "", ErrNoElement
}

func (n *fakeNavigator) List(_ context.Context, selector string) ([]Element, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if selector != n.layout.Rows || n.current >= len(n.pages) {
		return nil, nil
	}
	return n.pages[n.current], nil
}

func (n *fakeNavigator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

// memStore is an in-memory RecordStore.
type memStore struct {
	records   []DocumentRecord
	appendErr error
	closed    bool
}

func (s *memStore) Exists(identifier, reference string) bool {
	for _, r := range s.records {
		if r.Identifier == identifier && r.Reference == reference {
			return true
		}
	}
	return false
}

func (s *memStore) FindByReference(reference string) (Stored, bool) {
	for _, r := range s.records {
		if r.Reference == reference {
			return Stored{Path: r.Path, Fingerprint: r.Fingerprint}, true
		}
	}
	return Stored{}, false
}

func (s *memStore) FindByFingerprint(fingerprint string) (Stored, bool) {
	for _, r := range s.records {
		if r.Fingerprint == fingerprint {
			return Stored{Path: r.Path, Fingerprint: r.Fingerprint}, true
		}
	}
	return Stored{}, false
}

func (s *memStore) Append(_ context.Context, record DocumentRecord) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	if s.Exists(record.Identifier, record.Reference) {
		return errors.New("duplicate record")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memStore) Len() int { return len(s.records) }

func (s *memStore) Close() error {
	s.closed = true
	return nil
}

type storeOpener struct {
	store *memStore
	err   error
}

func (o *storeOpener) OpenStore(context.Context) (RecordStore, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.store, nil
}

// fakeFetcher serves bodies by URL.
type fakeFetcher struct {
	bodies map[string][]byte
	status int
	err    error
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (FetchResponse, error) {
	f.calls = append(f.calls, url)
	if f.err != nil {
		return FetchResponse{}, f.err
	}
	body, ok := f.bodies[url]
	if !ok {
		return FetchResponse{URL: url, StatusCode: http.StatusNotFound}, nil
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return FetchResponse{URL: url, StatusCode: status, Body: body}, nil
}

// memFS is an in-memory FileSystem.
type memFS struct {
	files    map[string][]byte
	writeErr error
	writes   int
}

func newMemFS() *memFS {
	return &memFS{files: map[string][]byte{}}
}

func (m *memFS) EnsureParentDirs(string) error { return nil }

func (m *memFS) WriteFile(path string, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.files[filepath.Clean(path)] = append([]byte(nil), data...)
	return nil
}

func (m *memFS) FileSize(path string) (int64, error) {
	data, ok := m.files[filepath.Clean(path)]
	if !ok {
		return 0, errors.New("no such file")
	}
	return int64(len(data)), nil
}

func (m *memFS) Exists(path string) bool {
	_, ok := m.files[filepath.Clean(path)]
	return ok
}

type testHasher struct{}

func (testHasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type recordingSink struct {
	records []DocumentRecord
	err     error
}

func (s *recordingSink) Record(_ context.Context, record DocumentRecord) error {
	s.records = append(s.records, record)
	return s.err
}

type recordingBlobs struct {
	keys []string
	err  error
}

func (b *recordingBlobs) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	b.keys = append(b.keys, path)
	if b.err != nil {
		return "", b.err
	}
	return "gs://bucket/" + path, nil
}

var testNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	fetcher *fakeFetcher
	fs      *memFS
	store   *memStore
	eval    *Evaluator
}

func newFixture(maxEntries int, opts ...EvaluatorOption) *fixture {
	fx := &fixture{
		fetcher: &fakeFetcher{bodies: map[string][]byte{}},
		fs:      newMemFS(),
		store:   &memStore{},
	}
	content := NewContentFetcher(fx.fetcher, testHasher{}, fx.fs)
	eval, err := NewEvaluator(EvaluatorConfig{
		Categories:   DefaultCategories,
		MaxEntries:   maxEntries,
		Root:         "/data",
		DocumentsDir: "FundDatabase/Hansainvest",
	}, content, fixedClock{t: testNow}, nil, opts...)
	if err != nil {
		panic(err)
	}
	fx.eval = eval
	return fx
}
