// Package recordlog implements the durable record log: a header-first CSV
// file that is only ever appended to, plus the in-memory indexes rebuilt from
// it when a crawl starts.
package recordlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/fund-document-crawler/internal/crawler"
)

// Column names of the record log.
const (
	ColIdentifier    = "ISIN"
	ColCategory      = "DocumentType"
	ColEffectiveDate = "EffectiveDate"
	ColRetrievalDate = "DownloadDate"
	ColReference     = "DownloadUrl"
	ColPath          = "FilePath"
	ColFingerprint   = "ContentHash"
	ColSize          = "FileSize"

	// legacyFingerprint is accepted in place of ColFingerprint when loading.
	legacyFingerprint = "MD5Hash"
)

// Header is the column order written to a new log.
var Header = []string{
	ColIdentifier, ColCategory, ColEffectiveDate, ColRetrievalDate,
	ColReference, ColPath, ColFingerprint, ColSize,
}

// ErrDuplicate is returned by Append for an already recorded
// (identifier, reference) pair.
var ErrDuplicate = errors.New("record already exists")

type key struct {
	identifier string
	reference  string
}

// Store is an opened record log. It implements crawler.RecordStore.
type Store struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *zap.Logger

	columns      map[string]int
	width        int
	needsNewline bool

	keys          map[key]struct{}
	byReference   map[string]crawler.Stored
	byFingerprint map[string]crawler.Stored
	count         int
}

// Open loads the log at path, creating it with a header if it is missing.
// Failures are reported as crawler.ErrStoreInit.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, crawler.StoreInitError(path, errors.New("path is required"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:          path,
		logger:        logger,
		keys:          map[key]struct{}{},
		byReference:   map[string]crawler.Stored{},
		byFingerprint: map[string]crawler.Stored{},
	}
	if err := s.load(); err != nil {
		return nil, crawler.StoreInitError(path, err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, crawler.StoreInitError(path, err)
	}
	s.file = file
	logger.Debug("record log loaded", zap.String("path", path), zap.Int("records", s.count))
	return s, nil
}

func (s *Store) load() error {
	// #nosec G304 -- the log path comes from operator configuration.
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(bytes.TrimSpace(data)) == 0) {
		return s.create()
	}
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	s.needsNewline = data[len(data)-1] != '\n'
	lines := strings.Split(string(data), "\n")
	headerSeen := false
	for n, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := parseLine(line)
		if !headerSeen {
			if err != nil {
				return fmt.Errorf("parse header: %w", err)
			}
			if err := s.setColumns(fields); err != nil {
				return err
			}
			headerSeen = true
			continue
		}
		if err != nil {
			s.logger.Warn("skipping malformed record", zap.Int("line", n+1), zap.Error(err))
			continue
		}
		record, err := s.decode(fields)
		if err != nil {
			s.logger.Warn("skipping malformed record", zap.Int("line", n+1), zap.Error(err))
			continue
		}
		s.index(record)
	}
	return nil
}

func (s *Store) create() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	// #nosec G304 -- the log path comes from operator configuration.
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			s.logger.Warn("close new record log", zap.Error(cerr))
		}
	}()
	if _, err := file.Write(encodeLine(Header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync header: %w", err)
	}
	return s.setColumns(Header)
}

func (s *Store) setColumns(header []string) error {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == legacyFingerprint {
			name = ColFingerprint
		}
		columns[name] = i
	}
	for _, name := range Header {
		if _, ok := columns[name]; !ok {
			return fmt.Errorf("header is missing column %q", name)
		}
	}
	s.columns = columns
	s.width = len(header)
	return nil
}

func (s *Store) decode(fields []string) (crawler.DocumentRecord, error) {
	if len(fields) != s.width {
		return crawler.DocumentRecord{}, fmt.Errorf("expected %d fields, got %d", s.width, len(fields))
	}
	get := func(name string) string { return fields[s.columns[name]] }
	size, err := strconv.ParseInt(strings.TrimSpace(get(ColSize)), 10, 64)
	if err != nil {
		return crawler.DocumentRecord{}, fmt.Errorf("parse file size: %w", err)
	}
	record := crawler.DocumentRecord{
		Identifier:    get(ColIdentifier),
		Category:      crawler.Category(get(ColCategory)),
		EffectiveDate: get(ColEffectiveDate),
		RetrievalDate: get(ColRetrievalDate),
		Reference:     get(ColReference),
		Path:          get(ColPath),
		Fingerprint:   get(ColFingerprint),
		Size:          size,
	}
	if record.Identifier == "" || record.Reference == "" {
		return crawler.DocumentRecord{}, errors.New("identifier and download url are required")
	}
	return record, nil
}

func (s *Store) encode(record crawler.DocumentRecord) []byte {
	fields := make([]string, s.width)
	fields[s.columns[ColIdentifier]] = record.Identifier
	fields[s.columns[ColCategory]] = string(record.Category)
	fields[s.columns[ColEffectiveDate]] = record.EffectiveDate
	fields[s.columns[ColRetrievalDate]] = record.RetrievalDate
	fields[s.columns[ColReference]] = record.Reference
	fields[s.columns[ColPath]] = record.Path
	fields[s.columns[ColFingerprint]] = record.Fingerprint
	fields[s.columns[ColSize]] = strconv.FormatInt(record.Size, 10)
	return encodeLine(fields)
}

func (s *Store) index(record crawler.DocumentRecord) {
	s.keys[key{record.Identifier, record.Reference}] = struct{}{}
	stored := crawler.Stored{Path: record.Path, Fingerprint: record.Fingerprint}
	if _, ok := s.byReference[record.Reference]; !ok {
		s.byReference[record.Reference] = stored
	}
	if record.Fingerprint != "" {
		if _, ok := s.byFingerprint[record.Fingerprint]; !ok {
			s.byFingerprint[record.Fingerprint] = stored
		}
	}
	s.count++
}

// Exists reports whether (identifier, reference) is recorded.
func (s *Store) Exists(identifier, reference string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key{singleLine(identifier), singleLine(reference)}]
	return ok
}

// FindByReference returns the first record seen for reference.
func (s *Store) FindByReference(reference string) (crawler.Stored, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byReference[singleLine(reference)]
	return stored, ok
}

// FindByFingerprint returns the first record seen with fingerprint.
func (s *Store) FindByFingerprint(fingerprint string) (crawler.Stored, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byFingerprint[fingerprint]
	return stored, ok
}

// Len returns the number of indexed records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Append writes record as one line, syncs it, and only then indexes it.
// Line breaks inside fields are stored as spaces.
func (s *Store) Append(ctx context.Context, record crawler.DocumentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record = flattenRecord(record)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return crawler.PersistError(s.path, os.ErrClosed)
	}
	if _, ok := s.keys[key{record.Identifier, record.Reference}]; ok {
		return fmt.Errorf("%w: %s %s", ErrDuplicate, record.Identifier, record.Reference)
	}
	line := s.encode(record)
	if s.needsNewline {
		line = append([]byte{'\n'}, line...)
	}
	if _, err := s.file.Write(line); err != nil {
		return crawler.PersistError(s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return crawler.PersistError(s.path, err)
	}
	s.needsNewline = false
	s.index(record)
	return nil
}

// Close releases the file handle. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close record log: %w", err)
	}
	return nil
}

// parseLine decodes one CSV line. Every line is parsed on its own so a torn
// line cannot swallow the ones after it.
func parseLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("parse line: %w", err)
	}
	return fields, nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// singleLine replaces line breaks with spaces. load reads the log one line at
// a time, so a field must never span lines.
func singleLine(v string) string {
	return lineBreaks.Replace(v)
}

func flattenRecord(r crawler.DocumentRecord) crawler.DocumentRecord {
	r.Identifier = singleLine(r.Identifier)
	r.Category = crawler.Category(singleLine(string(r.Category)))
	r.EffectiveDate = singleLine(r.EffectiveDate)
	r.RetrievalDate = singleLine(r.RetrievalDate)
	r.Reference = singleLine(r.Reference)
	r.Path = singleLine(r.Path)
	r.Fingerprint = singleLine(r.Fingerprint)
	return r
}

// encodeLine quotes every field, which encoding/csv.Writer does not offer.
func encodeLine(fields []string) []byte {
	var b bytes.Buffer
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// Opener opens the log at Path for every crawl. It implements
// crawler.StoreOpener.
type Opener struct {
	Path   string
	Logger *zap.Logger
}

// OpenStore loads the log.
func (o Opener) OpenStore(ctx context.Context) (crawler.RecordStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Open(o.Path, o.Logger)
}
