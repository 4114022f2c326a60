package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/fund-document-crawler/internal/metrics"
)

// DefaultDateLayout renders retrieval dates as DD.MM.YYYY.
const DefaultDateLayout = "02.01.2006"

// RowEvaluator decides, per category of a row, whether to skip, reuse, or
// download. Evaluate returns false once the entry budget is exhausted.
type RowEvaluator interface {
	Evaluate(ctx context.Context, store RecordStore, entry CatalogEntry, counters *RunCounters) (bool, error)
	Exhausted(counters RunCounters) bool
}

// EvaluatorConfig controls evaluation.
type EvaluatorConfig struct {
	Categories   []Category
	MaxEntries   int
	Root         string
	DocumentsDir string
	DateLayout   string
}

// Evaluator is the default RowEvaluator.
type Evaluator struct {
	cfg     EvaluatorConfig
	content *ContentFetcher
	clock   Clock
	sinks   []RecordSink
	blobs   BlobStore
	logger  *zap.Logger
}

// EvaluatorOption customizes an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithSinks registers sinks that receive each appended record.
func WithSinks(sinks ...RecordSink) EvaluatorOption {
	return func(e *Evaluator) {
		for _, s := range sinks {
			if s != nil {
				e.sinks = append(e.sinks, s)
			}
		}
	}
}

// WithBlobMirror mirrors freshly persisted documents to blobs.
func WithBlobMirror(blobs BlobStore) EvaluatorOption {
	return func(e *Evaluator) {
		e.blobs = blobs
	}
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(cfg EvaluatorConfig, content *ContentFetcher, clock Clock, logger *zap.Logger, opts ...EvaluatorOption) (*Evaluator, error) {
	if content == nil {
		return nil, errors.New("content fetcher is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if len(cfg.Categories) == 0 {
		return nil, errors.New("at least one category is required")
	}
	if cfg.MaxEntries <= 0 {
		return nil, errors.New("max entries must be > 0")
	}
	if cfg.DateLayout == "" {
		cfg.DateLayout = DefaultDateLayout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{cfg: cfg, content: content, clock: clock, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Exhausted reports whether the entry budget is used up.
func (e *Evaluator) Exhausted(counters RunCounters) bool {
	return counters.Examined >= e.cfg.MaxEntries
}

// Evaluate processes every configured category of entry in order.
func (e *Evaluator) Evaluate(ctx context.Context, store RecordStore, entry CatalogEntry, counters *RunCounters) (bool, error) {
	for _, category := range e.cfg.Categories {
		if e.Exhausted(*counters) {
			return false, nil
		}
		log := e.logger.With(zap.String("isin", entry.Identifier), zap.String("category", string(category)))

		slot, ok := entry.Slot(category)
		if !ok {
			log.Debug("no document linked")
			continue
		}
		if slot.Err != nil {
			log.Warn("skipping unreadable document", zap.Error(slot.Err))
			counters.FieldErrors++
			metrics.ObserveFieldError(string(category))
			continue
		}

		counters.Examined++
		metrics.ObserveExamined(string(category))
		if store.Exists(entry.Identifier, slot.Reference) {
			log.Debug("already recorded", zap.String("url", slot.Reference))
			counters.Skipped++
			metrics.ObserveSkipped(string(category))
			continue
		}
		if err := e.store(ctx, store, entry.Identifier, category, slot, counters, log); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (e *Evaluator) store(
	ctx context.Context,
	store RecordStore,
	identifier string,
	category Category,
	slot DocumentSlot,
	counters *RunCounters,
	log *zap.Logger,
) error {
	var (
		stored Stored
		size   int64
		data   []byte
		err    error
	)
	if prior, ok := store.FindByReference(slot.Reference); ok {
		size, err = e.content.Size(prior.Path)
		if err != nil {
			return err
		}
		stored = prior
		counters.Reused++
		metrics.ObserveReused("reference")
		log.Debug("reusing download", zap.String("url", slot.Reference), zap.String("path", prior.Path))
	} else {
		stored, size, data, err = e.download(ctx, store, identifier, slot.Reference, counters, log)
		if err != nil {
			return err
		}
	}

	record := DocumentRecord{
		Identifier:    identifier,
		Category:      category,
		EffectiveDate: slot.EffectiveDate,
		RetrievalDate: e.clock.Now().Format(e.cfg.DateLayout),
		Reference:     slot.Reference,
		Path:          stored.Path,
		Fingerprint:   stored.Fingerprint,
		Size:          size,
	}
	if err := store.Append(ctx, record); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	log.Info("document recorded", zap.String("path", record.Path), zap.Int64("size", size))
	e.fanOut(ctx, record, data, log)
	return nil
}

// download fetches reference and writes it unless byte-identical content is
// already on disk. data is non-nil only when new bytes were written.
func (e *Evaluator) download(
	ctx context.Context,
	store RecordStore,
	identifier string,
	reference string,
	counters *RunCounters,
	log *zap.Logger,
) (Stored, int64, []byte, error) {
	body, err := e.content.Fetch(ctx, reference)
	if err != nil {
		return Stored{}, 0, nil, err
	}
	fingerprint, err := e.content.Fingerprint(body)
	if err != nil {
		return Stored{}, 0, nil, err
	}
	if prior, ok := store.FindByFingerprint(fingerprint); ok && e.content.OnDisk(prior.Path) {
		size, err := e.content.Size(prior.Path)
		if err != nil {
			return Stored{}, 0, nil, err
		}
		counters.Reused++
		metrics.ObserveReused("fingerprint")
		log.Debug("identical content already stored", zap.String("url", reference), zap.String("path", prior.Path))
		return prior, size, nil, nil
	}

	dest := documentPath(e.cfg.Root, e.cfg.DocumentsDir, identifier, reference, fingerprint)
	if e.content.OnDisk(dest) {
		// Another document already owns the name and its bytes differ,
		// otherwise the fingerprint lookup above would have matched.
		dest = disambiguate(dest, fingerprint)
		log.Debug("file name taken, storing under fingerprint suffix", zap.String("path", dest))
	}
	size, err := e.content.Persist(ctx, body, dest)
	if err != nil {
		return Stored{}, 0, nil, err
	}
	counters.Fetched++
	metrics.ObserveDownload(size)
	return Stored{Path: dest, Fingerprint: fingerprint}, size, body, nil
}

func (e *Evaluator) fanOut(ctx context.Context, record DocumentRecord, data []byte, log *zap.Logger) {
	for _, sink := range e.sinks {
		if err := sink.Record(ctx, record); err != nil {
			log.Warn("record sink failed", zap.Error(err))
		}
	}
	if e.blobs == nil || data == nil {
		return
	}
	uri, err := e.blobs.PutObject(ctx, blobKey(e.cfg.Root, record.Path), http.DetectContentType(data), bytes.NewReader(data))
	if err != nil {
		log.Warn("blob mirror failed", zap.Error(err))
		return
	}
	log.Debug("document mirrored", zap.String("uri", uri))
}
