package crawler

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func entryFor(identifier string, docs map[Category]DocumentSlot) CatalogEntry {
	return CatalogEntry{Identifier: identifier, Documents: docs}
}

func TestEvaluatorStoresNewDocuments(t *testing.T) {
	t.Parallel()

	fx := newFixture(200)
	fx.fetcher.bodies["https://x/a.pdf"] = []byte("aaaa")
	fx.fetcher.bodies["https://x/b.pdf"] = []byte("bbbbbb")
	entry := entryFor("DE001", map[Category]DocumentSlot{
		"Verkaufsprospekt": {Reference: "https://x/a.pdf", EffectiveDate: "01.01.2024"},
		"Jahresbericht":    {Reference: "https://x/b.pdf", EffectiveDate: "31.12.2023"},
	})

	var counters RunCounters
	more, err := fx.eval.Evaluate(context.Background(), fx.store, entry, &counters)
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, RunCounters{Examined: 2, Fetched: 2}, counters)
	require.Len(t, fx.store.records, 2)

	rec := fx.store.records[0]
	require.Equal(t, "DE001", rec.Identifier)
	require.Equal(t, Category("Verkaufsprospekt"), rec.Category)
	require.Equal(t, "01.01.2024", rec.EffectiveDate)
	require.Equal(t, "01.03.2024", rec.RetrievalDate)
	require.Equal(t, filepath.Join("/data", "FundDatabase/Hansainvest", "DE001", "a.pdf"), rec.Path)
	require.Equal(t, int64(4), rec.Size)
	require.Len(t, rec.Fingerprint, 64)
	require.True(t, fx.fs.Exists(rec.Path))
}

func TestEvaluatorIsIdempotent(t *testing.T) {
	t.Parallel()

	fx := newFixture(200)
	fx.fetcher.bodies["https://x/a.pdf"] = []byte("aaaa")
	entry := entryFor("DE001", map[Category]DocumentSlot{
		"Jahresbericht": {Reference: "https://x/a.pdf", EffectiveDate: "31.12.2023"},
	})

	var first RunCounters
	_, err := fx.eval.Evaluate(context.Background(), fx.store, entry, &first)
	require.NoError(t, err)

	var second RunCounters
	more, err := fx.eval.Evaluate(context.Background(), fx.store, entry, &second)
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, RunCounters{Examined: 1, Skipped: 1}, second)
	require.Len(t, fx.store.records, 1)
	require.Len(t, fx.fetcher.calls, 1)
	require.Equal(t, 1, fx.fs.writes)
}

func TestEvaluatorReusesSharedReference(t *testing.T) {
	t.Parallel()

	fx := newFixture(200)
	fx.fetcher.bodies["https://x/shared.pdf"] = []byte("shared")
	slot := DocumentSlot{Reference: "https://x/shared.pdf", EffectiveDate: "01.01.2024"}

	var counters RunCounters
	_, err := fx.eval.Evaluate(context.Background(), fx.store,
		entryFor("DE001", map[Category]DocumentSlot{"Verkaufsprospekt": slot}), &counters)
	require.NoError(t, err)
	_, err = fx.eval.Evaluate(context.Background(), fx.store,
		entryFor("DE002", map[Category]DocumentSlot{"Verkaufsprospekt": slot}), &counters)
	require.NoError(t, err)

	require.Len(t, fx.fetcher.calls, 1)
	require.Len(t, fx.store.records, 2)
	require.Equal(t, fx.store.records[0].Path, fx.store.records[1].Path)
	require.Equal(t, fx.store.records[0].Fingerprint, fx.store.records[1].Fingerprint)
	require.Equal(t, RunCounters{Examined: 2, Fetched: 1, Reused: 1}, counters)
}

func TestEvaluatorReusesIdenticalContent(t *testing.T) {
	t.Parallel()

	fx := newFixture(200)
	fx.fetcher.bodies["https://x/v1/report.pdf"] = []byte("same bytes")
	fx.fetcher.bodies["https://x/v2/report-copy.pdf"] = []byte("same bytes")

	var counters RunCounters
	_, err := fx.eval.Evaluate(context.Background(), fx.store, entryFor("DE001", map[Category]DocumentSlot{
		"Jahresbericht":     {Reference: "https://x/v1/report.pdf", EffectiveDate: "31.12.2023"},
		"Halbjahresbericht": {Reference: "https://x/v2/report-copy.pdf", EffectiveDate: "30.06.2023"},
	}), &counters)
	require.NoError(t, err)

	require.Len(t, fx.fetcher.calls, 2)
	require.Equal(t, 1, fx.fs.writes)
	require.Len(t, fx.store.records, 2)
	require.Equal(t, fx.store.records[0].Path, fx.store.records[1].Path)
	require.Equal(t, "https://x/v2/report-copy.pdf", fx.store.records[1].Reference)
	require.Equal(t, 1, counters.Reused)
}

func TestEvaluatorRewritesWhenIdenticalContentIsGone(t *testing.T) {
	t.Parallel()

	fx := newFixture(200)
	fx.fetcher.bodies["https://x/new.pdf"] = []byte("same bytes")
	fp, err := testHasher{}.Hash([]byte("same bytes"))
	require.NoError(t, err)
	fx.store.records = append(fx.store.records, DocumentRecord{
		Identifier: "DE009", Reference: "https://x/old.pdf", Path: "/data/gone.pdf", Fingerprint: fp,
	})

	var counters RunCounters
	_, err = fx.eval.Evaluate(context.Background(), fx.store, entryFor("DE001", map[Category]DocumentSlot{
		"Jahresbericht": {Reference: "https://x/new.pdf", EffectiveDate: "31.12.2023"},
	}), &counters)
	require.NoError(t, err)
	require.Equal(t, 1, fx.fs.writes)
	require.Equal(t, 1, counters.Fetched)
	require.NotEqual(t, "/data/gone.pdf", fx.store.records[1].Path)
}

func TestEvaluatorKeepsDocumentsSharingAFileName(t *testing.T) {
	t.Parallel()

	fx := newFixture(200)
	fx.fetcher.bodies["https://x/2023/jahresbericht.pdf"] = []byte("report 2023")
	fx.fetcher.bodies["https://x/2024/jahresbericht.pdf"] = []byte("report 2024")
	fx.fetcher.bodies["https://x/2025/jahresbericht.pdf"] = []byte("prospectus 2025")

	var counters RunCounters
	_, err := fx.eval.Evaluate(context.Background(), fx.store, entryFor("DE001", map[Category]DocumentSlot{
		"Jahresbericht":     {Reference: "https://x/2023/jahresbericht.pdf", EffectiveDate: "31.12.2023"},
		"Halbjahresbericht": {Reference: "https://x/2024/jahresbericht.pdf", EffectiveDate: "30.06.2024"},
		"Verkaufsprospekt":  {Reference: "https://x/2025/jahresbericht.pdf", EffectiveDate: "01.01.2025"},
	}), &counters)
	require.NoError(t, err)
	require.Equal(t, 3, counters.Fetched)
	require.Len(t, fx.store.records, 3)

	seen := map[string]bool{}
	for _, rec := range fx.store.records {
		require.False(t, seen[rec.Path], "path %s stored twice", rec.Path)
		seen[rec.Path] = true
		require.Equal(t, fx.fetcher.bodies[rec.Reference], fx.fs.files[filepath.Clean(rec.Path)], rec.Reference)
	}
	require.Len(t, fx.fs.files, 3)
	require.Contains(t, seen, filepath.Join("/data", "FundDatabase/Hansainvest", "DE001", "jahresbericht.pdf"))
}

func TestEvaluatorBudget(t *testing.T) {
	t.Parallel()

	fx := newFixture(1)
	fx.fetcher.bodies["https://x/a.pdf"] = []byte("a")
	fx.fetcher.bodies["https://x/b.pdf"] = []byte("b")
	entry := entryFor("DE001", map[Category]DocumentSlot{
		"Verkaufsprospekt": {Reference: "https://x/a.pdf", EffectiveDate: "01.01.2024"},
		"Jahresbericht":    {Reference: "https://x/b.pdf", EffectiveDate: "31.12.2023"},
	})

	var counters RunCounters
	more, err := fx.eval.Evaluate(context.Background(), fx.store, entry, &counters)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, 1, counters.Examined)
	require.Len(t, fx.store.records, 1)
	require.Equal(t, "https://x/a.pdf", fx.store.records[0].Reference)
	require.True(t, fx.eval.Exhausted(counters))
}

func TestEvaluatorSkippedCountsAgainstBudget(t *testing.T) {
	t.Parallel()

	fx := newFixture(2)
	fx.store.records = []DocumentRecord{
		{Identifier: "DE001", Reference: "https://x/a.pdf"},
		{Identifier: "DE001", Reference: "https://x/b.pdf"},
	}
	entry := entryFor("DE001", map[Category]DocumentSlot{
		"Verkaufsprospekt":  {Reference: "https://x/a.pdf", EffectiveDate: "01.01.2024"},
		"Jahresbericht":     {Reference: "https://x/b.pdf", EffectiveDate: "31.12.2023"},
		"Halbjahresbericht": {Reference: "https://x/c.pdf", EffectiveDate: "30.06.2023"},
	})

	var counters RunCounters
	more, err := fx.eval.Evaluate(context.Background(), fx.store, entry, &counters)
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, RunCounters{Examined: 2, Skipped: 2}, counters)
	require.Empty(t, fx.fetcher.calls)
	require.Equal(t, 0, counters.Stored())
}

func TestEvaluatorFieldErrorsDoNotCountAgainstBudget(t *testing.T) {
	t.Parallel()

	fx := newFixture(1)
	fx.fetcher.bodies["https://x/b.pdf"] = []byte("b")
	entry := entryFor("DE001", map[Category]DocumentSlot{
		"Verkaufsprospekt": {Err: FieldReadError("DE001", "Verkaufsprospekt", errors.New("no date"))},
		"Jahresbericht":    {Reference: "https://x/b.pdf", EffectiveDate: "31.12.2023"},
	})

	var counters RunCounters
	more, err := fx.eval.Evaluate(context.Background(), fx.store, entry, &counters)
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, RunCounters{Examined: 1, Fetched: 1, FieldErrors: 1}, counters)
	require.Len(t, fx.store.records, 1)
}

func TestEvaluatorFailures(t *testing.T) {
	t.Parallel()

	slot := DocumentSlot{Reference: "https://x/a.pdf", EffectiveDate: "01.01.2024"}
	entry := entryFor("DE001", map[Category]DocumentSlot{"Verkaufsprospekt": slot})

	tests := []struct {
		name    string
		prepare func(fx *fixture)
		kind    error
	}{
		{
			name:    "non 2xx",
			prepare: func(fx *fixture) {},
			kind:    ErrFetch,
		},
		{
			name: "server error status",
			prepare: func(fx *fixture) {
				fx.fetcher.bodies[slot.Reference] = []byte("oops")
				fx.fetcher.status = http.StatusInternalServerError
			},
			kind: ErrFetch,
		},
		{
			name: "transport",
			prepare: func(fx *fixture) {
				fx.fetcher.err = errors.New("connection reset")
			},
			kind: ErrFetch,
		},
		{
			name: "write",
			prepare: func(fx *fixture) {
				fx.fetcher.bodies[slot.Reference] = []byte("a")
				fx.fs.writeErr = errors.New("disk full")
			},
			kind: ErrPersist,
		},
		{
			name: "reused file missing",
			prepare: func(fx *fixture) {
				fx.store.records = []DocumentRecord{{Identifier: "DE002", Reference: slot.Reference, Path: "/data/missing.pdf"}}
			},
			kind: ErrPersist,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fx := newFixture(200)
			tt.prepare(fx)
			var counters RunCounters
			_, err := fx.eval.Evaluate(context.Background(), fx.store, entry, &counters)
			require.ErrorIs(t, err, tt.kind)
			require.False(t, fx.store.Exists("DE001", slot.Reference))
		})
	}
}

func TestEvaluatorAppendFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(200)
	fx.fetcher.bodies["https://x/a.pdf"] = []byte("a")
	fx.store.appendErr = PersistError("log.csv", errors.New("read-only"))

	var counters RunCounters
	_, err := fx.eval.Evaluate(context.Background(), fx.store, entryFor("DE001", map[Category]DocumentSlot{
		"Verkaufsprospekt": {Reference: "https://x/a.pdf", EffectiveDate: "01.01.2024"},
	}), &counters)
	require.ErrorIs(t, err, ErrPersist)
}

func TestEvaluatorFanOut(t *testing.T) {
	t.Parallel()

	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("db down")}
	blobs := &recordingBlobs{}
	fx := newFixture(200, WithSinks(bad, nil, good), WithBlobMirror(blobs))
	fx.fetcher.bodies["https://x/a.pdf"] = []byte("%PDF-1.4")
	slot := DocumentSlot{Reference: "https://x/a.pdf", EffectiveDate: "01.01.2024"}

	var counters RunCounters
	_, err := fx.eval.Evaluate(context.Background(), fx.store,
		entryFor("DE001", map[Category]DocumentSlot{"Verkaufsprospekt": slot}), &counters)
	require.NoError(t, err)
	_, err = fx.eval.Evaluate(context.Background(), fx.store,
		entryFor("DE002", map[Category]DocumentSlot{"Verkaufsprospekt": slot}), &counters)
	require.NoError(t, err)

	require.Len(t, good.records, 2)
	require.Len(t, bad.records, 2)
	require.Equal(t, []string{"FundDatabase/Hansainvest/DE001/a.pdf"}, blobs.keys)
}

func TestNewEvaluatorValidation(t *testing.T) {
	t.Parallel()

	content := NewContentFetcher(&fakeFetcher{}, testHasher{}, newMemFS())
	clock := fixedClock{t: testNow}
	valid := EvaluatorConfig{Categories: DefaultCategories, MaxEntries: 1}

	_, err := NewEvaluator(valid, nil, clock, nil)
	require.Error(t, err)
	_, err = NewEvaluator(valid, content, nil, nil)
	require.Error(t, err)
	_, err = NewEvaluator(EvaluatorConfig{MaxEntries: 1}, content, clock, nil)
	require.Error(t, err)
	_, err = NewEvaluator(EvaluatorConfig{Categories: DefaultCategories}, content, clock, nil)
	require.Error(t, err)

	eval, err := NewEvaluator(valid, content, clock, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultDateLayout, eval.cfg.DateLayout)
}
