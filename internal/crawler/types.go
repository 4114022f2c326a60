package crawler

import (
	"net/http"
	"time"
)

// Category names one document column of the catalog (e.g. "Jahresbericht").
type Category string

// DefaultCategories is the column order of the HANSAINVEST download center.
var DefaultCategories = []Category{"Verkaufsprospekt", "Jahresbericht", "Halbjahresbericht"}

// DocumentSlot is one category cell of a catalog row.
type DocumentSlot struct {
	Reference     string
	EffectiveDate string
	// Err is set when the cell has a link but its reference or date could not
	// be read. It always wraps ErrFieldRead.
	Err error
}

// CatalogEntry is one row surfaced by the catalog. Categories without a
// download link are absent from Documents.
type CatalogEntry struct {
	Identifier string
	Documents  map[Category]DocumentSlot
}

// Slot returns the slot for category and whether the row links a document.
func (e CatalogEntry) Slot(category Category) (DocumentSlot, bool) {
	slot, ok := e.Documents[category]
	return slot, ok
}

// DocumentRecord is the persisted unit of the record log. Records are
// immutable once appended.
type DocumentRecord struct {
	Identifier    string   `json:"identifier"`
	Category      Category `json:"category"`
	EffectiveDate string   `json:"effective_date"`
	RetrievalDate string   `json:"retrieval_date"`
	Reference     string   `json:"download_reference"`
	Path          string   `json:"local_file_path"`
	Fingerprint   string   `json:"content_fingerprint"`
	Size          int64    `json:"file_size"`
}

// Stored points at content that is already on disk.
type Stored struct {
	Path        string
	Fingerprint string
}

// RunCounters tracks one crawl. Examined enforces the entry budget; the rest
// are reporting only.
type RunCounters struct {
	Examined    int `json:"examined"`
	Skipped     int `json:"skipped"`
	Fetched     int `json:"fetched"`
	Reused      int `json:"reused"`
	FieldErrors int `json:"field_errors"`
}

// Stored returns the number of records appended during the crawl.
func (c RunCounters) Stored() int {
	return c.Examined - c.Skipped
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Summary reports the outcome of one crawl.
type Summary struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	State    WalkState     `json:"state"`
	Counters RunCounters   `json:"counters"`
	Err      error         `json:"-"`
}
