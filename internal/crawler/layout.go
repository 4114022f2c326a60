package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Layout holds the CSS selectors that locate the catalog controls. Row-level
// selectors are evaluated relative to a row element.
type Layout struct {
	DisclaimerButton string `mapstructure:"disclaimer_button"`
	ActivePage       string `mapstructure:"active_page"`
	Rows             string `mapstructure:"rows"`
	Identifier       string `mapstructure:"identifier"`
	// DocumentLink and DocumentDate are format strings taking the 1-based
	// column index of a category.
	DocumentLink        string `mapstructure:"document_link"`
	DocumentDate        string `mapstructure:"document_date"`
	FirstDocumentColumn int    `mapstructure:"first_document_column"`
	NextButton          string `mapstructure:"next_button"`
	DisabledClass       string `mapstructure:"disabled_class"`
}

// DefaultLayout returns the selectors of the HANSAINVEST download center.
func DefaultLayout() Layout {
	return Layout{
		DisclaimerButton:    "#disclaimer-modal-start > div > div > div:nth-child(3) > button",
		ActivePage:          ".paginate_button.page-item.active",
		Rows:                "#DataTables_Table_0 tbody tr",
		Identifier:          "td:nth-child(1) > a > span",
		DocumentLink:        "td:nth-child(%d) > span > a",
		DocumentDate:        "td:nth-child(%d) > span > span > span",
		FirstDocumentColumn: 2,
		NextButton:          "#DataTables_Table_0_next",
		DisabledClass:       "disabled",
	}
}

// Validate ensures every selector is present.
func (l Layout) Validate() error {
	required := map[string]string{
		"rows":          l.Rows,
		"active_page":   l.ActivePage,
		"identifier":    l.Identifier,
		"document_link": l.DocumentLink,
		"document_date": l.DocumentDate,
		"next_button":   l.NextButton,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("catalog.layout.%s is required", name)
		}
	}
	if l.FirstDocumentColumn < 1 {
		return fmt.Errorf("catalog.layout.first_document_column must be >= 1")
	}
	return nil
}

func (l Layout) linkSelector(index int) string {
	return fmt.Sprintf(l.DocumentLink, l.FirstDocumentColumn+index)
}

func (l Layout) dateSelector(index int) string {
	return fmt.Sprintf(l.DocumentDate, l.FirstDocumentColumn+index)
}

// IsDisabled reports whether a class attribute marks a control as disabled.
func (l Layout) IsDisabled(class string) bool {
	marker := l.DisabledClass
	if marker == "" {
		marker = "disabled"
	}
	for _, c := range strings.Fields(class) {
		if c == marker {
			return true
		}
	}
	return false
}

// ReadEntry reads one catalog row. A category without a link is left out of
// the entry; one whose reference or date cannot be read carries an
// ErrFieldRead slot. Relative references are resolved against base.
func (l Layout) ReadEntry(ctx context.Context, row Element, categories []Category, base *url.URL) (CatalogEntry, error) {
	identifier, err := row.Text(ctx, l.Identifier)
	if err != nil {
		return CatalogEntry{}, AttributionError(err)
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return CatalogEntry{}, AttributionError(errors.New("empty identifier"))
	}

	entry := CatalogEntry{Identifier: identifier, Documents: make(map[Category]DocumentSlot, len(categories))}
	for i, category := range categories {
		if err := ctx.Err(); err != nil {
			return CatalogEntry{}, err
		}
		href, err := row.Attribute(ctx, l.linkSelector(i), "href")
		if errors.Is(err, ErrNoElement) {
			continue
		}
		if err != nil {
			entry.Documents[category] = DocumentSlot{Err: FieldReadError(identifier, category, err)}
			continue
		}
		reference, err := resolveReference(base, href)
		if err != nil {
			entry.Documents[category] = DocumentSlot{Err: FieldReadError(identifier, category, err)}
			continue
		}
		date, err := row.Text(ctx, l.dateSelector(i))
		if err == nil && strings.TrimSpace(date) == "" {
			err = errors.New("empty effective date")
		}
		if err != nil {
			entry.Documents[category] = DocumentSlot{Reference: reference, Err: FieldReadError(identifier, category, err)}
			continue
		}
		entry.Documents[category] = DocumentSlot{Reference: reference, EffectiveDate: strings.TrimSpace(date)}
	}
	return entry, nil
}
