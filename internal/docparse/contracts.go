package docparse

import "context"

// Table is one detected table region: a header row plus data rows.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// ParsedDocument is the canonical representation of a document: plain text
// plus ordered detected table regions. Produced once per document and owned
// by the processing run; it is never persisted.
type ParsedDocument struct {
	Text       string  `json:"text"`
	Markdown   string  `json:"markdown"`
	Tables     []Table `json:"tables"`
	Confidence float64 `json:"confidence"`
}

// Content returns the primary content for pattern extraction, preferring
// markdown when the parser produced it.
func (d *ParsedDocument) Content() string {
	if d.Markdown != "" {
		return d.Markdown
	}
	return d.Text
}

// LayoutParser converts raw document bytes into the canonical representation.
type LayoutParser interface {
	Parse(ctx context.Context, data []byte, mimeType string) (*ParsedDocument, error)
	// Available reports whether the parser can currently serve requests.
	Available(ctx context.Context) bool
}
