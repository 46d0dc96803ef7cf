package docparse

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/egtimer/invoice-ai-processor/internal/common"
)

// NativeParser extracts text without the external service. It handles
// text-native PDFs and DOCX; scanned images need the external parser and
// fail here with ErrParseFailure.
type NativeParser struct {
	logger *slog.Logger
}

func NewNativeParser(logger *slog.Logger) *NativeParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &NativeParser{logger: logger}
}

func (p *NativeParser) Parse(_ context.Context, data []byte, mimeType string) (*ParsedDocument, error) {
	var (
		text string
		err  error
	)
	switch {
	case strings.HasPrefix(mimeType, "application/pdf"):
		text, err = extractPDF(data)
	case strings.Contains(mimeType, "wordprocessingml"):
		text, err = extractDOCX(data)
	case strings.HasPrefix(mimeType, "image/"):
		err = fmt.Errorf("%w: image OCR requires the layout parser service", common.ErrParseFailure)
	default:
		// best effort: treat as plain text
		text = string(data)
	}
	if err != nil {
		p.logger.Warn("docparse.native.failed", "mime", mimeType, "error", err)
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: no text extracted", common.ErrParseFailure)
	}

	tables := DetectTables(text)
	doc := &ParsedDocument{
		Text:       text,
		Tables:     tables,
		Confidence: heuristicConfidence(text, len(tables)),
	}
	p.logger.Info("docparse.native.ok",
		"mime", mimeType,
		"text_len", len(text),
		"tables", len(tables),
		"confidence", doc.Confidence,
	)
	return doc, nil
}

// Available is always true: the native parser has no external dependency.
func (p *NativeParser) Available(_ context.Context) bool { return true }

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrParseFailure, err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("%w: no text in pdf", common.ErrParseFailure)
	}
	return out, nil
}

type wordDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    struct {
		Paragraphs []struct {
			Runs []struct {
				Text string `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: read docx: %v", common.ErrParseFailure, err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("%w: document.xml not found", common.ErrParseFailure)
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open document.xml: %v", common.ErrParseFailure, err)
	}
	defer rc.Close()

	xmlData, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("%w: read document.xml: %v", common.ErrParseFailure, err)
	}

	var doc wordDocument
	if err := xml.Unmarshal(xmlData, &doc); err != nil {
		return "", fmt.Errorf("%w: parse document.xml: %v", common.ErrParseFailure, err)
	}

	var b strings.Builder
	for _, para := range doc.Body.Paragraphs {
		for _, run := range para.Runs {
			b.WriteString(run.Text)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

var tableSeparator = regexp.MustCompile(`^\s*\|?[\s:|-]+\|?\s*$`)

// DetectTables scans text for pipe-delimited (markdown style) table blocks.
// The first row of each block is the header; separator rows are skipped.
func DetectTables(text string) []Table {
	var tables []Table
	var current *Table

	flush := func() {
		if current != nil && len(current.Rows) > 0 {
			tables = append(tables, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.Count(trimmed, "|") < 2 {
			flush()
			continue
		}
		if tableSeparator.MatchString(trimmed) {
			continue
		}
		cells := splitRow(trimmed)
		if len(cells) == 0 {
			flush()
			continue
		}
		if current == nil {
			current = &Table{Headers: cells}
			continue
		}
		current.Rows = append(current.Rows, cells)
	}
	flush()
	return tables
}

func splitRow(line string) []string {
	line = strings.Trim(line, "|")
	parts := strings.Split(line, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	// drop fully empty rows
	empty := true
	for _, c := range cells {
		if c != "" {
			empty = false
			break
		}
	}
	if empty {
		return nil
	}
	return cells
}

var (
	reDate   = regexp.MustCompile(`\b\d{1,4}[-/.]\d{1,2}[-/.]\d{2,4}\b`)
	reCurr   = regexp.MustCompile(`\b(eur|usd|gbp)\b|[$£€]`)
	reAmount = regexp.MustCompile(`\b\d{1,3}(\.\d{3})*(,\d{2})\b|\b\d+[.,]\d{2}\b`)
)

// naive heuristic confidence based on decoded text characteristics
func heuristicConfidence(txt string, tables int) float64 {
	txtL := strings.ToLower(txt)
	score := 0.3 // base for native text extraction
	if reDate.MatchString(txtL) {
		score += 0.2
	}
	if reCurr.MatchString(txtL) {
		score += 0.15
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if len(txt) > 120 {
		score += 0.1
	}
	if tables > 0 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
