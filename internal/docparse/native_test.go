package docparse

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/egtimer/invoice-ai-processor/internal/common"
)

func buildDOCX(t *testing.T, paragraphs []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	var body strings.Builder
	body.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString("<w:p><w:r><w:t>")
		if err := xmlEscape(&body, p); err != nil {
			t.Fatal(err)
		}
		body.WriteString("</w:t></w:r></w:p>")
	}
	body.WriteString("</w:body></w:document>")

	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte(body.String())); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func xmlEscape(b *strings.Builder, s string) error {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	_, err := b.WriteString(r.Replace(s))
	return err
}

func TestNativeParserDOCX(t *testing.T) {
	data := buildDOCX(t, []string{
		"Factura FAC-2024-001",
		"Fecha: 15/03/2024",
		"Total a Pagar: 1.210,00 EUR",
	})

	p := NewNativeParser(nil)
	doc, err := p.Parse(context.Background(), data, "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(doc.Text, "FAC-2024-001") {
		t.Errorf("text missing invoice number: %q", doc.Text)
	}
	if !strings.Contains(doc.Text, "1.210,00") {
		t.Errorf("text missing total: %q", doc.Text)
	}
	if doc.Confidence <= 0.3 {
		t.Errorf("confidence = %v, want above base", doc.Confidence)
	}
}

func TestNativeParserImageFails(t *testing.T) {
	p := NewNativeParser(nil)
	_, err := p.Parse(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, "image/png")
	if !errors.Is(err, common.ErrParseFailure) {
		t.Errorf("err = %v, want ErrParseFailure", err)
	}
}

func TestNativeParserPlainText(t *testing.T) {
	p := NewNativeParser(nil)
	doc, err := p.Parse(context.Background(), []byte("Factura 001\nTotal: 100,00 EUR\n"), "text/plain")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Text == "" {
		t.Error("expected text")
	}
}

func TestDetectTables(t *testing.T) {
	text := strings.Join([]string{
		"Detalle de la factura",
		"| Concepto | Cantidad | Precio | Importe |",
		"|----------|----------|--------|---------|",
		"| Servicio de consultoría | 10 | 100,00 | 1.000,00 |",
		"| Soporte | 1 | 210,00 | 210,00 |",
		"",
		"Total: 1.210,00",
	}, "\n")

	tables := DetectTables(text)
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}
	tbl := tables[0]
	if len(tbl.Headers) != 4 || tbl.Headers[0] != "Concepto" {
		t.Errorf("headers = %v", tbl.Headers)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(tbl.Rows))
	}
	if tbl.Rows[0][3] != "1.000,00" {
		t.Errorf("row cell = %q", tbl.Rows[0][3])
	}
}

func TestDetectTablesHeaderOnlyIgnored(t *testing.T) {
	tables := DetectTables("| a | b |\n|---|---|\n")
	if len(tables) != 0 {
		t.Errorf("tables = %d, want 0 for header without rows", len(tables))
	}
}

func TestHeuristicConfidence(t *testing.T) {
	rich := "Factura de 15/03/2024 por un total de 1.210,00 EUR con cargo a la cuenta indicada en las condiciones generales de contratación del servicio."
	poor := "hola"
	if hc := heuristicConfidence(rich, 1); hc <= heuristicConfidence(poor, 0) {
		t.Errorf("rich text should score higher: %v", hc)
	}
	if hc := heuristicConfidence(rich, 1); hc > 1.0 {
		t.Errorf("confidence above 1: %v", hc)
	}
}

type stubParser struct {
	doc *ParsedDocument
	err error
}

func (s *stubParser) Parse(context.Context, []byte, string) (*ParsedDocument, error) {
	return s.doc, s.err
}
func (s *stubParser) Available(context.Context) bool { return true }

func TestNormalizeRejectsUnsupportedMIME(t *testing.T) {
	n := NewNormalizer(&stubParser{}, 1024, nil)
	_, err := n.Normalize(context.Background(), []byte("data"), "application/x-msdownload")
	if !errors.Is(err, common.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNormalizeRejectsOversize(t *testing.T) {
	n := NewNormalizer(&stubParser{}, 8, nil)
	_, err := n.Normalize(context.Background(), bytes.Repeat([]byte("a"), 9), "application/pdf")
	if !errors.Is(err, common.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	n := NewNormalizer(&stubParser{}, 1024, nil)
	_, err := n.Normalize(context.Background(), nil, "application/pdf")
	if !errors.Is(err, common.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNormalizeDelegatesToParser(t *testing.T) {
	want := &ParsedDocument{Text: "hola", Confidence: 0.5}
	n := NewNormalizer(&stubParser{doc: want}, 1024, nil)
	doc, err := n.Normalize(context.Background(), []byte("data"), "application/pdf")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if doc.Text != "hola" {
		t.Errorf("text = %q", doc.Text)
	}
}
