package docparse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/common"
)

// Normalizer enforces input constraints and delegates to a LayoutParser to
// produce the canonical representation.
type Normalizer struct {
	parser   LayoutParser
	maxBytes int64
	logger   *slog.Logger
}

func NewNormalizer(parser LayoutParser, maxBytes int64, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{parser: parser, maxBytes: maxBytes, logger: logger}
}

// Normalize validates the declared MIME type and size, then parses.
// UnsupportedFormat and oversize are input errors; ParseFailure bubbles up
// from the parser and is fatal for the run.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, mimeType string) (*ParsedDocument, error) {
	if !constants.MIMEAllowed(mimeType) {
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedFormat, mimeType)
	}
	if n.maxBytes > 0 && int64(len(data)) > n.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", common.ErrUnsupportedFormat, len(data), n.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", common.ErrUnsupportedFormat)
	}

	doc, err := n.parser.Parse(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	n.logger.Info("normalize.ok",
		"mime", mimeType,
		"text_len", len(doc.Text),
		"tables", len(doc.Tables),
	)
	return doc, nil
}

// ParserAvailable reports whether the underlying parser can serve requests.
func (n *Normalizer) ParserAvailable(ctx context.Context) bool {
	return n.parser.Available(ctx)
}
