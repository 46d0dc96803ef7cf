package docparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/egtimer/invoice-ai-processor/internal/common"
)

// Client calls an external layout-parsing service over HTTP. The service
// contract: POST {base}/v1/parse with a multipart "file" part, responding
// with a ParsedDocument JSON body.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a parser client with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Parse sends the document bytes to the parsing service. Any transport
// failure, timeout, or empty text result maps to ErrParseFailure: the run
// cannot recover from a document the parser cannot read.
func (c *Client) Parse(ctx context.Context, data []byte, mimeType string) (*ParsedDocument, error) {
	start := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "document")
	if err != nil {
		return nil, common.WrapError(err, "build multipart")
	}
	if _, err := part.Write(data); err != nil {
		return nil, common.WrapError(err, "write multipart")
	}
	if err := mw.WriteField("mime_type", mimeType); err != nil {
		return nil, common.WrapError(err, "write mime field")
	}
	if err := mw.Close(); err != nil {
		return nil, common.WrapError(err, "close multipart")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/parse", &body)
	if err != nil {
		return nil, common.WrapError(err, "build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.logger.Info("docparse.request", "bytes", len(data), "mime", mimeType)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("docparse.send_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%w: %v", common.ErrParseFailure, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("docparse.body_close_error", "error", cerr)
		}
	}()

	raw, _ := io.ReadAll(resp.Body)
	c.logger.Info("docparse.response",
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: parser status %d", common.ErrParseFailure, resp.StatusCode)
	}

	var doc ParsedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode parser response: %v", common.ErrParseFailure, err)
	}
	if strings.TrimSpace(doc.Text) == "" && strings.TrimSpace(doc.Markdown) == "" {
		return nil, fmt.Errorf("%w: parser produced no text", common.ErrParseFailure)
	}
	if doc.Confidence <= 0 {
		doc.Confidence = 0.9
	}
	return &doc, nil
}

// Available pings the parser's health endpoint.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode/100 == 2
}
