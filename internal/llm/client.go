package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/egtimer/invoice-ai-processor/internal/common"
)

// Client talks to an OpenAI-compatible chat/completions endpoint and turns
// invoice text into structured fields.
type Client struct {
	cfg        common.LLMConfig
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg common.LLMConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}

// Configured reports whether the client has credentials to call the service.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// ExtractFields implements FieldExtractor using text-only chat/completions
// with a JSON Schema constraint. The returned raw JSON is the validated
// message content.
func (c *Client) ExtractFields(ctx context.Context, req ExtractRequest) (InvoiceFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	if !c.Configured() {
		return InvoiceFields{}, nil, common.WrapError(common.ErrEscalationUnavailable, "no API key configured")
	}

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.Text),
		"tables", len(req.Tables),
	)

	schema := BuildInvoiceJSONSchema()
	sys := buildSystemPrompt()
	user := buildUserPrompt(req)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": sys},
			{"role": "user", "content": user + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, httpErr := c.post(ctx, endpoint, body)
	if httpErr != nil {
		c.log.Error("llm.extract.http_error",
			"req_id", rid, "error", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return InvoiceFields{}, nil, classifyTransportError(httpErr)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.extract.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return InvoiceFields{}, raw, common.WrapError(common.ErrEscalationUnavailable, "decode completion response")
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.extract.no_choices",
			"req_id", rid,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return InvoiceFields{}, raw, common.WrapError(common.ErrEscalationUnavailable, "no choices in completion response")
	}

	rawContent := []byte(StripCodeFences(cc.Choices[0].Message.Content))

	// Validate strictly first, then fall back to a lenient sanitize of
	// optional offenders and re-validate.
	if err := ValidateJSONAgainstSchema(schema, rawContent); err != nil {
		cleaned, dropped, sErr := SanitizeOptionalFields(rawContent)
		if sErr != nil {
			c.log.Error("llm.extract.sanitize_failed",
				"req_id", rid, "error", sErr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return InvoiceFields{}, rawContent, common.WrapError(common.ErrEscalationUnavailable, "response is not valid JSON")
		}
		if vErr := ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			c.log.Error("llm.extract.schema_validation_failed",
				"req_id", rid, "error", vErr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return InvoiceFields{}, rawContent, common.WrapError(common.ErrEscalationUnavailable, "response violates the invoice schema")
		}
		c.log.Warn("llm.extract.lenient_sanitize_applied",
			"req_id", rid, "dropped", dropped,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		rawContent = cleaned
	}

	var out InvoiceFields
	if err := json.Unmarshal(rawContent, &out); err != nil {
		c.log.Error("llm.extract.unmarshal_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return InvoiceFields{}, rawContent, common.WrapError(common.ErrEscalationUnavailable, "unmarshal fields")
	}
	if out.Confidence <= 0 || out.Confidence > 1 {
		out.Confidence = c.cfg.DefaultConfidence
	}

	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"invoice_number", out.InvoiceNumber,
		"date", out.InvoiceDate,
		"total", out.Total,
		"currency", out.CurrencyCode,
		"confidence", out.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, rawContent, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if cerr := Body.Close(); cerr != nil {
			c.log.Warn("llm.response_body_close_error", "error", cerr)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("completion status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return common.WrapError(common.ErrEscalationTimeout, "completion request timed out")
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return common.WrapError(common.ErrEscalationTimeout, "completion request timed out")
	}
	return common.WrapError(common.ErrEscalationUnavailable, err.Error())
}

func buildSystemPrompt() string {
	parts := []string{
		"You are an invoice parser. Return ONLY JSON that matches the provided JSON Schema.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"Currency must be a 3-letter ISO 4217 code; default to EUR if uncertain.",
		"Amounts are plain decimal strings with '.' as the decimal separator and no thousands separators.",
		"The supplier is the party issuing the invoice; the client is the party being billed.",
		"Spanish tax identifiers (CIF/NIF/NIE) go in 'tax_id' without spaces or dashes.",
		"Include every visible line item with its description and line total.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

func buildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	b.WriteString("Filename: ")
	b.WriteString(req.FilenameHint)
	b.WriteString("\n\nDocument text (first ~6k chars):\n")
	if len(req.Text) > 6000 {
		b.WriteString(req.Text[:6000])
	} else {
		b.WriteString(req.Text)
	}
	if len(req.Tables) > 0 {
		b.WriteString("\n\nDetected tables:\n")
		for _, t := range req.Tables {
			b.WriteString(strings.Join(t.Headers, " | "))
			b.WriteString("\n")
			for _, row := range t.Rows {
				b.WriteString(strings.Join(row, " | "))
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
