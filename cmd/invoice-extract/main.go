// invoice-extract runs the extraction stages on a single local file and
// prints the resulting record as JSON. Useful for tuning patterns without
// a running server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/docparse"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
	"github.com/egtimer/invoice-ai-processor/internal/extract"
	"github.com/egtimer/invoice-ai-processor/internal/llm"
	"github.com/egtimer/invoice-ai-processor/internal/validate"
)

func main() {
	escalate := flag.Bool("escalate", false, "force LLM escalation (requires LLM_API_KEY)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: invoice-extract [-escalate] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(1)
	}
	mimeType := constants.MIMEForExt(filepath.Ext(path))
	if mimeType == "" {
		logger.Error("unsupported file extension", "path", path)
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var parser docparse.LayoutParser
	if cfg.Parser.URL != "" {
		parser = docparse.NewClient(cfg.Parser.URL, cfg.Parser.Timeout, logger)
	} else {
		parser = docparse.NewNativeParser(logger)
	}
	normalizer := docparse.NewNormalizer(parser, cfg.Upload.MaxFileSize, logger)

	parsed, err := normalizer.Normalize(ctx, data, mimeType)
	if err != nil {
		logger.Error("normalize", "error", err)
		os.Exit(1)
	}

	rec := extract.NewLocalExtractor(logger).Extract(parsed)
	evaluator := extract.NewEvaluator(cfg.Extraction)
	score := evaluator.Aggregate(rec)
	rec.ConfidenceScore = score

	degraded := false
	if evaluator.ShouldEscalate(score, *escalate) {
		client := llm.NewClient(cfg.LLM, logger)
		if client.Configured() {
			fields, _, err := client.ExtractFields(ctx, llm.ExtractRequest{
				Text:         parsed.Content(),
				Tables:       parsed.Tables,
				FilenameHint: filepath.Base(path),
			})
			if err != nil {
				logger.Warn("escalation failed, keeping local result", "error", err)
				degraded = true
			} else {
				llmRec := fields.ToRecord(time.Now().UTC())
				llmRec.ConfidenceScore = evaluator.Aggregate(llmRec)
				if llmRec.ConfidenceScore > score {
					rec = llmRec
					score = llmRec.ConfidenceScore
					rec.Method = constants.MethodLLM
				} else {
					rec.Method = constants.MethodHybrid
				}
			}
		} else {
			logger.Warn("low confidence and no API key, result needs review", "score", score)
			degraded = true
		}
	}

	finishRecord(validate.NewValidator(cfg.Extraction.ReviewThreshold, logger), rec, score, degraded)

	out, err := json.MarshalIndent(rec.ToJSON(), "", "  ")
	if err != nil {
		logger.Error("encode result", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// finishRecord runs validation and keeps the review flag raised when a
// degraded run fell back to the local result; Validate recomputes the flag
// from issues and threshold only.
func finishRecord(v *validate.Validator, rec *entity.InvoiceRecord, score float64, degraded bool) {
	v.Validate(rec, score)
	if degraded {
		rec.RequiresReview = true
	}
}
