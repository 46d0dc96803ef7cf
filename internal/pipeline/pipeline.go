// Package pipeline runs the extraction stages for one document and
// coordinates concurrent runs across documents.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/docparse"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
	"github.com/egtimer/invoice-ai-processor/internal/extract"
	"github.com/egtimer/invoice-ai-processor/internal/jobs"
	"github.com/egtimer/invoice-ai-processor/internal/llm"
	"github.com/egtimer/invoice-ai-processor/internal/repository"
	"github.com/egtimer/invoice-ai-processor/internal/storage"
	"github.com/egtimer/invoice-ai-processor/internal/validate"
)

// Progress checkpoints reported through the job store.
const (
	progressDownload = 10
	progressParsed   = 30
	progressLocal    = 45
	progressScored   = 55
	progressEscalate = 75
	progressValidate = 90
)

// Pipeline runs normalize, local extract, confidence evaluation, optional
// LLM escalation, validation and persistence for a single document.
type Pipeline struct {
	Logger     *slog.Logger
	Normalizer *docparse.Normalizer
	Local      *extract.LocalExtractor
	Evaluator  *extract.Evaluator
	LLM        llm.FieldExtractor
	Validator  *validate.Validator
	Invoices   repository.InvoiceRepository
	Files      storage.Storage
	Jobs       *jobs.Store
}

// Run executes every stage for doc. Force skips the escalation threshold and
// always calls the LLM. Escalation failures degrade the run to the local
// result; parse failures are fatal.
func (p *Pipeline) Run(ctx context.Context, doc *entity.Document, force bool) (*entity.InvoiceJSON, error) {
	log := p.Logger.With("document_id", doc.ID, "filename", doc.Filename)
	start := time.Now()

	p.Jobs.Progress(doc.ID, progressDownload, "loading document")
	data, err := p.Files.Download(ctx, doc.StorageKey)
	if err != nil {
		return nil, common.WrapError(err, "load document bytes")
	}

	parsed, err := p.Normalizer.Normalize(ctx, data, doc.MIMEType)
	if err != nil {
		log.Error("pipeline.normalize.failed", "err", err)
		return nil, err
	}
	p.Jobs.Progress(doc.ID, progressParsed, "document parsed")
	log.Info("pipeline.normalize.ok",
		"text_len", len(parsed.Text),
		"tables", len(parsed.Tables),
		"parse_confidence", parsed.Confidence,
	)

	rec := p.Local.Extract(parsed)
	p.Jobs.Progress(doc.ID, progressLocal, "local extraction complete")

	score := p.Evaluator.Aggregate(rec)
	rec.ConfidenceScore = score
	p.Jobs.Progress(doc.ID, progressScored, "confidence evaluated")
	log.Info("pipeline.evaluate.ok", "score", score, "force", force)

	method := constants.MethodLocal
	escalationNote := ""
	if p.Evaluator.ShouldEscalate(score, force) {
		p.Jobs.Progress(doc.ID, progressEscalate, "escalating to llm")
		llmRec, llmErr := p.escalate(ctx, doc, parsed)
		switch {
		case llmErr != nil:
			// degraded run: keep the local result, surface the reason
			escalationNote = degradeMessage(llmErr)
			rec.RequiresReview = true
			log.Warn("pipeline.escalate.degraded", "err", llmErr, "reason", p.Evaluator.EscalationReason(rec))
		case llmRec.ConfidenceScore > score:
			rec = llmRec
			score = llmRec.ConfidenceScore
			method = constants.MethodLLM
			log.Info("pipeline.escalate.llm_selected", "score", score)
		default:
			method = constants.MethodHybrid
			log.Info("pipeline.escalate.local_kept", "local_score", score, "llm_score", llmRec.ConfidenceScore)
		}
	}
	rec.Method = method

	p.Jobs.Progress(doc.ID, progressValidate, "validating")
	issues := p.Validator.Validate(rec, score)
	if escalationNote != "" {
		rec.RequiresReview = true
	}

	out := rec.ToJSON()
	if err := p.Invoices.Upsert(ctx, doc.ID, out); err != nil {
		return nil, common.WrapError(err, "persist extraction result")
	}

	message := "extraction complete"
	if escalationNote != "" {
		message = escalationNote
	}
	p.Jobs.Complete(doc.ID, out, method, message)
	log.Info("pipeline.run.ok",
		"method", method,
		"score", rec.ConfidenceScore,
		"requires_review", rec.RequiresReview,
		"validation_issues", len(issues),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (p *Pipeline) escalate(ctx context.Context, doc *entity.Document, parsed *docparse.ParsedDocument) (*entity.InvoiceRecord, error) {
	fields, _, err := p.LLM.ExtractFields(ctx, llm.ExtractRequest{
		Text:         parsed.Content(),
		Tables:       parsed.Tables,
		FilenameHint: doc.Filename,
	})
	if err != nil {
		return nil, err
	}
	rec := fields.ToRecord(time.Now().UTC())
	rec.ConfidenceScore = p.Evaluator.Aggregate(rec)
	return rec, nil
}

func degradeMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrEscalationTimeout):
		return "llm escalation timed out; local result kept for review"
	case errors.Is(err, common.ErrEscalationUnavailable):
		return "llm escalation unavailable; local result kept for review"
	default:
		return "llm escalation failed; local result kept for review"
	}
}
