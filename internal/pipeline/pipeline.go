// Package pipeline runs a document end to end: extraction, accounting
// mapping, GL rule suggestions and status bookkeeping.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/extraction"
	"github.com/sells-group/invoice-cli/internal/extraction/provider"
	"github.com/sells-group/invoice-cli/internal/glrule"
	"github.com/sells-group/invoice-cli/internal/mapping"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// DefaultDLQMaxRetries is used when Config.DLQMaxRetries is unset.
const DefaultDLQMaxRetries = 3

// Phase names recorded on a Result.
const (
	PhaseExtract = "extract"
	PhaseMap     = "map"
	PhaseGLRules = "gl_rules"
)

// Extractor produces an extraction result for a document URL.
type Extractor interface {
	Extract(ctx context.Context, fileURL string) (*extraction.RouterResult, error)
}

// Mapper maps an extraction result onto the accounting schema.
type Mapper interface {
	ProcessDocument(ctx context.Context, res *model.ExtractionResult, userID, documentID string) *model.AccountingMappingResult
}

// Store is the persistence the processor needs.
type Store interface {
	CreateDocument(ctx context.Context, userID, fileURL string) (*model.Document, error)
	UpdateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListGLRules(ctx context.Context, userID string) ([]model.GLRule, error)
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// Config tunes the processor.
type Config struct {
	DLQMaxRetries int
	// Rules are evaluated in addition to the user's stored GL rules.
	Rules []model.GLRule
}

// PhaseResult records the outcome of one processing phase.
type PhaseResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Phase statuses.
const (
	PhaseStatusComplete = "complete"
	PhaseStatusFailed   = "failed"
	PhaseStatusSkipped  = "skipped"
)

// LineItemSuggestions holds the GL rule matches for one line item.
type LineItemSuggestions struct {
	Index       int            `json:"index"`
	Description string         `json:"description"`
	Amount      string         `json:"amount,omitempty"`
	Matches     []glrule.Match `json:"matches"`
}

// Result is everything produced for one document.
type Result struct {
	Document      *model.Document                `json:"document"`
	Extraction    *extraction.RouterResult       `json:"extraction,omitempty"`
	Mapping       *model.AccountingMappingResult `json:"mapping,omitempty"`
	GLSuggestions []LineItemSuggestions          `json:"gl_suggestions"`
	Phases        []PhaseResult                  `json:"phases"`
}

// Processor orchestrates extraction, mapping and GL rule evaluation.
type Processor struct {
	cfg       Config
	extractor Extractor
	mapper    Mapper
	store     Store
	now       func() time.Time
}

// New creates a Processor with all dependencies.
func New(cfg Config, extractor Extractor, mapper Mapper, st Store) *Processor {
	if cfg.DLQMaxRetries <= 0 {
		cfg.DLQMaxRetries = DefaultDLQMaxRetries
	}
	return &Processor{cfg: cfg, extractor: extractor, mapper: mapper, store: st, now: time.Now}
}

// Process creates a document record for fileURL and runs it through the
// pipeline. A terminal extraction failure marks the document failed,
// enqueues it on the dead-letter queue and is returned alongside the result.
func (p *Processor) Process(ctx context.Context, userID, fileURL string) (*Result, error) {
	doc, err := p.store.CreateDocument(ctx, userID, fileURL)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create document")
	}
	return p.run(ctx, doc, true)
}

// RetryDLQ re-runs due dead-letter entries. Successes are removed from the
// queue; failures are rescheduled with backoff. It returns how many entries
// succeeded.
func (p *Processor) RetryDLQ(ctx context.Context, filter resilience.DLQFilter) (int, error) {
	entries, err := p.store.DequeueDLQ(ctx, filter)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: dequeue dlq")
	}

	succeeded := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return succeeded, eris.Wrap(ctx.Err(), "pipeline: retry dlq")
		}
		log := zap.L().With(zap.String("dlq_id", entry.ID), zap.String("document_id", entry.DocumentID))

		doc, err := p.store.GetDocument(ctx, entry.DocumentID)
		if err != nil {
			log.Warn("pipeline: dlq document lookup failed, rebuilding", zap.Error(err))
			doc = &model.Document{ID: entry.DocumentID, UserID: entry.UserID, FileURL: entry.FileURL, CreatedAt: entry.CreatedAt}
		}

		if _, runErr := p.run(ctx, doc, false); runErr != nil {
			entry.MarkRetried(runErr, p.now().UTC())
			if err := p.store.IncrementDLQRetry(ctx, entry.ID, entry.NextRetryAt, entry.Error); err != nil {
				return succeeded, eris.Wrap(err, "pipeline: reschedule dlq entry")
			}
			log.Info("pipeline: dlq retry failed",
				zap.Int("retry_count", entry.RetryCount),
				zap.Bool("exhausted", !entry.CanRetry()),
				zap.Error(runErr),
			)
			continue
		}

		if err := p.store.RemoveDLQ(ctx, entry.ID); err != nil {
			return succeeded, eris.Wrap(err, "pipeline: remove dlq entry")
		}
		succeeded++
	}
	return succeeded, nil
}

func (p *Processor) run(ctx context.Context, doc *model.Document, enqueue bool) (*Result, error) {
	log := zap.L().With(zap.String("document_id", doc.ID), zap.String("file_url", doc.FileURL))
	log.Info("pipeline: processing document")

	result := &Result{Document: doc, GLSuggestions: []LineItemSuggestions{}}

	trackPhase := func(name string, fn func() error) error {
		start := p.now()
		err := fn()
		phase := PhaseResult{Name: name, Status: PhaseStatusComplete, DurationMs: p.now().Sub(start).Milliseconds()}
		if err != nil {
			phase.Status = PhaseStatusFailed
			phase.Error = err.Error()
			log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", phase.DurationMs), zap.Error(err))
		} else {
			log.Debug("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", phase.DurationMs))
		}
		result.Phases = append(result.Phases, phase)
		return err
	}

	// ===== Phase 1: Extraction =====
	extractErr := trackPhase(PhaseExtract, func() error {
		res, err := p.extractor.Extract(ctx, doc.FileURL)
		if err != nil {
			return err
		}
		result.Extraction = res
		return nil
	})
	if extractErr != nil {
		result.Phases = append(result.Phases,
			PhaseResult{Name: PhaseMap, Status: PhaseStatusSkipped},
			PhaseResult{Name: PhaseGLRules, Status: PhaseStatusSkipped},
		)
		doc.Status = model.StatusFailed
		doc.Error = extractErr.Error()
		p.updateDocument(ctx, doc, log)
		if enqueue {
			p.enqueue(ctx, doc, extractErr, log)
		}
		return result, eris.Wrap(extractErr, "pipeline: extract")
	}

	doc.ExtractionMethod = result.Extraction.ExtractionMethod
	doc.TotalCost = result.Extraction.TotalCost

	// ===== Phase 2: Accounting mapping =====
	// The mapper never fails; a broken run comes back as an all-null review result.
	_ = trackPhase(PhaseMap, func() error {
		result.Mapping = p.mapper.ProcessDocument(ctx, &result.Extraction.ExtractionResult, doc.UserID, doc.ID)
		return nil
	})

	// ===== Phase 3: GL rule suggestions =====
	needsApproval := false
	if err := trackPhase(PhaseGLRules, func() error {
		suggestions, approval, err := p.suggestGL(ctx, doc.UserID, &result.Extraction.ExtractionResult)
		result.GLSuggestions = suggestions
		needsApproval = approval
		return err
	}); err != nil {
		result.Mapping.ProcessingNotes = append(result.Mapping.ProcessingNotes, "GL rule suggestions skipped: "+err.Error())
	}

	doc.Confidence = result.Mapping.OverallConfidence
	doc.Error = ""
	doc.Status = model.StatusCompleted
	if result.Mapping.RequiresReview || needsApproval {
		doc.Status = model.StatusRequiresReview
	}
	p.updateDocument(ctx, doc, log)

	log.Info("pipeline: document processed",
		zap.String("status", string(doc.Status)),
		zap.String("extraction_method", doc.ExtractionMethod),
		zap.Float64("confidence", doc.Confidence),
		zap.Float64("cost", doc.TotalCost),
	)
	return result, nil
}

// suggestGL evaluates the user's GL rules against every line item. The
// second return value is true when a top suggestion demands approval.
func (p *Processor) suggestGL(ctx context.Context, userID string, res *model.ExtractionResult) ([]LineItemSuggestions, bool, error) {
	stored, err := p.store.ListGLRules(ctx, userID)
	if err != nil {
		return []LineItemSuggestions{}, false, eris.Wrap(err, "pipeline: list gl rules")
	}
	rules := append(append([]model.GLRule{}, p.cfg.Rules...), stored...)
	eval := glrule.NewEvaluator(rules)
	if eval.Len() == 0 {
		return []LineItemSuggestions{}, false, nil
	}

	vendor := res.SupplierName.Text()
	date, _ := mapping.ParseDate(res.InvoiceDate.Text())

	out := []LineItemSuggestions{}
	approval := false
	for i, item := range res.LineItems {
		if item.IsNull() {
			continue
		}
		lic := glrule.LineItemContext{Description: item.Text(), VendorName: vendor, Date: date}
		if amt, ok := item.Amount(); ok {
			lic.Amount = decimal.NullDecimal{Decimal: amt, Valid: true}
		}
		matches := eval.Suggest(lic)
		if len(matches) == 0 {
			continue
		}
		if matches[0].Rule.Actions.RequiresApproval {
			approval = true
		}
		s := LineItemSuggestions{Index: i, Description: lic.Description, Matches: matches}
		if lic.Amount.Valid {
			s.Amount = lic.Amount.Decimal.String()
		}
		out = append(out, s)
	}
	return out, approval, nil
}

func (p *Processor) updateDocument(ctx context.Context, doc *model.Document, log *zap.Logger) {
	if err := p.store.UpdateDocument(ctx, doc); err != nil {
		log.Warn("pipeline: failed to update document", zap.Error(err))
	}
}

func (p *Processor) enqueue(ctx context.Context, doc *model.Document, err error, log *zap.Logger) {
	entry := resilience.NewDLQEntry(doc.ID, doc.UserID, doc.FileURL, err, ErrorKinds(err), p.cfg.DLQMaxRetries, p.now().UTC())
	if dlqErr := p.store.EnqueueDLQ(ctx, entry); dlqErr != nil {
		log.Warn("pipeline: failed to enqueue dlq entry", zap.Error(dlqErr))
		return
	}
	log.Info("pipeline: document dead-lettered",
		zap.String("error_type", entry.ErrorType),
		zap.Strings("error_kinds", entry.ErrorKinds),
	)
}

// ErrorKinds lists the adapter error kinds behind an extraction failure,
// one per failed provider.
func ErrorKinds(err error) []string {
	var fe *extraction.FallbackError
	if errors.As(err, &fe) {
		return []string{string(provider.KindOf(fe.Primary)), string(provider.KindOf(fe.Fallback))}
	}
	return []string{string(provider.KindOf(err))}
}
