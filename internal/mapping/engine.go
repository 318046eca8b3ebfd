// Package mapping turns extraction results into the 21-field accounting
// record, with a confidence, reasoning and provenance per field and an audit
// entry for every decision.
package mapping

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
)

// DefaultApprovalThreshold is the overall confidence needed to skip review.
const DefaultApprovalThreshold = 0.8

// Config is the immutable engine configuration.
type Config struct {
	SimpleMode             bool
	ApprovalThreshold      float64
	DefaultCurrency        string
	DefaultTaxCode         string
	DefaultTaxJurisdiction string
	DefaultPaymentTerms    string
	DefaultProfitCenter    string
	// Now stamps posting dates and audit entries. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the stock business defaults.
func DefaultConfig() Config {
	return Config{
		ApprovalThreshold:      DefaultApprovalThreshold,
		DefaultCurrency:        "USD",
		DefaultTaxCode:         "V0",
		DefaultTaxJurisdiction: "US",
		DefaultPaymentTerms:    "NT30",
		DefaultProfitCenter:    "PC-1000",
		Now:                    time.Now,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ApprovalThreshold <= 0 {
		c.ApprovalThreshold = def.ApprovalThreshold
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = def.DefaultCurrency
	}
	if c.DefaultTaxCode == "" {
		c.DefaultTaxCode = def.DefaultTaxCode
	}
	if c.DefaultTaxJurisdiction == "" {
		c.DefaultTaxJurisdiction = def.DefaultTaxJurisdiction
	}
	if c.DefaultPaymentTerms == "" {
		c.DefaultPaymentTerms = def.DefaultPaymentTerms
	}
	if c.DefaultProfitCenter == "" {
		c.DefaultProfitCenter = def.DefaultProfitCenter
	}
	if c.Now == nil {
		c.Now = def.Now
	}
	return c
}

// Lookup reads the user-scoped mapping tables.
type Lookup interface {
	// FindCompanyMapping returns the best company mapping for supplierName
	// with similarity at or above CompanyMatchThreshold, or nil.
	FindCompanyMapping(ctx context.Context, userID, supplierName string) (*model.CompanyMatch, error)
	// FindGLMappings returns GL mappings whose keywords occur in text, highest priority first.
	FindGLMappings(ctx context.Context, userID, text string) ([]model.GLMapping, error)
	// ListCostCenterRules returns the active cost-center rules, highest priority first.
	ListCostCenterRules(ctx context.Context, userID string) ([]model.CostCenterRule, error)
	// FindVendorProfile returns the vendor profile for supplierName, or nil.
	FindVendorProfile(ctx context.Context, userID, supplierName string) (*model.VendorProfile, error)
}

// AuditWriter persists audit entries. It is append-only.
type AuditWriter interface {
	WriteAuditTrail(ctx context.Context, entries []model.AuditLogEntry) error
}

// Engine maps extraction results to accounting records. It holds no
// per-document state and is safe for concurrent use.
type Engine struct {
	cfg    Config
	lookup Lookup
	audit  AuditWriter
}

// NewEngine creates a mapping engine. lookup and audit may be nil.
func NewEngine(cfg Config, lookup Lookup, audit AuditWriter) *Engine {
	if lookup == nil {
		lookup = EmptyLookup{}
	}
	return &Engine{cfg: cfg.withDefaults(), lookup: lookup, audit: audit}
}

// ProcessDocument maps res for userID. It never fails: errors and panics
// yield an all-null result flagged for review.
func (e *Engine) ProcessDocument(ctx context.Context, res *model.ExtractionResult, userID, documentID string) (out *model.AccountingMappingResult) {
	log := zap.L().With(zap.String("user_id", userID), zap.String("document_id", documentID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("mapping: panic while mapping document", zap.Any("panic", r))
			out = FailedResult(fmt.Errorf("panic: %v", r))
		}
	}()

	out, err := e.process(ctx, res, userID, documentID)
	if err != nil {
		log.Warn("mapping: returning review result after failure", zap.Error(err))
		return FailedResult(err)
	}

	if e.audit != nil && len(out.AuditTrail) > 0 {
		if err := e.audit.WriteAuditTrail(ctx, out.AuditTrail); err != nil {
			log.Warn("mapping: persist audit trail", zap.Int("entries", len(out.AuditTrail)), zap.Error(err))
		}
	}
	return out
}

func (e *Engine) process(ctx context.Context, res *model.ExtractionResult, userID, documentID string) (*model.AccountingMappingResult, error) {
	in, note := ClassifyInput(e.cfg.SimpleMode, res)
	rec := newRecorder(e.cfg.Now(), userID, documentID)
	if note != "" {
		rec.note(note)
	}

	var raw *model.ExtractionResult
	var reported *float64
	switch in := in.(type) {
	case DirectInput:
		e.mapDirect(in, rec)
		raw, reported = in.Raw, in.OverallConfidence
	case DerivedInput:
		if err := e.mapDerived(ctx, in.Raw, userID, rec); err != nil {
			return nil, err
		}
		raw = in.Raw
	}

	e.applyVendorRules(ctx, raw, userID, rec)

	out := &model.AccountingMappingResult{
		Fields:          rec.fields,
		ProcessingNotes: rec.notes,
		AuditTrail:      rec.trail,
	}
	out.OverallConfidence = meanConfidence(rec.fields)
	if reported != nil {
		out.OverallConfidence = clamp(*reported)
		rec.note(fmt.Sprintf("Overall confidence %.2f reported by extractor (field mean %.2f)",
			out.OverallConfidence, meanConfidence(rec.fields)))
		out.ProcessingNotes = rec.notes
	}
	out.RequiresReview = out.OverallConfidence < e.cfg.ApprovalThreshold
	return out, nil
}

func (e *Engine) mapDirect(in DirectInput, rec *recorder) {
	rec.note("Accounting fields copied from schema-aware extractor")
	for _, name := range model.AccountingFields {
		ef, ok := in.Fields[name]
		if !ok {
			ef = model.NullField()
		}
		rec.set(name, ef.Text(), model.MappingField{
			Value:      ef.Value,
			Confidence: ef.Confidence,
			Reasoning:  "Provided directly by schema-aware extractor",
			Source:     model.SourceExactMatch,
		})
	}
}

// FailedResult is the all-null, review-flagged record returned when mapping fails.
func FailedResult(err error) *model.AccountingMappingResult {
	msg := "Mapping failed: " + err.Error()
	fields := make(map[model.AccountingField]model.MappingField, len(model.AccountingFields))
	for _, name := range model.AccountingFields {
		fields[name] = model.MappingField{Reasoning: msg, Source: model.SourceDefault}
	}
	return &model.AccountingMappingResult{
		Fields:          fields,
		RequiresReview:  true,
		ProcessingNotes: []string{msg},
		AuditTrail:      []model.AuditLogEntry{},
	}
}

func meanConfidence(fields map[model.AccountingField]model.MappingField) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, name := range model.AccountingFields {
		sum += fields[name].Confidence
	}
	return sum / float64(len(model.AccountingFields))
}

func clamp(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// EmptyLookup has no mappings. Every lookup misses.
type EmptyLookup struct{}

// FindCompanyMapping implements Lookup.
func (EmptyLookup) FindCompanyMapping(context.Context, string, string) (*model.CompanyMatch, error) {
	return nil, nil
}

// FindGLMappings implements Lookup.
func (EmptyLookup) FindGLMappings(context.Context, string, string) ([]model.GLMapping, error) {
	return nil, nil
}

// ListCostCenterRules implements Lookup.
func (EmptyLookup) ListCostCenterRules(context.Context, string) ([]model.CostCenterRule, error) {
	return nil, nil
}

// FindVendorProfile implements Lookup.
func (EmptyLookup) FindVendorProfile(context.Context, string, string) (*model.VendorProfile, error) {
	return nil, nil
}
