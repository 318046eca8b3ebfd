package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/extraction"
	"github.com/sells-group/invoice-cli/internal/extraction/provider"
	"github.com/sells-group/invoice-cli/internal/mapping"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

type fakeExtractor struct {
	results map[string]*extraction.RouterResult
	errs    map[string]error
	calls   []string
}

func (f *fakeExtractor) Extract(_ context.Context, fileURL string) (*extraction.RouterResult, error) {
	f.calls = append(f.calls, fileURL)
	if err, ok := f.errs[fileURL]; ok {
		return nil, err
	}
	return f.results[fileURL], nil
}

type fakeMapper struct {
	result *model.AccountingMappingResult
}

func (f *fakeMapper) ProcessDocument(context.Context, *model.ExtractionResult, string, string) *model.AccountingMappingResult {
	out := *f.result
	out.ProcessingNotes = append([]string{}, f.result.ProcessingNotes...)
	return &out
}

type fakeStore struct {
	docs      map[string]*model.Document
	rules     []model.GLRule
	rulesErr  error
	createErr error
	dlq       []resilience.DLQEntry
	removed   []string
	retried   map[string]string
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]*model.Document), retried: make(map[string]string)}
}

func (s *fakeStore) CreateDocument(_ context.Context, userID, fileURL string) (*model.Document, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	doc := &model.Document{ID: fmt.Sprintf("doc-%d", s.nextID), UserID: userID, FileURL: fileURL, Status: model.StatusPending}
	s.docs[doc.ID] = doc
	return doc, nil
}

func (s *fakeStore) UpdateDocument(_ context.Context, doc *model.Document) error {
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *fakeStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *doc
	return &cp, nil
}

func (s *fakeStore) ListGLRules(context.Context, string) ([]model.GLRule, error) {
	return s.rules, s.rulesErr
}

func (s *fakeStore) EnqueueDLQ(_ context.Context, entry resilience.DLQEntry) error {
	s.dlq = append(s.dlq, entry)
	return nil
}

func (s *fakeStore) DequeueDLQ(context.Context, resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return s.dlq, nil
}

func (s *fakeStore) IncrementDLQRetry(_ context.Context, id string, _ time.Time, lastErr string) error {
	s.retried[id] = lastErr
	return nil
}

func (s *fakeStore) RemoveDLQ(_ context.Context, id string) error {
	s.removed = append(s.removed, id)
	return nil
}

const adobeURL = "s3://invoices/adobe.pdf"

func adobeExtraction() *extraction.RouterResult {
	return &extraction.RouterResult{
		ExtractionResult: model.ExtractionResult{
			SupplierName:  model.ExtractedField{Value: "Adobe Inc", Confidence: 0.95},
			InvoiceNumber: model.ExtractedField{Value: "ADB-77", Confidence: 0.9},
			InvoiceDate:   model.ExtractedField{Value: "2024-03-01", Confidence: 0.9},
			TotalAmount:   model.ExtractedField{Value: 54.99, Confidence: 0.92},
			LineItems: []model.ExtractedField{
				{Value: map[string]any{"description": "Creative Cloud subscription", "amount": 54.99}, Confidence: 0.9},
				model.NullField(),
				{Value: map[string]any{"description": "Sales tax", "amount": 0.0}, Confidence: 0.9},
			},
		},
		ExtractionMethod: provider.NameOpenAI,
		TotalCost:        0.01,
		ServicesUsed:     []string{provider.NameOpenAI},
	}
}

func confidentMapping() *model.AccountingMappingResult {
	return &model.AccountingMappingResult{
		Fields:            map[model.AccountingField]model.MappingField{},
		OverallConfidence: 0.9,
		ProcessingNotes:   []string{},
		AuditTrail:        []model.AuditLogEntry{},
	}
}

func softwareRule() model.GLRule {
	return model.GLRule{
		ID: "r1", Name: "Software", Priority: 5, Active: true,
		Conditions: model.GLRuleConditions{Keywords: []string{"creative cloud"}},
		Actions:    model.GLRuleActions{GLCode: "6300", AutoAssign: true, ConfidenceThreshold: 0.8},
	}
}

func newTestProcessor(ext Extractor, mapper Mapper, st Store) *Processor {
	p := New(Config{}, ext, mapper, st)
	p.now = func() time.Time { return time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC) }
	return p
}

func phaseStatuses(r *Result) map[string]string {
	out := make(map[string]string)
	for _, ph := range r.Phases {
		out[ph.Name] = ph.Status
	}
	return out
}

func TestProcess_Completed(t *testing.T) {
	st := newFakeStore()
	st.rules = []model.GLRule{softwareRule()}
	ext := &fakeExtractor{results: map[string]*extraction.RouterResult{adobeURL: adobeExtraction()}}
	p := newTestProcessor(ext, &fakeMapper{result: confidentMapping()}, st)

	res, err := p.Process(context.Background(), "u1", adobeURL)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, res.Document.Status)
	assert.Equal(t, provider.NameOpenAI, res.Document.ExtractionMethod)
	assert.InDelta(t, 0.01, res.Document.TotalCost, 1e-9)
	assert.InDelta(t, 0.9, res.Document.Confidence, 1e-9)

	stored := st.docs[res.Document.ID]
	assert.Equal(t, model.StatusCompleted, stored.Status)

	require.Len(t, res.GLSuggestions, 1)
	s := res.GLSuggestions[0]
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, "54.99", s.Amount)
	require.Len(t, s.Matches, 1)
	assert.Equal(t, "6300", s.Matches[0].Rule.Actions.GLCode)
	assert.True(t, s.Matches[0].AutoApply)

	assert.Equal(t, map[string]string{
		PhaseExtract: PhaseStatusComplete,
		PhaseMap:     PhaseStatusComplete,
		PhaseGLRules: PhaseStatusComplete,
	}, phaseStatuses(res))
	assert.Empty(t, st.dlq)
}

func TestProcess_ConfigRulesMergeWithStored(t *testing.T) {
	st := newFakeStore()
	ext := &fakeExtractor{results: map[string]*extraction.RouterResult{adobeURL: adobeExtraction()}}
	p := New(Config{Rules: []model.GLRule{softwareRule()}}, ext, &fakeMapper{result: confidentMapping()}, st)

	res, err := p.Process(context.Background(), "u1", adobeURL)
	require.NoError(t, err)
	require.Len(t, res.GLSuggestions, 1)
	assert.Equal(t, "r1", res.GLSuggestions[0].Matches[0].Rule.ID)
}

func TestProcess_RuleRequiringApproval(t *testing.T) {
	st := newFakeStore()
	rule := softwareRule()
	rule.Actions.RequiresApproval = true
	st.rules = []model.GLRule{rule}
	ext := &fakeExtractor{results: map[string]*extraction.RouterResult{adobeURL: adobeExtraction()}}
	p := newTestProcessor(ext, &fakeMapper{result: confidentMapping()}, st)

	res, err := p.Process(context.Background(), "u1", adobeURL)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRequiresReview, res.Document.Status)
}

func TestProcess_LowConfidenceMappingNeedsReview(t *testing.T) {
	st := newFakeStore()
	ext := &fakeExtractor{results: map[string]*extraction.RouterResult{adobeURL: adobeExtraction()}}
	engine := mapping.NewEngine(mapping.DefaultConfig(), nil, nil)
	p := newTestProcessor(ext, engine, st)

	res, err := p.Process(context.Background(), "u1", adobeURL)
	require.NoError(t, err)

	require.NotNil(t, res.Mapping)
	assert.Len(t, res.Mapping.Fields, len(model.AccountingFields))
	assert.True(t, res.Mapping.RequiresReview)
	assert.Equal(t, model.StatusRequiresReview, res.Document.Status)
	assert.Empty(t, res.GLSuggestions)
}

func TestProcess_GLRuleLookupFailureIsNonFatal(t *testing.T) {
	st := newFakeStore()
	st.rulesErr = errors.New("rules table locked")
	ext := &fakeExtractor{results: map[string]*extraction.RouterResult{adobeURL: adobeExtraction()}}
	p := newTestProcessor(ext, &fakeMapper{result: confidentMapping()}, st)

	res, err := p.Process(context.Background(), "u1", adobeURL)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, res.Document.Status)
	assert.Equal(t, PhaseStatusFailed, phaseStatuses(res)[PhaseGLRules])
	require.NotEmpty(t, res.Mapping.ProcessingNotes)
	assert.True(t, strings.HasPrefix(res.Mapping.ProcessingNotes[0], "GL rule suggestions skipped: "))
}

func TestProcess_ExtractionFailureDeadLetters(t *testing.T) {
	st := newFakeStore()
	fbErr := &extraction.FallbackError{
		PrimaryProvider:  provider.NameOpenAI,
		Primary:          provider.NewError(provider.KindTimeout, provider.NameOpenAI, "request timed out", nil),
		FallbackProvider: provider.NameMindee,
		Fallback:         provider.NewError(provider.KindNetwork, provider.NameMindee, "connection refused", nil),
	}
	ext := &fakeExtractor{errs: map[string]error{adobeURL: fbErr}}
	p := newTestProcessor(ext, &fakeMapper{result: confidentMapping()}, st)

	res, err := p.Process(context.Background(), "u1", adobeURL)
	require.Error(t, err)
	var fe *extraction.FallbackError
	assert.True(t, errors.As(err, &fe))

	require.NotNil(t, res)
	assert.Nil(t, res.Mapping)
	assert.Equal(t, model.StatusFailed, res.Document.Status)
	assert.Equal(t, model.StatusFailed, st.docs[res.Document.ID].Status)
	assert.NotEmpty(t, st.docs[res.Document.ID].Error)
	assert.Equal(t, map[string]string{
		PhaseExtract: PhaseStatusFailed,
		PhaseMap:     PhaseStatusSkipped,
		PhaseGLRules: PhaseStatusSkipped,
	}, phaseStatuses(res))

	require.Len(t, st.dlq, 1)
	entry := st.dlq[0]
	assert.Equal(t, res.Document.ID, entry.DocumentID)
	assert.Equal(t, resilience.ErrorTransient, entry.ErrorType)
	assert.Equal(t, []string{"TIMEOUT", "NETWORK_ERROR"}, entry.ErrorKinds)
	assert.Equal(t, DefaultDLQMaxRetries, entry.MaxRetries)
}

func TestProcess_PermanentFailureGetsNoRetries(t *testing.T) {
	st := newFakeStore()
	authErr := provider.NewError(provider.KindAuthentication, provider.NameMindee, "invalid api key", nil)
	ext := &fakeExtractor{errs: map[string]error{adobeURL: authErr}}
	p := newTestProcessor(ext, &fakeMapper{result: confidentMapping()}, st)

	_, err := p.Process(context.Background(), "u1", adobeURL)
	require.Error(t, err)

	require.Len(t, st.dlq, 1)
	assert.Equal(t, resilience.ErrorPermanent, st.dlq[0].ErrorType)
	assert.Equal(t, 0, st.dlq[0].MaxRetries)
	assert.Equal(t, []string{"AUTHENTICATION_ERROR"}, st.dlq[0].ErrorKinds)
}

func TestProcess_CreateDocumentFails(t *testing.T) {
	st := newFakeStore()
	st.createErr = errors.New("db down")
	ext := &fakeExtractor{}
	p := newTestProcessor(ext, &fakeMapper{result: confidentMapping()}, st)

	res, err := p.Process(context.Background(), "u1", adobeURL)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "pipeline: create document")
	assert.Empty(t, ext.calls)
}

func TestRetryDLQ(t *testing.T) {
	const brokenURL = "s3://invoices/broken.pdf"
	st := newFakeStore()
	st.docs["doc-a"] = &model.Document{ID: "doc-a", UserID: "u1", FileURL: adobeURL, Status: model.StatusFailed, Error: "timeout"}
	st.dlq = []resilience.DLQEntry{
		{ID: "dlq-a", DocumentID: "doc-a", UserID: "u1", FileURL: adobeURL, MaxRetries: 3},
		{ID: "dlq-b", DocumentID: "doc-b", UserID: "u1", FileURL: brokenURL, MaxRetries: 3},
	}
	ext := &fakeExtractor{
		results: map[string]*extraction.RouterResult{adobeURL: adobeExtraction()},
		errs:    map[string]error{brokenURL: provider.NewError(provider.KindRateLimited, provider.NameMindee, "slow down", nil)},
	}
	p := newTestProcessor(ext, &fakeMapper{result: confidentMapping()}, st)

	n, err := p.RetryDLQ(context.Background(), resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"dlq-a"}, st.removed)
	assert.Equal(t, model.StatusCompleted, st.docs["doc-a"].Status)
	assert.Empty(t, st.docs["doc-a"].Error)

	require.Contains(t, st.retried, "dlq-b")
	assert.Contains(t, st.retried["dlq-b"], "slow down")
	assert.Equal(t, model.StatusFailed, st.docs["doc-b"].Status, "missing document is rebuilt from the entry")
	assert.Len(t, st.dlq, 2, "retries never enqueue new entries")
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"API_ERROR"}, ErrorKinds(errors.New("plain")))
	assert.Equal(t, []string{"QUOTA_EXCEEDED"},
		ErrorKinds(provider.NewError(provider.KindQuotaExceeded, provider.NameOpenAI, "quota", nil)))
}
