package mapping

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/model"
)

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return fixedNow }
	return cfg
}

func field(v any, c float64) model.ExtractedField {
	return model.ExtractedField{Value: v, Confidence: c}
}

func amazonInvoice() *model.ExtractionResult {
	return &model.ExtractionResult{
		SupplierName:  field("Amazon Business", 0.95),
		InvoiceNumber: field("INV-1001", 0.9),
		InvoiceDate:   field("2024-03-01", 0.9),
		TotalAmount:   field(85.0, 0.95),
		LineItems: []model.ExtractedField{
			field(map[string]any{"description": "Office supplies and paper", "amount": 85.0}, 0.9),
		},
	}
}

func assertComplete(t *testing.T, res *model.AccountingMappingResult) {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Fields, len(model.AccountingFields))
	for _, name := range model.AccountingFields {
		f, ok := res.Fields[name]
		require.True(t, ok, "missing %s", name)
		assert.GreaterOrEqual(t, f.Confidence, 0.0, name)
		assert.LessOrEqual(t, f.Confidence, 1.0, name)
	}
	assert.GreaterOrEqual(t, res.OverallConfidence, 0.0)
	assert.LessOrEqual(t, res.OverallConfidence, 1.0)
}

func TestProcessDocument_AmazonNoRules(t *testing.T) {
	t.Parallel()

	e := NewEngine(testConfig(), &mockLookup{}, nil)
	res := e.ProcessDocument(context.Background(), amazonInvoice(), "user-1", "doc-1")
	assertComplete(t, res)

	cc := res.Field(model.FieldCompanyCode)
	assert.Nil(t, cc.Value)
	assert.Equal(t, 0.0, cc.Confidence)
	assert.Contains(t, cc.Reasoning, "No company mapping found")

	gl := res.Field(model.FieldGLAccount)
	assert.Equal(t, GLSmallExpense, gl.Value)
	assert.Equal(t, 0.3, gl.Confidence)
	assert.Equal(t, model.SourceDefault, gl.Source)

	center := res.Field(model.FieldCostCenter)
	assert.Equal(t, CostCenterOffice, center.Value)
	assert.Equal(t, 0.4, center.Confidence)

	assert.Equal(t, TransactionInvoice, res.Field(model.FieldTransactionType).Value)
	assert.Equal(t, "Amazon Business", res.Field(model.FieldInvoicingParty).Value)
	assert.Equal(t, "2024-03-01", res.Field(model.FieldDocumentDate).Value)
	assert.Equal(t, "2024-03-15", res.Field(model.FieldPostingDate).Value)
	assert.Equal(t, 85.0, res.Field(model.FieldInvoiceGrossAmount).Value)
	assert.Equal(t, "USD", res.Field(model.FieldDocumentCurrency).Value)
	assert.Equal(t, "NT30", res.Field(model.FieldPaymentTerms).Value)
	assert.Equal(t, true, res.Field(model.FieldTaxIsCalculatedAutomatically).Value)
	assert.Equal(t, "S", res.Field(model.FieldDebitCreditCode).Value)
	assert.Equal(t, 85.0, res.Field(model.FieldItemAmount).Value)
	assert.Equal(t, "V0", res.Field(model.FieldTaxCode).Value)
	assert.Equal(t, "US", res.Field(model.FieldTaxJurisdiction).Value)
	assert.Equal(t, "INV-1001", res.Field(model.FieldAssignmentReference).Value)
	assert.Equal(t, "PC-1000", res.Field(model.FieldProfitCenter).Value)

	assert.True(t, res.RequiresReview, "mean confidence is below 0.8")
}

func TestProcessDocument_OverallIsFieldMean(t *testing.T) {
	t.Parallel()

	res := NewEngine(testConfig(), nil, nil).ProcessDocument(context.Background(), amazonInvoice(), "u", "d")
	var sum float64
	for _, name := range model.AccountingFields {
		sum += res.Field(name).Confidence
	}
	assert.InDelta(t, sum/21, res.OverallConfidence, 1e-9)
	assert.Equal(t, res.OverallConfidence < 0.8, res.RequiresReview)
}

func TestProcessDocument_NeverFailsOnMalformedInput(t *testing.T) {
	t.Parallel()

	e := NewEngine(testConfig(), &mockLookup{}, nil)
	inputs := map[string]*model.ExtractionResult{
		"nil":   nil,
		"empty": {},
		"garbage": {
			SupplierName: field(map[string]any{"nested": true}, 7),
			TotalAmount:  field("not a number", -3),
			InvoiceDate:  field("sometime", 0.5),
			LineItems:    []model.ExtractedField{model.NullField(), field(42, 0.1)},
		},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			res := e.ProcessDocument(context.Background(), in, "u", "d")
			assertComplete(t, res)
			assert.GreaterOrEqual(t, len(res.AuditTrail), len(model.AccountingFields))
		})
	}
}

func TestProcessDocument_AuditTrail(t *testing.T) {
	t.Parallel()

	writer := &mockAuditWriter{}
	res := NewEngine(testConfig(), nil, writer).ProcessDocument(context.Background(), amazonInvoice(), "user-1", "doc-1")

	require.Len(t, res.AuditTrail, len(model.AccountingFields))
	for i, entry := range res.AuditTrail {
		assert.Equal(t, string(model.AccountingFields[i]), entry.FieldName, "entries follow column order")
		assert.Equal(t, "doc-1", entry.DocumentID)
		assert.Equal(t, "user-1", entry.UserID)
		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, fixedNow, entry.CreatedAt)
		assert.Equal(t, res.Field(model.AccountingFields[i]).Source, entry.Source)
	}
	gl := res.AuditTrail[13]
	assert.Equal(t, "gl_account", gl.FieldName)
	assert.Equal(t, "6100", gl.OutputValue)
	assert.Equal(t, "85", gl.InputValue)

	assert.Equal(t, 1, writer.calls)
	assert.Equal(t, res.AuditTrail, writer.entries)
}

func TestProcessDocument_AuditWriteFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	ok := NewEngine(testConfig(), nil, &mockAuditWriter{}).ProcessDocument(context.Background(), amazonInvoice(), "u", "d")
	failing := &mockAuditWriter{err: errLookupDown}
	res := NewEngine(testConfig(), nil, failing).ProcessDocument(context.Background(), amazonInvoice(), "u", "d")

	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, ok.OverallConfidence, res.OverallConfidence)
	assert.Equal(t, ok.ProcessingNotes, res.ProcessingNotes)
	assert.Len(t, res.AuditTrail, len(ok.AuditTrail))
}

func TestProcessDocument_CompanyMatch(t *testing.T) {
	t.Parallel()

	lookup := &mockLookup{companies: []model.CompanyMapping{
		{SupplierName: "Acme Corporation", CompanyCode: "1000"},
		{SupplierName: "Amazon Web Service", CompanyCode: "2000"},
	}}
	e := NewEngine(testConfig(), lookup, nil)

	in := amazonInvoice()
	in.SupplierName = field("ACME Corp.", 0.9)
	cc := e.ProcessDocument(context.Background(), in, "u", "d").Field(model.FieldCompanyCode)
	assert.Equal(t, "1000", cc.Value)
	assert.Equal(t, model.SourceExactMatch, cc.Source)
	assert.Equal(t, 0.95, cc.Confidence)

	in.SupplierName = field("Amazon Web Services", 0.9)
	cc = e.ProcessDocument(context.Background(), in, "u", "d").Field(model.FieldCompanyCode)
	assert.Equal(t, "2000", cc.Value)
	assert.Equal(t, model.SourceFuzzyMatch, cc.Source)
	assert.InDelta(t, 0.857, cc.Confidence, 0.001)
	assert.Contains(t, cc.Reasoning, "similarity 0.86")
}

func TestProcessDocument_GLMapping(t *testing.T) {
	t.Parallel()

	lookup := &mockLookup{glMappings: []model.GLMapping{
		{GLAccount: "6010", Keywords: []string{"toner"}, Priority: 9},
		{GLAccount: "6020", Keywords: []string{"Paper", "office"}, Priority: 3},
	}}
	res := NewEngine(testConfig(), lookup, nil).ProcessDocument(context.Background(), amazonInvoice(), "u", "d")

	gl := res.Field(model.FieldGLAccount)
	assert.Equal(t, "6020", gl.Value)
	assert.Equal(t, model.SourceRuleBased, gl.Source)
	assert.Equal(t, 0.85, gl.Confidence)
	assert.Contains(t, gl.Reasoning, `"Paper"`)
}

func TestProcessDocument_GLMappingWithoutKeywordFallsBackToBand(t *testing.T) {
	t.Parallel()

	lookup := &mockLookup{glMappings: []model.GLMapping{
		{GLAccount: "6500", Keywords: []string{"catering"}, Priority: 10},
	}}
	res := NewEngine(testConfig(), lookup, nil).ProcessDocument(context.Background(), amazonInvoice(), "u", "d")

	gl := res.Field(model.FieldGLAccount)
	assert.Equal(t, GLSmallExpense, gl.Value)
	assert.Equal(t, model.SourceDefault, gl.Source)
	assert.Equal(t, 0.3, gl.Confidence)
	assert.Contains(t, res.ProcessingNotes, "Ignored 1 GL mapping candidate(s) with no keyword in the item text")
}

func TestProcessDocument_GLAmountBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total any
		want  string
	}{
		{50.0, GLSmallExpense},
		{100.0, GLGeneralExpense},
		{10000.0, GLGeneralExpense},
		{"$12,500.00", GLLargeExpense},
		{nil, GLGeneralExpense},
	}
	e := NewEngine(testConfig(), nil, nil)
	for _, tt := range tests {
		in := amazonInvoice()
		in.LineItems = nil
		in.TotalAmount = field(tt.total, 0.9)
		gl := e.ProcessDocument(context.Background(), in, "u", "d").Field(model.FieldGLAccount)
		assert.Equal(t, tt.want, gl.Value, "total %v", tt.total)
		assert.Equal(t, 0.3, gl.Confidence)
	}
}

func TestProcessDocument_CostCenterRules(t *testing.T) {
	t.Parallel()

	lookup := &mockLookup{costRules: []model.CostCenterRule{
		{ID: "both-miss", SupplierPattern: "^Amazon", DescriptionPattern: "travel", CostCenter: "CC-9000", Priority: 10, Active: true},
		{ID: "inactive", SupplierPattern: "amazon", CostCenter: "CC-8000", Priority: 9, Active: false},
		{ID: "broken", SupplierPattern: "amazon(", CostCenter: "CC-7000", Priority: 8, Active: true},
		{ID: "empty", CostCenter: "CC-6000", Priority: 7, Active: true},
		{ID: "low", DescriptionPattern: "office", CostCenter: "CC-2000", Priority: 1, Active: true},
		{ID: "hit", SupplierPattern: "amazon", DescriptionPattern: "paper$", CostCenter: "CC-3000", Priority: 5, Active: true},
	}}
	res := NewEngine(testConfig(), lookup, nil).ProcessDocument(context.Background(), amazonInvoice(), "u", "d")

	center := res.Field(model.FieldCostCenter)
	assert.Equal(t, "CC-3000", center.Value, "highest-priority rule with all patterns matching wins")
	assert.Equal(t, 0.9, center.Confidence)
	assert.Equal(t, model.SourceRuleBased, center.Source)
	assert.True(t, hasNote(res, `Cost center rule broken skipped: invalid pattern "amazon("`))
}

func hasNote(res *model.AccountingMappingResult, prefix string) bool {
	for _, n := range res.ProcessingNotes {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

func TestProcessDocument_CostCenterHeuristics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		desc string
		want string
	}{
		{"Flight to Denver", CostCenterTravel},
		{"Annual software license", CostCenterSoftware},
		{"Catering", CostCenterGeneral},
	}
	e := NewEngine(testConfig(), nil, nil)
	for _, tt := range tests {
		in := amazonInvoice()
		in.SupplierName = field("Globex", 0.9)
		in.LineItems = []model.ExtractedField{field(map[string]any{"description": tt.desc}, 0.9)}
		center := e.ProcessDocument(context.Background(), in, "u", "d").Field(model.FieldCostCenter)
		assert.Equal(t, tt.want, center.Value, tt.desc)
		assert.Equal(t, 0.4, center.Confidence)
	}
}

func TestProcessDocument_TransactionType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		docType *model.ExtractedField
		want    string
		conf    float64
		debit   string
	}{
		{&model.ExtractedField{Value: "Credit Note (invoice correction)"}, TransactionCredit, 0.9, "H"},
		{&model.ExtractedField{Value: "DEBIT MEMO"}, TransactionDebit, 0.9, "S"},
		{&model.ExtractedField{Value: "Receipt"}, TransactionInvoice, 0.9, "S"},
		{&model.ExtractedField{Value: "Statement"}, TransactionInvoice, 0.6, "S"},
		{nil, TransactionInvoice, 0.6, "S"},
	}
	e := NewEngine(testConfig(), nil, nil)
	for _, tt := range tests {
		in := amazonInvoice()
		in.DocumentType = tt.docType
		res := e.ProcessDocument(context.Background(), in, "u", "d")
		tx := res.Field(model.FieldTransactionType)
		assert.Equal(t, tt.want, tx.Value)
		assert.Equal(t, tt.conf, tx.Confidence)
		assert.Equal(t, tt.debit, res.Field(model.FieldDebitCreditCode).Value)
	}
}

func TestProcessDocument_DatesAndTerms(t *testing.T) {
	t.Parallel()

	in := amazonInvoice()
	in.InvoiceDate = field("03/01/2024", 0.9)
	in.DueDate = &model.ExtractedField{Value: "2024-03-31", Confidence: 0.9}
	in.Currency = &model.ExtractedField{Value: "eur", Confidence: 0.9}
	res := NewEngine(testConfig(), nil, nil).ProcessDocument(context.Background(), in, "u", "d")

	assert.Equal(t, "2024-03-01", res.Field(model.FieldDocumentDate).Value)
	assert.Equal(t, "2024-03-01", res.Field(model.FieldDueCalculationBaseDate).Value)
	assert.Equal(t, "NT30", res.Field(model.FieldPaymentTerms).Value)
	assert.Equal(t, model.SourceRuleBased, res.Field(model.FieldPaymentTerms).Source)
	assert.Equal(t, "EUR", res.Field(model.FieldDocumentCurrency).Value)

	in.DueDate = &model.ExtractedField{Value: "2024-03-11", Confidence: 0.9}
	res = NewEngine(testConfig(), nil, nil).ProcessDocument(context.Background(), in, "u", "d")
	assert.Equal(t, "NT10", res.Field(model.FieldPaymentTerms).Value)
}

func TestProcessDocument_ItemAmountMismatchNote(t *testing.T) {
	t.Parallel()

	in := amazonInvoice()
	in.LineItems = append(in.LineItems, field(map[string]any{"description": "Toner", "amount": "$15.00"}, 0.9))
	res := NewEngine(testConfig(), nil, nil).ProcessDocument(context.Background(), in, "u", "d")

	assert.Equal(t, 100.0, res.Field(model.FieldItemAmount).Value)
	assert.Contains(t, res.ProcessingNotes, "Line items sum to 100 but invoice total is 85")
}

func TestProcessDocument_DirectMode(t *testing.T) {
	t.Parallel()

	overall := 0.88
	in := amazonInvoice()
	in.AccountingFields = map[model.AccountingField]model.ExtractedField{
		model.FieldCompanyCode: field("1000", 0.97),
		model.FieldGLAccount:   field("6300", 0.4),
	}
	in.OverallConfidence = &overall

	cfg := testConfig()
	cfg.SimpleMode = true
	res := NewEngine(cfg, &mockLookup{err: errLookupDown}, nil).ProcessDocument(context.Background(), in, "u", "d")
	assertComplete(t, res)

	for _, name := range model.AccountingFields {
		assert.Equal(t, model.SourceExactMatch, res.Field(name).Source, name)
	}
	assert.Equal(t, "1000", res.Field(model.FieldCompanyCode).Value)
	assert.Equal(t, 0.97, res.Field(model.FieldCompanyCode).Confidence)
	assert.Nil(t, res.Field(model.FieldCostCenter).Value)
	assert.Equal(t, 0.88, res.OverallConfidence, "extractor-reported confidence wins over the field mean")
	assert.False(t, res.RequiresReview)
	assert.Len(t, res.AuditTrail, len(model.AccountingFields))
}

func TestProcessDocument_SimpleModeWithoutAccountingFields(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SimpleMode = true
	res := NewEngine(cfg, nil, nil).ProcessDocument(context.Background(), amazonInvoice(), "u", "d")

	assert.Equal(t, GLSmallExpense, res.Field(model.FieldGLAccount).Value)
	require.NotEmpty(t, res.ProcessingNotes)
	assert.Contains(t, res.ProcessingNotes[0], "derived mapping used")
}

func TestProcessDocument_LookupErrorYieldsReviewResult(t *testing.T) {
	t.Parallel()

	writer := &mockAuditWriter{}
	res := NewEngine(testConfig(), &mockLookup{err: errLookupDown}, writer).ProcessDocument(context.Background(), amazonInvoice(), "u", "d")
	assertComplete(t, res)

	for _, name := range model.AccountingFields {
		assert.Nil(t, res.Field(name).Value, name)
	}
	assert.True(t, res.RequiresReview)
	assert.Equal(t, 0.0, res.OverallConfidence)
	require.Len(t, res.ProcessingNotes, 1)
	assert.Contains(t, res.ProcessingNotes[0], "lookup down")
	assert.Empty(t, res.AuditTrail)
	assert.Equal(t, 0, writer.calls)
}

func TestProcessDocument_PanicYieldsReviewResult(t *testing.T) {
	t.Parallel()

	res := NewEngine(testConfig(), &mockLookup{panicOnCall: true}, nil).ProcessDocument(context.Background(), amazonInvoice(), "u", "d")
	assertComplete(t, res)
	assert.True(t, res.RequiresReview)
	require.Len(t, res.ProcessingNotes, 1)
	assert.Contains(t, res.ProcessingNotes[0], "lookup exploded")
}

func TestProcessDocument_ApprovalThreshold(t *testing.T) {
	t.Parallel()

	overall := 0.75
	in := amazonInvoice()
	in.AccountingFields = map[model.AccountingField]model.ExtractedField{model.FieldCompanyCode: field("1000", 1)}
	in.OverallConfidence = &overall

	cfg := testConfig()
	cfg.SimpleMode = true
	assert.True(t, NewEngine(cfg, nil, nil).ProcessDocument(context.Background(), in, "u", "d").RequiresReview)

	cfg.ApprovalThreshold = 0.7
	assert.False(t, NewEngine(cfg, nil, nil).ProcessDocument(context.Background(), in, "u", "d").RequiresReview)
}

func TestClassifyInput(t *testing.T) {
	t.Parallel()

	withFields := &model.ExtractionResult{AccountingFields: map[model.AccountingField]model.ExtractedField{
		model.FieldCompanyCode: field("1", 1),
	}}

	in, note := ClassifyInput(true, withFields)
	assert.IsType(t, DirectInput{}, in)
	assert.Empty(t, note)

	in, note = ClassifyInput(false, withFields)
	assert.IsType(t, DerivedInput{}, in)
	assert.Empty(t, note)

	in, note = ClassifyInput(true, &model.ExtractionResult{})
	assert.IsType(t, DerivedInput{}, in)
	assert.NotEmpty(t, note)

	in, _ = ClassifyInput(false, nil)
	require.IsType(t, DerivedInput{}, in)
	assert.NotNil(t, in.(DerivedInput).Raw)
}
