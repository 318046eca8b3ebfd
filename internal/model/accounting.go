package model

import (
	"encoding/json"
	"time"
)

// AccountingField names one column of the standardized accounting record.
type AccountingField string

// The 21 accounting fields, in export column order.
const (
	FieldCompanyCode                  AccountingField = "company_code"
	FieldTransactionType              AccountingField = "supplier_invoice_transaction_type"
	FieldInvoicingParty               AccountingField = "invoicing_party"
	FieldSupplierInvoiceID            AccountingField = "supplier_invoice_id_by_invcg_party"
	FieldDocumentDate                 AccountingField = "document_date"
	FieldPostingDate                  AccountingField = "posting_date"
	FieldInvoiceGrossAmount           AccountingField = "invoice_gross_amount"
	FieldDocumentCurrency             AccountingField = "document_currency"
	FieldDocumentHeaderText           AccountingField = "document_header_text"
	FieldPaymentTerms                 AccountingField = "payment_terms"
	FieldDueCalculationBaseDate       AccountingField = "due_calculation_base_date"
	FieldTaxIsCalculatedAutomatically AccountingField = "tax_is_calculated_automatically"
	FieldItemText                     AccountingField = "supplier_invoice_item_text"
	FieldGLAccount                    AccountingField = "gl_account"
	FieldDebitCreditCode              AccountingField = "debit_credit_code"
	FieldItemAmount                   AccountingField = "supplier_invoice_item_amount"
	FieldTaxCode                      AccountingField = "tax_code"
	FieldTaxJurisdiction              AccountingField = "tax_jurisdiction"
	FieldAssignmentReference          AccountingField = "assignment_reference"
	FieldCostCenter                   AccountingField = "cost_center"
	FieldProfitCenter                 AccountingField = "profit_center"
)

// AccountingFields lists every accounting field in column order.
var AccountingFields = []AccountingField{
	FieldCompanyCode,
	FieldTransactionType,
	FieldInvoicingParty,
	FieldSupplierInvoiceID,
	FieldDocumentDate,
	FieldPostingDate,
	FieldInvoiceGrossAmount,
	FieldDocumentCurrency,
	FieldDocumentHeaderText,
	FieldPaymentTerms,
	FieldDueCalculationBaseDate,
	FieldTaxIsCalculatedAutomatically,
	FieldItemText,
	FieldGLAccount,
	FieldDebitCreditCode,
	FieldItemAmount,
	FieldTaxCode,
	FieldTaxJurisdiction,
	FieldAssignmentReference,
	FieldCostCenter,
	FieldProfitCenter,
}

// MappingSource tags how a field value was produced.
type MappingSource string

// Mapping sources. SourceSecurityBlocked only appears in audit entries.
const (
	SourceExactMatch      MappingSource = "exact_match"
	SourceFuzzyMatch      MappingSource = "fuzzy_match"
	SourceRuleBased       MappingSource = "rule_based"
	SourceDefault         MappingSource = "default"
	SourceSecurityBlocked MappingSource = "security_blocked"
)

// MappingField is one resolved accounting field.
type MappingField struct {
	Value      any           `json:"value"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning"`
	Source     MappingSource `json:"source"`
}

// AccountingMappingResult is the complete mapped record for a document.
type AccountingMappingResult struct {
	Fields            map[AccountingField]MappingField `json:"-"`
	OverallConfidence float64                          `json:"overall_confidence"`
	RequiresReview    bool                             `json:"requires_review"`
	ProcessingNotes   []string                         `json:"processing_notes"`
	AuditTrail        []AuditLogEntry                  `json:"audit_trail"`
}

// Field returns the named field. Missing fields read as a zero-confidence default.
func (r *AccountingMappingResult) Field(name AccountingField) MappingField {
	if f, ok := r.Fields[name]; ok {
		return f
	}
	return MappingField{Source: SourceDefault}
}

// MarshalJSON flattens the 21 fields into the top-level object.
func (r AccountingMappingResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(AccountingFields)+4)
	for _, name := range AccountingFields {
		out[string(name)] = r.Field(name)
	}
	out["overall_confidence"] = r.OverallConfidence
	out["requires_review"] = r.RequiresReview
	notes := r.ProcessingNotes
	if notes == nil {
		notes = []string{}
	}
	out["processing_notes"] = notes
	trail := r.AuditTrail
	if trail == nil {
		trail = []AuditLogEntry{}
	}
	out["audit_trail"] = trail
	return json.Marshal(out)
}

// AuditLogEntry records one field decision. Entries are append-only.
type AuditLogEntry struct {
	ID          string        `json:"id"`
	DocumentID  string        `json:"document_id,omitempty"`
	UserID      string        `json:"user_id"`
	FieldName   string        `json:"field_name"`
	InputValue  string        `json:"input_value"`
	OutputValue string        `json:"output_value"`
	Confidence  float64       `json:"confidence_score"`
	Reasoning   string        `json:"reasoning"`
	Source      MappingSource `json:"mapping_source"`
	CreatedAt   time.Time     `json:"timestamp"`
}
