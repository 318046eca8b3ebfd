// Package model defines the domain types shared by extraction, mapping and rule evaluation.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ExtractedField is a single value returned by an extraction provider with its confidence.
type ExtractedField struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// NullField returns the zero-confidence null field used for missing or malformed input.
func NullField() ExtractedField {
	return ExtractedField{Value: nil, Confidence: 0}
}

// IsNull reports whether the field carries no usable value.
func (f ExtractedField) IsNull() bool {
	if f.Value == nil {
		return true
	}
	if s, ok := f.Value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Text renders the value as a trimmed string. Line-item objects render their description.
func (f ExtractedField) Text() string {
	switch v := f.Value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case decimal.Decimal:
		return v.String()
	case map[string]any:
		if d, ok := v["description"].(string); ok {
			return strings.TrimSpace(d)
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Amount parses the value as a monetary amount. Strings may carry currency
// symbols and thousands separators. Line-item objects use their "amount" key.
func (f ExtractedField) Amount() (decimal.Decimal, bool) {
	return parseAmount(f.Value)
}

// ExtractionResult is the normalized output of one extraction provider.
type ExtractionResult struct {
	SupplierName  ExtractedField   `json:"supplier_name"`
	InvoiceNumber ExtractedField   `json:"invoice_number"`
	InvoiceDate   ExtractedField   `json:"invoice_date"`
	TotalAmount   ExtractedField   `json:"total_amount"`
	LineItems     []ExtractedField `json:"line_items"`

	Currency     *ExtractedField `json:"currency,omitempty"`
	DueDate      *ExtractedField `json:"due_date,omitempty"`
	DocumentType *ExtractedField `json:"document_type,omitempty"`
	RawText      string          `json:"raw_text,omitempty"`

	// AccountingFields is set only by schema-aware extractors.
	AccountingFields  map[AccountingField]ExtractedField `json:"accounting_fields,omitempty"`
	OverallConfidence *float64                           `json:"overall_confidence,omitempty"`

	Provider string  `json:"provider,omitempty"`
	Cost     float64 `json:"cost"`
}

// NamedField pairs a field with its JSON name.
type NamedField struct {
	Name  string
	Field ExtractedField
}

// KeyFields returns the fields whose confidence gates fallback, in a fixed
// order: supplier_name, total_amount, invoice_date.
func (r *ExtractionResult) KeyFields() []NamedField {
	return []NamedField{
		{"supplier_name", r.SupplierName},
		{"total_amount", r.TotalAmount},
		{"invoice_date", r.InvoiceDate},
	}
}

// LineItemText joins all line item descriptions with a single space.
func (r *ExtractionResult) LineItemText() string {
	parts := make([]string, 0, len(r.LineItems))
	for _, li := range r.LineItems {
		if t := li.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
