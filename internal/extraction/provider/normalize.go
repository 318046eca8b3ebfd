package provider

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/invoice-cli/internal/model"
)

// maxExactFloatInt is the largest integer float64 represents exactly.
const maxExactFloatInt = 1 << 53

// NormalizeResponse coerces a raw provider payload into an ExtractionResult.
// Missing or malformed fields become null with zero confidence, confidences
// are clamped to [0,1], and every line item is kept, including invalid ones.
func NormalizeResponse(raw map[string]any) *model.ExtractionResult {
	res := &model.ExtractionResult{
		SupplierName:  NormalizeField(raw["supplier_name"]),
		InvoiceNumber: identifierField(raw["invoice_number"]),
		InvoiceDate:   NormalizeField(raw["invoice_date"]),
		TotalAmount:   NormalizeField(raw["total_amount"]),
		LineItems:     normalizeLineItems(raw["line_items"]),
	}

	res.Currency = optionalField(raw, "currency")
	res.DueDate = optionalField(raw, "due_date")
	res.DocumentType = optionalField(raw, "document_type")
	if s, ok := raw["raw_text"].(string); ok {
		res.RawText = s
	}

	if af, ok := raw["accounting_fields"].(map[string]any); ok {
		res.AccountingFields = make(map[model.AccountingField]model.ExtractedField, len(model.AccountingFields))
		for _, name := range model.AccountingFields {
			if identifierFields[name] {
				res.AccountingFields[name] = identifierField(af[string(name)])
				continue
			}
			res.AccountingFields[name] = NormalizeField(af[string(name)])
		}
	}
	if v, ok := raw["overall_confidence"]; ok && v != nil {
		c := Confidence(v)
		res.OverallConfidence = &c
	}
	return res
}

// NormalizeField coerces one {value, confidence} object. Anything that is not
// an object becomes a null field.
func NormalizeField(v any) model.ExtractedField {
	m, ok := v.(map[string]any)
	if !ok {
		return model.NullField()
	}
	return model.ExtractedField{
		Value:      normalizeValue(m["value"]),
		Confidence: Confidence(m["confidence"]),
	}
}

// identifierFields hold codes and references whose digits must survive as text.
var identifierFields = map[model.AccountingField]bool{
	model.FieldCompanyCode:         true,
	model.FieldSupplierInvoiceID:   true,
	model.FieldGLAccount:           true,
	model.FieldTaxCode:             true,
	model.FieldAssignmentReference: true,
	model.FieldCostCenter:          true,
	model.FieldProfitCenter:        true,
}

// identifierField is NormalizeField for identifiers: a numeric value keeps
// its literal digits as a string instead of becoming a float.
func identifierField(v any) model.ExtractedField {
	f := NormalizeField(v)
	if m, ok := v.(map[string]any); ok {
		if n, ok := m["value"].(json.Number); ok {
			f.Value = n.String()
		}
	}
	return f
}

func optionalField(raw map[string]any, key string) *model.ExtractedField {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	f := NormalizeField(v)
	return &f
}

func normalizeLineItems(v any) []model.ExtractedField {
	items, ok := v.([]any)
	if !ok {
		return []model.ExtractedField{}
	}
	out := make([]model.ExtractedField, len(items))
	for i, item := range items {
		out[i] = NormalizeField(item)
	}
	return out
}

// normalizeValue turns json.Number into float64 so downstream code sees one
// numeric type. Integers beyond float64's exact range stay as their digits.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if !strings.ContainsAny(x.String(), ".eE") {
			if i, err := x.Int64(); err != nil || i > maxExactFloatInt || i < -maxExactFloatInt {
				return x.String()
			}
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, inner := range x {
			out[k] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

// Confidence coerces v to a score in [0,1]. Unparseable values yield 0.
func Confidence(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	return Clamp(f)
}

// Clamp bounds a confidence to [0,1]. NaN becomes 0.
func Clamp(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
