package mapping

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sells-group/invoice-cli/internal/model"
)

// recorder collects field decisions, notes and audit entries for one run.
type recorder struct {
	now        time.Time
	userID     string
	documentID string

	fields map[model.AccountingField]model.MappingField
	notes  []string
	trail  []model.AuditLogEntry
}

func newRecorder(now time.Time, userID, documentID string) *recorder {
	return &recorder{
		now:        now.UTC(),
		userID:     userID,
		documentID: documentID,
		fields:     make(map[model.AccountingField]model.MappingField, len(model.AccountingFields)),
		notes:      []string{},
		trail:      []model.AuditLogEntry{},
	}
}

// set stores the field and appends its audit entry.
func (r *recorder) set(name model.AccountingField, input string, f model.MappingField) {
	f.Confidence = clamp(f.Confidence)
	r.fields[name] = f
	r.audit(name, input, formatValue(f.Value), f.Confidence, f.Reasoning, f.Source)
}

// block records a rejected value without touching the field.
func (r *recorder) block(name model.AccountingField, input, reasoning string) {
	r.audit(name, input, "", 0, reasoning, model.SourceSecurityBlocked)
}

func (r *recorder) audit(name model.AccountingField, input, output string, confidence float64, reasoning string, source model.MappingSource) {
	r.trail = append(r.trail, model.AuditLogEntry{
		ID:          uuid.NewString(),
		DocumentID:  r.documentID,
		UserID:      r.userID,
		FieldName:   string(name),
		InputValue:  input,
		OutputValue: output,
		Confidence:  confidence,
		Reasoning:   reasoning,
		Source:      source,
		CreatedAt:   r.now,
	})
}

func (r *recorder) note(msg string) {
	r.notes = append(r.notes, msg)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
