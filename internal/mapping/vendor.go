package mapping

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
)

// costCenterHintRe is the built-in vendor rule: "Cost Center <CODE>".
var costCenterHintRe = regexp.MustCompile(`(?i)cost\s*cent(?:er|re)\s*[:#]?\s*(\S+)`)

var safeHintRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,31}$`)

// hintDenylist catches SQL and script keywords that pass the character check.
var hintDenylist = []string{"select", "insert", "update", "delete", "drop", "union", "script", "exec"}

// ValidateHint rejects vendor-rule hints that are not plain codes.
func ValidateHint(hint string) error {
	if !safeHintRe.MatchString(hint) {
		return eris.Errorf("hint %q contains disallowed characters", hint)
	}
	lower := strings.ToLower(hint)
	for _, bad := range hintDenylist {
		if strings.Contains(lower, bad) {
			return eris.Errorf("hint %q contains keyword %q", hint, bad)
		}
	}
	return nil
}

// applyVendorRules overrides fields with hints from the supplier's vendor
// profile. Unsafe hints are audited as security_blocked and never applied.
func (e *Engine) applyVendorRules(ctx context.Context, raw *model.ExtractionResult, userID string, rec *recorder) {
	supplier := raw.SupplierName.Text()
	if supplier == "" {
		return
	}
	profile, err := e.lookup.FindVendorProfile(ctx, userID, supplier)
	if err != nil {
		zap.L().Warn("mapping: find vendor profile", zap.String("supplier", supplier), zap.Error(err))
		rec.note(fmt.Sprintf("Vendor rules skipped: %v", err))
		return
	}
	if profile == nil || len(profile.ExtractionRules) == 0 {
		return
	}

	text := strings.TrimSpace(raw.LineItemText() + "\n" + raw.RawText)
	for _, rule := range profile.ExtractionRules {
		target := rule.TargetField
		if target == "" {
			target = model.FieldCostCenter
		}
		if !slices.Contains(model.AccountingFields, target) {
			rec.note(fmt.Sprintf("Vendor rule %q targets unknown field %q", rule.Name, target))
			continue
		}

		re := costCenterHintRe
		if rule.Pattern != "" {
			compiled, err := regexp.Compile(rule.Pattern)
			if err != nil || compiled.NumSubexp() < 1 {
				rec.note(fmt.Sprintf("Vendor rule %q has an unusable pattern", rule.Name))
				continue
			}
			re = compiled
		}

		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		hint := strings.TrimSpace(m[1])

		if err := ValidateHint(hint); err != nil {
			rec.block(target, hint, fmt.Sprintf("Vendor rule %q hint rejected: %v", rule.Name, err))
			rec.note(fmt.Sprintf("Blocked unsafe %s hint from vendor rule %q", target, rule.Name))
			zap.L().Warn("mapping: blocked vendor hint",
				zap.String("supplier", supplier),
				zap.String("rule", rule.Name),
				zap.String("field", string(target)),
			)
			continue
		}

		rec.set(target, hint, model.MappingField{
			Value: hint, Confidence: confVendorHint, Source: model.SourceRuleBased,
			Reasoning: fmt.Sprintf("Vendor rule %q for %s", rule.Name, profile.SupplierName),
		})
		rec.note(fmt.Sprintf("Applied %s %s from vendor rule %q", target, hint, rule.Name))
	}
}
