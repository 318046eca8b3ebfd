package mapping

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/invoice-cli/internal/model"
)

const dateLayout = "2006-01-02"

var dateLayouts = []string{
	dateLayout,
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// ParseDate normalizes common invoice date formats to YYYY-MM-DD.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// mapDerived resolves each accounting field from the generic extraction
// fields, the lookup tables and the fixed defaults, in column order.
func (e *Engine) mapDerived(ctx context.Context, raw *model.ExtractionResult, userID string, rec *recorder) error {
	supplier := raw.SupplierName.Text()
	invoiceNo := raw.InvoiceNumber.Text()
	itemText := raw.LineItemText()
	total, totalOK := raw.TotalAmount.Amount()
	invoiceDate, dateOK := ParseDate(raw.InvoiceDate.Text())

	if err := e.resolveCompanyCode(ctx, userID, supplier, rec); err != nil {
		return err
	}

	docType := ""
	if raw.DocumentType != nil {
		docType = raw.DocumentType.Text()
	}
	txType, matched := TransactionType(docType)
	if matched {
		rec.set(model.FieldTransactionType, docType, model.MappingField{
			Value: txType, Confidence: confTypeMatch, Source: model.SourceRuleBased,
			Reasoning: fmt.Sprintf("Document type %q maps to %s", docType, txType),
		})
	} else {
		rec.set(model.FieldTransactionType, docType, model.MappingField{
			Value: txType, Confidence: confTypeDefault, Source: model.SourceDefault,
			Reasoning: "Document type not recognized; defaulted to invoice (RE)",
		})
	}

	rec.set(model.FieldInvoicingParty, supplier, extracted(supplier, "Supplier name from extraction"))
	rec.set(model.FieldSupplierInvoiceID, invoiceNo, extracted(invoiceNo, "Invoice number from extraction"))

	switch {
	case dateOK:
		rec.set(model.FieldDocumentDate, raw.InvoiceDate.Text(), model.MappingField{
			Value: invoiceDate.Format(dateLayout), Confidence: confExtracted, Source: model.SourceExactMatch,
			Reasoning: "Invoice date from extraction",
		})
	case !raw.InvoiceDate.IsNull():
		rec.set(model.FieldDocumentDate, raw.InvoiceDate.Text(), model.MappingField{
			Value: raw.InvoiceDate.Text(), Confidence: confWeakDefault, Source: model.SourceExactMatch,
			Reasoning: "Invoice date from extraction in an unrecognized format",
		})
	default:
		rec.set(model.FieldDocumentDate, "", missing("No invoice date extracted"))
	}

	posting := e.cfg.Now().UTC().Format(dateLayout)
	rec.set(model.FieldPostingDate, "", model.MappingField{
		Value: posting, Confidence: confDerived, Source: model.SourceDefault,
		Reasoning: "Posting date set to processing date",
	})

	if totalOK {
		rec.set(model.FieldInvoiceGrossAmount, raw.TotalAmount.Text(), model.MappingField{
			Value: total.InexactFloat64(), Confidence: confExtracted, Source: model.SourceExactMatch,
			Reasoning: "Total amount from extraction",
		})
	} else {
		rec.set(model.FieldInvoiceGrossAmount, raw.TotalAmount.Text(), missing("No parseable total amount extracted"))
	}

	e.resolveCurrency(raw, rec)

	switch {
	case supplier != "" && invoiceNo != "":
		rec.set(model.FieldDocumentHeaderText, "", model.MappingField{
			Value: truncate(fmt.Sprintf("%s %s", supplier, invoiceNo), 25), Confidence: confDerived,
			Source: model.SourceRuleBased, Reasoning: "Header text built from supplier and invoice number",
		})
	case supplier != "":
		rec.set(model.FieldDocumentHeaderText, "", model.MappingField{
			Value: truncate(supplier, 25), Confidence: confWeakDefault,
			Source: model.SourceRuleBased, Reasoning: "Header text built from supplier name",
		})
	default:
		rec.set(model.FieldDocumentHeaderText, "", model.MappingField{
			Value: "Supplier invoice", Confidence: confWeakDefault,
			Source: model.SourceDefault, Reasoning: "Generic header text",
		})
	}

	e.resolvePaymentTerms(raw, invoiceDate, dateOK, rec)

	if dateOK {
		rec.set(model.FieldDueCalculationBaseDate, raw.InvoiceDate.Text(), model.MappingField{
			Value: invoiceDate.Format(dateLayout), Confidence: confExtracted, Source: model.SourceExactMatch,
			Reasoning: "Due dates calculated from invoice date",
		})
	} else {
		rec.set(model.FieldDueCalculationBaseDate, "", model.MappingField{
			Value: posting, Confidence: confWeakDefault, Source: model.SourceDefault,
			Reasoning: "Invoice date unavailable; posting date used as baseline",
		})
	}

	rec.set(model.FieldTaxIsCalculatedAutomatically, "", model.MappingField{
		Value: true, Confidence: confDefault, Source: model.SourceDefault,
		Reasoning: "Tax calculated automatically by default",
	})

	if itemText != "" {
		rec.set(model.FieldItemText, itemText, model.MappingField{
			Value: truncate(itemText, 50), Confidence: confExtracted, Source: model.SourceExactMatch,
			Reasoning: fmt.Sprintf("Joined descriptions of %d line items", len(raw.LineItems)),
		})
	} else {
		rec.set(model.FieldItemText, "", missing("No line item descriptions extracted"))
	}

	glText := itemText
	if glText == "" {
		glText = raw.RawText
	}
	if err := e.resolveGLAccount(ctx, userID, glText, total, totalOK, rec); err != nil {
		return err
	}

	if txType == TransactionCredit {
		rec.set(model.FieldDebitCreditCode, docType, model.MappingField{
			Value: "H", Confidence: confDerived, Source: model.SourceRuleBased,
			Reasoning: "Credit note posts as credit (H)",
		})
	} else {
		rec.set(model.FieldDebitCreditCode, docType, model.MappingField{
			Value: "S", Confidence: confDerived, Source: model.SourceDefault,
			Reasoning: "Expense items post as debit (S)",
		})
	}

	e.resolveItemAmount(raw, total, totalOK, rec)

	rec.set(model.FieldTaxCode, "", model.MappingField{
		Value: e.cfg.DefaultTaxCode, Confidence: confDefault, Source: model.SourceDefault,
		Reasoning: "Default tax code",
	})
	rec.set(model.FieldTaxJurisdiction, "", model.MappingField{
		Value: e.cfg.DefaultTaxJurisdiction, Confidence: confDefault, Source: model.SourceDefault,
		Reasoning: "Default tax jurisdiction",
	})
	rec.set(model.FieldAssignmentReference, invoiceNo, extracted(invoiceNo, "Invoice number used as assignment reference"))

	if err := e.resolveCostCenter(ctx, userID, supplier, itemText, rec); err != nil {
		return err
	}

	rec.set(model.FieldProfitCenter, "", model.MappingField{
		Value: e.cfg.DefaultProfitCenter, Confidence: confWeakDefault, Source: model.SourceDefault,
		Reasoning: "Default profit center",
	})
	return nil
}

func (e *Engine) resolveCompanyCode(ctx context.Context, userID, supplier string, rec *recorder) error {
	if supplier == "" {
		rec.set(model.FieldCompanyCode, "", missing("No supplier name extracted; company code cannot be matched"))
		rec.note("Company code unresolved: no supplier name")
		return nil
	}
	match, err := e.lookup.FindCompanyMapping(ctx, userID, supplier)
	if err != nil {
		return eris.Wrap(err, "mapping: find company mapping")
	}
	if match == nil || match.Similarity < CompanyMatchThreshold {
		rec.set(model.FieldCompanyCode, supplier, missing(fmt.Sprintf("No company mapping found for supplier %q", supplier)))
		rec.note(fmt.Sprintf("Company code unresolved: no mapping for %q", supplier))
		return nil
	}
	if match.Exact {
		rec.set(model.FieldCompanyCode, supplier, model.MappingField{
			Value: match.Mapping.CompanyCode, Confidence: confExactCompany, Source: model.SourceExactMatch,
			Reasoning: fmt.Sprintf("Supplier %q matches company mapping exactly", supplier),
		})
		return nil
	}
	rec.set(model.FieldCompanyCode, supplier, model.MappingField{
		Value: match.Mapping.CompanyCode, Confidence: min(match.Similarity, confExtracted), Source: model.SourceFuzzyMatch,
		Reasoning: fmt.Sprintf("Supplier %q fuzzy matched %q (similarity %.2f)", supplier, match.Mapping.SupplierName, match.Similarity),
	})
	return nil
}

func (e *Engine) resolveCurrency(raw *model.ExtractionResult, rec *recorder) {
	if raw.Currency != nil {
		code := strings.ToUpper(raw.Currency.Text())
		if len(code) == 3 {
			rec.set(model.FieldDocumentCurrency, raw.Currency.Text(), model.MappingField{
				Value: code, Confidence: confExtracted, Source: model.SourceExactMatch,
				Reasoning: "Currency from extraction",
			})
			return
		}
	}
	rec.set(model.FieldDocumentCurrency, "", model.MappingField{
		Value: e.cfg.DefaultCurrency, Confidence: confDefault, Source: model.SourceDefault,
		Reasoning: "Currency not extracted; default currency used",
	})
}

func (e *Engine) resolvePaymentTerms(raw *model.ExtractionResult, invoiceDate time.Time, dateOK bool, rec *recorder) {
	if raw.DueDate != nil && dateOK {
		if due, ok := ParseDate(raw.DueDate.Text()); ok && !due.Before(invoiceDate) {
			days := int(due.Sub(invoiceDate).Hours() / 24)
			terms := fmt.Sprintf("NT%d", days)
			rec.set(model.FieldPaymentTerms, raw.DueDate.Text(), model.MappingField{
				Value: terms, Confidence: confDerived, Source: model.SourceRuleBased,
				Reasoning: fmt.Sprintf("Due %d days after invoice date", days),
			})
			return
		}
	}
	rec.set(model.FieldPaymentTerms, "", model.MappingField{
		Value: e.cfg.DefaultPaymentTerms, Confidence: confWeakDefault, Source: model.SourceDefault,
		Reasoning: "Default payment terms",
	})
}

func (e *Engine) resolveGLAccount(ctx context.Context, userID, text string, total decimal.Decimal, totalOK bool, rec *recorder) error {
	if strings.TrimSpace(text) != "" {
		mappings, err := e.lookup.FindGLMappings(ctx, userID, text)
		if err != nil {
			return eris.Wrap(err, "mapping: find gl mappings")
		}
		if m, kw, ok := pickGLMapping(mappings, text); ok {
			rec.set(model.FieldGLAccount, text, model.MappingField{
				Value: m.GLAccount, Confidence: confGLMapping, Source: model.SourceRuleBased,
				Reasoning: fmt.Sprintf("GL mapping %s matched keyword %q", m.GLAccount, kw),
			})
			return nil
		}
		if len(mappings) > 0 {
			rec.note(fmt.Sprintf("Ignored %d GL mapping candidate(s) with no keyword in the item text", len(mappings)))
		}
	}

	account, band := GLAccountForAmount(total, totalOK)
	rec.set(model.FieldGLAccount, total.String(), model.MappingField{
		Value: account, Confidence: confGLBand, Source: model.SourceDefault,
		Reasoning: fmt.Sprintf("No GL mapping matched; amount-band default for %s", band),
	})
	rec.note(fmt.Sprintf("GL account defaulted to %s (%s)", account, band))
	return nil
}

// pickGLMapping returns the highest-priority mapping with a keyword in text.
// Candidates without a keyword in text are never picked.
func pickGLMapping(mappings []model.GLMapping, text string) (model.GLMapping, string, bool) {
	sorted := append([]model.GLMapping(nil), mappings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	lower := strings.ToLower(text)
	for _, m := range sorted {
		for _, kw := range m.Keywords {
			if k := strings.ToLower(strings.TrimSpace(kw)); k != "" && strings.Contains(lower, k) {
				return m, kw, true
			}
		}
	}
	return model.GLMapping{}, "", false
}

func (e *Engine) resolveItemAmount(raw *model.ExtractionResult, total decimal.Decimal, totalOK bool, rec *recorder) {
	sum := decimal.Zero
	n := 0
	for _, li := range raw.LineItems {
		if a, ok := li.Amount(); ok {
			sum = sum.Add(a)
			n++
		}
	}
	switch {
	case n > 0:
		rec.set(model.FieldItemAmount, sum.String(), model.MappingField{
			Value: sum.InexactFloat64(), Confidence: confExtracted, Source: model.SourceExactMatch,
			Reasoning: fmt.Sprintf("Sum of %d line item amounts", n),
		})
		if totalOK && !sum.Equal(total) {
			rec.note(fmt.Sprintf("Line items sum to %s but invoice total is %s", sum, total))
		}
	case totalOK:
		rec.set(model.FieldItemAmount, total.String(), model.MappingField{
			Value: total.InexactFloat64(), Confidence: confDerived, Source: model.SourceRuleBased,
			Reasoning: "No line item amounts; invoice total used",
		})
	default:
		rec.set(model.FieldItemAmount, "", missing("No line item or total amount extracted"))
	}
}

func (e *Engine) resolveCostCenter(ctx context.Context, userID, supplier, itemText string, rec *recorder) error {
	rules, err := e.lookup.ListCostCenterRules(ctx, userID)
	if err != nil {
		return eris.Wrap(err, "mapping: list cost center rules")
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	input := strings.TrimSpace(supplier + " | " + itemText)
	for _, r := range rules {
		ok, err := costCenterRuleMatches(r, supplier, itemText)
		if err != nil {
			rec.note(fmt.Sprintf("Cost center rule %s skipped: %v", r.ID, err))
			continue
		}
		if ok {
			rec.set(model.FieldCostCenter, input, model.MappingField{
				Value: r.CostCenter, Confidence: confCostRule, Source: model.SourceRuleBased,
				Reasoning: fmt.Sprintf("Cost center rule %s (priority %d) matched", r.ID, r.Priority),
			})
			return nil
		}
	}

	cc, label := CostCenterHeuristic(itemText + " " + supplier)
	reason := fmt.Sprintf("No cost center rule matched; %s keyword heuristic", label)
	if cc == CostCenterGeneral {
		reason = "No cost center rule or keyword matched; generic default"
	}
	rec.set(model.FieldCostCenter, input, model.MappingField{
		Value: cc, Confidence: confCostHeuristic, Source: model.SourceDefault, Reasoning: reason,
	})
	return nil
}

// costCenterRuleMatches requires every non-empty pattern to match. Rules with
// no patterns never match.
func costCenterRuleMatches(r model.CostCenterRule, supplier, description string) (bool, error) {
	if !r.Active {
		return false, nil
	}
	checks := []struct {
		pattern string
		text    string
	}{
		{r.SupplierPattern, supplier},
		{r.DescriptionPattern, description},
	}
	matched := false
	for _, c := range checks {
		if strings.TrimSpace(c.pattern) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + c.pattern)
		if err != nil {
			return false, eris.Wrapf(err, "invalid pattern %q", c.pattern)
		}
		if !re.MatchString(c.text) {
			return false, nil
		}
		matched = true
	}
	return matched, nil
}

func extracted(value, reasoning string) model.MappingField {
	if value == "" {
		return missing("Not present in extraction")
	}
	return model.MappingField{Value: value, Confidence: confExtracted, Source: model.SourceExactMatch, Reasoning: reasoning}
}

func missing(reasoning string) model.MappingField {
	return model.MappingField{Value: nil, Confidence: 0, Source: model.SourceDefault, Reasoning: reasoning}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
