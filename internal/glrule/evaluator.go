// Package glrule scores user-authored GL rules against invoice line items.
package glrule

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/invoice-cli/internal/model"
)

// Points awarded per matched condition.
const (
	WeightVendor           = 30
	WeightAmount           = 20
	WeightExactDescription = 35
	WeightKeyword          = 25
)

// Condition names reported in Match.MatchedConditions.
const (
	CondVendor           = "vendor_pattern"
	CondAmount           = "amount_range"
	CondExactDescription = "exact_description"
	CondKeyword          = "keyword"
	CondDate             = "date_range"
)

// MaxSuggestions is the number of matches surfaced by Suggest.
const MaxSuggestions = 2

// LineItemContext is the line item a rule is evaluated against.
type LineItemContext struct {
	Description string
	Amount      decimal.NullDecimal
	VendorName  string
	// Date is zero when unknown; date ranges are then not enforced.
	Date time.Time
}

// Match is one rule that matched a line item.
type Match struct {
	Rule              model.GLRule `json:"rule"`
	Points            int          `json:"points"`
	PossiblePoints    int          `json:"possible_points"`
	Score             float64      `json:"score"`
	MatchedConditions []string     `json:"matched_conditions"`
	AutoApply         bool         `json:"auto_apply"`
}

type compiledRule struct {
	rule    model.GLRule
	vendors []vendorMatcher
}

type vendorMatcher struct {
	re      *regexp.Regexp
	literal string
}

func (v vendorMatcher) match(name string) bool {
	if v.re != nil {
		return v.re.MatchString(name)
	}
	return strings.Contains(strings.ToLower(name), v.literal)
}

// Evaluator holds active rules with their vendor patterns compiled.
type Evaluator struct {
	rules []compiledRule
}

// NewEvaluator compiles the active rules. Vendor patterns are
// case-insensitive regular expressions; a pattern that does not compile is
// matched as a plain substring.
func NewEvaluator(rules []model.GLRule) *Evaluator {
	e := &Evaluator{}
	for _, r := range rules {
		if !r.Active {
			continue
		}
		cr := compiledRule{rule: r}
		for _, p := range r.Conditions.VendorPatterns {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				cr.vendors = append(cr.vendors, vendorMatcher{literal: strings.ToLower(p)})
				continue
			}
			cr.vendors = append(cr.vendors, vendorMatcher{re: re})
		}
		e.rules = append(e.rules, cr)
	}
	return e
}

// Len returns the number of active rules.
func (e *Evaluator) Len() int { return len(e.rules) }

// Evaluate returns every matching rule ranked by score, then priority.
// A rule hit by one of its exclude keywords never matches.
func (e *Evaluator) Evaluate(item LineItemContext) []Match {
	desc := strings.ToLower(strings.TrimSpace(item.Description))

	var matches []Match
	for _, cr := range e.rules {
		if m, ok := cr.evaluate(item, desc); ok {
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Rule.Priority > matches[j].Rule.Priority
	})
	return matches
}

// Suggest returns at most the top two matches.
func (e *Evaluator) Suggest(item LineItemContext) []Match {
	m := e.Evaluate(item)
	if len(m) > MaxSuggestions {
		m = m[:MaxSuggestions]
	}
	return m
}

func (cr compiledRule) evaluate(item LineItemContext, desc string) (Match, bool) {
	c := cr.rule.Conditions

	for _, kw := range c.ExcludeKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(desc, kw) {
			return Match{}, false
		}
	}
	if c.DateRange != nil && !item.Date.IsZero() && !inDateRange(item.Date, c.DateRange) {
		return Match{}, false
	}

	m := Match{Rule: cr.rule, MatchedConditions: []string{}}

	if len(cr.vendors) > 0 {
		m.PossiblePoints += WeightVendor
		for _, v := range cr.vendors {
			if v.match(item.VendorName) {
				m.Points += WeightVendor
				m.MatchedConditions = append(m.MatchedConditions, CondVendor)
				break
			}
		}
	}

	if c.AmountRange != nil && (c.AmountRange.Min != nil || c.AmountRange.Max != nil) {
		m.PossiblePoints += WeightAmount
		if item.Amount.Valid && inAmountRange(item.Amount.Decimal, c.AmountRange) {
			m.Points += WeightAmount
			m.MatchedConditions = append(m.MatchedConditions, CondAmount)
		}
	}

	if len(c.ExactDescriptions) > 0 {
		m.PossiblePoints += WeightExactDescription
		for _, d := range c.ExactDescriptions {
			if strings.EqualFold(strings.TrimSpace(d), strings.TrimSpace(item.Description)) {
				m.Points += WeightExactDescription
				m.MatchedConditions = append(m.MatchedConditions, CondExactDescription)
				break
			}
		}
	}

	if len(c.Keywords) > 0 {
		m.PossiblePoints += WeightKeyword
		for _, kw := range c.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(desc, kw) {
				m.Points += WeightKeyword
				m.MatchedConditions = append(m.MatchedConditions, CondKeyword)
				break
			}
		}
	}

	if m.Points == 0 {
		return Match{}, false
	}
	if c.DateRange != nil && !item.Date.IsZero() {
		m.MatchedConditions = append(m.MatchedConditions, CondDate)
	}
	m.Score = float64(m.Points) / float64(m.PossiblePoints)
	m.AutoApply = cr.rule.Actions.AutoAssign && m.Score >= cr.rule.Actions.ConfidenceThreshold
	return m, true
}

func inAmountRange(amount decimal.Decimal, r *model.AmountRange) bool {
	if r.Min != nil && amount.LessThan(decimal.NewFromFloat(*r.Min)) {
		return false
	}
	if r.Max != nil && amount.GreaterThan(decimal.NewFromFloat(*r.Max)) {
		return false
	}
	return true
}

func inDateRange(d time.Time, r *model.DateRange) bool {
	if r.Start != nil && d.Before(*r.Start) {
		return false
	}
	if r.End != nil && d.After(*r.End) {
		return false
	}
	return true
}
