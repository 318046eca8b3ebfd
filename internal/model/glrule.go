package model

import "time"

// GLRule is a user-authored rule assigning a GL code to matching line items.
type GLRule struct {
	ID         string           `json:"id" yaml:"id"`
	UserID     string           `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Name       string           `json:"name" yaml:"name"`
	Priority   int              `json:"priority" yaml:"priority"`
	Active     bool             `json:"active" yaml:"active"`
	Conditions GLRuleConditions `json:"conditions" yaml:"conditions"`
	Actions    GLRuleActions    `json:"actions" yaml:"actions"`
}

// GLRuleConditions are the match criteria of a GLRule. Empty criteria are ignored.
type GLRuleConditions struct {
	VendorPatterns    []string     `json:"vendor_patterns,omitempty" yaml:"vendor_patterns,omitempty"`
	AmountRange       *AmountRange `json:"amount_range,omitempty" yaml:"amount_range,omitempty"`
	Keywords          []string     `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	ExactDescriptions []string     `json:"exact_descriptions,omitempty" yaml:"exact_descriptions,omitempty"`
	ExcludeKeywords   []string     `json:"exclude_keywords,omitempty" yaml:"exclude_keywords,omitempty"`
	DateRange         *DateRange   `json:"date_range,omitempty" yaml:"date_range,omitempty"`
}

// AmountRange bounds are inclusive; a nil bound is open.
type AmountRange struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// DateRange bounds are inclusive; a nil bound is open.
type DateRange struct {
	Start *time.Time `json:"start,omitempty" yaml:"start,omitempty"`
	End   *time.Time `json:"end,omitempty" yaml:"end,omitempty"`
}

// GLRuleActions describe what happens when a GLRule matches.
type GLRuleActions struct {
	GLCode              string  `json:"gl_code" yaml:"gl_code"`
	AutoAssign          bool    `json:"auto_assign" yaml:"auto_assign"`
	RequiresApproval    bool    `json:"requires_approval" yaml:"requires_approval"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	OverrideAI          bool    `json:"override_ai" yaml:"override_ai"`
}
