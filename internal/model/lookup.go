package model

import "time"

// CompanyMapping maps a supplier name to a company code for one user.
type CompanyMapping struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SupplierName string    `json:"supplier_name"`
	CompanyCode  string    `json:"company_code"`
	CreatedAt    time.Time `json:"created_at"`
}

// CompanyMatch is a CompanyMapping candidate with its name similarity.
type CompanyMatch struct {
	Mapping    CompanyMapping `json:"mapping"`
	Similarity float64        `json:"similarity"`
	Exact      bool           `json:"exact"`
}

// GLMapping assigns a GL account when any of its keywords appears in the item text.
type GLMapping struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Keywords    []string  `json:"keywords"`
	GLAccount   string    `json:"gl_account"`
	Description string    `json:"description,omitempty"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
}

// CostCenterRule assigns a cost center when every non-empty pattern matches.
type CostCenterRule struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	SupplierPattern    string    `json:"supplier_pattern,omitempty"`
	DescriptionPattern string    `json:"description_pattern,omitempty"`
	CostCenter         string    `json:"cost_center"`
	Priority           int       `json:"priority"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
}

// VendorProfile holds per-vendor extraction hints for a user.
type VendorProfile struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"user_id"`
	SupplierName    string                 `json:"supplier_name"`
	ExtractionRules []VendorExtractionRule `json:"extraction_rules"`
}

// VendorExtractionRule pulls a hint for TargetField out of document text.
// Pattern must have one capture group; empty Pattern uses the built-in
// "Cost Center <CODE>" matcher.
type VendorExtractionRule struct {
	Name        string          `json:"name"`
	TargetField AccountingField `json:"target_field"`
	Pattern     string          `json:"pattern,omitempty"`
}
