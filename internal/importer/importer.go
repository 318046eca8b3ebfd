// Package importer loads user mapping tables from XLSX workbooks into the store.
package importer

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/model"
)

// Sheet names recognized in an import workbook.
const (
	SheetCompanies   = "companies"
	SheetGLMappings  = "gl_mappings"
	SheetCostCenters = "cost_centers"
)

// Upserter is the subset of the store the importer writes to.
type Upserter interface {
	UpsertCompanyMappings(ctx context.Context, mappings []model.CompanyMapping) (int64, error)
	UpsertGLMappings(ctx context.Context, mappings []model.GLMapping) (int64, error)
	UpsertCostCenterRules(ctx context.Context, rules []model.CostCenterRule) (int64, error)
}

// Result summarizes one import.
type Result struct {
	Companies       int64    `json:"companies"`
	GLMappings      int64    `json:"gl_mappings"`
	CostCenterRules int64    `json:"cost_center_rules"`
	Skipped         []string `json:"skipped,omitempty"`
}

// ImportFile opens an XLSX workbook and imports every recognized sheet for userID.
// Missing sheets are ignored; rows without required values are skipped and reported.
func ImportFile(ctx context.Context, st Upserter, path, userID string) (*Result, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open file")
	}
	return Import(ctx, st, f, userID)
}

// Import imports the recognized sheets of an opened workbook.
func Import(ctx context.Context, st Upserter, f *xlsx.File, userID string) (*Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, eris.New("importer: user id is required")
	}
	res := &Result{}

	if sheet := findSheet(f, SheetCompanies); sheet != nil {
		rows, err := readSheet(sheet, "supplier_name", "company_code")
		if err != nil {
			return nil, err
		}
		mappings := parseCompanies(rows, userID, res)
		n, err := st.UpsertCompanyMappings(ctx, mappings)
		if err != nil {
			return nil, eris.Wrap(err, "importer: upsert companies")
		}
		res.Companies = n
	}

	if sheet := findSheet(f, SheetGLMappings); sheet != nil {
		rows, err := readSheet(sheet, "gl_account", "keywords")
		if err != nil {
			return nil, err
		}
		mappings := parseGLMappings(rows, userID, res)
		n, err := st.UpsertGLMappings(ctx, mappings)
		if err != nil {
			return nil, eris.Wrap(err, "importer: upsert gl mappings")
		}
		res.GLMappings = n
	}

	if sheet := findSheet(f, SheetCostCenters); sheet != nil {
		rows, err := readSheet(sheet, "cost_center")
		if err != nil {
			return nil, err
		}
		rules := parseCostCenters(rows, userID, res)
		n, err := st.UpsertCostCenterRules(ctx, rules)
		if err != nil {
			return nil, eris.Wrap(err, "importer: upsert cost center rules")
		}
		res.CostCenterRules = n
	}

	zap.L().Info("mapping tables imported",
		zap.String("user_id", userID),
		zap.Int64("companies", res.Companies),
		zap.Int64("gl_mappings", res.GLMappings),
		zap.Int64("cost_center_rules", res.CostCenterRules),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// record is one data row keyed by lower-cased header name.
type record struct {
	line   int
	values map[string]string
}

func (r record) get(col string) string {
	return strings.TrimSpace(r.values[col])
}

func findSheet(f *xlsx.File, name string) *xlsx.Sheet {
	if sheet, ok := f.Sheet[name]; ok {
		return sheet
	}
	for _, sheet := range f.Sheets {
		if strings.EqualFold(strings.TrimSpace(sheet.Name), name) {
			return sheet
		}
	}
	return nil
}

// readSheet treats the first row as the header and returns the remaining
// non-empty rows. Every column in required must be present in the header.
func readSheet(sheet *xlsx.Sheet, required ...string) ([]record, error) {
	if len(sheet.Rows) == 0 {
		return nil, nil
	}
	header := rowToStrings(sheet.Rows[0])
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for _, col := range required {
		if !slices.Contains(header, col) {
			return nil, eris.Errorf("importer: sheet %q missing column %q", sheet.Name, col)
		}
	}

	var out []record
	for i, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		rec := record{line: i + 2, values: make(map[string]string, len(header))}
		empty := true
		for j, cell := range cells {
			if j >= len(header) || header[j] == "" {
				continue
			}
			rec.values[header[j]] = cell
			if strings.TrimSpace(cell) != "" {
				empty = false
			}
		}
		if !empty {
			out = append(out, rec)
		}
	}
	return out, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func parseCompanies(rows []record, userID string, res *Result) []model.CompanyMapping {
	var out []model.CompanyMapping
	seen := make(map[string]bool)
	for _, r := range rows {
		name, code := r.get("supplier_name"), r.get("company_code")
		if name == "" || code == "" {
			res.skip(SheetCompanies, r.line, "supplier_name and company_code are required")
			continue
		}
		// ON CONFLICT DO UPDATE cannot touch the same row twice in one statement.
		key := strings.ToLower(name)
		if seen[key] {
			res.skip(SheetCompanies, r.line, fmt.Sprintf("duplicate supplier %q", name))
			continue
		}
		seen[key] = true
		out = append(out, model.CompanyMapping{UserID: userID, SupplierName: name, CompanyCode: code})
	}
	return out
}

func parseGLMappings(rows []record, userID string, res *Result) []model.GLMapping {
	var out []model.GLMapping
	seen := make(map[string]bool)
	for _, r := range rows {
		account := r.get("gl_account")
		keywords := splitKeywords(r.get("keywords"))
		if account == "" || len(keywords) == 0 {
			res.skip(SheetGLMappings, r.line, "gl_account and keywords are required")
			continue
		}
		if seen[account] {
			res.skip(SheetGLMappings, r.line, fmt.Sprintf("duplicate gl_account %q", account))
			continue
		}
		priority, err := parseInt(r.get("priority"), 0)
		if err != nil {
			res.skip(SheetGLMappings, r.line, err.Error())
			continue
		}
		seen[account] = true
		out = append(out, model.GLMapping{
			UserID:      userID,
			Keywords:    keywords,
			GLAccount:   account,
			Description: r.get("description"),
			Priority:    priority,
		})
	}
	return out
}

func parseCostCenters(rows []record, userID string, res *Result) []model.CostCenterRule {
	var out []model.CostCenterRule
	seen := make(map[string]bool)
	for _, r := range rows {
		cc := r.get("cost_center")
		supplier, desc := r.get("supplier_pattern"), r.get("description_pattern")
		if cc == "" || (supplier == "" && desc == "") {
			res.skip(SheetCostCenters, r.line, "cost_center and at least one pattern are required")
			continue
		}
		if bad := firstInvalidPattern(supplier, desc); bad != "" {
			res.skip(SheetCostCenters, r.line, fmt.Sprintf("invalid pattern %q", bad))
			continue
		}
		key := supplier + "\x00" + desc
		if seen[key] {
			res.skip(SheetCostCenters, r.line, "duplicate pattern pair")
			continue
		}
		priority, err := parseInt(r.get("priority"), 0)
		if err != nil {
			res.skip(SheetCostCenters, r.line, err.Error())
			continue
		}
		seen[key] = true
		out = append(out, model.CostCenterRule{
			UserID:             userID,
			SupplierPattern:    supplier,
			DescriptionPattern: desc,
			CostCenter:         cc,
			Priority:           priority,
			Active:             parseBool(r.get("active"), true),
		})
	}
	return out
}

func (res *Result) skip(sheet string, line int, reason string) {
	res.Skipped = append(res.Skipped, fmt.Sprintf("%s row %d: %s", sheet, line, reason))
}

func splitKeywords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func firstInvalidPattern(patterns ...string) string {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return p
		}
	}
	return ""
}

func parseInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	// Spreadsheet numbers often arrive as "5.0".
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("priority %q is not a number", s)
	}
	return int(f), nil
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(s) {
	case "":
		return def
	case "1", "true", "yes", "y", "active":
		return true
	default:
		return false
	}
}
