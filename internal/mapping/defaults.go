package mapping

import (
	"strings"

	"github.com/shopspring/decimal"
)

// GL accounts used when no GL mapping matches, banded by invoice amount.
const (
	GLLargeExpense   = "6500"
	GLSmallExpense   = "6100"
	GLGeneralExpense = "6000"
)

var (
	largeExpenseFloor   = decimal.NewFromInt(10000)
	smallExpenseCeiling = decimal.NewFromInt(100)
)

// Cost centers assigned by keyword heuristics when no rule matches.
const (
	CostCenterOffice   = "CC-1100"
	CostCenterTravel   = "CC-1200"
	CostCenterSoftware = "CC-1300"
	CostCenterGeneral  = "CC-1000"
)

// Confidence levels for the fixed resolution paths.
const (
	confExtracted     = 0.9
	confExactCompany  = 0.95
	confGLMapping     = 0.85
	confGLBand        = 0.3
	confCostRule      = 0.9
	confCostHeuristic = 0.4
	confVendorHint    = 0.95
	confTypeMatch     = 0.9
	confTypeDefault   = 0.6
	confDerived       = 0.8
	confDefault       = 0.7
	confWeakDefault   = 0.6
)

// Transaction types.
const (
	TransactionInvoice = "RE"
	TransactionCredit  = "KR"
	TransactionDebit   = "DR"
)

// transactionKeywords is checked in order; credit and debit notes win over
// the generic invoice keywords they usually contain.
var transactionKeywords = []struct {
	keyword string
	code    string
}{
	{"credit", TransactionCredit},
	{"debit", TransactionDebit},
	{"invoice", TransactionInvoice},
	{"receipt", TransactionInvoice},
	{"bill", TransactionInvoice},
}

type costCenterHeuristic struct {
	label      string
	costCenter string
	keywords   []string
}

var costCenterHeuristics = []costCenterHeuristic{
	{"office", CostCenterOffice, []string{"office", "supplies", "stationery", "paper", "printer", "toner"}},
	{"travel", CostCenterTravel, []string{"travel", "flight", "airline", "hotel", "lodging", "taxi", "uber", "mileage"}},
	{"software", CostCenterSoftware, []string{"software", "license", "subscription", "saas", "cloud", "hosting"}},
}

// GLAccountForAmount returns the banded default GL account and its label.
func GLAccountForAmount(amount decimal.Decimal, known bool) (string, string) {
	switch {
	case !known:
		return GLGeneralExpense, "general expense (amount unknown)"
	case amount.GreaterThan(largeExpenseFloor):
		return GLLargeExpense, "large expense (> 10,000)"
	case amount.LessThan(smallExpenseCeiling):
		return GLSmallExpense, "small expense (< 100)"
	default:
		return GLGeneralExpense, "general expense"
	}
}

// TransactionType maps document-type text to a transaction code.
func TransactionType(docType string) (code string, matched bool) {
	s := strings.ToLower(docType)
	for _, k := range transactionKeywords {
		if strings.Contains(s, k.keyword) {
			return k.code, true
		}
	}
	return TransactionInvoice, false
}

// CostCenterHeuristic picks a cost center from keywords in text.
func CostCenterHeuristic(text string) (costCenter, label string) {
	s := strings.ToLower(text)
	for _, h := range costCenterHeuristics {
		for _, kw := range h.keywords {
			if strings.Contains(s, kw) {
				return h.costCenter, h.label
			}
		}
	}
	return CostCenterGeneral, "general"
}
