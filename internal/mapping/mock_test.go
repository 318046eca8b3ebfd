package mapping

import (
	"context"
	"errors"

	"github.com/sells-group/invoice-cli/internal/model"
)

// mockLookup implements Lookup for testing.
type mockLookup struct {
	companies   []model.CompanyMapping
	glMappings  []model.GLMapping
	costRules   []model.CostCenterRule
	vendors     map[string]*model.VendorProfile
	err         error
	vendorErr   error
	panicOnCall bool
}

func (m *mockLookup) FindCompanyMapping(_ context.Context, _, supplier string) (*model.CompanyMatch, error) {
	if m.panicOnCall {
		panic("lookup exploded")
	}
	if m.err != nil {
		return nil, m.err
	}
	var best *model.CompanyMatch
	for _, c := range m.companies {
		sim := Similarity(supplier, c.SupplierName)
		if sim < CompanyMatchThreshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &model.CompanyMatch{Mapping: c, Similarity: sim, Exact: NormalizeName(supplier) == NormalizeName(c.SupplierName)}
		}
	}
	return best, nil
}

func (m *mockLookup) FindGLMappings(context.Context, string, string) ([]model.GLMapping, error) {
	return m.glMappings, m.err
}

func (m *mockLookup) ListCostCenterRules(context.Context, string) ([]model.CostCenterRule, error) {
	return m.costRules, m.err
}

func (m *mockLookup) FindVendorProfile(_ context.Context, _, supplier string) (*model.VendorProfile, error) {
	if m.vendorErr != nil {
		return nil, m.vendorErr
	}
	return m.vendors[supplier], nil
}

// mockAuditWriter records written entries.
type mockAuditWriter struct {
	entries []model.AuditLogEntry
	err     error
	calls   int
}

func (m *mockAuditWriter) WriteAuditTrail(_ context.Context, entries []model.AuditLogEntry) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entries...)
	return nil
}

var errLookupDown = errors.New("lookup down")
