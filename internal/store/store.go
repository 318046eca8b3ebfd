// Package store persists the mapping lookup tables, GL rules, audit trail,
// document status and dead-letter entries. PostgresStore is the production
// backend; SQLiteStore serves local runs and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/mapping"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DefaultSQLitePath is used when the sqlite driver has no database URL.
const DefaultSQLitePath = "invoices.db"

// AuditTable is the append-only audit log table.
const AuditTable = "mapping_audit_log"

// auditColumns is the COPY column order for AuditTable.
var auditColumns = []string{
	"id", "document_id", "user_id", "field_name", "input_value", "output_value",
	"confidence_score", "reasoning", "mapping_source", "created_at",
}

// DocumentFilter specifies criteria for listing documents.
type DocumentFilter struct {
	UserID string               `json:"user_id,omitempty"`
	Status model.DocumentStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for invoice processing.
type Store interface {
	mapping.Lookup
	mapping.AuditWriter

	// Mapping tables
	UpsertCompanyMappings(ctx context.Context, mappings []model.CompanyMapping) (int64, error)
	UpsertGLMappings(ctx context.Context, mappings []model.GLMapping) (int64, error)
	UpsertCostCenterRules(ctx context.Context, rules []model.CostCenterRule) (int64, error)
	SaveVendorProfile(ctx context.Context, profile model.VendorProfile) error

	// GL rules
	SaveGLRule(ctx context.Context, rule model.GLRule) error
	ListGLRules(ctx context.Context, userID string) ([]model.GLRule, error)

	// Audit
	ListAuditTrail(ctx context.Context, documentID string) ([]model.AuditLogEntry, error)

	// Documents
	CreateDocument(ctx context.Context, userID, fileURL string) (*model.Document, error)
	UpdateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured driver.
func Open(ctx context.Context, driver, databaseURL string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case DriverPostgres, "":
		if databaseURL == "" {
			return nil, eris.New("store: postgres requires a database url")
		}
		return NewPostgres(ctx, databaseURL, poolCfg)
	case DriverSQLite:
		if databaseURL == "" {
			databaseURL = DefaultSQLitePath
		}
		return NewSQLite(databaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func auditRow(e model.AuditLogEntry) []any {
	return []any{
		e.ID, e.DocumentID, e.UserID, e.FieldName, e.InputValue, e.OutputValue,
		e.Confidence, e.Reasoning, string(e.Source), e.CreatedAt,
	}
}

// bestCompanyMatch scores candidates in-process the way pg_trgm does.
func bestCompanyMatch(candidates []model.CompanyMapping, supplier string) *model.CompanyMatch {
	var best *model.CompanyMatch
	target := mapping.NormalizeName(supplier)
	for _, c := range candidates {
		sim := mapping.Similarity(supplier, c.SupplierName)
		if sim < mapping.CompanyMatchThreshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &model.CompanyMatch{Mapping: c, Similarity: sim, Exact: target == mapping.NormalizeName(c.SupplierName)}
		}
	}
	return best
}
