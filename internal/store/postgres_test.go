package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/mapping"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := newPostgresStore(mock, nil)
	s.retry.InitialBackoff = time.Millisecond
	s.retry.MaxBackoff = time.Millisecond
	return s, mock
}

func TestPostgresStore_ImplementsStore(t *testing.T) {
	var _ Store = (*PostgresStore)(nil)
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS pg_trgm`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCompanyMapping_Fuzzy(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`similarity\(.*FROM company_mappings\s+WHERE user_id = \$1`).
		WithArgs("u1", "STAPLES BUSINESS ADVANTGE", mapping.CompanyMatchThreshold).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "supplier_name", "company_code", "created_at", "sim"}).
			AddRow("cm-1", "u1", "Staples Business Advantage", "2000", now, 0.83))

	match, err := s.FindCompanyMapping(context.Background(), "u1", "Staples Business Advantge")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.False(t, match.Exact)
	assert.Equal(t, 0.83, match.Similarity)
	assert.Equal(t, "2000", match.Mapping.CompanyCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCompanyMapping_ExactScoresOne(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM company_mappings`).
		WithArgs("u1", "ACME", mapping.CompanyMatchThreshold).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "supplier_name", "company_code", "created_at", "sim"}).
			AddRow("cm-1", "u1", "Acme Corporation", "1000", time.Now(), 0.97))

	match, err := s.FindCompanyMapping(context.Background(), "u1", "ACME Corp.")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.True(t, match.Exact)
	assert.Equal(t, 1.0, match.Similarity)
}

func TestPostgresStore_FindCompanyMapping_NoRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM company_mappings`).
		WithArgs("u1", "GLOBEX", mapping.CompanyMatchThreshold).
		WillReturnError(pgx.ErrNoRows)

	match, err := s.FindCompanyMapping(context.Background(), "u1", "Globex Inc")
	require.NoError(t, err)
	assert.Nil(t, match)

	match, err = s.FindCompanyMapping(context.Background(), "u1", "   ")
	require.NoError(t, err)
	assert.Nil(t, match, "blank names never query")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCompanyMapping_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM company_mappings`).WillReturnError(errors.New("connection reset"))

	_, err := s.FindCompanyMapping(context.Background(), "u1", "Acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `find company mapping for "Acme"`)
}

func TestPostgresStore_FindGLMappings(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM gl_mappings\s+WHERE user_id = \$1\s+AND EXISTS \(SELECT 1 FROM unnest\(keywords\)`).
		WithArgs("u1", "Office supplies").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "keywords", "gl_account", "description", "priority", "created_at"}).
			AddRow("gl-1", "u1", []string{"office"}, "6020", "Office", 3, now))

	got, err := s.FindGLMappings(context.Background(), "u1", "Office supplies")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "6020", got[0].GLAccount)
	assert.Equal(t, []string{"office"}, got[0].Keywords)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCostCenterRules(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM cost_center_rules\s+WHERE user_id = \$1 AND active\s+ORDER BY priority DESC`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "supplier_pattern", "description_pattern", "cost_center", "priority", "active", "created_at"}).
			AddRow("r1", "u1", "amazon", "", "CC-2000", 5, true, time.Now()))

	rules, err := s.ListCostCenterRules(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "CC-2000", rules[0].CostCenter)
}

func TestPostgresStore_FindVendorProfile(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM vendor_profiles`).
		WithArgs("u1", "AMAZON BUSINESS").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "supplier_name", "extraction_rules"}).
			AddRow("vp-1", "u1", "Amazon Business", []byte(`[{"name":"cc","target_field":"cost_center"}]`)))

	p, err := s.FindVendorProfile(context.Background(), "u1", "Amazon Business Inc.")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Len(t, p.ExtractionRules, 1)
	assert.Equal(t, model.FieldCostCenter, p.ExtractionRules[0].TargetField)

	mock.ExpectQuery(`FROM vendor_profiles`).WillReturnError(pgx.ErrNoRows)
	p, err = s.FindVendorProfile(context.Background(), "u1", "Globex")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPostgresStore_UpsertCompanyMappings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_company_mappings"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_company_mappings"}, []string{"id", "user_id", "supplier_name", "company_code"}).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("user_id", "supplier_name"\) DO UPDATE SET "company_code" = EXCLUDED."company_code"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertCompanyMappings(context.Background(), []model.CompanyMapping{
		{UserID: "u1", SupplierName: "Acme", CompanyCode: "1000"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveGLRule(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO gl_rules .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("r1", "u1", "Adobe", 8, true, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveGLRule(context.Background(), model.GLRule{
		ID: "r1", UserID: "u1", Name: "Adobe", Priority: 8, Active: true,
		Actions: model.GLRuleActions{GLCode: "6300"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListGLRules(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM gl_rules WHERE user_id = \$1 AND active`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "priority", "active", "conditions", "actions"}).
			AddRow("r1", "u1", "Adobe", 8, true, []byte(`{"vendor_patterns":["adobe"]}`), []byte(`{"gl_code":"6300","auto_assign":true}`)).
			AddRow("r2", "u1", "Broken", 1, true, []byte(`{`), []byte(`{}`)))

	_, err := s.ListGLRules(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gl rule r2 conditions")
}

func TestPostgresStore_WriteAuditTrail(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	entries := []model.AuditLogEntry{
		{ID: "a1", FieldName: "company_code", Source: model.SourceDefault},
		{ID: "a2", FieldName: "gl_account", Source: model.SourceDefault},
	}
	mock.ExpectCopyFrom(pgx.Identifier{AuditTable}, auditColumns).WillReturnResult(2)

	require.NoError(t, s.WriteAuditTrail(context.Background(), entries))
	require.NoError(t, s.WriteAuditTrail(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WriteAuditTrail_RetriesTransient(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	entries := []model.AuditLogEntry{{ID: "a1", FieldName: "company_code", Source: model.SourceDefault}}
	mock.ExpectCopyFrom(pgx.Identifier{AuditTable}, auditColumns).
		WillReturnError(errors.New("write tcp 10.0.0.5:5432: connection reset by peer"))
	mock.ExpectCopyFrom(pgx.Identifier{AuditTable}, auditColumns).WillReturnResult(1)

	require.NoError(t, s.WriteAuditTrail(context.Background(), entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WriteAuditTrail_PermanentFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	entries := []model.AuditLogEntry{{ID: "a1"}}
	mock.ExpectCopyFrom(pgx.Identifier{AuditTable}, auditColumns).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := s.WriteAuditTrail(context.Background(), entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write audit trail")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, user_id, file_url, status, .* FROM documents WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDocument(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE documents`).
		WithArgs("completed", "openai", 0.01, 0.92, "", pgxmock.AnyArg(), "doc-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE documents`).
		WithArgs("failed", "", 0.0, 0.0, "boom", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.UpdateDocument(context.Background(), &model.Document{
		ID: "doc-1", Status: model.StatusCompleted, ExtractionMethod: "openai", TotalCost: 0.01, Confidence: 0.92,
	}))
	err := s.UpdateDocument(context.Background(), &model.Document{ID: "missing", Status: model.StatusFailed, Error: "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document not found: missing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDocuments(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM documents WHERE true AND user_id = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("u1", "requires_review", 20, 40).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "file_url", "status", "extraction_method", "total_cost", "confidence", "error", "created_at", "updated_at"}).
			AddRow("doc-1", "u1", "s3://b/a.pdf", model.StatusRequiresReview, "mindee", 0.1, 0.6, "", now, now))

	docs, err := s.ListDocuments(context.Background(), DocumentFilter{UserID: "u1", Status: model.StatusRequiresReview, Limit: 20, Offset: 40})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.StatusRequiresReview, docs[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO dead_letter_queue`).
		WithArgs(pgxmock.AnyArg(), "doc-1", "u1", "s3://b/a.pdf", "boom", resilience.ErrorTransient, []byte(`[]`),
			0, 3, now, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.EnqueueDLQ(context.Background(), resilience.DLQEntry{
		DocumentID: "doc-1", UserID: "u1", FileURL: "s3://b/a.pdf", Error: "boom",
		ErrorType: resilience.ErrorTransient, MaxRetries: 3, NextRetryAt: now, CreatedAt: now, LastFailedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DequeueDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM dead_letter_queue\s+WHERE next_retry_at <= now\(\) AND retry_count < max_retries AND error_type = \$1`).
		WithArgs(resilience.ErrorTransient, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "document_id", "user_id", "file_url", "error", "error_type", "error_kinds",
			"retry_count", "max_retries", "next_retry_at", "created_at", "last_failed_at"}).
			AddRow("dlq-1", "doc-1", "u1", "f", "boom", resilience.ErrorTransient, []byte(`["NETWORK_ERROR"]`), 1, 3, now, now, now))

	entries, err := s.DequeueDLQ(context.Background(), resilience.DLQFilter{ErrorType: resilience.ErrorTransient})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"NETWORK_ERROR"}, entries[0].ErrorKinds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementDLQRetry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE dead_letter_queue`).
		WithArgs(pgxmock.AnyArg(), "boom", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.IncrementDLQRetry(context.Background(), "missing", time.Now(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlq entry not found")
}

func TestPostgresStore_CountDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM dead_letter_queue`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountDLQ(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
