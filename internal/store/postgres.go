package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/db"
	"github.com/sells-group/invoice-cli/internal/mapping"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	retry   resilience.RetryConfig
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = retryableDBError
	retry.OnRetry = resilience.RetryLogger("postgres", "write audit trail")
	return &PostgresStore{pool: pool, closeFn: closeFn, retry: retry}
}

// Pool returns the underlying database pool for bulk imports.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func retryableDBError(err error) bool {
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err) || resilience.IsTransient(err)
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS company_mappings (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id       TEXT NOT NULL,
	supplier_name TEXT NOT NULL,
	company_code  TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, supplier_name)
);

CREATE INDEX IF NOT EXISTS idx_company_mappings_trgm ON company_mappings USING gin (supplier_name gin_trgm_ops);

CREATE TABLE IF NOT EXISTS gl_mappings (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id     TEXT NOT NULL,
	keywords    TEXT[] NOT NULL DEFAULT '{}',
	gl_account  TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, gl_account)
);

CREATE TABLE IF NOT EXISTS cost_center_rules (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id             TEXT NOT NULL,
	supplier_pattern    TEXT NOT NULL DEFAULT '',
	description_pattern TEXT NOT NULL DEFAULT '',
	cost_center         TEXT NOT NULL,
	priority            INTEGER NOT NULL DEFAULT 0,
	active              BOOLEAN NOT NULL DEFAULT true,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, supplier_pattern, description_pattern)
);

CREATE TABLE IF NOT EXISTS vendor_profiles (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id          TEXT NOT NULL,
	supplier_name    TEXT NOT NULL,
	extraction_rules JSONB NOT NULL DEFAULT '[]',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, supplier_name)
);

CREATE TABLE IF NOT EXISTS gl_rules (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	priority   INTEGER NOT NULL DEFAULT 5,
	active     BOOLEAN NOT NULL DEFAULT true,
	conditions JSONB NOT NULL,
	actions    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_gl_rules_user ON gl_rules(user_id, active);

CREATE TABLE IF NOT EXISTS mapping_audit_log (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL DEFAULT '',
	user_id          TEXT NOT NULL,
	field_name       TEXT NOT NULL,
	input_value      TEXT NOT NULL DEFAULT '',
	output_value     TEXT NOT NULL DEFAULT '',
	confidence_score DOUBLE PRECISION NOT NULL,
	reasoning        TEXT NOT NULL DEFAULT '',
	mapping_source   TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_mapping_audit_log_document ON mapping_audit_log(document_id, created_at);

CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	file_url          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	extraction_method TEXT NOT NULL DEFAULT '',
	total_cost        DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_user_status ON documents(user_id, status);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	document_id    TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	file_url       TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	error_kinds    JSONB NOT NULL DEFAULT '[]',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Lookup tables

var findCompanySQL = fmt.Sprintf(`SELECT id, user_id, supplier_name, company_code, created_at, similarity(%s, $2) AS sim
FROM company_mappings
WHERE user_id = $1 AND similarity(%s, $2) >= $3
ORDER BY sim DESC, supplier_name
LIMIT 1`, mapping.NormalizeNameSQL("supplier_name"), mapping.NormalizeNameSQL("supplier_name"))

// FindCompanyMapping ranks mappings by pg_trgm similarity of normalized names.
func (s *PostgresStore) FindCompanyMapping(ctx context.Context, userID, supplierName string) (*model.CompanyMatch, error) {
	normalized := mapping.NormalizeName(supplierName)
	if normalized == "" {
		return nil, nil
	}

	var m model.CompanyMapping
	var sim float64
	err := s.pool.QueryRow(ctx, findCompanySQL, userID, normalized, mapping.CompanyMatchThreshold).
		Scan(&m.ID, &m.UserID, &m.SupplierName, &m.CompanyCode, &m.CreatedAt, &sim)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find company mapping for %q", supplierName)
	}

	exact := normalized == mapping.NormalizeName(m.SupplierName)
	if exact {
		sim = 1
	}
	return &model.CompanyMatch{Mapping: m, Similarity: sim, Exact: exact}, nil
}

func (s *PostgresStore) FindGLMappings(ctx context.Context, userID, text string) ([]model.GLMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, keywords, gl_account, description, priority, created_at
		 FROM gl_mappings
		 WHERE user_id = $1
		   AND EXISTS (SELECT 1 FROM unnest(keywords) k WHERE k <> '' AND position(lower(k) IN lower($2)) > 0)
		 ORDER BY priority DESC, gl_account`,
		userID, text,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find gl mappings")
	}
	defer rows.Close()

	var out []model.GLMapping
	for rows.Next() {
		var m model.GLMapping
		if err := rows.Scan(&m.ID, &m.UserID, &m.Keywords, &m.GLAccount, &m.Description, &m.Priority, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan gl mapping")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find gl mappings iterate")
}

func (s *PostgresStore) ListCostCenterRules(ctx context.Context, userID string) ([]model.CostCenterRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, supplier_pattern, description_pattern, cost_center, priority, active, created_at
		 FROM cost_center_rules
		 WHERE user_id = $1 AND active
		 ORDER BY priority DESC, id`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cost center rules")
	}
	defer rows.Close()

	var out []model.CostCenterRule
	for rows.Next() {
		var r model.CostCenterRule
		if err := rows.Scan(&r.ID, &r.UserID, &r.SupplierPattern, &r.DescriptionPattern, &r.CostCenter, &r.Priority, &r.Active, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cost center rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list cost center rules iterate")
}

var findVendorSQL = fmt.Sprintf(`SELECT id, user_id, supplier_name, extraction_rules
FROM vendor_profiles
WHERE user_id = $1 AND %s = $2
LIMIT 1`, mapping.NormalizeNameSQL("supplier_name"))

func (s *PostgresStore) FindVendorProfile(ctx context.Context, userID, supplierName string) (*model.VendorProfile, error) {
	var p model.VendorProfile
	var rulesJSON []byte
	err := s.pool.QueryRow(ctx, findVendorSQL, userID, mapping.NormalizeName(supplierName)).
		Scan(&p.ID, &p.UserID, &p.SupplierName, &rulesJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find vendor profile for %q", supplierName)
	}
	if err := json.Unmarshal(rulesJSON, &p.ExtractionRules); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal vendor rules")
	}
	return &p, nil
}

func (s *PostgresStore) UpsertCompanyMappings(ctx context.Context, mappings []model.CompanyMapping) (int64, error) {
	rows := make([][]any, len(mappings))
	for i, m := range mappings {
		rows[i] = []any{idOrNew(m.ID), m.UserID, m.SupplierName, m.CompanyCode}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "company_mappings",
		Columns:      []string{"id", "user_id", "supplier_name", "company_code"},
		ConflictKeys: []string{"user_id", "supplier_name"},
		UpdateCols:   []string{"company_code"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert company mappings")
}

func (s *PostgresStore) UpsertGLMappings(ctx context.Context, mappings []model.GLMapping) (int64, error) {
	rows := make([][]any, len(mappings))
	for i, m := range mappings {
		rows[i] = []any{idOrNew(m.ID), m.UserID, m.Keywords, m.GLAccount, m.Description, m.Priority}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "gl_mappings",
		Columns:      []string{"id", "user_id", "keywords", "gl_account", "description", "priority"},
		ConflictKeys: []string{"user_id", "gl_account"},
		UpdateCols:   []string{"keywords", "description", "priority"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert gl mappings")
}

func (s *PostgresStore) UpsertCostCenterRules(ctx context.Context, rules []model.CostCenterRule) (int64, error) {
	rows := make([][]any, len(rules))
	for i, r := range rules {
		rows[i] = []any{idOrNew(r.ID), r.UserID, r.SupplierPattern, r.DescriptionPattern, r.CostCenter, r.Priority, r.Active}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "cost_center_rules",
		Columns:      []string{"id", "user_id", "supplier_pattern", "description_pattern", "cost_center", "priority", "active"},
		ConflictKeys: []string{"user_id", "supplier_pattern", "description_pattern"},
		UpdateCols:   []string{"cost_center", "priority", "active"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert cost center rules")
}

func (s *PostgresStore) SaveVendorProfile(ctx context.Context, p model.VendorProfile) error {
	rulesJSON, err := json.Marshal(p.ExtractionRules)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal vendor rules")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO vendor_profiles (id, user_id, supplier_name, extraction_rules)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, supplier_name) DO UPDATE SET extraction_rules = $4`,
		idOrNew(p.ID), p.UserID, p.SupplierName, rulesJSON,
	)
	return eris.Wrap(err, "postgres: save vendor profile")
}

// GL rules

func (s *PostgresStore) SaveGLRule(ctx context.Context, r model.GLRule) error {
	conditions, actions, err := marshalRule(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO gl_rules (id, user_id, name, priority, active, conditions, actions, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   name = $3, priority = $4, active = $5, conditions = $6, actions = $7, updated_at = $8`,
		idOrNew(r.ID), r.UserID, r.Name, r.Priority, r.Active, conditions, actions, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save gl rule %s", r.ID)
}

func (s *PostgresStore) ListGLRules(ctx context.Context, userID string) ([]model.GLRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, priority, active, conditions, actions
		 FROM gl_rules WHERE user_id = $1 AND active
		 ORDER BY priority DESC, id`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list gl rules")
	}
	defer rows.Close()

	var out []model.GLRule
	for rows.Next() {
		var r model.GLRule
		var conditions, actions []byte
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.Priority, &r.Active, &conditions, &actions); err != nil {
			return nil, eris.Wrap(err, "postgres: scan gl rule")
		}
		if err := unmarshalRule(&r, conditions, actions); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list gl rules iterate")
}

// Audit

// WriteAuditTrail appends entries with COPY, retrying transient failures.
func (s *PostgresStore) WriteAuditTrail(ctx context.Context, entries []model.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = auditRow(e)
	}
	err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		_, err := db.CopyFrom(ctx, s.pool, AuditTable, auditColumns, rows)
		return err
	})
	return eris.Wrap(err, "postgres: write audit trail")
}

func (s *PostgresStore) ListAuditTrail(ctx context.Context, documentID string) ([]model.AuditLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, user_id, field_name, input_value, output_value,
		        confidence_score, reasoning, mapping_source, created_at
		 FROM mapping_audit_log WHERE document_id = $1
		 ORDER BY created_at, id`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit trail")
	}
	defer rows.Close()

	var out []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.UserID, &e.FieldName, &e.InputValue, &e.OutputValue,
			&e.Confidence, &e.Reasoning, &e.Source, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit trail iterate")
}

// Documents

func (s *PostgresStore) CreateDocument(ctx context.Context, userID, fileURL string) (*model.Document, error) {
	doc := newDocument(userID, fileURL)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, user_id, file_url, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.UserID, doc.FileURL, string(doc.Status), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert document")
	}
	return doc, nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, doc *model.Document) error {
	doc.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents
		 SET status = $1, extraction_method = $2, total_cost = $3, confidence = $4, error = $5, updated_at = $6
		 WHERE id = $7`,
		string(doc.Status), doc.ExtractionMethod, doc.TotalCost, doc.Confidence, doc.Error, doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document %s", doc.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("document not found: %s", doc.ID)
	}
	return nil
}

const documentColumns = `id, user_id, file_url, status, extraction_method, total_cost, confidence, error, created_at, updated_at`

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

// Dead letter queue

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	kindsJSON, err := json.Marshal(kindsOrEmpty(entry.ErrorKinds))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq error kinds")
	}
	entry.ID = idOrNew(entry.ID)

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, document_id, user_id, file_url, error, error_type, error_kinds, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $5, error_type = $6, error_kinds = $7, retry_count = $8,
		   next_retry_at = $10, last_failed_at = $12`,
		entry.ID, entry.DocumentID, entry.UserID, entry.FileURL, entry.Error, entry.ErrorType, kindsJSON,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, document_id, user_id, file_url, error, error_type, error_kinds, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += ` ORDER BY next_retry_at ASC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var kindsJSON []byte
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.UserID, &e.FileURL, &e.Error, &e.ErrorType, &kindsJSON,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if err := json.Unmarshal(kindsJSON, &e.ErrorKinds); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq error kinds")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
