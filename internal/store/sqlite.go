package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/invoice-cli/internal/mapping"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. Name similarity is
// computed in-process since SQLite has no trigram extension.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS company_mappings (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	supplier_name TEXT NOT NULL,
	company_code  TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (user_id, supplier_name)
);

CREATE TABLE IF NOT EXISTS gl_mappings (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	keywords    TEXT NOT NULL DEFAULT '[]',
	gl_account  TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (user_id, gl_account)
);

CREATE TABLE IF NOT EXISTS cost_center_rules (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	supplier_pattern    TEXT NOT NULL DEFAULT '',
	description_pattern TEXT NOT NULL DEFAULT '',
	cost_center         TEXT NOT NULL,
	priority            INTEGER NOT NULL DEFAULT 0,
	active              BOOLEAN NOT NULL DEFAULT 1,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (user_id, supplier_pattern, description_pattern)
);

CREATE TABLE IF NOT EXISTS vendor_profiles (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	supplier_name    TEXT NOT NULL,
	extraction_rules TEXT NOT NULL DEFAULT '[]',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (user_id, supplier_name)
);

CREATE TABLE IF NOT EXISTS gl_rules (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	priority   INTEGER NOT NULL DEFAULT 5,
	active     BOOLEAN NOT NULL DEFAULT 1,
	conditions TEXT NOT NULL,
	actions    TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS mapping_audit_log (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL DEFAULT '',
	user_id          TEXT NOT NULL,
	field_name       TEXT NOT NULL,
	input_value      TEXT NOT NULL DEFAULT '',
	output_value     TEXT NOT NULL DEFAULT '',
	confidence_score REAL NOT NULL,
	reasoning        TEXT NOT NULL DEFAULT '',
	mapping_source   TEXT NOT NULL,
	seq              INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	file_url          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	extraction_method TEXT NOT NULL DEFAULT '',
	total_cost        REAL NOT NULL DEFAULT 0,
	confidence        REAL NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	document_id    TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	file_url       TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	error_kinds    TEXT NOT NULL DEFAULT '[]',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_mapping_audit_log_document ON mapping_audit_log(document_id, seq);
CREATE INDEX IF NOT EXISTS idx_documents_user_status ON documents(user_id, status);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Lookup tables

func (s *SQLiteStore) FindCompanyMapping(ctx context.Context, userID, supplierName string) (*model.CompanyMatch, error) {
	if mapping.NormalizeName(supplierName) == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, supplier_name, company_code, created_at FROM company_mappings WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list company mappings")
	}
	defer rows.Close() //nolint:errcheck

	var candidates []model.CompanyMapping
	for rows.Next() {
		var m model.CompanyMapping
		if err := rows.Scan(&m.ID, &m.UserID, &m.SupplierName, &m.CompanyCode, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company mapping")
		}
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list company mappings iterate")
	}
	return bestCompanyMatch(candidates, supplierName), nil
}

func (s *SQLiteStore) FindGLMappings(ctx context.Context, userID, text string) ([]model.GLMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, keywords, gl_account, description, priority, created_at
		 FROM gl_mappings WHERE user_id = ?
		 ORDER BY priority DESC, gl_account`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find gl mappings")
	}
	defer rows.Close() //nolint:errcheck

	lower := strings.ToLower(text)
	var out []model.GLMapping
	for rows.Next() {
		var m model.GLMapping
		var keywordsJSON string
		if err := rows.Scan(&m.ID, &m.UserID, &keywordsJSON, &m.GLAccount, &m.Description, &m.Priority, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan gl mapping")
		}
		if err := json.Unmarshal([]byte(keywordsJSON), &m.Keywords); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal gl keywords")
		}
		if containsAnyKeyword(lower, m.Keywords) {
			out = append(out, m)
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find gl mappings iterate")
}

func containsAnyKeyword(lowerText string, keywords []string) bool {
	for _, kw := range keywords {
		if k := strings.ToLower(strings.TrimSpace(kw)); k != "" && strings.Contains(lowerText, k) {
			return true
		}
	}
	return false
}

func (s *SQLiteStore) ListCostCenterRules(ctx context.Context, userID string) ([]model.CostCenterRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, supplier_pattern, description_pattern, cost_center, priority, active, created_at
		 FROM cost_center_rules WHERE user_id = ? AND active
		 ORDER BY priority DESC, id`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cost center rules")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CostCenterRule
	for rows.Next() {
		var r model.CostCenterRule
		if err := rows.Scan(&r.ID, &r.UserID, &r.SupplierPattern, &r.DescriptionPattern, &r.CostCenter, &r.Priority, &r.Active, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cost center rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list cost center rules iterate")
}

func (s *SQLiteStore) FindVendorProfile(ctx context.Context, userID, supplierName string) (*model.VendorProfile, error) {
	target := mapping.NormalizeName(supplierName)
	if target == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, supplier_name, extraction_rules FROM vendor_profiles WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find vendor profile")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var p model.VendorProfile
		var rulesJSON string
		if err := rows.Scan(&p.ID, &p.UserID, &p.SupplierName, &rulesJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vendor profile")
		}
		if mapping.NormalizeName(p.SupplierName) != target {
			continue
		}
		if err := json.Unmarshal([]byte(rulesJSON), &p.ExtractionRules); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal vendor rules")
		}
		return &p, nil
	}
	return nil, eris.Wrap(rows.Err(), "sqlite: find vendor profile iterate")
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) UpsertCompanyMappings(ctx context.Context, mappings []model.CompanyMapping) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, m := range mappings {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO company_mappings (id, user_id, supplier_name, company_code) VALUES (?, ?, ?, ?)
				 ON CONFLICT (user_id, supplier_name) DO UPDATE SET company_code = excluded.company_code`,
				idOrNew(m.ID), m.UserID, m.SupplierName, m.CompanyCode,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert company mapping %q", m.SupplierName)
			}
			n += rowsAffected(res)
		}
		return nil
	})
	return n, err
}

func (s *SQLiteStore) UpsertGLMappings(ctx context.Context, mappings []model.GLMapping) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, m := range mappings {
			keywords, err := json.Marshal(kindsOrEmpty(m.Keywords))
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal gl keywords")
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO gl_mappings (id, user_id, keywords, gl_account, description, priority) VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT (user_id, gl_account) DO UPDATE SET
				   keywords = excluded.keywords, description = excluded.description, priority = excluded.priority`,
				idOrNew(m.ID), m.UserID, string(keywords), m.GLAccount, m.Description, m.Priority,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert gl mapping %s", m.GLAccount)
			}
			n += rowsAffected(res)
		}
		return nil
	})
	return n, err
}

func (s *SQLiteStore) UpsertCostCenterRules(ctx context.Context, rules []model.CostCenterRule) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rules {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO cost_center_rules (id, user_id, supplier_pattern, description_pattern, cost_center, priority, active)
				 VALUES (?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (user_id, supplier_pattern, description_pattern) DO UPDATE SET
				   cost_center = excluded.cost_center, priority = excluded.priority, active = excluded.active`,
				idOrNew(r.ID), r.UserID, r.SupplierPattern, r.DescriptionPattern, r.CostCenter, r.Priority, r.Active,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert cost center rule %s", r.CostCenter)
			}
			n += rowsAffected(res)
		}
		return nil
	})
	return n, err
}

func (s *SQLiteStore) SaveVendorProfile(ctx context.Context, p model.VendorProfile) error {
	rulesJSON, err := json.Marshal(p.ExtractionRules)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal vendor rules")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vendor_profiles (id, user_id, supplier_name, extraction_rules) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, supplier_name) DO UPDATE SET extraction_rules = excluded.extraction_rules`,
		idOrNew(p.ID), p.UserID, p.SupplierName, string(rulesJSON),
	)
	return eris.Wrap(err, "sqlite: save vendor profile")
}

// GL rules

func (s *SQLiteStore) SaveGLRule(ctx context.Context, r model.GLRule) error {
	conditions, actions, err := marshalRule(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO gl_rules (id, user_id, name, priority, active, conditions, actions, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name, priority = excluded.priority, active = excluded.active,
		   conditions = excluded.conditions, actions = excluded.actions, updated_at = excluded.updated_at`,
		idOrNew(r.ID), r.UserID, r.Name, r.Priority, r.Active, string(conditions), string(actions), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save gl rule %s", r.ID)
}

func (s *SQLiteStore) ListGLRules(ctx context.Context, userID string) ([]model.GLRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, priority, active, conditions, actions
		 FROM gl_rules WHERE user_id = ? AND active
		 ORDER BY priority DESC, id`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list gl rules")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.GLRule
	for rows.Next() {
		var r model.GLRule
		var conditions, actions string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.Priority, &r.Active, &conditions, &actions); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan gl rule")
		}
		if err := unmarshalRule(&r, []byte(conditions), []byte(actions)); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list gl rules iterate")
}

// Audit

// WriteAuditTrail appends entries in one transaction. seq keeps the
// resolution order for entries that share a timestamp.
func (s *SQLiteStore) WriteAuditTrail(ctx context.Context, entries []model.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i, e := range entries {
			args := append(auditRow(e), i)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO mapping_audit_log
				 (id, document_id, user_id, field_name, input_value, output_value, confidence_score, reasoning, mapping_source, created_at, seq)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				args...,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert audit entry %s", e.FieldName)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListAuditTrail(ctx context.Context, documentID string) ([]model.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, user_id, field_name, input_value, output_value,
		        confidence_score, reasoning, mapping_source, created_at
		 FROM mapping_audit_log WHERE document_id = ?
		 ORDER BY created_at, seq`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit trail")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.UserID, &e.FieldName, &e.InputValue, &e.OutputValue,
			&e.Confidence, &e.Reasoning, &e.Source, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit trail iterate")
}

// Documents

func (s *SQLiteStore) CreateDocument(ctx context.Context, userID, fileURL string) (*model.Document, error) {
	doc := newDocument(userID, fileURL)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, file_url, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.UserID, doc.FileURL, string(doc.Status), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert document")
	}
	return doc, nil
}

func (s *SQLiteStore) UpdateDocument(ctx context.Context, doc *model.Document) error {
	doc.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents
		 SET status = ?, extraction_method = ?, total_cost = ?, confidence = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		string(doc.Status), doc.ExtractionMethod, doc.TotalCost, doc.Confidence, doc.Error, doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document %s", doc.ID)
	}
	return checkRowsAffected(res, "document", doc.ID)
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	return doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close() //nolint:errcheck

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *doc)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

// Dead letter queue

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	kindsJSON, err := json.Marshal(kindsOrEmpty(entry.ErrorKinds))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq error kinds")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, document_id, user_id, file_url, error, error_type, error_kinds, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, error_kinds = excluded.error_kinds,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		idOrNew(entry.ID), entry.DocumentID, entry.UserID, entry.FileURL, entry.Error, entry.ErrorType, string(kindsJSON),
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, document_id, user_id, file_url, error, error_type, error_kinds, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE retry_count < max_retries`
	var args []any
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close() //nolint:errcheck

	now := time.Now()
	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var kindsJSON string
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.UserID, &e.FileURL, &e.Error, &e.ErrorType, &kindsJSON,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if e.NextRetryAt.After(now) {
			continue
		}
		if err := json.Unmarshal([]byte(kindsJSON), &e.ErrorKinds); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq error kinds")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq iterate")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].NextRetryAt.Before(entries[j].NextRetryAt) })
	if limit := listLimit(filter.Limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
