package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/extraction"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/pipeline"
	"github.com/sells-group/invoice-cli/internal/resilience"
	"github.com/sells-group/invoice-cli/internal/store"
)

type fakeExtractor struct {
	health map[string]bool
	result *extraction.RouterResult
	err    error
	gotURL string
}

func (f *fakeExtractor) Health(_ context.Context) map[string]bool { return f.health }

func (f *fakeExtractor) Extract(_ context.Context, fileURL string) (*extraction.RouterResult, error) {
	f.gotURL = fileURL
	return f.result, f.err
}

type fakeMapper struct {
	gotUser, gotDoc string
	gotResult       *model.ExtractionResult
}

func (f *fakeMapper) ProcessDocument(_ context.Context, res *model.ExtractionResult, userID, documentID string) *model.AccountingMappingResult {
	f.gotUser, f.gotDoc, f.gotResult = userID, documentID, res
	return &model.AccountingMappingResult{OverallConfidence: 0.9, ProcessingNotes: []string{}}
}

type fakeProcessor struct {
	result *pipeline.Result
	err    error
}

func (f *fakeProcessor) Process(_ context.Context, userID, fileURL string) (*pipeline.Result, error) {
	return f.result, f.err
}

type fakeDocStore struct {
	pingErr error
	docs    map[string]*model.Document
	audit   map[string][]model.AuditLogEntry
	rules   []model.GLRule
}

func (f *fakeDocStore) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeDocStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	if d, ok := f.docs[id]; ok {
		return d, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeDocStore) ListAuditTrail(_ context.Context, documentID string) ([]model.AuditLogEntry, error) {
	return f.audit[documentID], nil
}

func (f *fakeDocStore) ListGLRules(_ context.Context, userID string) ([]model.GLRule, error) {
	return f.rules, nil
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth_OK(t *testing.T) {
	s := &server{
		extractor: &fakeExtractor{health: map[string]bool{"OPENAI": true, "MINDEE": false}},
		store:     &fakeDocStore{},
		breakers:  resilience.NewBreakers(resilience.NewCircuitBreakerConfig(5, 60)),
	}
	s.breakers.For("MINDEE")

	rec := doRequest(t, buildRouter(s, []string{"*"}), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["store"])
	assert.Equal(t, map[string]any{"MINDEE": "closed"}, body["breakers"])
}

func TestHealth_DegradedWhenStoreDown(t *testing.T) {
	s := &server{
		extractor: &fakeExtractor{health: map[string]bool{"OPENAI": true}},
		store:     &fakeDocStore{pingErr: errors.New("connection refused")},
	}
	rec := doRequest(t, buildRouter(s, []string{"*"}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["store"])
}

func TestHealth_DegradedWhenNoProviderUp(t *testing.T) {
	s := &server{extractor: &fakeExtractor{health: map[string]bool{"OPENAI": false}}}
	rec := doRequest(t, buildRouter(s, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExtract(t *testing.T) {
	ext := &fakeExtractor{result: &extraction.RouterResult{
		ExtractionMethod: "OPENAI",
		ServicesUsed:     []string{"OPENAI"},
		TotalCost:        0.01,
	}}
	h := buildRouter(&server{extractor: ext}, []string{"*"})

	rec := doRequest(t, h, http.MethodPost, "/v1/extract", `{"file_url":"s3://invoices/a.pdf"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s3://invoices/a.pdf", ext.gotURL)
	body := decodeBody(t, rec)
	assert.Equal(t, "OPENAI", body["extraction_method"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestExtract_BadRequests(t *testing.T) {
	h := buildRouter(&server{extractor: &fakeExtractor{}}, nil)

	rec := doRequest(t, h, http.MethodPost, "/v1/extract", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/extract", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file_url is required", decodeBody(t, rec)["error"])
}

func TestExtract_ProviderFailure(t *testing.T) {
	h := buildRouter(&server{extractor: &fakeExtractor{err: errors.New("both providers failed")}}, nil)
	rec := doRequest(t, h, http.MethodPost, "/v1/extract", `{"file_url":"a.pdf"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "both providers failed")
}

func TestExtract_NotConfigured(t *testing.T) {
	rec := doRequest(t, buildRouter(&server{}, nil), http.MethodPost, "/v1/extract", `{"file_url":"a.pdf"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMap(t *testing.T) {
	m := &fakeMapper{}
	h := buildRouter(&server{mapper: m}, nil)

	body := `{"user_id":"u1","document_id":"d1","extraction":{
		"supplier_name":{"value":"Acme Corp","confidence":0.95},
		"total_amount":{"value":"120.50","confidence":0.9}
	}}`
	rec := doRequest(t, h, http.MethodPost, "/v1/map", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", m.gotUser)
	assert.Equal(t, "d1", m.gotDoc)
	require.NotNil(t, m.gotResult)
	assert.Equal(t, "Acme Corp", m.gotResult.SupplierName.Value)
}

func TestMap_InvalidExtraction(t *testing.T) {
	h := buildRouter(&server{mapper: &fakeMapper{}}, nil)

	rec := doRequest(t, h, http.MethodPost, "/v1/map", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/map", `{"user_id":"u1","extraction":{"foo":"bar"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "does not look like an invoice")
}

func TestProcess(t *testing.T) {
	p := &fakeProcessor{result: &pipeline.Result{Document: &model.Document{ID: "doc-1", Status: model.StatusCompleted}}}
	h := buildRouter(&server{processor: p}, nil)

	rec := doRequest(t, h, http.MethodPost, "/v1/process", `{"user_id":"u1","file_url":"a.pdf"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeBody(t, rec)["document"].(map[string]any)
	assert.Equal(t, "doc-1", doc["id"])
	assert.Equal(t, "completed", doc["status"])
}

func TestProcess_FailedDocument(t *testing.T) {
	p := &fakeProcessor{
		result: &pipeline.Result{Document: &model.Document{ID: "doc-2", Status: model.StatusFailed}},
		err:    errors.New("pipeline: extract: timeout"),
	}
	h := buildRouter(&server{processor: p}, nil)

	rec := doRequest(t, h, http.MethodPost, "/v1/process", `{"user_id":"u1","file_url":"a.pdf"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	p.result = nil
	rec = doRequest(t, h, http.MethodPost, "/v1/process", `{"user_id":"u1","file_url":"a.pdf"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/process", `{"file_url":"a.pdf"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateRules(t *testing.T) {
	shared := model.GLRule{
		ID: "software", Name: "Software", Priority: 5, Active: true,
		Conditions: model.GLRuleConditions{Keywords: []string{"subscription"}},
		Actions:    model.GLRuleActions{GLCode: "6100", AutoAssign: true, ConfidenceThreshold: 0.8},
	}
	stored := model.GLRule{
		ID: "travel", Name: "Travel", Priority: 7, Active: true,
		Conditions: model.GLRuleConditions{VendorPatterns: []string{"delta"}},
		Actions:    model.GLRuleActions{GLCode: "6400"},
	}
	h := buildRouter(&server{rules: []model.GLRule{shared}, store: &fakeDocStore{rules: []model.GLRule{stored}}}, nil)

	rec := doRequest(t, h, http.MethodPost, "/v1/rules/evaluate", `{"description":"Annual subscription","amount":"99.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["rules_evaluated"])
	matches := body["matches"].([]any)
	require.Len(t, matches, 1)
	first := matches[0].(map[string]any)
	assert.Equal(t, true, first["auto_apply"])

	rec = doRequest(t, h, http.MethodPost, "/v1/rules/evaluate", `{"user_id":"u1","description":"Flight","vendor_name":"Delta Air Lines"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.EqualValues(t, 2, body["rules_evaluated"])
	assert.Len(t, body["matches"], 1)
}

func TestGetDocument(t *testing.T) {
	st := &fakeDocStore{docs: map[string]*model.Document{"doc-1": {ID: "doc-1", Status: model.StatusRequiresReview}}}
	h := buildRouter(&server{store: st}, nil)

	rec := doRequest(t, h, http.MethodGet, "/v1/documents/doc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "requires_review", decodeBody(t, rec)["status"])

	rec = doRequest(t, h, http.MethodGet, "/v1/documents/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditTrail(t *testing.T) {
	st := &fakeDocStore{audit: map[string][]model.AuditLogEntry{
		"doc-1": {{DocumentID: "doc-1", FieldName: "gl_account"}},
	}}
	h := buildRouter(&server{store: st}, nil)

	rec := doRequest(t, h, http.MethodGet, "/v1/documents/doc-1/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "gl_account", entries[0]["field_name"])

	rec = doRequest(t, h, http.MethodGet, "/v1/documents/other/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	h := buildRouter(&server{}, []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/v1/extract", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewServer_NilDependencies(t *testing.T) {
	s := newServer(&appEnv{})
	assert.Nil(t, s.extractor)
	assert.Nil(t, s.mapper)
	assert.Nil(t, s.processor)
	assert.Nil(t, s.store)
}
