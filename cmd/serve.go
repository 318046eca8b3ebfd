package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/extraction"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/pipeline"
	"github.com/sells-group/invoice-cli/internal/resilience"
	"github.com/sells-group/invoice-cli/internal/store"
)

const maxRequestBytes = 1 << 20

var servePort int

type documentExtractor interface {
	providerHealth
	Extract(ctx context.Context, fileURL string) (*extraction.RouterResult, error)
}

type documentMapper interface {
	ProcessDocument(ctx context.Context, res *model.ExtractionResult, userID, documentID string) *model.AccountingMappingResult
}

type documentProcessor interface {
	Process(ctx context.Context, userID, fileURL string) (*pipeline.Result, error)
}

type documentStore interface {
	pinger
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListAuditTrail(ctx context.Context, documentID string) ([]model.AuditLogEntry, error)
	ListGLRules(ctx context.Context, userID string) ([]model.GLRule, error)
}

// server holds the API dependencies. Handlers answer 503 when the
// dependency they need is nil.
type server struct {
	extractor documentExtractor
	mapper    documentMapper
	processor documentProcessor
	store     documentStore
	breakers  *resilience.Breakers
	rules     []model.GLRule
}

func newServer(env *appEnv) *server {
	s := &server{breakers: env.Breakers, rules: env.Rules}
	if env.Router != nil {
		s.extractor = env.Router
	}
	if env.Engine != nil {
		s.mapper = env.Engine
	}
	if env.Processor != nil {
		s.processor = env.Processor
	}
	if env.Store != nil {
		s.store = env.Store
	}
	return s
}

// buildRouter wires the API routes with CORS for origins.
func buildRouter(s *server, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/extract", s.handleExtract)
		r.Post("/map", s.handleMap)
		r.Post("/process", s.handleProcess)
		r.Post("/rules/evaluate", s.handleEvaluateRules)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/documents/{id}/audit", s.handleAuditTrail)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var providers providerHealth
	if s.extractor != nil {
		providers = s.extractor
	}
	var st pinger
	if s.store != nil {
		st = s.store
	}
	rep := checkHealth(r.Context(), providers, st, s.breakers)
	status := http.StatusOK
	if rep.Status != statusOK {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, rep)
}

func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		respondError(w, http.StatusServiceUnavailable, "extraction is not configured")
		return
	}
	var req struct {
		FileURL string `json:"file_url"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.FileURL == "" {
		respondError(w, http.StatusBadRequest, "file_url is required")
		return
	}

	res, err := s.extractor.Extract(r.Context(), req.FileURL)
	if err != nil {
		zap.L().Warn("api: extract failed", zap.String("file_url", req.FileURL), zap.Error(err))
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *server) handleMap(w http.ResponseWriter, r *http.Request) {
	if s.mapper == nil {
		respondError(w, http.StatusServiceUnavailable, "mapping is not configured")
		return
	}
	var req struct {
		UserID     string          `json:"user_id"`
		DocumentID string          `json:"document_id"`
		Extraction json.RawMessage `json:"extraction"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.UserID == "" || len(req.Extraction) == 0 {
		respondError(w, http.StatusBadRequest, "user_id and extraction are required")
		return
	}
	res, err := parseExtraction(req.Extraction)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.mapper.ProcessDocument(r.Context(), res, req.UserID, req.DocumentID))
}

func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if s.processor == nil {
		respondError(w, http.StatusServiceUnavailable, "processing is not configured")
		return
	}
	var req struct {
		UserID  string `json:"user_id"`
		FileURL string `json:"file_url"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.UserID == "" || req.FileURL == "" {
		respondError(w, http.StatusBadRequest, "user_id and file_url are required")
		return
	}

	res, err := s.processor.Process(r.Context(), req.UserID, req.FileURL)
	if err != nil {
		zap.L().Warn("api: process failed", zap.String("file_url", req.FileURL), zap.Error(err))
		if res == nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// The failed document is still recorded.
		respondJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *server) handleEvaluateRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		evaluateRequest
		All bool `json:"all"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}

	rules := append([]model.GLRule(nil), s.rules...)
	if req.UserID != "" && s.store != nil {
		stored, err := s.store.ListGLRules(r.Context(), req.UserID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		rules = append(rules, stored...)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"rules_evaluated": len(rules),
		"matches":         evaluateRules(rules, req.evaluateRequest, req.All),
	})
}

func (s *server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store is not configured")
		return
	}
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store is not configured")
		return
	}
	entries, err := s.store.ListAuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []model.AuditLogEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extraction and mapping API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(newServer(env), cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
