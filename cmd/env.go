package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/cost"
	"github.com/sells-group/invoice-cli/internal/extraction"
	"github.com/sells-group/invoice-cli/internal/extraction/provider"
	"github.com/sells-group/invoice-cli/internal/fetcher"
	"github.com/sells-group/invoice-cli/internal/glrule"
	"github.com/sells-group/invoice-cli/internal/mapping"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/pipeline"
	"github.com/sells-group/invoice-cli/internal/resilience"
	"github.com/sells-group/invoice-cli/internal/storage"
	"github.com/sells-group/invoice-cli/internal/store"
	"github.com/sells-group/invoice-cli/pkg/mindee"
)

// appEnv holds the initialized store, router, engine and processor needed
// by the extract/map/process/batch/serve commands. Fields a mode does not
// need are nil.
type appEnv struct {
	Store     store.Store
	Router    *extraction.Router
	Engine    *mapping.Engine
	Processor *pipeline.Processor
	Breakers  *resilience.Breakers
	// Rules are the config-level GL rules shared by all users.
	Rules []model.GLRule
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for mode and builds what the mode needs.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{}
	needsProviders := mode != "map"
	needsStore := mode != "extract"

	if needsStore {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
		env.Engine = mapping.NewEngine(mappingConfig(cfg.Mapping), st, st)
	}

	if needsProviders {
		fetch, err := initFetcher()
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Breakers = resilience.NewBreakers(breakerConfig(cfg.Resilience))
		env.Router = extraction.NewRouter(routerConfig(cfg.Extraction), initRegistry(fetch, env.Breakers))
	}

	if env.Router != nil && env.Engine != nil {
		rules, err := loadConfigRules()
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Rules = rules
		env.Processor = pipeline.New(pipeline.Config{
			DLQMaxRetries: cfg.Resilience.DLQMaxRetries,
			Rules:         rules,
		}, env.Router, env.Engine, env.Store)
	}
	return env, nil
}

// loadConfigRules reads mapping.gl_rules_path when set.
func loadConfigRules() ([]model.GLRule, error) {
	if cfg.Mapping.GLRulesPath == "" {
		return nil, nil
	}
	rules, err := glrule.LoadRules(cfg.Mapping.GLRulesPath)
	if err != nil {
		return nil, err
	}
	zap.L().Info("loaded gl rules", zap.String("path", cfg.Mapping.GLRulesPath), zap.Int("rules", len(rules)))
	return rules, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, nil)
}

// initFetcher routes file paths, http(s) URLs and, when object storage is
// configured, s3:// URLs.
func initFetcher() (*fetcher.Mux, error) {
	maxBytes := int64(cfg.Extraction.MaxFileSizeMB) << 20
	mux := fetcher.NewMux(maxBytes)

	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:  time.Duration(cfg.Extraction.TimeoutSecs) * time.Second,
		MaxBytes: maxBytes,
	})
	mux.Handle("http", httpFetcher)
	mux.Handle("https", httpFetcher)

	if cfg.Storage.Endpoint != "" {
		s3, err := storage.NewMinIOFetcher(cfg.Storage, maxBytes)
		if err != nil {
			return nil, err
		}
		mux.Handle("s3", s3)
		zap.L().Debug("object storage fetcher enabled", zap.String("endpoint", cfg.Storage.Endpoint))
	}
	return mux, nil
}

// initRegistry registers an adapter for every provider with credentials.
func initRegistry(fetch fetcher.Fetcher, breakers *resilience.Breakers) *provider.Registry {
	calc := cost.NewCalculator(ratesFromConfig(cfg.Pricing))
	reg := provider.NewRegistry()

	if cfg.OpenAI.Key != "" {
		reg.Register(provider.NewOpenAI(
			provider.NewOpenAIClient(cfg.OpenAI.Key, cfg.OpenAI.BaseURL),
			fetch, calc,
			provider.OpenAIOptions{
				Model:       cfg.OpenAI.Model,
				MaxTokens:   cfg.OpenAI.MaxTokens,
				SchemaAware: cfg.Mapping.SimpleMode,
				Timeout:     time.Duration(cfg.Extraction.TimeoutSecs) * time.Second,
			},
		))
	}
	if cfg.Mindee.Key != "" {
		reg.Register(provider.NewMindee(
			mindee.NewClient(cfg.Mindee.Key, mindee.WithBaseURL(cfg.Mindee.BaseURL)),
			fetch, calc, breakers.For(provider.NameMindee),
			provider.MindeeOptions{Timeout: time.Duration(cfg.Extraction.UploadTimeoutSecs) * time.Second},
		))
	}
	return reg
}

func routerConfig(c config.ExtractionConfig) extraction.RouterConfig {
	return extraction.RouterConfig{Service: c.Service, ConfidenceThreshold: c.ConfidenceThreshold}
}

func mappingConfig(c config.MappingConfig) mapping.Config {
	return mapping.Config{
		SimpleMode:             c.SimpleMode,
		ApprovalThreshold:      c.ApprovalThreshold,
		DefaultCurrency:        c.DefaultCurrency,
		DefaultTaxCode:         c.DefaultTaxCode,
		DefaultTaxJurisdiction: c.DefaultTaxJurisdiction,
		DefaultPaymentTerms:    c.DefaultPaymentTerms,
		DefaultProfitCenter:    c.DefaultProfitCenter,
	}
}

func breakerConfig(c config.ResilienceConfig) resilience.CircuitBreakerConfig {
	bc := resilience.NewCircuitBreakerConfig(c.CircuitFailureThreshold, c.CircuitResetSecs)
	bc.ShouldTrip = provider.TripsBreaker
	bc.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return bc
}

func ratesFromConfig(p config.PricingConfig) cost.Rates {
	rates := cost.DefaultRates()
	for name, m := range p.OpenAI {
		rates.OpenAI[name] = cost.ModelRate{Input: m.Input, Output: m.Output}
	}
	if p.Mindee.PerPage > 0 {
		rates.Mindee.PerPage = p.Mindee.PerPage
	}
	return rates
}
