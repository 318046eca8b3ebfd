package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Extraction service selections.
const (
	ServiceOpenAI = "openai"
	ServiceMindee = "mindee"
	ServiceAuto   = "auto"
)

// Config holds the full application configuration.
type Config struct {
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Mapping    MappingConfig    `yaml:"mapping" mapstructure:"mapping"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Mindee     MindeeConfig     `yaml:"mindee" mapstructure:"mindee"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ExtractionConfig selects and gates extraction providers.
type ExtractionConfig struct {
	Service             string  `yaml:"service" mapstructure:"service"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UploadTimeoutSecs   int     `yaml:"upload_timeout_secs" mapstructure:"upload_timeout_secs"`
	MaxFileSizeMB       int     `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
}

// MappingConfig configures the accounting-field mapping engine.
type MappingConfig struct {
	SimpleMode             bool    `yaml:"simple_mode" mapstructure:"simple_mode"`
	ApprovalThreshold      float64 `yaml:"approval_threshold" mapstructure:"approval_threshold"`
	DefaultCurrency        string  `yaml:"default_currency" mapstructure:"default_currency"`
	DefaultTaxCode         string  `yaml:"default_tax_code" mapstructure:"default_tax_code"`
	DefaultTaxJurisdiction string  `yaml:"default_tax_jurisdiction" mapstructure:"default_tax_jurisdiction"`
	DefaultPaymentTerms    string  `yaml:"default_payment_terms" mapstructure:"default_payment_terms"`
	DefaultProfitCenter    string  `yaml:"default_profit_center" mapstructure:"default_profit_center"`
	// GLRulesPath is an optional YAML rules file applied to every user.
	GLRulesPath string `yaml:"gl_rules_path" mapstructure:"gl_rules_path"`
}

// OpenAIConfig holds OpenAI vision API settings.
type OpenAIConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MindeeConfig holds Mindee invoice API settings.
type MindeeConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// StorageConfig configures the object store that holds uploaded documents.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PricingConfig holds provider pricing.
type PricingConfig struct {
	OpenAI map[string]ModelPricing `yaml:"openai" mapstructure:"openai"`
	Mindee MindeePricing           `yaml:"mindee" mapstructure:"mindee"`
}

// ModelPricing holds per-model token pricing in USD per million tokens.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// MindeePricing holds Mindee pricing.
type MindeePricing struct {
	PerPage float64 `yaml:"per_page" mapstructure:"per_page"`
}

// ResilienceConfig tunes provider circuit breakers and dead-letter retries.
type ResilienceConfig struct {
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	DLQMaxRetries           int `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentDocuments int     `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
	RequestsPerSecond      float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names shared with the dashboard deployment.
	bindings := map[string][]string{
		"extraction.service":              {"INVOICE_EXTRACTION_SERVICE", "EXTRACTION_SERVICE"},
		"extraction.confidence_threshold": {"INVOICE_EXTRACTION_CONFIDENCE_THRESHOLD", "EXTRACTION_CONFIDENCE_THRESHOLD"},
		"mapping.simple_mode":             {"INVOICE_MAPPING_SIMPLE_MODE", "SIMPLE_MAPPING_MODE"},
		"openai.key":                      {"INVOICE_OPENAI_KEY", "OPENAI_API_KEY"},
		"mindee.key":                      {"INVOICE_MINDEE_KEY", "MINDEE_API_KEY"},
		"store.database_url":              {"INVOICE_STORE_DATABASE_URL", "DATABASE_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("extraction.service", ServiceAuto)
	v.SetDefault("extraction.confidence_threshold", 0.7)
	v.SetDefault("extraction.timeout_secs", 30)
	v.SetDefault("extraction.upload_timeout_secs", 60)
	v.SetDefault("extraction.max_file_size_mb", 50)
	v.SetDefault("mapping.simple_mode", false)
	v.SetDefault("mapping.approval_threshold", 0.8)
	v.SetDefault("mapping.default_currency", "USD")
	v.SetDefault("mapping.default_tax_code", "V0")
	v.SetDefault("mapping.default_tax_jurisdiction", "US")
	v.SetDefault("mapping.default_payment_terms", "NT30")
	v.SetDefault("mapping.default_profit_center", "PC-1000")
	v.SetDefault("mapping.gl_rules_path", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.max_tokens", 2000)
	v.SetDefault("mindee.base_url", "https://api.mindee.net/v1")
	v.SetDefault("storage.bucket", "invoices")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("pricing.openai.gpt-4o.input", 2.50)
	v.SetDefault("pricing.openai.gpt-4o.output", 10.00)
	v.SetDefault("pricing.openai.gpt-4o-mini.input", 0.15)
	v.SetDefault("pricing.openai.gpt-4o-mini.output", 0.60)
	v.SetDefault("pricing.mindee.per_page", 0.10)
	v.SetDefault("resilience.circuit_failure_threshold", 5)
	v.SetDefault("resilience.circuit_reset_secs", 30)
	v.SetDefault("resilience.dlq_max_retries", 3)
	v.SetDefault("batch.max_concurrent_documents", 5)
	v.SetDefault("batch.requests_per_second", 2.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Extraction.Service = strings.ToLower(strings.TrimSpace(cfg.Extraction.Service))

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: extract,
// map, process, batch, serve.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Extraction.Service {
	case ServiceOpenAI, ServiceMindee, ServiceAuto:
	default:
		errs = append(errs, fmt.Sprintf("extraction.service must be one of openai, mindee, auto (got %q)", c.Extraction.Service))
	}
	if c.Extraction.ConfidenceThreshold < 0 || c.Extraction.ConfidenceThreshold > 1 {
		errs = append(errs, "extraction.confidence_threshold must be between 0 and 1")
	}
	if c.Mapping.ApprovalThreshold < 0 || c.Mapping.ApprovalThreshold > 1 {
		errs = append(errs, "mapping.approval_threshold must be between 0 and 1")
	}

	needsProviders := false
	needsStore := false
	switch mode {
	case "extract":
		needsProviders = true
	case "map":
		needsStore = true
	case "process", "batch":
		needsProviders, needsStore = true, true
	case "serve":
		needsProviders, needsStore = true, true
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needsProviders {
		if (c.Extraction.Service == ServiceOpenAI || c.Extraction.Service == ServiceAuto) && c.OpenAI.Key == "" {
			errs = append(errs, "openai.key is required")
		}
		if (c.Extraction.Service == ServiceMindee || c.Extraction.Service == ServiceAuto) && c.Mindee.Key == "" {
			errs = append(errs, "mindee.key is required")
		}
	}
	if needsStore && c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if mode == "batch" && (c.Batch.MaxConcurrentDocuments < 1 || c.Batch.MaxConcurrentDocuments > 50) {
		errs = append(errs, "batch.max_concurrent_documents must be between 1 and 50")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
