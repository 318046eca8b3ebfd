// Package cost prices extraction provider calls.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	OpenAI map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
	Mindee MindeeRate           `yaml:"mindee" mapstructure:"mindee"`
}

// ModelRate holds per-model token pricing in USD per million tokens.
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// MindeeRate holds Mindee invoice API pricing.
type MindeeRate struct {
	PerPage float64 `yaml:"per_page" mapstructure:"per_page"`
}

// Token counts used to quote a vision extraction before it runs: one
// high-detail invoice image plus the JSON answer.
const (
	typicalVisionInputTokens  = 1500
	typicalVisionOutputTokens = 600
)

// Calculator computes costs for provider usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// OpenAI computes the cost of one chat completion. Unknown models cost 0.
func (c *Calculator) OpenAI(model string, input, output int) float64 {
	rate, ok := c.rates.OpenAI[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// OpenAIEstimate quotes a typical single-image extraction for model.
func (c *Calculator) OpenAIEstimate(model string) float64 {
	return c.OpenAI(model, typicalVisionInputTokens, typicalVisionOutputTokens)
}

// Mindee computes the cost of a parsed document. Every call bills at least one page.
func (c *Calculator) Mindee(pages int) float64 {
	if pages < 1 {
		pages = 1
	}
	return float64(pages) * c.rates.Mindee.PerPage
}

// DefaultRates returns list pricing.
func DefaultRates() Rates {
	return Rates{
		OpenAI: map[string]ModelRate{
			"gpt-4o":      {Input: 2.50, Output: 10.00},
			"gpt-4o-mini": {Input: 0.15, Output: 0.60},
			"gpt-4.1":     {Input: 2.00, Output: 8.00},
		},
		Mindee: MindeeRate{PerPage: 0.10},
	}
}
