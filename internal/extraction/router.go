// Package extraction routes documents to extraction providers and decides
// when a second opinion from the alternate provider is needed.
package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/extraction/provider"
	"github.com/sells-group/invoice-cli/internal/model"
)

// ServiceAuto selects the primary provider by file type and enables fallback.
const ServiceAuto = "auto"

// DefaultConfidenceThreshold is the key-field confidence below which auto mode falls back.
const DefaultConfidenceThreshold = 0.7

// RouterConfig is the immutable routing configuration.
type RouterConfig struct {
	// Service is "auto" or the name of a registered provider. Forcing a
	// provider disables fallback.
	Service             string
	ConfidenceThreshold float64
}

// DecisionEntry is one timestamped line of the routing decision log.
type DecisionEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// RouterResult is the extraction result plus routing bookkeeping.
type RouterResult struct {
	model.ExtractionResult

	ExtractionMethod string          `json:"extraction_method"`
	TotalCost        float64         `json:"total_cost"`
	ServicesUsed     []string        `json:"services_used"`
	FallbackOccurred bool            `json:"fallback_occurred"`
	DecisionLog      []DecisionEntry `json:"decision_log"`
}

// Attempt records one provider call.
type Attempt struct {
	Provider string
	Result   *model.ExtractionResult
	Err      error
	Cost     float64
	Duration time.Duration
}

// FallbackError is returned when both the primary and the fallback provider failed.
type FallbackError struct {
	PrimaryProvider  string
	Primary          error
	FallbackProvider string
	Fallback         error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("router: all providers failed: %s: %v; %s: %v",
		e.PrimaryProvider, e.Primary, e.FallbackProvider, e.Fallback)
}

// Unwrap exposes both underlying errors to errors.Is and errors.As.
func (e *FallbackError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// Router picks a provider for each document and applies the fallback policy.
type Router struct {
	cfg      RouterConfig
	registry *provider.Registry
	now      func() time.Time
}

// NewRouter creates a router over the registered providers.
func NewRouter(cfg RouterConfig, registry *provider.Registry) *Router {
	if cfg.Service == "" {
		cfg.Service = ServiceAuto
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &Router{cfg: cfg, registry: registry, now: time.Now}
}

// Extract runs the primary provider and, in auto mode, at most one fallback.
// Attempts are strictly sequential.
func (r *Router) Extract(ctx context.Context, fileURL string) (*RouterResult, error) {
	out := &RouterResult{ServicesUsed: []string{}, DecisionLog: []DecisionEntry{}}
	log := zap.L().With(zap.String("file_url", fileURL), zap.String("mode", r.cfg.Service))

	kind := provider.FileKindOf(fileURL)
	primary, err := r.registry.Primary(kind, r.cfg.Service)
	if err != nil {
		return nil, eris.Wrap(err, "router: select provider")
	}
	r.note(out, "selected %s as primary for %s file (mode %s)", primary.Name(), kind, r.cfg.Service)

	first := r.attempt(ctx, primary, fileURL, out)
	if r.cfg.Service != ServiceAuto {
		if first.Err != nil {
			return nil, eris.Wrapf(first.Err, "router: extract with %s", primary.Name())
		}
		r.finish(out, first)
		return out, nil
	}

	var reason string
	if first.Err != nil {
		reason = fmt.Sprintf("%s failed: %v", primary.Name(), first.Err)
	} else {
		var need bool
		need, reason = NeedsFallback(first.Result, r.cfg.ConfidenceThreshold)
		if !need {
			r.note(out, "%s result meets confidence threshold %.2f", primary.Name(), r.cfg.ConfidenceThreshold)
			r.finish(out, first)
			return out, nil
		}
	}

	alt := r.registry.Alternate(primary.Name())
	if alt == nil {
		r.note(out, "fallback needed (%s) but no alternate provider is registered", reason)
		if first.Err != nil {
			return nil, eris.Wrapf(first.Err, "router: extract with %s", primary.Name())
		}
		r.finish(out, first)
		return out, nil
	}

	r.note(out, "falling back to %s: %s", alt.Name(), reason)
	log.Info("router: falling back",
		zap.String("primary", primary.Name()),
		zap.String("fallback", alt.Name()),
		zap.String("reason", reason),
	)
	out.FallbackOccurred = true

	second := r.attempt(ctx, alt, fileURL, out)
	if second.Err != nil {
		if first.Err != nil {
			return nil, &FallbackError{
				PrimaryProvider:  primary.Name(),
				Primary:          first.Err,
				FallbackProvider: alt.Name(),
				Fallback:         second.Err,
			}
		}
		r.note(out, "keeping %s result after %s failed", primary.Name(), alt.Name())
		r.finish(out, first)
		return out, nil
	}

	r.finish(out, second)
	return out, nil
}

// attempt calls p once and records it in out.
func (r *Router) attempt(ctx context.Context, p provider.Provider, fileURL string, out *RouterResult) Attempt {
	start := r.now()
	res, err := p.Extract(ctx, fileURL)
	a := Attempt{Provider: p.Name(), Result: res, Err: err, Duration: r.now().Sub(start)}
	if err == nil && res == nil {
		a.Err = provider.NewError(provider.KindInvalidResponse, p.Name(), "provider returned no result", nil)
	}

	out.ServicesUsed = append(out.ServicesUsed, p.Name())
	if a.Err != nil {
		r.note(out, "%s failed (%s): %v", p.Name(), provider.KindOf(a.Err), a.Err)
		zap.L().Warn("router: provider failed",
			zap.String("provider", p.Name()),
			zap.String("kind", string(provider.KindOf(a.Err))),
			zap.Duration("duration", a.Duration),
			zap.Error(a.Err),
		)
		return a
	}

	a.Cost = res.Cost
	if a.Cost <= 0 {
		a.Cost = p.Cost()
	}
	out.TotalCost += a.Cost
	r.note(out, "%s succeeded in %s (cost $%.4f)", p.Name(), a.Duration.Round(time.Millisecond), a.Cost)
	zap.L().Debug("router: provider succeeded",
		zap.String("provider", p.Name()),
		zap.Float64("cost", a.Cost),
		zap.Duration("duration", a.Duration),
	)
	return a
}

func (r *Router) finish(out *RouterResult, a Attempt) {
	out.ExtractionResult = *a.Result
	out.Provider = a.Provider
	out.ExtractionMethod = a.Provider
}

func (r *Router) note(out *RouterResult, format string, args ...any) {
	out.DecisionLog = append(out.DecisionLog, DecisionEntry{
		Timestamp: r.now().UTC(),
		Message:   fmt.Sprintf(format, args...),
	})
}

// NeedsFallback reports whether result is too weak to keep: a null supplier
// name or total amount, or any key field below threshold.
func NeedsFallback(result *model.ExtractionResult, threshold float64) (bool, string) {
	if result == nil {
		return true, "no result"
	}
	if result.SupplierName.IsNull() {
		return true, "supplier_name is null"
	}
	if result.TotalAmount.IsNull() {
		return true, "total_amount is null"
	}
	for _, k := range result.KeyFields() {
		if k.Field.Confidence < threshold {
			return true, fmt.Sprintf("%s confidence %.2f below threshold %.2f", k.Name, k.Field.Confidence, threshold)
		}
	}
	return false, ""
}

// Health reports reachability per registered provider.
func (r *Router) Health(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	for _, name := range r.registry.List() {
		out[name] = r.registry.Get(name).TestConnection(ctx)
	}
	return out
}

// TestConnection is true when at least one provider is reachable.
func (r *Router) TestConnection(ctx context.Context) bool {
	for _, ok := range r.Health(ctx) {
		if ok {
			return true
		}
	}
	return false
}
