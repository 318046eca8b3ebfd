package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/invoice-cli/internal/cost"
	"github.com/sells-group/invoice-cli/internal/fetcher"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
	"github.com/sells-group/invoice-cli/pkg/mindee"
)

// MindeeOptions configures the Mindee adapter.
type MindeeOptions struct {
	Timeout  time.Duration
	MaxBytes int64
}

// Mindee uploads documents to the Mindee invoice API.
type Mindee struct {
	client  mindee.Client
	fetch   fetcher.Fetcher
	calc    *cost.Calculator
	breaker *resilience.CircuitBreaker
	opts    MindeeOptions
}

// NewMindee creates the file-upload adapter. breaker may be nil.
func NewMindee(client mindee.Client, fetch fetcher.Fetcher, calc *cost.Calculator, breaker *resilience.CircuitBreaker, opts MindeeOptions) *Mindee {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultUploadTimeout
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{ShouldTrip: TripsBreaker})
	}
	return &Mindee{client: client, fetch: fetch, calc: calc, breaker: breaker, opts: opts}
}

// Name implements Provider.
func (m *Mindee) Name() string { return NameMindee }

// Cost implements Provider with the single-page price.
func (m *Mindee) Cost() float64 { return m.calc.Mindee(1) }

// Capabilities implements Provider.
func (m *Mindee) Capabilities() Capabilities { return Capabilities{FileUpload: true} }

// Extract implements Provider.
func (m *Mindee) Extract(ctx context.Context, fileURL string) (*model.ExtractionResult, error) {
	return WithTimeout(ctx, NameMindee, m.opts.Timeout, func(ctx context.Context) (*model.ExtractionResult, error) {
		mimeType := MimeFromURL(fileURL)
		if mimeType == "" {
			return nil, NewError(KindUnsupportedFormat, NameMindee, "unsupported file extension", nil)
		}

		doc, err := m.fetch.Fetch(ctx, fileURL)
		if err != nil {
			return nil, fetchError(NameMindee, err)
		}
		if err := ValidateFile(NameMindee, doc.Data, mimeType, m.opts.MaxBytes); err != nil {
			return nil, err
		}

		resp, err := resilience.ExecuteVal(ctx, m.breaker, func(ctx context.Context) (*mindee.InvoiceResponse, error) {
			resp, err := m.client.ParseInvoice(ctx, doc.Name, doc.Data)
			return resp, mindeeError(err)
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, NewError(KindNetwork, NameMindee, "circuit open after repeated failures", err)
		}
		if err != nil {
			return nil, err
		}

		res := NormalizeResponse(mindeePayload(resp.Document.Inference.Prediction))
		res.Provider = NameMindee
		res.Cost = m.calc.Mindee(resp.Document.NPages)
		return res, nil
	})
}

// TestConnection implements Provider.
func (m *Mindee) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx) == nil
}

func mindeeError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *mindee.APIError
	if errors.As(err, &apiErr) {
		return FromHTTPStatus(NameMindee, apiErr.StatusCode, apiErr.Body)
	}
	return err
}

// mindeePayload converts a Mindee prediction into the common raw field bag.
func mindeePayload(p mindee.Prediction) map[string]any {
	items := make([]any, len(p.LineItems))
	for i, li := range p.LineItems {
		items[i] = map[string]any{
			"value": map[string]any{
				"description": deref(li.Description),
				"quantity":    deref(li.Quantity),
				"unit_price":  deref(li.UnitPrice),
				"amount":      deref(li.TotalAmount),
			},
			"confidence": li.Confidence,
		}
	}
	return map[string]any{
		"supplier_name":  fieldOf(deref(p.SupplierName.Value), p.SupplierName.Confidence),
		"invoice_number": fieldOf(deref(p.InvoiceNumber.Value), p.InvoiceNumber.Confidence),
		"invoice_date":   fieldOf(deref(p.Date.Value), p.Date.Confidence),
		"due_date":       fieldOf(deref(p.DueDate.Value), p.DueDate.Confidence),
		"total_amount":   fieldOf(deref(p.TotalAmount.Value), p.TotalAmount.Confidence),
		"currency":       fieldOf(deref(p.Locale.Currency), p.Locale.Confidence),
		"document_type":  fieldOf(deref(p.DocumentType.Value), p.DocumentType.Confidence),
		"line_items":     items,
	}
}

func fieldOf(v any, confidence float64) map[string]any {
	return map[string]any{"value": v, "confidence": confidence}
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func fetchError(provider string, err error) error {
	if errors.Is(err, fetcher.ErrTooLarge) {
		return NewError(KindFileTooLarge, provider, "document exceeds size limit", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewError(KindNetwork, provider, "fetch document", err)
}

// TripsBreaker reports whether err says something about provider health.
// Input and credential errors do not count, nor do 4xx API errors.
func TripsBreaker(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindAPI && pe.StatusCode != 0 {
		return resilience.IsTransientHTTPStatus(pe.StatusCode)
	}
	switch KindOf(err) {
	case KindFileTooLarge, KindUnsupportedFormat, KindAuthentication, KindConfiguration, KindQuotaExceeded:
		return false
	default:
		return true
	}
}
