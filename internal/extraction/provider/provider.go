// Package provider defines the extraction adapter contract, the
// capability-tagged adapter registry, the adapter error taxonomy and the
// concrete OpenAI and Mindee adapters.
package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/sells-group/invoice-cli/internal/model"
)

// Adapter names.
const (
	NameOpenAI = "openai"
	NameMindee = "mindee"
)

// FileKind is the routing class of a document.
type FileKind string

// File kinds.
const (
	FileKindImage    FileKind = "image"
	FileKindDocument FileKind = "document"
)

// FileKindOf classifies fileURL by extension. Anything that is not a known
// image format, PDF included, is a document.
func FileKindOf(fileURL string) FileKind {
	if strings.HasPrefix(MimeFromURL(fileURL), "image/") {
		return FileKindImage
	}
	return FileKindDocument
}

// Capabilities describe what an adapter can ingest and return.
type Capabilities struct {
	// Vision adapters take images inline and cannot read PDFs.
	Vision bool
	// FileUpload adapters take any supported file as a multipart upload.
	FileUpload bool
	// SchemaAware adapters can return the accounting fields directly.
	SchemaAware bool
}

// Accepts reports whether an adapter with these capabilities can read kind.
func (c Capabilities) Accepts(kind FileKind) bool {
	if c.FileUpload {
		return true
	}
	return c.Vision && kind == FileKindImage
}

// Provider is the contract every extraction adapter implements.
type Provider interface {
	// Name returns the adapter identifier used in config and decision logs.
	Name() string
	// Cost returns the nominal cost of one extraction in USD.
	Cost() float64
	Capabilities() Capabilities
	// Extract fetches the document at fileURL and returns normalized fields.
	// Failures are *Error values.
	Extract(ctx context.Context, fileURL string) (*model.ExtractionResult, error)
	// TestConnection reports whether the provider is reachable with the configured credentials.
	TestConnection(ctx context.Context) bool
}

// Registry holds the configured adapters in registration order.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]Provider
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p, replacing any adapter with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get returns the adapter by name, or nil if not registered.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns adapter names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Primary resolves the first adapter to try for kind. A preference other
// than "auto" forces that adapter. In auto mode images go to a vision adapter
// and everything else to a file-upload adapter.
func (r *Registry) Primary(kind FileKind, preference string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if preference != "" && preference != "auto" {
		p, ok := r.providers[preference]
		if !ok {
			return nil, NewError(KindConfiguration, preference, "provider is not configured", nil)
		}
		return p, nil
	}

	want := func(c Capabilities) bool { return c.FileUpload }
	if kind == FileKindImage {
		want = func(c Capabilities) bool { return c.Vision }
	}
	for _, name := range r.order {
		if p := r.providers[name]; want(p.Capabilities()) {
			return p, nil
		}
	}
	for _, name := range r.order {
		if p := r.providers[name]; p.Capabilities().Accepts(kind) {
			return p, nil
		}
	}
	return nil, NewError(KindConfiguration, "registry", "no provider accepts "+string(kind)+" files", nil)
}

// Alternate returns the first registered adapter other than name, or nil.
func (r *Registry) Alternate(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.order {
		if n != name {
			return r.providers[n]
		}
	}
	return nil
}
