// Package fetcher downloads documents for extraction from HTTP(S) URLs,
// object storage and local paths.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// DefaultMaxBytes caps how much of a document is read into memory.
const DefaultMaxBytes = 50 << 20

// ErrTooLarge is returned when a document exceeds the configured size cap.
var ErrTooLarge = eris.New("fetcher: document exceeds size limit")

// Document is a fetched file.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Fetcher retrieves a document by URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Document, error)
}

// Mux dispatches to a Fetcher by URL scheme. Bare paths use the "file" scheme.
type Mux struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewMux creates a Mux with a local file fetcher registered.
func NewMux(maxBytes int64) *Mux {
	m := &Mux{fetchers: make(map[string]Fetcher)}
	m.Handle("file", &FileFetcher{MaxBytes: maxBytes})
	return m
}

// Handle registers f for scheme, replacing any previous registration.
func (m *Mux) Handle(scheme string, f Fetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchers[strings.ToLower(scheme)] = f
}

// Fetch routes rawURL to the fetcher for its scheme.
func (m *Mux) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	scheme := schemeOf(rawURL)
	m.mu.RLock()
	f, ok := m.fetchers[scheme]
	m.mu.RUnlock()
	if !ok {
		return nil, eris.Errorf("fetcher: no fetcher for scheme %q", scheme)
	}
	return f.Fetch(ctx, rawURL)
}

func schemeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	// Single-letter schemes are Windows drive letters.
	if err != nil || len(u.Scheme) <= 1 {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// FileFetcher reads documents from the local filesystem.
type FileFetcher struct {
	MaxBytes int64
}

// Fetch reads a local path or file:// URL.
func (f *FileFetcher) Fetch(_ context.Context, rawURL string) (*Document, error) {
	p := strings.TrimPrefix(rawURL, "file://")
	fh, err := os.Open(filepath.Clean(p))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", p)
	}
	defer fh.Close() //nolint:errcheck

	data, err := ReadLimited(fh, f.MaxBytes)
	if err != nil {
		return nil, err
	}
	return &Document{Name: filepath.Base(p), Data: data}, nil
}

// ReadLimited reads r fully, failing with ErrTooLarge past maxBytes.
// maxBytes <= 0 uses DefaultMaxBytes.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read body")
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// NameFromURL returns the last path element of rawURL.
func NameFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}
