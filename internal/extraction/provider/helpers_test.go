package provider

import (
	"context"

	"github.com/sells-group/invoice-cli/internal/fetcher"
)

var (
	pngBytes = append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 32)...)
	pdfBytes = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer\n%%EOF\n")
)

type stubFetcher struct {
	docs  map[string][]byte
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (*fetcher.Document, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.docs[rawURL]
	if !ok {
		return nil, context.Canceled
	}
	return &fetcher.Document{Name: fetcher.NameFromURL(rawURL), Data: data}, nil
}
