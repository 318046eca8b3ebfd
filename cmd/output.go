package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/extraction/provider"
	"github.com/sells-group/invoice-cli/internal/model"
)

// writeJSON pretty-prints v to w.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write json")
}

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return data, eris.Wrap(err, "read stdin")
	}
	data, err := os.ReadFile(path)
	return data, eris.Wrapf(err, "read %s", path)
}

// parseExtraction accepts extraction JSON in either the normalized shape or
// a raw provider payload and returns the normalized result.
func parseExtraction(data []byte) (*model.ExtractionResult, error) {
	raw, err := provider.ParsePayload("input", data)
	if err != nil {
		return nil, err
	}
	return provider.NormalizeResponse(raw), nil
}
