package provider

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// payloadSchema accepts any object that carries at least one known invoice
// key. Per-field shape is left to NormalizeResponse.
const payloadSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "line_items": {"type": ["array", "null"]},
    "accounting_fields": {"type": ["object", "null"]},
    "overall_confidence": {"type": ["number", "string", "null"]}
  },
  "anyOf": [
    {"required": ["supplier_name"]},
    {"required": ["invoice_number"]},
    {"required": ["invoice_date"]},
    {"required": ["total_amount"]},
    {"required": ["line_items"]},
    {"required": ["accounting_fields"]}
  ]
}`

var compiledPayloadSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("invoice_payload.json", strings.NewReader(payloadSchema)); err != nil {
		return nil, err
	}
	return c.Compile("invoice_payload.json")
})

// ParsePayload decodes a provider's JSON answer and checks its envelope.
// Code fences around the JSON are tolerated.
func ParsePayload(provider string, data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(stripCodeFence(data))

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, NewError(KindInvalidResponse, provider, "response is not valid JSON", err)
	}

	schema, err := compiledPayloadSchema()
	if err != nil {
		return nil, NewError(KindConfiguration, provider, "compile payload schema", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, NewError(KindInvalidResponse, provider, "response does not look like an invoice", err)
	}
	return v.(map[string]any), nil
}

func stripCodeFence(data []byte) []byte {
	s := bytes.TrimSpace(data)
	if !bytes.HasPrefix(s, []byte("```")) {
		return data
	}
	s = s[3:]
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
}
