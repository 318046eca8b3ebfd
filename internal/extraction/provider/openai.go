package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/invoice-cli/internal/cost"
	"github.com/sells-group/invoice-cli/internal/fetcher"
	"github.com/sells-group/invoice-cli/internal/model"
)

// ChatClient is the subset of the go-openai client the adapter uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIOptions configures the vision adapter.
type OpenAIOptions struct {
	Model     string
	MaxTokens int
	// SchemaAware asks the model for the 21 accounting fields as well.
	SchemaAware bool
	Timeout     time.Duration
	MaxBytes    int64
}

// OpenAI extracts invoice fields from images with a vision chat model.
type OpenAI struct {
	client ChatClient
	fetch  fetcher.Fetcher
	calc   *cost.Calculator
	opts   OpenAIOptions
}

// NewOpenAIClient builds a go-openai client for key, optionally against baseURL.
func NewOpenAIClient(key, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// NewOpenAI creates the vision adapter.
func NewOpenAI(client ChatClient, fetch fetcher.Fetcher, calc *cost.Calculator, opts OpenAIOptions) *OpenAI {
	if opts.Model == "" {
		opts.Model = "gpt-4o"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &OpenAI{client: client, fetch: fetch, calc: calc, opts: opts}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return NameOpenAI }

// Cost implements Provider with a typical-invoice token estimate.
func (o *OpenAI) Cost() float64 { return o.calc.OpenAIEstimate(o.opts.Model) }

// Capabilities implements Provider.
func (o *OpenAI) Capabilities() Capabilities {
	return Capabilities{Vision: true, SchemaAware: o.opts.SchemaAware}
}

// Extract implements Provider. PDFs are rejected before any network call.
func (o *OpenAI) Extract(ctx context.Context, fileURL string) (*model.ExtractionResult, error) {
	mimeType := MimeFromURL(fileURL)
	if mimeType == MimePDF {
		return nil, NewError(KindUnsupportedFormat, NameOpenAI, "vision model cannot read PDF documents", nil)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, NewError(KindUnsupportedFormat, NameOpenAI, "only image files are supported", nil)
	}

	return WithTimeout(ctx, NameOpenAI, o.opts.Timeout, func(ctx context.Context) (*model.ExtractionResult, error) {
		doc, err := o.fetch.Fetch(ctx, fileURL)
		if err != nil {
			return nil, fetchError(NameOpenAI, err)
		}
		if err := ValidateFile(NameOpenAI, doc.Data, mimeType, o.opts.MaxBytes); err != nil {
			return nil, err
		}

		dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(doc.Data)
		resp, err := o.client.CreateChatCompletion(ctx, o.request(dataURL))
		if err != nil {
			return nil, openAIError(err)
		}
		if len(resp.Choices) == 0 {
			return nil, NewError(KindInvalidResponse, NameOpenAI, "no choices in response", nil)
		}

		raw, err := ParsePayload(NameOpenAI, []byte(resp.Choices[0].Message.Content))
		if err != nil {
			return nil, err
		}
		res := NormalizeResponse(raw)
		if !o.opts.SchemaAware {
			res.AccountingFields = nil
		}
		res.Provider = NameOpenAI
		res.Cost = o.calc.OpenAI(o.opts.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		return res, nil
	})
}

// TestConnection implements Provider.
func (o *OpenAI) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := o.client.ListModels(ctx)
	return err == nil
}

func (o *OpenAI) request(dataURL string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       o.opts.Model,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt()},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Extract the invoice fields from this image."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailHigh,
					}},
				},
			},
		},
	}
}

const basePrompt = `You extract data from supplier invoices. Respond with a single JSON object.
Every field is an object {"value": ..., "confidence": 0.0-1.0}. Use null values for fields you cannot read.
Required keys: supplier_name, invoice_number, invoice_date (YYYY-MM-DD), total_amount (number).
Optional keys: currency (ISO 4217), due_date, document_type, raw_text (string, not an object).
line_items is an array of {"value": {"description", "quantity", "unit_price", "amount"}, "confidence"}.`

func (o *OpenAI) systemPrompt() string {
	if !o.opts.SchemaAware {
		return basePrompt
	}
	names := make([]string, len(model.AccountingFields))
	for i, f := range model.AccountingFields {
		names[i] = string(f)
	}
	return basePrompt + fmt.Sprintf(`
Also return accounting_fields: an object with these keys, each a {"value", "confidence"} object: %s.
Add overall_confidence as a number between 0 and 1.`, strings.Join(names, ", "))
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			return NewError(KindQuotaExceeded, NameOpenAI, apiErr.Message, err)
		}
		return FromHTTPStatus(NameOpenAI, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return FromHTTPStatus(NameOpenAI, reqErr.HTTPStatusCode, reqErr.Error())
	}
	return err
}
