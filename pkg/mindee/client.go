// Package mindee provides a client for the Mindee invoice parsing API.
package mindee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Mindee operations used for invoice extraction.
type Client interface {
	// ParseInvoice uploads a document and returns the invoice prediction.
	ParseInvoice(ctx context.Context, filename string, data []byte) (*InvoiceResponse, error)
	// Ping verifies the API key by calling an authenticated endpoint.
	Ping(ctx context.Context) error
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mindee: status %d: %s", e.StatusCode, e.Body)
}

// InvoiceResponse is the parsed predict response.
type InvoiceResponse struct {
	APIRequest APIRequest `json:"api_request"`
	Document   Document   `json:"document"`
}

// APIRequest echoes request status metadata.
type APIRequest struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
}

// Document wraps the inference for one uploaded file.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	NPages    int       `json:"n_pages"`
	Inference Inference `json:"inference"`
}

// Inference holds the document-level prediction.
type Inference struct {
	Prediction Prediction `json:"prediction"`
}

// Prediction is the subset of invoice fields used downstream.
type Prediction struct {
	SupplierName  StringField   `json:"supplier_name"`
	InvoiceNumber StringField   `json:"invoice_number"`
	Date          StringField   `json:"date"`
	DueDate       StringField   `json:"due_date"`
	TotalAmount   NumberField   `json:"total_amount"`
	Locale        Locale        `json:"locale"`
	DocumentType  StringField   `json:"document_type"`
	LineItems     []LineItem    `json:"line_items"`
	ReferenceNums []StringField `json:"reference_numbers"`
}

// StringField is a string prediction with confidence.
type StringField struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
}

// NumberField is a numeric prediction with confidence.
type NumberField struct {
	Value      *float64 `json:"value"`
	Confidence float64  `json:"confidence"`
}

// Locale carries the detected currency.
type Locale struct {
	Currency   *string `json:"currency"`
	Confidence float64 `json:"confidence"`
}

// LineItem is one predicted invoice line.
type LineItem struct {
	Description *string  `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price"`
	TotalAmount *float64 `json:"total_amount"`
	Confidence  float64  `json:"confidence"`
}

// Option configures the Mindee client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Mindee client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.mindee.net/v1",
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const invoicePath = "/products/mindee/invoices/v4/predict"

func (c *httpClient) ParseInvoice(ctx context.Context, filename string, data []byte) (*InvoiceResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return nil, eris.Wrap(err, "mindee: create form file")
	}
	if _, err := part.Write(data); err != nil {
		return nil, eris.Wrap(err, "mindee: write form file")
	}
	if err := w.Close(); err != nil {
		return nil, eris.Wrap(err, "mindee: close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+invoicePath, &buf)
	if err != nil {
		return nil, eris.Wrap(err, "mindee: create request")
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var out InvoiceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "mindee: decode response")
	}
	return &out, nil
}

func (c *httpClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products", nil)
	if err != nil {
		return eris.Wrap(err, "mindee: create request")
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	_, err = c.do(req)
	return err
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "mindee: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
