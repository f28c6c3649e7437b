package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/internal/port"
)

const extractionSystemPrompt = `You extract structured invoice data from raw document text.
Return ONLY a JSON object with this shape, no explanation:
{
  "vendor": "string",
  "invoice_number": "string",
  "invoice_date": "YYYY-MM-DD",
  "total_amount": 0.0,
  "tax_amount": 0.0,
  "currency": "EUR",
  "items": [
    {"description": "string", "quantity": 1.0, "unit_price": 0.0, "total_price": 0.0, "category": "string"}
  ]
}
Use null for tax_amount when the document shows none. Never invent line items.`

// Extractor turns uploaded invoice documents into structured data: PDF text
// extraction followed by LLM entity extraction.
type Extractor struct {
	ai port.AIProvider
}

// NewExtractor creates a document extractor backed by the given provider.
func NewExtractor(ai port.AIProvider) *Extractor {
	return &Extractor{ai: ai}
}

// ExtractFromPDF extracts structured invoice data from a PDF document.
func (e *Extractor) ExtractFromPDF(ctx context.Context, data []byte) (*domain.ExtractedInvoice, error) {
	text, err := PDFText(data)
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}
	return e.ExtractFromText(ctx, text)
}

// ExtractFromText extracts structured invoice data from plain document text.
func (e *Extractor) ExtractFromText(ctx context.Context, text string) (*domain.ExtractedInvoice, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("document contains no extractable text")
	}

	raw, err := e.ai.Chat(ctx, extractionSystemPrompt, text, nil)
	if err != nil {
		return nil, fmt.Errorf("extraction model: %w", err)
	}

	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("extraction model returned no JSON object")
	}

	var extracted domain.ExtractedInvoice
	if err := json.Unmarshal([]byte(payload), &extracted); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	if extracted.Vendor == "" && len(extracted.Items) == 0 {
		return nil, fmt.Errorf("extraction produced no usable invoice data")
	}
	return &extracted, nil
}

// PDFText pulls the plain text out of a PDF document.
func PDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	if _, err := io.Copy(&b, textReader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return b.String(), nil
}

var jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON finds the JSON object in a model response, tolerating fenced
// code blocks and surrounding prose.
func extractJSON(response string) string {
	if m := jsonBlockPattern.FindStringSubmatch(response); m != nil {
		return m[1]
	}
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		return response[start : end+1]
	}
	return ""
}
