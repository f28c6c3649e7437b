package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const extractionResponse = "```json\n" + `{
  "vendor": "ACME GmbH",
  "invoice_number": "INV-2025-001",
  "invoice_date": "2025-03-14",
  "total_amount": 119.0,
  "tax_amount": 19.0,
  "currency": "EUR",
  "items": [
    {"description": "Espresso beans 1kg", "quantity": 2, "unit_price": 50.0, "total_price": 100.0, "category": "food"}
  ]
}` + "\n```"

func TestExtractFromText(t *testing.T) {
	t.Run("fenced json response", func(t *testing.T) {
		e := NewExtractor(&fakeAI{chatResponse: extractionResponse})

		extracted, err := e.ExtractFromText(context.Background(), "ACME GmbH invoice text ...")
		require.NoError(t, err)
		assert.Equal(t, "ACME GmbH", extracted.Vendor)
		assert.Equal(t, 119.0, extracted.TotalAmount)
		require.NotNil(t, extracted.TaxAmount)
		assert.Equal(t, 19.0, *extracted.TaxAmount)
		require.Len(t, extracted.Items, 1)
		assert.Equal(t, "Espresso beans 1kg", extracted.Items[0].Description)
	})

	t.Run("bare json with surrounding prose", func(t *testing.T) {
		e := NewExtractor(&fakeAI{chatResponse: `Here is the data: {"vendor": "ACME", "items": []} hope that helps`})

		extracted, err := e.ExtractFromText(context.Background(), "whatever")
		require.NoError(t, err)
		assert.Equal(t, "ACME", extracted.Vendor)
	})

	t.Run("empty document errors", func(t *testing.T) {
		e := NewExtractor(&fakeAI{})
		_, err := e.ExtractFromText(context.Background(), "   ")
		assert.Error(t, err)
	})

	t.Run("model failure errors", func(t *testing.T) {
		e := NewExtractor(&fakeAI{chatErr: errors.New("down")})
		_, err := e.ExtractFromText(context.Background(), "some invoice")
		assert.Error(t, err)
	})

	t.Run("no json in response errors", func(t *testing.T) {
		e := NewExtractor(&fakeAI{chatResponse: "I cannot read this document."})
		_, err := e.ExtractFromText(context.Background(), "some invoice")
		assert.Error(t, err)
	})

	t.Run("empty extraction errors", func(t *testing.T) {
		e := NewExtractor(&fakeAI{chatResponse: `{"vendor": "", "items": []}`})
		_, err := e.ExtractFromText(context.Background(), "some invoice")
		assert.Error(t, err)
	})
}
