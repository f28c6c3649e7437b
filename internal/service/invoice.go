package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/invoicewise/invoicewise/internal/adapter/store"
	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/internal/port"
)

// InvoiceService handles invoice ingestion and retrieval. Ingestion persists
// the header and line items, then embeds item descriptions inline; items left
// without an embedding are picked up by the backfill job.
type InvoiceService struct {
	store    *store.PostgresStore
	vectors  *store.VectorStore
	embedder port.Embedder
}

// NewInvoiceService wires the invoice ingestion pipeline.
func NewInvoiceService(st *store.PostgresStore, vectors *store.VectorStore, embedder port.Embedder) *InvoiceService {
	return &InvoiceService{store: st, vectors: vectors, embedder: embedder}
}

// Ingest persists an extracted invoice for a user and embeds its line items.
func (s *InvoiceService) Ingest(ctx context.Context, userID int64, extracted *domain.ExtractedInvoice) (*domain.Invoice, error) {
	if extracted == nil {
		return nil, fmt.Errorf("nothing to ingest")
	}

	inv := &domain.Invoice{
		UserID:        userID,
		InvoiceNumber: extracted.InvoiceNumber,
		Vendor:        extracted.Vendor,
		TotalAmount:   extracted.TotalAmount,
		TaxAmount:     extracted.TaxAmount,
		Currency:      extracted.Currency,
	}
	if extracted.InvoiceDate != "" {
		if t, err := time.Parse("2006-01-02", extracted.InvoiceDate); err == nil {
			inv.InvoiceDate = &t
		} else {
			slog.Warn("unparseable invoice date, storing without one",
				"user_id", userID, "invoice_date", extracted.InvoiceDate)
		}
	}

	created, err := s.store.CreateInvoice(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("ingest invoice: %w", err)
	}

	items := make([]domain.LineItem, 0, len(extracted.Items))
	for _, it := range extracted.Items {
		item := domain.LineItem{
			InvoiceID:   created.ID,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
		}
		if it.Category != "" {
			category := it.Category
			item.Category = &category
		}
		items = append(items, item)
	}
	if err := s.store.CreateLineItems(ctx, created.ID, items); err != nil {
		return nil, fmt.Errorf("ingest line items: %w", err)
	}

	s.embedInvoiceItems(ctx, userID, created.ID)
	return created, nil
}

// embedInvoiceItems embeds the descriptions of one invoice's items. Failures
// are logged only; the backfill job retries anything left unembedded.
func (s *InvoiceService) embedInvoiceItems(ctx context.Context, userID, invoiceID int64) {
	items, err := s.store.ListItemsByInvoice(ctx, userID, invoiceID)
	if err != nil {
		slog.Warn("could not list items for embedding, leaving to backfill",
			"invoice_id", invoiceID, "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Description
	}
	vectors := s.embedder.EmbedBatch(ctx, texts)

	for i, it := range items {
		if err := s.vectors.StoreItemEmbedding(ctx, it.ID, vectors[i]); err != nil {
			slog.Warn("could not store item embedding, leaving to backfill",
				"item_id", it.ID, "error", err)
		}
	}
}

// Get returns one invoice with its line items, scoped to the owner.
func (s *InvoiceService) Get(ctx context.Context, userID, invoiceID int64) (*domain.Invoice, []domain.LineItem, error) {
	inv, err := s.store.GetInvoiceByID(ctx, userID, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.ListItemsByInvoice(ctx, userID, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	return inv, items, nil
}

// List returns a user's invoices, newest first.
func (s *InvoiceService) List(ctx context.Context, userID int64, limit int) ([]domain.Invoice, error) {
	return s.store.ListInvoicesByUser(ctx, userID, limit)
}

// Delete removes one invoice and its items, scoped to the owner.
func (s *InvoiceService) Delete(ctx context.Context, userID, invoiceID int64) error {
	return s.store.DeleteInvoice(ctx, userID, invoiceID)
}

// Stats returns the user's data footprint summary.
func (s *InvoiceService) Stats(ctx context.Context, userID int64) (*store.UserStats, error) {
	return s.store.GetUserStats(ctx, userID)
}
