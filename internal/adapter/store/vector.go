package store

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/pkg/config"
)

// VectorStore handles pgvector-specific operations for line-item embeddings.
type VectorStore struct {
	store     *PostgresStore
	dimension int
}

// NewVectorStore creates a vector store backed by the given Postgres store.
func NewVectorStore(store *PostgresStore, dimension int) *VectorStore {
	return &VectorStore{store: store, dimension: dimension}
}

// Dimension returns the configured embedding dimension.
func (v *VectorStore) Dimension() int { return v.dimension }

// StoreItemEmbedding persists the description embedding for one line item.
func (v *VectorStore) StoreItemEmbedding(ctx context.Context, itemID int64, vector []float32) error {
	if err := validateVector(vector, v.dimension); err != nil {
		return fmt.Errorf("store item embedding: %w", err)
	}
	query := `UPDATE items SET description_embedding = $1::vector, updated_at = NOW() WHERE id = $2`
	_, err := v.store.db.ExecContext(ctx, query, VectorLiteral(vector), itemID)
	if err != nil {
		return fmt.Errorf("store item embedding: %w", err)
	}
	return nil
}

// SearchSimilarItems performs a nearest-neighbor search over one tenant's
// line items. The user filter is not optional: returning another tenant's
// rows would be a security defect, not a bug.
//
// Failures (malformed vector, connectivity) are logged and surfaced as an
// empty result so the resolver treats "search failed" and "found nothing"
// identically for fallback purposes.
func (v *VectorStore) SearchSimilarItems(ctx context.Context, userID int64, queryVector []float32, cfg config.SearchConfig) []domain.QueryResult {
	if err := validateVector(queryVector, v.dimension); err != nil {
		slog.Error("vector search rejected malformed query vector",
			"user_id", userID, "error", err)
		return []domain.QueryResult{}
	}

	maxResults := cfg.MaxResults
	if maxResults < 1 {
		maxResults = 1
	}

	distExpr, cmp, order := metricSQL(cfg.Metric)
	query := fmt.Sprintf(`SELECT i.id, i.invoice_id, i.description, i.quantity, i.unit_price, i.total_price, inv.vendor, inv.invoice_date,
	                 %s AS distance
	          FROM items i
	          JOIN invoices inv ON inv.id = i.invoice_id
	          WHERE inv.user_id = $2
	            AND i.description_embedding IS NOT NULL
	            AND %s %s $3
	          ORDER BY %s %s
	          LIMIT $4`, distExpr, distExpr, cmp, distExpr, order)

	rows, err := v.store.db.QueryContext(ctx, query,
		VectorLiteral(queryVector), userID, cfg.SimilarityThreshold, maxResults)
	if err != nil {
		slog.Error("vector search query failed", "user_id", userID, "error", err)
		return []domain.QueryResult{}
	}
	defer rows.Close()

	results := []domain.QueryResult{}
	for rows.Next() {
		var (
			itemID, invoiceID                     int64
			description, vendor                   string
			quantity, unitPrice, totalPrice, dist float64
			invoiceDate                           *time.Time
		)
		if err := rows.Scan(&itemID, &invoiceID, &description, &quantity,
			&unitPrice, &totalPrice, &vendor, &invoiceDate, &dist); err != nil {
			slog.Error("vector search scan failed", "user_id", userID, "error", err)
			return []domain.QueryResult{}
		}

		score := roundScore(dist)
		results = append(results, domain.QueryResult{
			InvoiceID: invoiceID,
			ItemID:    itemID,
			Fields: map[string]any{
				"description":  description,
				"quantity":     quantity,
				"unit_price":   unitPrice,
				"total_price":  totalPrice,
				"vendor":       vendor,
				"invoice_date": isoDate(invoiceDate),
			},
			Source:     domain.SourceVector,
			Similarity: &score,
			Date:       invoiceDate,
		})
	}
	if err := rows.Err(); err != nil {
		slog.Error("vector search row iteration failed", "user_id", userID, "error", err)
		return []domain.QueryResult{}
	}
	return results
}

// metricSQL returns the pgvector distance expression, the threshold comparator
// and the sort order for the configured metric. L2 and cosine distances are
// "lower is closer"; inner product similarity is "higher is closer" (the
// <#> operator returns the negated inner product, so it is negated back).
func metricSQL(m config.Metric) (expr, cmp, order string) {
	switch m {
	case config.MetricCosine:
		return "(i.description_embedding <=> $1::vector)", "<", "ASC"
	case config.MetricInnerProduct:
		return "((i.description_embedding <#> $1::vector) * -1)", ">", "DESC"
	default:
		return "(i.description_embedding <-> $1::vector)", "<", "ASC"
	}
}

// validateVector rejects vectors with the wrong dimension or non-finite values.
func validateVector(v []float32, dimension int) error {
	if len(v) != dimension {
		return fmt.Errorf("vector has dimension %d, want %d", len(v), dimension)
	}
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("vector component %d is not finite", i)
		}
	}
	return nil
}

// roundScore rounds a raw distance to 3 decimal places for presentation stability.
func roundScore(d float64) float64 {
	return math.Round(d*1000) / 1000
}

func isoDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// VectorLiteral converts a float32 slice to pgvector string format: [0.1,0.2,0.3].
func VectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = fmt.Sprintf("%g", val)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
