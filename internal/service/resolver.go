package service

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/internal/port"
	"github.com/invoicewise/invoicewise/pkg/config"
)

// Synthesizer produces a parameterized SQL statement for a question.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, userID int64, conversation []domain.QAPair) (*Synthesis, error)
}

// SQLExecutor runs a synthesized statement and returns normalized rows.
type SQLExecutor interface {
	Execute(ctx context.Context, sqlText string, binds map[string]any, userID int64) ([]map[string]any, error)
}

// SimilaritySearcher performs tenant-scoped nearest-neighbor search.
type SimilaritySearcher interface {
	SearchSimilarItems(ctx context.Context, userID int64, queryVector []float32, cfg config.SearchConfig) []domain.QueryResult
}

// Resolver answers invoice questions by combining precise SQL execution with
// embedding-based similarity search. SQL runs first; the vector path kicks in
// when SQL fails or finds nothing, or alongside SQL when hybrid mode is on and
// the statement carried a semantic clause. The resolver itself never returns
// an error: every failure mode degrades to an empty result.
type Resolver struct {
	synth    Synthesizer
	executor SQLExecutor
	vectors  SimilaritySearcher
	embedder port.Embedder
	search   config.SearchConfig
}

// NewResolver wires the hybrid resolution pipeline.
func NewResolver(synth Synthesizer, executor SQLExecutor, vectors SimilaritySearcher, embedder port.Embedder, search config.SearchConfig) *Resolver {
	return &Resolver{
		synth:    synth,
		executor: executor,
		vectors:  vectors,
		embedder: embedder,
		search:   search,
	}
}

// Resolve answers one question for one tenant. The returned Resolution always
// has non-nil Rows; a panic anywhere in the pipeline degrades to an empty
// result flagged as an internal error rather than crashing the caller.
func (r *Resolver) Resolve(ctx context.Context, question string, userID int64, conversation []domain.QAPair) (res *domain.Resolution) {
	start := time.Now()
	res = &domain.Resolution{
		RequestID: uuid.NewString(),
		Rows:      []domain.QueryResult{},
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("query resolution panicked",
				"request_id", res.RequestID, "user_id", userID, "panic", p)
			res.Rows = []domain.QueryResult{}
			res.SourceBreakdown = domain.SourceBreakdown{}
			res.InternalError = true
		}
		res.ExecutionTime = time.Since(start)
	}()

	sqlRows, semantic, fatal := r.trySQL(ctx, question, userID, conversation, res.RequestID)
	if fatal {
		// An unscoped statement reached the executor. Nothing downstream may
		// run: falling back here would present a security defect as "no
		// results".
		res.InternalError = true
		return res
	}

	var vectorRows []domain.QueryResult
	switch {
	case len(sqlRows) == 0:
		// SQL failed or found nothing. Aggregation questions get no vector
		// fallback: similarity rows cannot stand in for a computed total.
		if !IsAggregationQuestion(question) {
			vectorRows = r.tryVector(ctx, question, userID)
		} else {
			slog.Info("skipping vector fallback for aggregation question",
				"request_id", res.RequestID, "user_id", userID)
		}
	case r.search.HybridEnabled && semantic:
		// SQL succeeded with a semantic clause: supplement it.
		vectorRows = r.tryVector(ctx, question, userID)
	}

	res.Rows = MergeResults(question, sqlRows, vectorRows, r.search)
	for _, row := range res.Rows {
		switch row.Source {
		case domain.SourceSQL:
			res.SourceBreakdown.SQLCount++
		case domain.SourceVector:
			res.SourceBreakdown.VectorCount++
		}
	}
	return res
}

// trySQL runs the synthesis and execution legs, returning normalized rows,
// whether the statement carried a semantic clause, and whether the failure is
// fatal for the whole resolution. Ordinary failures degrade to an empty
// slice; a missing tenant filter is fatal.
func (r *Resolver) trySQL(ctx context.Context, question string, userID int64, conversation []domain.QAPair, requestID string) ([]domain.QueryResult, bool, bool) {
	synthesis, err := r.synth.Synthesize(ctx, question, userID, conversation)
	if err != nil {
		slog.Warn("sql synthesis failed",
			"request_id", requestID, "user_id", userID, "error", err)
		return nil, false, false
	}
	if synthesis == nil {
		slog.Info("no sql synthesized for question",
			"request_id", requestID, "user_id", userID)
		return nil, false, false
	}

	rows, err := r.executor.Execute(ctx, synthesis.SQLText, synthesis.Binds, userID)
	if err != nil {
		if errors.Is(err, port.ErrTenantFilterMissing) {
			slog.Error("synthesized statement lacked tenant filter, aborting resolution",
				"request_id", requestID, "user_id", userID)
			return nil, false, true
		}
		var execErr *port.ExecutionError
		if errors.As(err, &execErr) {
			slog.Warn("sql execution failed",
				"request_id", requestID, "user_id", userID,
				"kind", string(execErr.Kind), "error", err)
		} else {
			slog.Warn("sql execution failed",
				"request_id", requestID, "user_id", userID, "error", err)
		}
		return nil, synthesis.Semantic, false
	}

	results := make([]domain.QueryResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, sqlRowToResult(row))
	}
	return results, synthesis.Semantic, false
}

// tryVector embeds the raw question text; the synthesizer's conceptual-term
// handling applies only to its own semantic bind, not the fallback path.
func (r *Resolver) tryVector(ctx context.Context, question string, userID int64) []domain.QueryResult {
	vec := r.embedder.Embed(ctx, question)
	return r.vectors.SearchSimilarItems(ctx, userID, vec, r.search)
}

// sqlRowToResult lifts one normalized executor row into a QueryResult,
// extracting identifying columns and the row date when present.
func sqlRowToResult(row map[string]any) domain.QueryResult {
	result := domain.QueryResult{
		Fields: row,
		Source: domain.SourceSQL,
	}
	if id, ok := asInt64(row["item_id"]); ok {
		result.ItemID = id
	} else if id, ok := asInt64(row["id"]); ok {
		result.ItemID = id
	}
	if id, ok := asInt64(row["invoice_id"]); ok {
		result.InvoiceID = id
	}
	if raw, ok := row["invoice_date"].(string); ok && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			result.Date = &t
		} else if t, err := time.Parse("2006-01-02", raw); err == nil {
			result.Date = &t
		}
	}
	return result
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// MergeResults combines the two result sets: SQL rows keep their order and
// win deduplication; vector rows are appended ranked by ascending distance,
// with exact-match boosting first when enabled and recency breaking ties.
func MergeResults(question string, sqlRows, vectorRows []domain.QueryResult, cfg config.SearchConfig) []domain.QueryResult {
	merged := make([]domain.QueryResult, 0, len(sqlRows)+len(vectorRows))
	seen := make(map[string]bool, len(sqlRows))

	for _, row := range sqlRows {
		key := row.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, row)
	}

	candidates := make([]domain.QueryResult, 0, len(vectorRows))
	for _, row := range vectorRows {
		if !seen[row.Key()] {
			seen[row.Key()] = true
			candidates = append(candidates, row)
		}
	}

	terms := contentWords(question)
	sort.SliceStable(candidates, func(i, j int) bool {
		if cfg.BoostExactMatches {
			bi, bj := hasExactMatch(candidates[i], terms), hasExactMatch(candidates[j], terms)
			if bi != bj {
				return bi
			}
		}
		di, dj := similarityOf(candidates[i]), similarityOf(candidates[j])
		if di != dj {
			return di < dj
		}
		ti, tj := dateOf(candidates[i]), dateOf(candidates[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return false
	})

	return append(merged, candidates...)
}

func similarityOf(r domain.QueryResult) float64 {
	if r.Similarity != nil {
		return *r.Similarity
	}
	return 0
}

func dateOf(r domain.QueryResult) time.Time {
	if r.Date != nil {
		return *r.Date
	}
	return time.Time{}
}

// hasExactMatch reports whether the row's description contains any of the
// question's content words verbatim.
func hasExactMatch(r domain.QueryResult, terms []string) bool {
	desc, _ := r.Fields["description"].(string)
	if desc == "" {
		return false
	}
	desc = strings.ToLower(desc)
	for _, t := range terms {
		if strings.Contains(desc, t) {
			return true
		}
	}
	return false
}

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z-]{3,}`)

var stopWords = map[string]bool{
	"what": true, "which": true, "show": true, "list": true, "find": true,
	"have": true, "does": true, "with": true, "from": true, "that": true,
	"this": true, "these": true, "those": true, "bought": true, "purchased": true,
	"items": true, "invoices": true, "invoice": true, "much": true, "many": true,
	"when": true, "where": true, "were": true, "there": true, "last": true,
	"month": true, "year": true, "week": true, "give": true, "tell": true,
}

// contentWords extracts the meaningful lowercase words of a question for
// exact-match boosting.
func contentWords(question string) []string {
	var words []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(question), -1) {
		if !stopWords[w] {
			words = append(words, w)
		}
	}
	return words
}

var aggregationPattern = regexp.MustCompile(`(?i)\b(total|sum|count|average|avg|how much|how many|maximum|minimum|highest|lowest|most expensive|cheapest|spent|spend)\b`)

// IsAggregationQuestion reports whether the question asks for a computed
// figure rather than a list of rows. Similarity search cannot answer those,
// so they never get a vector fallback.
func IsAggregationQuestion(question string) bool {
	return aggregationPattern.MatchString(question)
}
