package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/invoicewise/invoicewise/internal/adapter/store"
	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/internal/port"
	"github.com/invoicewise/invoicewise/pkg/config"
)

// noQueryMarker is what the model is instructed to return when the question
// cannot be mapped onto the schema. It is a valid, non-error outcome.
const noQueryMarker = "NO_QUERY"

// Synthesis is the output of the SQL synthesizer: a single parameterized
// SELECT statement plus its bind values.
type Synthesis struct {
	SQLText  string
	Binds    map[string]any
	Semantic bool // the statement carries a vector-similarity sub-clause
}

// SQLSynthesizer turns a natural-language question into a tenant-scoped,
// parameterized SQL statement via an LLM call, with structural validation of
// the model output. It is a pure function of its inputs plus at most one
// embedding call when conceptual terms are detected.
type SQLSynthesizer struct {
	ai       port.AIProvider
	embedder port.Embedder
	schema   *SchemaContext
	search   config.SearchConfig
}

// NewSQLSynthesizer creates a synthesizer bound to a schema context and the
// startup search configuration.
func NewSQLSynthesizer(ai port.AIProvider, embedder port.Embedder, schema *SchemaContext, search config.SearchConfig) *SQLSynthesizer {
	return &SQLSynthesizer{ai: ai, embedder: embedder, schema: schema, search: search}
}

// Synthesize produces a parameterized statement for the question. It returns
// (nil, nil) when the question cannot be mapped to the schema, and
// port.ErrSynthesisFailed when the model output is structurally invalid.
// The resolver treats those two outcomes differently.
func (s *SQLSynthesizer) Synthesize(ctx context.Context, question string, userID int64, conversation []domain.QAPair) (*Synthesis, error) {
	conceptual := DetectConceptualTerms(question)

	raw, err := s.ai.Chat(ctx, s.systemPrompt(len(conceptual) > 0), question, renderConversation(conversation))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrSynthesisFailed, err)
	}

	if strings.Contains(raw, noQueryMarker) {
		slog.Info("question not mappable to schema", "user_id", userID)
		return nil, nil
	}

	sqlText := ExtractSQL(raw)
	if sqlText == "" {
		return nil, fmt.Errorf("%w: no sql statement in model output", port.ErrSynthesisFailed)
	}

	sqlText, err = SanitizeSQL(sqlText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrSynthesisFailed, err)
	}

	if err := s.checkColumnReferences(sqlText); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrSynthesisFailed, err)
	}

	sqlText = EnsureTenantFilter(sqlText)
	if !store.HasTenantBind(sqlText) {
		return nil, fmt.Errorf("%w: could not establish tenant filter", port.ErrSynthesisFailed)
	}

	synthesis := &Synthesis{
		SQLText: sqlText,
		Binds:   map[string]any{store.TenantBind: userID},
	}

	if strings.Contains(sqlText, ":query_embedding") {
		synthesis.Semantic = true
		embedInput := question
		if len(conceptual) > 0 {
			embedInput = strings.Join(conceptual, " ")
		}
		synthesis.Binds["query_embedding"] = store.VectorLiteral(s.embedder.Embed(ctx, embedInput))
	}
	if strings.Contains(sqlText, ":similarity_threshold") {
		synthesis.Binds["similarity_threshold"] = s.search.SimilarityThreshold
	}
	if strings.Contains(sqlText, ":max_results") {
		synthesis.Binds["max_results"] = s.search.MaxResults
	}

	return synthesis, nil
}

func (s *SQLSynthesizer) systemPrompt(conceptual bool) string {
	distanceFn := map[config.Metric]string{
		config.MetricL2:           "<->",
		config.MetricCosine:       "<=>",
		config.MetricInnerProduct: "<#>",
	}[s.search.Metric]

	var b strings.Builder
	b.WriteString("You are an expert SQL developer that converts natural language questions about invoices into a single PostgreSQL SELECT statement.\n\n")
	b.WriteString(s.schema.Render())
	b.WriteString("\nRules:\n")
	b.WriteString("1. Always include \"user_id = :user_id\" in the WHERE clause (or invoices.user_id = :user_id when joining).\n")
	b.WriteString("2. Use :param_name syntax for every parameter; never inline literal user values.\n")
	b.WriteString("3. For aggregation questions use GROUP BY correctly and never select non-aggregated columns outside the grouping.\n")
	b.WriteString("4. Return only columns needed to answer the question; include invoice_date, vendor, description, quantity, unit_price and total_price when relevant.\n")
	b.WriteString("5. Return exactly one SELECT statement and nothing else, in a ```sql code block.\n")
	b.WriteString("6. If the question cannot be answered from this schema, return exactly " + noQueryMarker + ".\n")
	if conceptual {
		fmt.Fprintf(&b, "7. The question contains conceptual terms. For semantic matching use the vector clause\n"+
			"   (items.description_embedding %s :query_embedding::vector) < :similarity_threshold\n"+
			"   and order by that distance. Never invent a distance function and never hardcode a threshold.\n", distanceFn)
		b.WriteString("8. Use ILIKE pattern matching only for proper nouns such as exact vendor names.\n")
	}
	return b.String()
}

// checkColumnReferences rejects statements referencing table-qualified
// columns that do not exist in the schema context.
var qualifiedColumnPattern = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\.([a-zA-Z_][a-zA-Z0-9_]*)`)

func (s *SQLSynthesizer) checkColumnReferences(sqlText string) error {
	known := s.schema.ColumnNames()
	for _, m := range qualifiedColumnPattern.FindAllStringSubmatch(sqlText, -1) {
		col := strings.ToLower(m[1])
		if !known[col] {
			return fmt.Errorf("unknown column reference: %s", m[0])
		}
	}
	return nil
}

// ExtractSQL pulls the SQL statement out of a model response, tolerating
// fenced code blocks and surrounding explanation.
func ExtractSQL(response string) string {
	if m := regexp.MustCompile("(?is)```sql\\s*(.*?)\\s*```").FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := regexp.MustCompile("(?is)```\\s*((?:SELECT|WITH).*?)\\s*```").FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := regexp.MustCompile(`(?is)\b(SELECT\s.*?|WITH\s.*?)(;|\z)`).FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDROP\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\b`),
	regexp.MustCompile(`(?i)\bALTER\b`),
	regexp.MustCompile(`(?i)\bINSERT\b`),
	regexp.MustCompile(`(?i)\bUPDATE\b`),
	regexp.MustCompile(`(?i)\bDELETE\b`),
	regexp.MustCompile(`(?i)\bGRANT\b`),
	regexp.MustCompile(`(?i)\bREVOKE\b`),
	regexp.MustCompile(`(?i)\bEXECUTE\b`),
}

// SanitizeSQL strips comments, collapses whitespace, keeps only the first
// statement and rejects anything that is not a read-only SELECT.
func SanitizeSQL(sqlText string) (string, error) {
	cleaned := regexp.MustCompile(`--[^\n]*`).ReplaceAllString(sqlText, " ")
	cleaned = regexp.MustCompile(`(?s)/\*.*?\*/`).ReplaceAllString(cleaned, " ")
	cleaned = regexp.MustCompile(`\s+`).ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	// Multiple statements: keep only the first.
	if idx := strings.Index(cleaned, ";"); idx >= 0 {
		cleaned = strings.TrimSpace(cleaned[:idx])
	}
	if cleaned == "" {
		return "", fmt.Errorf("empty statement")
	}

	upper := strings.ToUpper(cleaned)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "", fmt.Errorf("not a SELECT statement")
	}
	for _, p := range unsafePatterns {
		if p.MatchString(cleaned) {
			return "", fmt.Errorf("unsafe sql pattern detected: %s", p.String())
		}
	}
	return cleaned, nil
}

var tenantFilterPattern = regexp.MustCompile(`(?i)user_id\s*=\s*:user_id`)

// EnsureTenantFilter injects a user_id predicate when the statement lacks
// one. The injected predicate is best-effort; callers must still verify the
// result references the tenant bind before executing.
func EnsureTenantFilter(sqlText string) string {
	if tenantFilterPattern.MatchString(sqlText) {
		return sqlText
	}

	clauseBoundary := `(?i)(\bGROUP BY\b|\bORDER BY\b|\bLIMIT\b|\z)`
	if regexp.MustCompile(`(?i)\bWHERE\b`).MatchString(sqlText) {
		re := regexp.MustCompile(`(?i)(\bWHERE\b\s+.*?)` + clauseBoundary)
		return re.ReplaceAllString(sqlText, `$1 AND user_id = :user_id $2`)
	}
	re := regexp.MustCompile(`(?i)(\bFROM\b\s+.*?)` + clauseBoundary)
	return re.ReplaceAllString(sqlText, `$1 WHERE user_id = :user_id $2`)
}

// Words that mark a term as conceptual (semantic) rather than literal.
var conceptualLeadIns = regexp.MustCompile(`(?i)\b(?:related to|similar to|like|about|kind of|type of)\s+([a-z][a-z\s-]*)`)

var categoryWords = map[string]bool{
	"food": true, "beverage": true, "beverages": true, "drinks": true,
	"groceries": true, "electronics": true, "audio": true, "video": true,
	"office": true, "supplies": true, "travel": true, "transport": true,
	"software": true, "hardware": true, "furniture": true, "clothing": true,
	"entertainment": true, "subscription": true, "subscriptions": true,
	"equipment": true, "tools": true, "services": true, "utilities": true,
	"snacks": true, "coffee": true, "stationery": true, "medical": true,
}

// DetectConceptualTerms finds the category-like, generic or attribute words
// in a question that call for embedding-based matching. Proper nouns (exact
// vendor names) are literal and excluded.
func DetectConceptualTerms(question string) []string {
	var terms []string
	seen := map[string]bool{}

	add := func(t string) {
		t = strings.TrimSpace(strings.ToLower(t))
		if t != "" && !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	for _, m := range conceptualLeadIns.FindAllStringSubmatch(question, -1) {
		add(m[1])
	}

	for _, w := range strings.Fields(question) {
		cleaned := strings.ToLower(strings.Trim(w, ".,!?;:\"'"))
		if categoryWords[cleaned] {
			// A capitalized mid-sentence word is likely a proper noun.
			if w[0] >= 'A' && w[0] <= 'Z' && !strings.HasPrefix(question, w) {
				continue
			}
			add(cleaned)
		}
	}
	return terms
}

func renderConversation(conversation []domain.QAPair) []string {
	if len(conversation) == 0 {
		return nil
	}
	chunks := make([]string, len(conversation))
	for i, qa := range conversation {
		chunks[i] = qa.Role + ": " + qa.Content
	}
	return chunks
}
