package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicewise/invoicewise/internal/port"
	"github.com/invoicewise/invoicewise/pkg/config"
)

type fakeAI struct {
	chatResponse string
	chatErr      error
	lastSystem   string
	lastUser     string
}

func (f *fakeAI) ModelName() string { return "fake" }

func (f *fakeAI) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (f *fakeAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (f *fakeAI) Chat(ctx context.Context, systemPrompt, userPrompt string, contextChunks []string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	return f.chatResponse, f.chatErr
}

type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Embed(ctx context.Context, text string) []float32 {
	return DeterministicVector(text, f.dim)
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = DeterministicVector(t, f.dim)
	}
	return out
}

func (f fakeEmbedder) Dimension() int { return f.dim }

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		SimilarityThreshold: 1.3,
		MaxResults:          10,
		Metric:              config.MetricL2,
		HybridEnabled:       true,
		BoostExactMatches:   true,
	}
}

func newTestSynthesizer(ai *fakeAI) *SQLSynthesizer {
	return NewSQLSynthesizer(ai, fakeEmbedder{dim: 4}, DefaultSchemaContext(), testSearchConfig())
}

func TestExtractSQL(t *testing.T) {
	t.Run("sql code fence", func(t *testing.T) {
		got := ExtractSQL("Here you go:\n```sql\nSELECT 1\n```\nDone.")
		assert.Equal(t, "SELECT 1", got)
	})

	t.Run("bare code fence", func(t *testing.T) {
		got := ExtractSQL("```\nSELECT vendor FROM invoices\n```")
		assert.Equal(t, "SELECT vendor FROM invoices", got)
	})

	t.Run("inline statement", func(t *testing.T) {
		got := ExtractSQL("The query is SELECT vendor FROM invoices WHERE user_id = :user_id;")
		assert.Contains(t, got, "SELECT vendor")
	})

	t.Run("no sql at all", func(t *testing.T) {
		assert.Empty(t, ExtractSQL("I cannot help with that."))
	})
}

func TestSanitizeSQL(t *testing.T) {
	t.Run("strips comments and collapses whitespace", func(t *testing.T) {
		got, err := SanitizeSQL("SELECT vendor -- pick vendor\nFROM invoices /* all of them */\nWHERE user_id = :user_id")
		require.NoError(t, err)
		assert.Equal(t, "SELECT vendor FROM invoices WHERE user_id = :user_id", got)
	})

	t.Run("keeps only first statement", func(t *testing.T) {
		got, err := SanitizeSQL("SELECT 1; SELECT 2")
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1", got)
	})

	t.Run("rejects non select", func(t *testing.T) {
		_, err := SanitizeSQL("EXPLAIN SELECT 1")
		assert.Error(t, err)
	})

	t.Run("rejects destructive verbs", func(t *testing.T) {
		for _, stmt := range []string{
			"SELECT 1 FROM invoices; DROP TABLE invoices",
			"WITH d AS (DELETE FROM invoices RETURNING *) SELECT * FROM d",
			"SELECT * FROM invoices WHERE id IN (SELECT id FROM invoices FOR UPDATE)",
		} {
			_, err := SanitizeSQL(stmt)
			assert.Error(t, err, stmt)
		}
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := SanitizeSQL("  -- just a comment ")
		assert.Error(t, err)
	})
}

func TestEnsureTenantFilter(t *testing.T) {
	t.Run("already filtered is untouched", func(t *testing.T) {
		stmt := "SELECT * FROM invoices WHERE user_id = :user_id"
		assert.Equal(t, stmt, EnsureTenantFilter(stmt))
	})

	t.Run("appends to existing where", func(t *testing.T) {
		got := EnsureTenantFilter("SELECT * FROM invoices WHERE vendor = :vendor ORDER BY invoice_date")
		assert.Contains(t, got, "AND user_id = :user_id")
		assert.Contains(t, got, "ORDER BY invoice_date")
	})

	t.Run("adds where when none exists", func(t *testing.T) {
		got := EnsureTenantFilter("SELECT vendor, SUM(total_amount) FROM invoices GROUP BY vendor")
		assert.Contains(t, got, "WHERE user_id = :user_id")
		assert.Contains(t, got, "GROUP BY vendor")
	})
}

func TestDetectConceptualTerms(t *testing.T) {
	t.Run("category words are conceptual", func(t *testing.T) {
		terms := DetectConceptualTerms("what food did I buy last month")
		assert.Contains(t, terms, "food")
	})

	t.Run("lead-in phrases capture the term", func(t *testing.T) {
		terms := DetectConceptualTerms("show items similar to coffee")
		assert.NotEmpty(t, terms)
		assert.Contains(t, terms[0], "coffee")
	})

	t.Run("plain vendor questions have none", func(t *testing.T) {
		terms := DetectConceptualTerms("show invoices from ACME")
		assert.Empty(t, terms)
	})
}

func TestSynthesize(t *testing.T) {
	t.Run("valid statement gets tenant bind", func(t *testing.T) {
		ai := &fakeAI{chatResponse: "```sql\nSELECT vendor, total_amount FROM invoices WHERE user_id = :user_id\n```"}
		s := newTestSynthesizer(ai)

		syn, err := s.Synthesize(context.Background(), "show my invoices", 7, nil)
		require.NoError(t, err)
		require.NotNil(t, syn)
		assert.Equal(t, int64(7), syn.Binds["user_id"])
		assert.False(t, syn.Semantic)
	})

	t.Run("semantic clause binds embedding and threshold", func(t *testing.T) {
		ai := &fakeAI{chatResponse: "```sql\nSELECT i.description FROM items i JOIN invoices inv ON inv.id = i.invoice_id WHERE inv.user_id = :user_id AND (i.description_embedding <-> :query_embedding::vector) < :similarity_threshold\n```"}
		s := newTestSynthesizer(ai)

		syn, err := s.Synthesize(context.Background(), "what food did I buy", 7, nil)
		require.NoError(t, err)
		require.NotNil(t, syn)
		assert.True(t, syn.Semantic)
		assert.Equal(t, 1.3, syn.Binds["similarity_threshold"])
		assert.NotEmpty(t, syn.Binds["query_embedding"])
	})

	t.Run("missing filter is injected", func(t *testing.T) {
		ai := &fakeAI{chatResponse: "```sql\nSELECT vendor FROM invoices WHERE total_amount > 100\n```"}
		s := newTestSynthesizer(ai)

		syn, err := s.Synthesize(context.Background(), "big invoices", 7, nil)
		require.NoError(t, err)
		require.NotNil(t, syn)
		assert.Contains(t, syn.SQLText, "user_id = :user_id")
	})

	t.Run("unmappable question is nil nil", func(t *testing.T) {
		ai := &fakeAI{chatResponse: "NO_QUERY"}
		s := newTestSynthesizer(ai)

		syn, err := s.Synthesize(context.Background(), "what is the weather", 7, nil)
		assert.NoError(t, err)
		assert.Nil(t, syn)
	})

	t.Run("model failure is synthesis failure", func(t *testing.T) {
		ai := &fakeAI{chatErr: errors.New("connection refused")}
		s := newTestSynthesizer(ai)

		_, err := s.Synthesize(context.Background(), "anything", 7, nil)
		assert.ErrorIs(t, err, port.ErrSynthesisFailed)
	})

	t.Run("garbage output is synthesis failure", func(t *testing.T) {
		ai := &fakeAI{chatResponse: "Sure! Let me think about that."}
		s := newTestSynthesizer(ai)

		_, err := s.Synthesize(context.Background(), "anything", 7, nil)
		assert.ErrorIs(t, err, port.ErrSynthesisFailed)
	})

	t.Run("fabricated column is synthesis failure", func(t *testing.T) {
		ai := &fakeAI{chatResponse: "```sql\nSELECT inv.secret_margin FROM invoices inv WHERE inv.user_id = :user_id\n```"}
		s := newTestSynthesizer(ai)

		_, err := s.Synthesize(context.Background(), "margins", 7, nil)
		assert.ErrorIs(t, err, port.ErrSynthesisFailed)
	})

	t.Run("destructive statement is synthesis failure", func(t *testing.T) {
		ai := &fakeAI{chatResponse: "```sql\nDELETE FROM invoices WHERE user_id = :user_id\n```"}
		s := newTestSynthesizer(ai)

		_, err := s.Synthesize(context.Background(), "delete everything", 7, nil)
		assert.ErrorIs(t, err, port.ErrSynthesisFailed)
	})
}
