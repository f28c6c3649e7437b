package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, 1536, cfg.EmbeddingDimension)
	assert.Equal(t, 384, cfg.FallbackEmbedDimension)
	assert.Equal(t, 15000, cfg.QueryTimeoutMs)

	assert.Equal(t, 1.3, cfg.Search.SimilarityThreshold)
	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.Equal(t, MetricL2, cfg.Search.Metric)
	assert.True(t, cfg.Search.HybridEnabled)
	assert.True(t, cfg.Search.BoostExactMatches)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SIMILARITY_THRESHOLD", "0.8")
	t.Setenv("SIMILARITY_METRIC", "cosine")
	t.Setenv("SEARCH_MAX_RESULTS", "25")
	t.Setenv("HYBRID_SEARCH_ENABLED", "false")

	cfg := Load()
	assert.Equal(t, 0.8, cfg.Search.SimilarityThreshold)
	assert.Equal(t, MetricCosine, cfg.Search.Metric)
	assert.Equal(t, 25, cfg.Search.MaxResults)
	assert.False(t, cfg.Search.HybridEnabled)
}

func TestMaxResultsClamped(t *testing.T) {
	t.Setenv("SEARCH_MAX_RESULTS", "0")
	cfg := Load()
	assert.Equal(t, 1, cfg.Search.MaxResults)

	t.Setenv("SEARCH_MAX_RESULTS", "-5")
	cfg = Load()
	assert.Equal(t, 1, cfg.Search.MaxResults)
}

func TestParseMetric(t *testing.T) {
	assert.Equal(t, MetricCosine, parseMetric("cosine"))
	assert.Equal(t, MetricCosine, parseMetric(" COSINE "))
	assert.Equal(t, MetricInnerProduct, parseMetric("inner_product"))
	assert.Equal(t, MetricL2, parseMetric("l2"))
	assert.Equal(t, MetricL2, parseMetric("garbage"))
	assert.Equal(t, MetricL2, parseMetric(""))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SOME_INT", "not a number")
	assert.Equal(t, 42, envOrDefaultInt("SOME_INT", 42))

	t.Setenv("SOME_BOOL", "yes please")
	assert.True(t, envOrDefaultBool("SOME_BOOL", true))

	t.Setenv("SOME_FLOAT", "2.5")
	assert.Equal(t, 2.5, envOrDefaultFloat("SOME_FLOAT", 1.0))
}
