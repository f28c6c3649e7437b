package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log/slog"
	"math/rand"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbedClient is the subset of an AI provider the embedding service needs.
type EmbedClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

const defaultCacheSize = 1000

// EmbeddingService turns text into fixed-dimension vectors. It degrades
// through a fallback chain and therefore never returns an error: primary
// model, then a secondary lower-dimension model (padded to D), then a
// deterministic pseudo-random vector seeded from a hash of the input.
//
// Repeated inputs are served from a process-local LRU cache; a concurrent
// race that computes the same embedding twice is harmless.
type EmbeddingService struct {
	primary   EmbedClient
	secondary EmbedClient
	dimension int
	timeout   time.Duration
	cache     *lru.Cache[string, []float32]
}

// NewEmbeddingService creates an embedding service with the given fallback
// chain. secondary may be nil, in which case failures go straight to the
// deterministic generator.
func NewEmbeddingService(primary, secondary EmbedClient, dimension int, timeout time.Duration) *EmbeddingService {
	if dimension <= 0 {
		dimension = 1536
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cache, _ := lru.New[string, []float32](defaultCacheSize)
	return &EmbeddingService{
		primary:   primary,
		secondary: secondary,
		dimension: dimension,
		timeout:   timeout,
		cache:     cache,
	}
}

// Dimension returns the fixed vector dimension D.
func (s *EmbeddingService) Dimension() int { return s.dimension }

// Embed returns a vector of exactly D floats for any input text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) []float32 {
	key := cacheKey(text)
	if vec, ok := s.cache.Get(key); ok {
		return cloneVector(vec)
	}

	vec := s.generate(ctx, text)
	s.cache.Add(key, vec)
	return cloneVector(vec)
}

// EmbedBatch embeds multiple texts, preferring one primary batch call and
// degrading per-text through the same fallback chain.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	results := make([][]float32, len(texts))

	var uncached []string
	var uncachedIdx []int
	for i, text := range texts {
		if vec, ok := s.cache.Get(cacheKey(text)); ok {
			results[i] = cloneVector(vec)
		} else {
			uncached = append(uncached, text)
			uncachedIdx = append(uncachedIdx, i)
		}
	}
	if len(uncached) == 0 {
		return results
	}

	if s.primary != nil {
		batchCtx, cancel := context.WithTimeout(ctx, s.timeout)
		vectors, err := s.primary.EmbedBatch(batchCtx, uncached)
		cancel()
		if err == nil && len(vectors) == len(uncached) {
			for j, vec := range vectors {
				fitted := fitDimension(vec, s.dimension)
				s.cache.Add(cacheKey(uncached[j]), fitted)
				results[uncachedIdx[j]] = cloneVector(fitted)
			}
			return results
		}
		if err != nil {
			slog.Warn("batch embedding failed, falling back per text", "error", err)
		}
	}

	for j, text := range uncached {
		results[uncachedIdx[j]] = s.Embed(ctx, text)
	}
	return results
}

func (s *EmbeddingService) generate(ctx context.Context, text string) []float32 {
	if s.primary != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		vec, err := s.primary.Embed(callCtx, text)
		cancel()
		if err == nil && len(vec) > 0 {
			return fitDimension(vec, s.dimension)
		}
		slog.Warn("primary embedding model failed", "error", err)
	}

	if s.secondary != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		vec, err := s.secondary.Embed(callCtx, text)
		cancel()
		if err == nil && len(vec) > 0 {
			return fitDimension(vec, s.dimension)
		}
		slog.Warn("secondary embedding model failed", "error", err)
	}

	slog.Warn("all embedding models unavailable, using deterministic fallback")
	return DeterministicVector(text, s.dimension)
}

// DeterministicVector generates a pseudo-random vector seeded from a hash of
// the text: the same input always yields the identical vector.
func DeterministicVector(text string, dimension int) []float32 {
	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float32, dimension)
	for i := range vec {
		vec[i] = float32((rng.Float64()*2 - 1) * 0.1)
	}
	return vec
}

// fitDimension pads with zeros or truncates so the vector has exactly dim
// components, letting a lower-dimension fallback model stand in for the
// primary one.
func fitDimension(vec []float32, dim int) []float32 {
	if len(vec) == dim {
		return vec
	}
	fitted := make([]float32, dim)
	copy(fitted, vec)
	return fitted
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return string(sum[:])
}
