package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbed struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbed) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *stubEmbed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = s.vec
	}
	return out, nil
}

func TestDeterministicVector(t *testing.T) {
	t.Run("same input yields identical vectors", func(t *testing.T) {
		a := DeterministicVector("coffee beans", 1536)
		b := DeterministicVector("coffee beans", 1536)
		assert.Equal(t, a, b)
	})

	t.Run("different inputs diverge", func(t *testing.T) {
		a := DeterministicVector("coffee beans", 64)
		b := DeterministicVector("office chair", 64)
		assert.NotEqual(t, a, b)
	})

	t.Run("values stay within range", func(t *testing.T) {
		vec := DeterministicVector("anything", 256)
		require.Len(t, vec, 256)
		for _, v := range vec {
			assert.GreaterOrEqual(t, v, float32(-0.1))
			assert.LessOrEqual(t, v, float32(0.1))
		}
	})
}

func TestEmbedNeverErrors(t *testing.T) {
	t.Run("both models down falls back deterministically", func(t *testing.T) {
		primary := &stubEmbed{err: errors.New("connection refused")}
		secondary := &stubEmbed{err: errors.New("connection refused")}
		svc := NewEmbeddingService(primary, secondary, 128, time.Second)

		vec := svc.Embed(context.Background(), "coffee beans")
		require.Len(t, vec, 128)
		assert.Equal(t, DeterministicVector("coffee beans", 128), vec)
	})

	t.Run("nil secondary still degrades", func(t *testing.T) {
		primary := &stubEmbed{err: errors.New("down")}
		svc := NewEmbeddingService(primary, nil, 64, time.Second)

		vec := svc.Embed(context.Background(), "anything at all")
		assert.Len(t, vec, 64)
	})
}

func TestEmbedFallbackPadsDimension(t *testing.T) {
	primary := &stubEmbed{err: errors.New("down")}
	secondary := &stubEmbed{vec: make([]float32, 384)}
	for i := range secondary.vec {
		secondary.vec[i] = 0.5
	}
	svc := NewEmbeddingService(primary, secondary, 1536, time.Second)

	vec := svc.Embed(context.Background(), "padded")
	require.Len(t, vec, 1536)
	assert.Equal(t, float32(0.5), vec[0])
	assert.Equal(t, float32(0.5), vec[383])
	assert.Equal(t, float32(0), vec[384])
	assert.Equal(t, float32(0), vec[1535])
}

func TestEmbedCaching(t *testing.T) {
	primary := &stubEmbed{vec: []float32{1, 2, 3, 4}}
	svc := NewEmbeddingService(primary, nil, 4, time.Second)

	first := svc.Embed(context.Background(), "repeated text")
	second := svc.Embed(context.Background(), "repeated text")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, primary.calls)

	// Mutating a returned vector must not poison the cache.
	first[0] = 99
	third := svc.Embed(context.Background(), "repeated text")
	assert.Equal(t, float32(1), third[0])
}

func TestEmbedBatch(t *testing.T) {
	t.Run("single batch call for uncached texts", func(t *testing.T) {
		primary := &stubEmbed{vec: []float32{1, 1}}
		svc := NewEmbeddingService(primary, nil, 2, time.Second)

		vecs := svc.EmbedBatch(context.Background(), []string{"a", "b", "c"})
		require.Len(t, vecs, 3)
		for _, v := range vecs {
			assert.Len(t, v, 2)
		}
		assert.Equal(t, 1, primary.calls)
	})

	t.Run("cached entries skip the model", func(t *testing.T) {
		primary := &stubEmbed{vec: []float32{1, 1}}
		svc := NewEmbeddingService(primary, nil, 2, time.Second)

		svc.Embed(context.Background(), "a")
		calls := primary.calls

		vecs := svc.EmbedBatch(context.Background(), []string{"a"})
		require.Len(t, vecs, 1)
		assert.Equal(t, calls, primary.calls)
	})

	t.Run("batch failure degrades per text", func(t *testing.T) {
		primary := &stubEmbed{err: errors.New("down")}
		svc := NewEmbeddingService(primary, nil, 8, time.Second)

		vecs := svc.EmbedBatch(context.Background(), []string{"x", "y"})
		require.Len(t, vecs, 2)
		assert.Equal(t, DeterministicVector("x", 8), vecs[0])
		assert.Equal(t, DeterministicVector("y", 8), vecs[1])
	})
}
