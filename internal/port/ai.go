package port

import "context"

// AIProvider abstracts the AI/LLM backend for embeddings and chat completions.
// Implementations can target Ollama, OpenAI, or any compatible API.
type AIProvider interface {
	// ModelName returns the identifier of the chat model being used.
	ModelName() string

	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Chat sends a prompt with optional context chunks and returns the LLM response.
	Chat(ctx context.Context, systemPrompt string, userPrompt string, contextChunks []string) (string, error)
}

// Embedder turns text into a fixed-dimension vector. It never fails: the
// implementation degrades through fallback models down to a deterministic
// generator rather than returning an error.
type Embedder interface {
	// Embed returns a vector of exactly Dimension() floats for any input.
	Embed(ctx context.Context, text string) []float32

	// EmbedBatch embeds multiple texts, one vector per input.
	EmbedBatch(ctx context.Context, texts []string) [][]float32

	// Dimension returns the fixed vector dimension D.
	Dimension() int
}
