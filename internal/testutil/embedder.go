package testutil

import (
	"context"
	"hash/fnv"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// VectorDim matches the pgvector column width in db/migrations.
const VectorDim = 1536

// DeterministicEmbedder is an ai.Embedder producing stable pseudo-random
// vectors from the input text. Identical texts embed identically, so
// similarity search in integration tests behaves predictably without a
// provider.
type DeterministicEmbedder struct{}

func (DeterministicEmbedder) Name() string { return "testutil/deterministic" }

func (DeterministicEmbedder) Register(api.Registry) {}

func (DeterministicEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		text := ""
		for _, part := range doc.Content {
			text += part.Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: deterministicVector(text),
		})
	}
	return resp, nil
}

// deterministicVector expands an FNV hash of the text into a unit-scaled
// vector via a splitmix-style generator.
func deterministicVector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()

	vec := make([]float32, VectorDim)
	for i := range vec {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		// Map to [-1, 1).
		vec[i] = float32(int64(z)) / float32(1<<63)
	}
	return vec
}
