package memory

import (
	"context"
	"math"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// EmbeddingDim is the vector width of the semantic_memories embedding column.
const EmbeddingDim = 256

// HashEmbedder produces deterministic embeddings via token feature hashing.
// It needs no external model service, which keeps semantic recall available
// when no embedding provider is configured; a hosted model can be swapped in
// through the Embedder interface without touching the store.
type HashEmbedder struct{}

func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, EmbeddingDim)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := blake2b.Sum256([]byte(token))
		// first 4 bytes pick the bucket, fifth picks the sign
		idx := (uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])) % EmbeddingDim
		if sum[4]&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
