package index

import (
	"hash/fnv"
	"math"
)

// HashingEmbedder is the default Embedder: a deterministic feature-hashing
// projection into a fixed dimension. It carries no model weights, so it can
// be swapped for a real embedding service without touching the index.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder returns an embedder of the given dimension.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 128
	}
	return &HashingEmbedder{dim: dim}
}

// Dim returns the vector dimension.
func (e *HashingEmbedder) Dim() int { return e.dim }

// Embed hashes each token into a bucket, signed by a second hash, then
// L2-normalizes.
func (e *HashingEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		bucket := int(sum) % e.dim
		if bucket < 0 {
			bucket += e.dim
		}
		sign := float32(1)
		if sum&0x80000000 != 0 {
			sign = -1
		}
		vec[bucket] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// cosine returns the cosine similarity of two equal-dimension vectors.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}
