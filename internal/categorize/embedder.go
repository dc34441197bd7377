package categorize

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"

	"github.com/Veraticus/expensetrack/internal/scoring"
)

// DefaultDimensions is the vector size of the hashing embedder.
const DefaultDimensions = 256

// HashingEmbedder maps text to a fixed-size vector by feature hashing word
// tokens and character trigrams. Vectors are L2-normalized, so cosine
// similarity reduces to a dot product. It needs no network access and is
// fully deterministic.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates an embedder producing vectors of dims entries.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// Dimensions returns the vector size.
func (h *HashingEmbedder) Dimensions() int {
	return h.dims
}

// Embed implements service.Embedder.
func (h *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := strings.Fields(scoring.Normalize(text))
	if len(tokens) == 0 {
		return nil, errors.New("nothing to embed")
	}

	vec := make([]float64, h.dims)
	for _, token := range tokens {
		// Digit runs (store numbers, references) carry little meaning.
		if isDigits(token) {
			continue
		}
		h.add(vec, "w:"+token, 1.0)

		padded := " " + token + " "
		for i := 0; i+3 <= len(padded); i++ {
			h.add(vec, "t:"+padded[i:i+3], 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, h.dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (h *HashingEmbedder) add(vec []float64, feature string, weight float64) {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum32()

	idx := int(sum % uint32(h.dims))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
