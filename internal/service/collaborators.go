package service

import (
	"context"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
)

// Normalizer cleans raw statement text into a stable vendor description.
type Normalizer interface {
	Normalize(ctx context.Context, rawText, userID string) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NeighborIndex finds the closest verified embedding for a vector.
// It returns common.ErrNotFound when the corpus is empty.
type NeighborIndex interface {
	NearestNeighbor(ctx context.Context, userID string, vector []float32) (*model.Neighbor, error)
}

// PredictionSource supplies pattern-based predictions keyed by transaction id.
type PredictionSource interface {
	PredictionsForPeriod(ctx context.Context, userID string, start, end time.Time) (map[string]model.Prediction, error)
}
