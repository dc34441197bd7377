package categorize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/service"
)

// Confidence recorded for exact lookups.
const (
	AliasConfidence            = 100.0
	DescriptionCacheConfidence = 95.0
)

// DefaultEmbeddingThreshold is the cosine similarity a neighbor must exceed.
const DefaultEmbeddingThreshold = 0.85

// AliasTier matches vendor text against known vendor alias patterns.
type AliasTier struct {
	store service.AliasStore
}

// NewAliasTier creates the exact-alias tier.
func NewAliasTier(store service.AliasStore) *AliasTier {
	return &AliasTier{store: store}
}

// Level implements Tier.
func (t *AliasTier) Level() model.Tier { return model.TierAlias }

// Source implements Tier.
func (t *AliasTier) Source() model.Source { return model.SourceAlias }

// Lookup implements Tier. Longer patterns win over shorter ones.
func (t *AliasTier) Lookup(ctx context.Context, q Query) service.Outcome[Hit] {
	aliases, err := t.store.ListVendorAliases(ctx, q.UserID)
	if err != nil {
		return service.Missed[Hit](service.ReasonUnavailable, err)
	}

	sort.SliceStable(aliases, func(i, j int) bool {
		if len(aliases[i].Pattern) != len(aliases[j].Pattern) {
			return len(aliases[i].Pattern) > len(aliases[j].Pattern)
		}
		return aliases[i].ID < aliases[j].ID
	})

	for _, text := range []string{q.Vendor, q.NormalizedDescription, q.RawDescription} {
		if strings.TrimSpace(text) == "" {
			continue
		}
		for _, alias := range aliases {
			if !alias.Matches(text) && !strings.EqualFold(strings.TrimSpace(alias.CanonicalName), strings.TrimSpace(text)) {
				continue
			}
			if alias.DefaultGLCode == "" && alias.DefaultDepartment == "" {
				continue
			}
			return service.Found(Hit{
				GLCode:     alias.DefaultGLCode,
				Department: alias.DefaultDepartment,
				Reference:  alias.ID,
				Confidence: AliasConfidence,
			})
		}
	}
	return service.Missed[Hit](service.ReasonNoMatch, nil)
}

// DescriptionCacheTier looks up codes recorded for a normalized description.
type DescriptionCacheTier struct {
	store service.DescriptionCacheStore
}

// NewDescriptionCacheTier creates the cached-description tier.
func NewDescriptionCacheTier(store service.DescriptionCacheStore) *DescriptionCacheTier {
	return &DescriptionCacheTier{store: store}
}

// Level implements Tier.
func (t *DescriptionCacheTier) Level() model.Tier { return model.TierDescriptionCache }

// Source implements Tier.
func (t *DescriptionCacheTier) Source() model.Source { return model.SourceDescriptionCache }

// Lookup implements Tier.
func (t *DescriptionCacheTier) Lookup(ctx context.Context, q Query) service.Outcome[Hit] {
	if strings.TrimSpace(q.NormalizedDescription) == "" {
		return service.Missed[Hit](service.ReasonNoMatch, nil)
	}

	entry, err := t.store.GetDescriptionCache(ctx, q.UserID, q.NormalizedDescription)
	if errors.Is(err, common.ErrNotFound) {
		return service.Missed[Hit](service.ReasonNoMatch, nil)
	}
	if err != nil {
		return service.Missed[Hit](service.ReasonUnavailable, err)
	}

	return service.Found(Hit{
		GLCode:     entry.GLCode,
		Department: entry.Department,
		Reference:  entry.NormalizedDescription,
		Confidence: DescriptionCacheConfidence,
	})
}

// EmbeddingTier finds the nearest verified embedding to the description.
type EmbeddingTier struct {
	embedder  service.Embedder
	index     service.NeighborIndex
	threshold float64
}

// NewEmbeddingTier creates the embedding-similarity tier. Neighbors must have
// a cosine similarity strictly above threshold.
func NewEmbeddingTier(embedder service.Embedder, index service.NeighborIndex, threshold float64) *EmbeddingTier {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultEmbeddingThreshold
	}
	return &EmbeddingTier{embedder: embedder, index: index, threshold: threshold}
}

// Level implements Tier.
func (t *EmbeddingTier) Level() model.Tier { return model.TierEmbedding }

// Source implements Tier.
func (t *EmbeddingTier) Source() model.Source { return model.SourceEmbedding }

// Lookup implements Tier.
func (t *EmbeddingTier) Lookup(ctx context.Context, q Query) service.Outcome[Hit] {
	text := q.NormalizedDescription
	if strings.TrimSpace(text) == "" {
		text = q.RawDescription
	}
	if strings.TrimSpace(text) == "" {
		return service.Missed[Hit](service.ReasonNoMatch, nil)
	}

	vector, err := t.embedder.Embed(ctx, text)
	if err != nil {
		return service.Missed[Hit](service.ReasonUnavailable, fmt.Errorf("failed to embed description: %w", err))
	}

	neighbor, err := t.index.NearestNeighbor(ctx, q.UserID, vector)
	if errors.Is(err, common.ErrNotFound) {
		return service.Missed[Hit](service.ReasonNoMatch, nil)
	}
	if err != nil {
		return service.Missed[Hit](service.ReasonUnavailable, err)
	}
	if neighbor.Similarity <= t.threshold {
		return service.Missed[Hit](service.ReasonNoMatch, nil)
	}

	return service.Found(Hit{
		GLCode:     neighbor.GLCode,
		Department: neighbor.Department,
		Reference:  neighbor.RecordID,
		Confidence: math.Round(neighbor.Similarity*10000) / 100,
	})
}
