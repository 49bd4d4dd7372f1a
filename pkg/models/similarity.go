package models

import (
	"fmt"
	"time"
)

// EntityKind selects the similarity graph an edge belongs to.
type EntityKind string

const (
	EntityProperty EntityKind = "property"
	EntityUser     EntityKind = "user"
)

// Algorithm tags persisted with every edge.
const (
	AlgorithmCosineVector  = "cosine_vector"
	AlgorithmJaccardCF     = "jaccard_cf"
	AlgorithmPearsonCF     = "pearson_cf"
	AlgorithmCosineContent = "cosine_content"
)

// SimilarityEdge is an unordered pair stored in canonical order (ID1 < ID2).
// The store keys edges by (Kind, ID1, ID2); the algorithm lives in the
// payload, so the latest pass to touch a pair wins.
type SimilarityEdge struct {
	Kind       EntityKind     `json:"kind"`
	ID1        int64          `json:"id1"`
	ID2        int64          `json:"id2"`
	Score      float64        `json:"similarity_score"`
	Algorithm  string         `json:"algorithm"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ComputedAt time.Time      `json:"computed_at"`
}

// NewSimilarityEdge builds an edge with the smaller id first. Self pairs are
// rejected with ErrInvalidRecord.
func NewSimilarityEdge(kind EntityKind, a, b int64, score float64, algorithm string, metadata map[string]any, at time.Time) (SimilarityEdge, error) {
	if a == b {
		return SimilarityEdge{}, fmt.Errorf("%w: self pair %d", ErrInvalidRecord, a)
	}
	if a > b {
		a, b = b, a
	}
	return SimilarityEdge{
		Kind:       kind,
		ID1:        a,
		ID2:        b,
		Score:      score,
		Algorithm:  algorithm,
		Metadata:   metadata,
		ComputedAt: at,
	}, nil
}

// Other returns the endpoint opposite to id.
func (e SimilarityEdge) Other(id int64) int64 {
	if e.ID1 == id {
		return e.ID2
	}
	return e.ID1
}

// Key identifies the edge row in the store.
func (e SimilarityEdge) Key() [2]int64 {
	return [2]int64{e.ID1, e.ID2}
}

// Payload is the serialized explanation stored next to the score.
func (e SimilarityEdge) Payload() map[string]any {
	payload := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		payload[k] = v
	}
	payload["similarity_score"] = e.Score
	payload["algorithm"] = e.Algorithm
	return payload
}
