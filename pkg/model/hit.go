package model

// ScoredHit pairs a record with the relevance score from the store that produced it.
// Cosine scores fall in [-1, 1]; fused hybrid scores are on a different scale.
type ScoredHit struct {
	Record *Record `json:"record"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}
