package searchindex

// rrfK damps the contribution of top ranks in reciprocal rank fusion
const rrfK = 60

// fuse merges ranked lists by reciprocal rank fusion: score = sum(1 / (rrfK + rank)).
// Documents are identified by ID; ties keep first-seen order.
func fuse(lists ...[]*ScoredDocument) []*ScoredDocument {
	var (
		merged []*ScoredDocument
		byID   = make(map[string]*ScoredDocument)
	)

	for _, list := range lists {
		for rank, hit := range list {
			contribution := 1.0 / float64(rrfK+rank+1)
			if existing, ok := byID[hit.Document.ID]; ok {
				existing.Score += contribution
				continue
			}
			fused := &ScoredDocument{Document: hit.Document, Score: contribution}
			byID[hit.Document.ID] = fused
			merged = append(merged, fused)
		}
	}

	sortScored(merged)
	return merged
}
