package rerank

// rrfReranker implements reciprocal rank fusion: score = 1/(k+rank+1),
// summed per candidate across the dense and lexical rankings, weighted by
// vectorWeight so that 0 yields the pure-lexical ordering and 1 the
// pure-dense ordering.
type rrfReranker struct {
	k float64
}

func (r *rrfReranker) Combine(candidates []Candidate, vectorWeight float64) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		var dense, lexical float64
		if c.DenseRank >= 0 {
			dense = 1.0 / (r.k + float64(c.DenseRank+1))
		}
		if c.LexicalRank >= 0 {
			lexical = 1.0 / (r.k + float64(c.LexicalRank+1))
		}
		score := vectorWeight*dense + (1-vectorWeight)*lexical
		scored = append(scored, Scored{Candidate: c, Score: score})
	}
	sortDescending(scored)
	return scored
}
