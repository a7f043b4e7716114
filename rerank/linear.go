package rerank

// linearReranker combines the two sides' raw scores directly: score =
// vectorWeight*denseScore + (1-vectorWeight)*lexicalScore. Callers must
// supply scores already normalized to a comparable range (e.g. cosine
// similarity and a 0..1 normalized BM25 score).
type linearReranker struct{}

func (r *linearReranker) Combine(candidates []Candidate, vectorWeight float64) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		dense := c.DenseScore
		if c.DenseRank < 0 {
			dense = 0
		}
		lexical := c.LexicalScore
		if c.LexicalRank < 0 {
			lexical = 0
		}
		score := vectorWeight*dense + (1-vectorWeight)*lexical
		scored = append(scored, Scored{Candidate: c, Score: score})
	}
	sortDescending(scored)
	return scored
}
