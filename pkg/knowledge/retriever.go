package knowledge

import "context"

// Passage is one ranked excerpt from the policy corpus.
type Passage struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Retriever serves ranked passages for a query. Implementations must be
// side-effect free and must not block beyond their configured timeout.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]Passage, error)
}
