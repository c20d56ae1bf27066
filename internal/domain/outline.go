package domain

import (
	"github.com/google/uuid"
)

// OutlineLesson is the immutable outline entry driving probe generation and
// content generation. Owned by the outline aggregate; consumed here as input.
type OutlineLesson struct {
	ID                 uuid.UUID `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Concepts           []string  `json:"concepts"`
	LearningObjectives []string  `json:"learning_objectives"`
	OrderIndex         int       `json:"order_index"`
}

// HyDEProbe is the ephemeral synthetic query generated per lesson: a
// hypothetical synopsis, anchor terms, and a Q&A pair used as three
// independent retrieval facets. Never persisted.
type HyDEProbe struct {
	Synopsis    string   `json:"synopsis"`
	AnchorTerms []string `json:"anchor_terms"`
	Question    string   `json:"question"`
	Answer      string   `json:"answer"`
}

// RetrievalResult is one selected context passage, most-relevant first in
// the slice returned by the retriever.
type RetrievalResult struct {
	ChunkID        uuid.UUID `json:"chunk_id"`
	Content        string    `json:"content"`
	PageNumber     int       `json:"page_number"`
	RelevanceScore float64   `json:"relevance_score"`
	Citation       string    `json:"citation"`
}
