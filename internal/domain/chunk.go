package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DocumentChunk is an immutable slice of a source document with its page
// attribution and embedding. Created during ingestion, referenced (never
// mutated) by retrieval.
type DocumentChunk struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID uuid.UUID      `gorm:"type:uuid;not null;index:idx_document_chunk_doc" json:"document_id"`
	Content    string         `gorm:"column:content;type:text;not null" json:"content"`
	PageNumber int            `gorm:"column:page_number;not null" json:"page_number"`
	ChunkIndex int            `gorm:"column:chunk_index;not null;index:idx_document_chunk_doc,priority:2" json:"chunk_index"`
	TokenCount int            `gorm:"column:token_count;not null" json:"token_count"`
	Embedding  datatypes.JSON `gorm:"column:embedding;type:jsonb" json:"embedding,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (DocumentChunk) TableName() string { return "document_chunk" }

// ParseEmbedding decodes a stored embedding. Accepts either float32 or
// float64 JSON arrays (older rows were written as float64).
func ParseEmbedding(js datatypes.JSON) ([]float32, bool) {
	if len(js) == 0 {
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal(js, &v); err != nil {
		var f64 []float64
		if err2 := json.Unmarshal(js, &f64); err2 != nil {
			return nil, false
		}
		v = make([]float32, len(f64))
		for i := range f64 {
			v[i] = float32(f64[i])
		}
	}
	if len(v) == 0 {
		return nil, false
	}
	return v, true
}

// EncodeEmbedding serializes a vector for storage.
func EncodeEmbedding(vec []float32) datatypes.JSON {
	b, _ := json.Marshal(vec)
	return datatypes.JSON(b)
}
