package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/studyforge/studyforge-backend/internal/data/repos"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
	"github.com/studyforge/studyforge-backend/internal/platform/openai"
)

// ChunkMatch pairs a chunk with its similarity score.
type ChunkMatch struct {
	Chunk *domain.DocumentChunk
	Score float64
}

// ChunkStore is the retrieval pipeline's view of the corpus.
type ChunkStore interface {
	ListChunks(ctx context.Context, documentID uuid.UUID) ([]*domain.DocumentChunk, error)
	VectorSearch(ctx context.Context, documentID uuid.UUID, queryEmbedding []float32, topK int) ([]ChunkMatch, error)
}

// ChunkIndex adds the ingestion-side embedding backfill to ChunkStore.
type ChunkIndex interface {
	ChunkStore
	EnsureEmbeddings(ctx context.Context, documentID uuid.UUID) (int, error)
}

// chunkIndex implements ChunkStore as brute-force cosine similarity over the
// stored embeddings of one document's chunks. Corpus sizes are per-document
// (thousands of chunks at most), so a flat scan beats index maintenance.
type chunkIndex struct {
	log  *logger.Logger
	repo repos.ChunkRepo
	ai   openai.Client
}

func NewChunkIndex(baseLog *logger.Logger, repo repos.ChunkRepo, ai openai.Client) ChunkIndex {
	return &chunkIndex{
		log:  baseLog.With("service", "ChunkIndex"),
		repo: repo,
		ai:   ai,
	}
}

func (ci *chunkIndex) ListChunks(ctx context.Context, documentID uuid.UUID) ([]*domain.DocumentChunk, error) {
	if documentID == uuid.Nil {
		return nil, fmt.Errorf("missing document id")
	}
	return ci.repo.GetByDocumentID(ctx, nil, documentID)
}

func (ci *chunkIndex) VectorSearch(ctx context.Context, documentID uuid.UUID, queryEmbedding []float32, topK int) ([]ChunkMatch, error) {
	if len(queryEmbedding) == 0 || topK <= 0 {
		return nil, nil
	}
	chunks, err := ci.ListChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return SearchChunks(chunks, queryEmbedding, topK), nil
}

// SearchChunks ranks chunks by cosine similarity against the query vector.
// Chunks without a parseable embedding of matching dimension are skipped.
func SearchChunks(chunks []*domain.DocumentChunk, queryEmbedding []float32, topK int) []ChunkMatch {
	if len(chunks) == 0 || len(queryEmbedding) == 0 || topK <= 0 {
		return nil
	}
	matches := make([]ChunkMatch, 0, len(chunks))
	for _, ch := range chunks {
		if ch == nil {
			continue
		}
		emb, ok := domain.ParseEmbedding(ch.Embedding)
		if !ok || len(emb) != len(queryEmbedding) {
			continue
		}
		matches = append(matches, ChunkMatch{Chunk: ch, Score: cosine(queryEmbedding, emb)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ChunkText splits raw extracted text into fixed-size overlapping chunks with
// page attribution, ready for the chunk repo. charsPerPage approximates page
// boundaries when the extractor did not provide them.
func ChunkText(documentID uuid.UUID, text string, chunkSize, overlap, charsPerPage int) []*domain.DocumentChunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return []*domain.DocumentChunk{}
	}
	if chunkSize < 200 {
		chunkSize = 200
	}
	if overlap < 0 {
		overlap = 0
	}
	if charsPerPage <= 0 {
		charsPerPage = 3000
	}
	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize
	}

	out := []*domain.DocumentChunk{}
	idx := 0
	for start := 0; start < len(text); start += step {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		}
		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			out = append(out, &domain.DocumentChunk{
				ID:         uuid.New(),
				DocumentID: documentID,
				Content:    piece,
				PageNumber: start/charsPerPage + 1,
				ChunkIndex: idx,
				TokenCount: EstimateTokens(piece),
				Embedding:  datatypes.JSON(nil),
				CreatedAt:  time.Now(),
			})
			idx++
		}
		if end == len(text) {
			break
		}
	}
	return out
}

// EnsureEmbeddings embeds only the chunks missing vectors, in batches, and
// persists them. Already-embedded chunks are left untouched.
func (ci *chunkIndex) EnsureEmbeddings(ctx context.Context, documentID uuid.UUID) (int, error) {
	chunks, err := ci.ListChunks(ctx, documentID)
	if err != nil {
		return 0, err
	}
	missing := make([]*domain.DocumentChunk, 0)
	for _, ch := range chunks {
		if ch == nil {
			continue
		}
		if _, ok := domain.ParseEmbedding(ch.Embedding); !ok {
			missing = append(missing, ch)
		}
	}

	const batchSize = 64
	embedded := 0
	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		inputs := make([]string, len(batch))
		for i, ch := range batch {
			inputs[i] = ch.Content
		}

		vecs, err := ci.ai.Embed(ctx, inputs)
		if err != nil {
			return embedded, fmt.Errorf("embed batch: %w", err)
		}
		for i, ch := range batch {
			if err := ci.repo.UpdateEmbedding(ctx, nil, ch.ID, vecs[i]); err != nil {
				return embedded, fmt.Errorf("update chunk embedding: %w", err)
			}
			embedded++
		}
	}
	if embedded > 0 {
		ci.log.Info("Embedded missing chunks", "document_id", documentID, "count", embedded)
	}
	return embedded, nil
}

// EstimateTokens approximates token count as len/4.
func EstimateTokens(s string) int {
	return len(s) / 4
}
