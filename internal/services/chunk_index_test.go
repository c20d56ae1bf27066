package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/studyforge/studyforge-backend/internal/data/repos"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
)

func TestChunkTextSplitsWithOverlapAndPages(t *testing.T) {
	doc := uuid.New()
	text := strings.Repeat("abcdefghij", 100) // 1000 chars

	chunks := ChunkText(doc, text, 400, 100, 500)
	if len(chunks) == 0 {
		t.Fatalf("expected chunks, got none")
	}
	for i, ch := range chunks {
		if ch.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, ch.ChunkIndex)
		}
		if ch.DocumentID != doc {
			t.Fatalf("chunk %d bound to wrong document", i)
		}
		if ch.TokenCount != EstimateTokens(ch.Content) {
			t.Fatalf("chunk %d token count mismatch", i)
		}
	}
	// step = 300, so starts are 0,300,600,900 and pages flip at 500 chars
	if chunks[0].PageNumber != 1 || chunks[len(chunks)-1].PageNumber != 2 {
		t.Fatalf("page attribution wrong: first p%d last p%d",
			chunks[0].PageNumber, chunks[len(chunks)-1].PageNumber)
	}
}

func TestChunkTextEmptyInput(t *testing.T) {
	if got := ChunkText(uuid.New(), "   \n  ", 400, 100, 500); len(got) != 0 {
		t.Fatalf("expected no chunks for blank text, got %d", len(got))
	}
}

func TestSearchChunksRanksByCosine(t *testing.T) {
	doc := uuid.New()
	near := testChunk(doc, 0, 1, "near")
	near.Embedding = domain.EncodeEmbedding([]float32{1, 0, 0})
	mid := testChunk(doc, 1, 2, "mid")
	mid.Embedding = domain.EncodeEmbedding([]float32{1, 1, 0})
	far := testChunk(doc, 2, 3, "far")
	far.Embedding = domain.EncodeEmbedding([]float32{0, 1, 0})
	unembedded := testChunk(doc, 3, 4, "missing")
	unembedded.Embedding = nil

	matches := SearchChunks([]*domain.DocumentChunk{far, unembedded, mid, near}, []float32{1, 0, 0}, 10)
	if len(matches) != 3 {
		t.Fatalf("expected 3 scored chunks, got %d", len(matches))
	}
	if matches[0].Chunk.ID != near.ID || matches[1].Chunk.ID != mid.ID || matches[2].Chunk.ID != far.ID {
		t.Fatalf("chunks not ranked by similarity")
	}
	if matches[0].Score <= matches[1].Score || matches[1].Score <= matches[2].Score {
		t.Fatalf("scores not descending: %v %v %v", matches[0].Score, matches[1].Score, matches[2].Score)
	}
}

func TestSearchChunksHonorsTopK(t *testing.T) {
	doc := uuid.New()
	var chunks []*domain.DocumentChunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, testChunk(doc, i, 1, "content"))
	}
	if got := SearchChunks(chunks, []float32{1, 0, 0}, 4); len(got) != 4 {
		t.Fatalf("expected 4 matches, got %d", len(got))
	}
}

func TestEnsureEmbeddingsBackfillsOnlyMissing(t *testing.T) {
	doc := uuid.New()
	repo := repos.NewMemoryChunkRepo()

	embedded := testChunk(doc, 0, 1, "already embedded")
	missing1 := testChunk(doc, 1, 1, "needs a vector")
	missing1.Embedding = nil
	missing2 := testChunk(doc, 2, 1, "also needs a vector")
	missing2.Embedding = nil
	if _, err := repo.Create(context.Background(), nil, []*domain.DocumentChunk{embedded, missing1, missing2}); err != nil {
		t.Fatalf("seed chunks: %v", err)
	}

	var embeddedInputs []string
	ai := &fakeAI{
		embedFn: func(inputs []string) ([][]float32, error) {
			embeddedInputs = append(embeddedInputs, inputs...)
			out := make([][]float32, len(inputs))
			for i := range inputs {
				out[i] = []float32{0, 1, 0}
			}
			return out, nil
		},
	}

	index := NewChunkIndex(logger.NewNop(), repo, ai)
	count, err := index.EnsureEmbeddings(context.Background(), doc)
	if err != nil {
		t.Fatalf("ensure embeddings: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 backfilled chunks, got %d", count)
	}
	for _, in := range embeddedInputs {
		if in == "already embedded" {
			t.Fatalf("re-embedded a chunk that already had a vector")
		}
	}

	chunks, _ := repo.GetByDocumentID(context.Background(), nil, doc)
	for _, ch := range chunks {
		if _, ok := domain.ParseEmbedding(ch.Embedding); !ok {
			t.Fatalf("chunk %d still missing embedding", ch.ChunkIndex)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(strings.Repeat("x", 400)); got != 100 {
		t.Fatalf("expected 100 tokens, got %d", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty string, got %d", got)
	}
}
