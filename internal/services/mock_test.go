package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/studyforge/studyforge-backend/internal/domain"
)

// fakeAI scripts the gateway for tests.
type fakeAI struct {
	mu         sync.Mutex
	embedFn    func(inputs []string) ([][]float32, error)
	completeFn func(prompt string, temperature float64) (string, error)
	completes  []string
}

func (f *fakeAI) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	if f.embedFn != nil {
		return f.embedFn(inputs)
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeAI) Complete(_ context.Context, prompt string, temperature float64, _ int) (string, error) {
	f.mu.Lock()
	f.completes = append(f.completes, prompt)
	f.mu.Unlock()
	if f.completeFn != nil {
		return f.completeFn(prompt, temperature)
	}
	return "{}", nil
}

func (f *fakeAI) completeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.completes))
	copy(out, f.completes)
	return out
}

// fakeChunkStore serves a fixed corpus with scores scripted per facet call.
type fakeChunkStore struct {
	mu      sync.Mutex
	chunks  []*domain.DocumentChunk
	calls   int
	scoreFn func(call int, chunk *domain.DocumentChunk) float64
	err     error
}

func (f *fakeChunkStore) ListChunks(context.Context, uuid.UUID) ([]*domain.DocumentChunk, error) {
	return f.chunks, f.err
}

func (f *fakeChunkStore) VectorSearch(_ context.Context, _ uuid.UUID, _ []float32, topK int) ([]ChunkMatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()

	matches := make([]ChunkMatch, 0, len(f.chunks))
	for _, ch := range f.chunks {
		score := 1.0
		if f.scoreFn != nil {
			score = f.scoreFn(call, ch)
		}
		matches = append(matches, ChunkMatch{Chunk: ch, Score: score})
	}
	sortMatchesByScore(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func sortMatchesByScore(matches []ChunkMatch) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score > matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

// fakeProbeService returns a deterministic probe built from the lesson.
type fakeProbeService struct{}

func (fakeProbeService) GenerateProbe(_ context.Context, lesson domain.OutlineLesson) domain.HyDEProbe {
	return domain.HyDEProbe{
		Synopsis:    lesson.Title + " synopsis",
		AnchorTerms: []string{"alpha", "beta"},
		Question:    "What about " + lesson.Title + "?",
		Answer:      lesson.Title + " answer",
	}
}

// fakeRetriever returns fixed passages.
type fakeRetriever struct {
	passages []domain.RetrievalResult
	err      error
}

func (f *fakeRetriever) Retrieve(context.Context, uuid.UUID, domain.HyDEProbe) ([]domain.RetrievalResult, error) {
	return f.passages, f.err
}

func testChunk(doc uuid.UUID, idx, page int, content string) *domain.DocumentChunk {
	return &domain.DocumentChunk{
		ID:         uuid.New(),
		DocumentID: doc,
		Content:    content,
		PageNumber: page,
		ChunkIndex: idx,
		TokenCount: EstimateTokens(content),
		Embedding:  domain.EncodeEmbedding([]float32{1, 0, 0}),
	}
}

func testOutline(n int) []domain.OutlineLesson {
	out := make([]domain.OutlineLesson, n)
	for i := range out {
		out[i] = domain.OutlineLesson{
			ID:          uuid.New(),
			Title:       fmt.Sprintf("Lesson %d", i),
			Description: fmt.Sprintf("Covers topic %d", i),
			Concepts:    []string{fmt.Sprintf("concept-%d", i)},
			OrderIndex:  i,
		}
	}
	return out
}
