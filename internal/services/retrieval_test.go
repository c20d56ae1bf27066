package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/studyforge/studyforge-backend/internal/config"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
)

func testProbe() domain.HyDEProbe {
	return domain.HyDEProbe{
		Synopsis:    "A synopsis of the ideal passage",
		AnchorTerms: []string{"alpha", "beta", "gamma"},
		Question:    "What is the key idea?",
		Answer:      "The key idea is alpha.",
	}
}

func TestFuseRankingsIsDeterministic(t *testing.T) {
	doc := uuid.New()
	a := testChunk(doc, 0, 1, "chunk a")
	b := testChunk(doc, 1, 2, "chunk b")
	c := testChunk(doc, 2, 3, "chunk c")

	rankings := [][]ChunkMatch{
		{{Chunk: a}, {Chunk: b}, {Chunk: c}},
		{{Chunk: b}, {Chunk: a}},
		{{Chunk: a}, {Chunk: c}},
	}

	first := fuseRankings(rankings, 60)
	if len(first) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(first))
	}
	if first[0].chunk.ID != a.ID {
		t.Fatalf("expected chunk a first, got %s", first[0].chunk.ID)
	}

	// a: rank 1 in facets 0 and 2, rank 2 in facet 1
	want := 1.0/61 + 1.0/62 + 1.0/61
	if diff := first[0].rrfScore - want; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("unexpected rrf score for a: got %v want %v", first[0].rrfScore, want)
	}

	for i := 0; i < 10; i++ {
		again := fuseRankings(rankings, 60)
		for j := range again {
			if again[j].chunk.ID != first[j].chunk.ID {
				t.Fatalf("fusion order changed between runs at position %d", j)
			}
		}
	}
}

func TestFuseRankingsBreaksTiesByID(t *testing.T) {
	doc := uuid.New()
	a := testChunk(doc, 0, 1, "a")
	b := testChunk(doc, 1, 1, "b")

	rankings := [][]ChunkMatch{
		{{Chunk: a}},
		{{Chunk: b}},
	}
	fused := fuseRankings(rankings, 60)
	if len(fused) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(fused))
	}
	if fused[0].chunk.ID.String() > fused[1].chunk.ID.String() {
		t.Fatalf("tie not broken by id: %s before %s", fused[0].chunk.ID, fused[1].chunk.ID)
	}
}

func TestSelectUnderBudgetRespectsFloorAndBudget(t *testing.T) {
	doc := uuid.New()
	cfg := config.Default().Retrieval
	cfg.MaxContextTokens = 100

	big := strings.Repeat("x", 380) // ~95 tokens each
	var ranked []*candidate
	for i := 0; i < 6; i++ {
		c := testChunk(doc, i, i+1, big)
		ranked = append(ranked, &candidate{chunk: c, relevance: 0.1})
	}

	results := selectUnderBudget(ranked, cfg)
	// All scores are below MIN_RELEVANCE_SCORE and any two chunks blow the
	// budget, but the diversity floor still admits the first three.
	if len(results) != cfg.MinResults {
		t.Fatalf("expected exactly %d floor results, got %d", cfg.MinResults, len(results))
	}
	for i, r := range results {
		if r.ChunkID != ranked[i].chunk.ID {
			t.Fatalf("result %d out of order", i)
		}
	}
}

func TestSelectUnderBudgetFiltersLowScoresPastFloor(t *testing.T) {
	doc := uuid.New()
	cfg := config.Default().Retrieval

	small := strings.Repeat("y", 40)
	ranked := []*candidate{
		{chunk: testChunk(doc, 0, 1, small), relevance: 0.9},
		{chunk: testChunk(doc, 1, 2, small), relevance: 0.8},
		{chunk: testChunk(doc, 2, 3, small), relevance: 0.75},
		{chunk: testChunk(doc, 3, 4, small), relevance: 0.5},
		{chunk: testChunk(doc, 4, 5, small), relevance: 0.72},
	}

	results := selectUnderBudget(ranked, cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if r.ChunkID == ranked[3].chunk.ID {
			t.Fatalf("sub-threshold candidate admitted past the floor")
		}
	}
}

func TestRerankFallbackKeepsFusionOrder(t *testing.T) {
	doc := uuid.New()
	ai := &fakeAI{
		completeFn: func(prompt string, _ float64) (string, error) {
			return "I cannot rank these passages, sorry.", nil
		},
	}
	store := &fakeChunkStore{
		scoreFn: func(_ int, ch *domain.DocumentChunk) float64 {
			return 1.0 / float64(ch.ChunkIndex+1)
		},
	}
	for i := 0; i < 20; i++ {
		store.chunks = append(store.chunks, testChunk(doc, i, i+1, fmt.Sprintf("passage %d", i)))
	}

	cfg := config.Default().Retrieval
	svc := NewRetrievalService(logger.NewNop(), ai, store, nil, cfg).(*retrievalService)

	fused := fuseRankings([][]ChunkMatch{mustSearch(t, store, doc, cfg.VectorTopK)}, cfg.RRFConstant)
	reranked := svc.rerank(context.Background(), testProbe(), fused)

	if len(reranked) != cfg.RerankKeep {
		t.Fatalf("fallback should truncate to %d, got %d", cfg.RerankKeep, len(reranked))
	}
	for i, c := range reranked {
		if c.chunk.ID != fused[i].chunk.ID {
			t.Fatalf("fallback changed order at %d", i)
		}
		if c.relevance != c.rrfScore {
			t.Fatalf("fallback relevance should equal rrf score, got %v vs %v", c.relevance, c.rrfScore)
		}
	}
}

func TestRerankDropsDuplicateAndOutOfRangeIndices(t *testing.T) {
	order := parseRerankOrder("Here you go: [2, 2, 9, 0, -1, 1]", 3)
	want := []int{2, 0, 1}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestRetrieveEndToEnd(t *testing.T) {
	doc := uuid.New()
	store := &fakeChunkStore{
		scoreFn: func(call int, ch *domain.DocumentChunk) float64 {
			// different facets prefer different regions of the corpus
			return 1.0 / float64((ch.ChunkIndex+call*7)%50+1)
		},
	}
	pages := map[int]bool{}
	for i := 0; i < 50; i++ {
		page := i/5 + 1
		pages[page] = true
		store.chunks = append(store.chunks, testChunk(doc, i, page, fmt.Sprintf("passage %d content for testing", i)))
	}

	ai := &fakeAI{
		completeFn: func(prompt string, _ float64) (string, error) {
			return "[0,1,2,3,4,5,6,7,8,9,10,11,12,13,14]", nil
		},
	}

	cfg := config.Default().Retrieval
	svc := NewRetrievalService(logger.NewNop(), ai, store, nil, cfg)

	results, err := svc.Retrieve(context.Background(), doc, testProbe())
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(results) < cfg.MinResults || len(results) > cfg.RerankKeep {
		t.Fatalf("expected between %d and %d results, got %d", cfg.MinResults, cfg.RerankKeep, len(results))
	}

	citationRe := regexp.MustCompile(`^\[Doc p\.(\d+)\]$`)
	for _, r := range results {
		m := citationRe.FindStringSubmatch(r.Citation)
		if m == nil {
			t.Fatalf("bad citation format: %q", r.Citation)
		}
		if !pages[r.PageNumber] {
			t.Fatalf("citation page %d not in source corpus", r.PageNumber)
		}
		if !strings.Contains(r.Citation, fmt.Sprintf("p.%d", r.PageNumber)) {
			t.Fatalf("citation %q does not match page %d", r.Citation, r.PageNumber)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].RelevanceScore > results[i-1].RelevanceScore {
			t.Fatalf("results not ordered by relevance at %d", i)
		}
	}
}

func TestRetrieveDegradesWhenOneFacetFails(t *testing.T) {
	doc := uuid.New()
	store := &fakeChunkStore{}
	for i := 0; i < 10; i++ {
		store.chunks = append(store.chunks, testChunk(doc, i, i+1, fmt.Sprintf("passage %d", i)))
	}

	embedCalls := 0
	ai := &fakeAI{
		embedFn: func(inputs []string) ([][]float32, error) {
			embedCalls++
			if embedCalls == 2 {
				return nil, fmt.Errorf("transient embed failure")
			}
			return [][]float32{{1, 0, 0}}, nil
		},
		completeFn: func(string, float64) (string, error) {
			return "[0,1,2,3,4]", nil
		},
	}

	svc := NewRetrievalService(logger.NewNop(), ai, store, nil, config.Default().Retrieval)
	results, err := svc.Retrieve(context.Background(), doc, testProbe())
	if err != nil {
		t.Fatalf("one failed facet should not fail retrieval: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected degraded results, got none")
	}
}

func TestRetrieveFailsWhenAllFacetsFail(t *testing.T) {
	doc := uuid.New()
	ai := &fakeAI{
		embedFn: func([]string) ([][]float32, error) {
			return nil, fmt.Errorf("gateway down")
		},
	}
	svc := NewRetrievalService(logger.NewNop(), ai, &fakeChunkStore{}, nil, config.Default().Retrieval)
	if _, err := svc.Retrieve(context.Background(), doc, testProbe()); err == nil {
		t.Fatalf("expected error when every facet search fails")
	}
}

func mustSearch(t *testing.T, store ChunkStore, doc uuid.UUID, topK int) []ChunkMatch {
	t.Helper()
	matches, err := store.VectorSearch(context.Background(), doc, []float32{1, 0, 0}, topK)
	if err != nil {
		t.Fatalf("vector search failed: %v", err)
	}
	return matches
}
