package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studyforge/studyforge-backend/internal/config"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/observability"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
	"github.com/studyforge/studyforge-backend/internal/platform/openai"
)

// RetrievalService resolves a HyDE probe into the context passages fed to
// content generation.
type RetrievalService interface {
	Retrieve(ctx context.Context, documentID uuid.UUID, probe domain.HyDEProbe) ([]domain.RetrievalResult, error)
}

type retrievalService struct {
	log     *logger.Logger
	ai      openai.Client
	store   ChunkStore
	metrics *observability.Metrics
	cfg     config.RetrievalConfig
}

func NewRetrievalService(baseLog *logger.Logger, ai openai.Client, store ChunkStore, metrics *observability.Metrics, cfg config.RetrievalConfig) RetrievalService {
	return &retrievalService{
		log:     baseLog.With("service", "RetrievalService"),
		ai:      ai,
		store:   store,
		metrics: metrics,
		cfg:     cfg,
	}
}

// candidate is a chunk accumulating scores across the pipeline stages.
type candidate struct {
	chunk    *domain.DocumentChunk
	rrfScore float64
	// relevance is the rerank score when reranking succeeded, else rrfScore.
	relevance float64
}

// Retrieve runs the three-facet search, fuses with reciprocal rank fusion,
// re-ranks the top candidates with the model, and selects under the context
// token budget. Facet failures degrade the fusion rather than fail the call;
// an error is returned only when every facet search failed or the corpus has
// no embedded chunks.
func (r *retrievalService) Retrieve(ctx context.Context, documentID uuid.UUID, probe domain.HyDEProbe) ([]domain.RetrievalResult, error) {
	started := time.Now()

	facets := buildFacets(probe)
	if len(facets) == 0 {
		r.metrics.ObserveRetrieval("empty_probe", time.Since(started))
		return nil, fmt.Errorf("probe has no searchable facets")
	}

	rankings := make([][]ChunkMatch, 0, len(facets))
	failures := 0
	for _, facet := range facets {
		matches, err := r.searchFacet(ctx, documentID, facet)
		if err != nil {
			failures++
			r.log.Warn("Facet search failed", "document_id", documentID, "error", err)
			continue
		}
		rankings = append(rankings, matches)
	}
	if len(rankings) == 0 {
		r.metrics.ObserveRetrieval("all_facets_failed", time.Since(started))
		return nil, fmt.Errorf("all %d facet searches failed", failures)
	}

	fused := fuseRankings(rankings, r.cfg.RRFConstant)
	if len(fused) == 0 {
		r.metrics.ObserveRetrieval("no_candidates", time.Since(started))
		return nil, fmt.Errorf("no embedded chunks matched for document %s", documentID)
	}

	reranked := r.rerank(ctx, probe, fused)
	selected := selectUnderBudget(reranked, r.cfg)

	outcome := "ok"
	if failures > 0 {
		outcome = "degraded"
	}
	r.metrics.ObserveRetrieval(outcome, time.Since(started))
	r.log.Info("Retrieval complete",
		"document_id", documentID,
		"facets", len(rankings),
		"candidates", len(fused),
		"selected", len(selected))
	return selected, nil
}

// buildFacets returns the non-empty query texts: synopsis, joined anchor
// terms, and the question-answer pair.
func buildFacets(probe domain.HyDEProbe) []string {
	facets := make([]string, 0, 3)
	if s := strings.TrimSpace(probe.Synopsis); s != "" {
		facets = append(facets, s)
	}
	if len(probe.AnchorTerms) > 0 {
		facets = append(facets, strings.Join(probe.AnchorTerms, ", "))
	}
	qa := strings.TrimSpace(strings.TrimSpace(probe.Question) + "\n" + strings.TrimSpace(probe.Answer))
	if qa != "" {
		facets = append(facets, qa)
	}
	return facets
}

func (r *retrievalService) searchFacet(ctx context.Context, documentID uuid.UUID, query string) ([]ChunkMatch, error) {
	vecs, err := r.ai.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed facet: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("empty facet embedding")
	}
	return r.store.VectorSearch(ctx, documentID, vecs[0], r.cfg.VectorTopK)
}

// fuseRankings merges per-facet rankings with reciprocal rank fusion: each
// chunk scores sum(1/(k+rank)) over the facets that returned it, rank starting
// at 1 within each facet. Ties break on chunk id for determinism.
func fuseRankings(rankings [][]ChunkMatch, k int) []*candidate {
	byID := make(map[uuid.UUID]*candidate)
	for _, ranking := range rankings {
		for i, m := range ranking {
			if m.Chunk == nil {
				continue
			}
			c, ok := byID[m.Chunk.ID]
			if !ok {
				c = &candidate{chunk: m.Chunk}
				byID[m.Chunk.ID] = c
			}
			c.rrfScore += 1.0 / float64(k+i+1)
		}
	}
	fused := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		c.relevance = c.rrfScore
		fused = append(fused, c)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].rrfScore != fused[j].rrfScore {
			return fused[i].rrfScore > fused[j].rrfScore
		}
		return fused[i].chunk.ID.String() < fused[j].chunk.ID.String()
	})
	return fused
}

// rerank asks the model to order the top candidates by relevance to the probe
// question and converts rank position into a synthetic relevance score. Any
// failure, and any response with fewer than MinResults usable indices, falls
// back to the RRF order with rrfScore as relevance.
func (r *retrievalService) rerank(ctx context.Context, probe domain.HyDEProbe, fused []*candidate) []*candidate {
	pool := fused
	if len(pool) > r.cfg.RerankCandidates {
		pool = pool[:r.cfg.RerankCandidates]
	}
	if len(pool) <= 1 {
		return pool
	}

	fallback := pool
	if len(fallback) > r.cfg.RerankKeep {
		fallback = fallback[:r.cfg.RerankKeep]
	}

	prompt := buildRerankPrompt(probe, pool)
	raw, err := r.ai.Complete(ctx, prompt, 0.0, 500)
	if err != nil {
		r.log.Warn("Rerank completion failed, keeping fusion order", "error", err)
		return fallback
	}

	order := parseRerankOrder(raw, len(pool))
	if len(order) < r.cfg.MinResults {
		r.log.Warn("Rerank output unusable, keeping fusion order",
			"valid_indices", len(order))
		return fallback
	}

	reranked := make([]*candidate, 0, len(order))
	for rank, idx := range order {
		c := pool[idx]
		c.relevance = 1.0 - float64(rank)/10.0
		if c.relevance < 0 {
			c.relevance = 0
		}
		reranked = append(reranked, c)
		if len(reranked) == r.cfg.RerankKeep {
			break
		}
	}
	return reranked
}

func buildRerankPrompt(probe domain.HyDEProbe, pool []*candidate) string {
	var b strings.Builder
	b.WriteString("Order the passages below from most to least relevant to the question.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", probe.Question)
	for i, c := range pool {
		excerpt := c.chunk.Content
		if len(excerpt) > 300 {
			excerpt = excerpt[:300]
		}
		fmt.Fprintf(&b, "[%d] (page %d) %s\n\n", i, c.chunk.PageNumber, excerpt)
	}
	fmt.Fprintf(&b, "Respond with a JSON array of the passage indices in relevance order, e.g. [2,0,1]. Indices run 0 to %d. JSON only.", len(pool)-1)
	return b.String()
}

// parseRerankOrder extracts an index permutation from the model output,
// dropping duplicates and out-of-range values.
func parseRerankOrder(raw string, poolSize int) []int {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}
	var indices []int
	if err := json.Unmarshal([]byte(raw[start:end+1]), &indices); err != nil {
		return nil
	}
	seen := make(map[int]bool, len(indices))
	order := make([]int, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= poolSize || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	return order
}

// selectUnderBudget walks candidates in relevance order admitting passages
// until the context token budget is spent. The first MinResults passages are
// always admitted regardless of score or budget so generation never runs on
// an empty context, and page spread is preferred when scores tie.
func selectUnderBudget(ranked []*candidate, cfg config.RetrievalConfig) []domain.RetrievalResult {
	results := make([]domain.RetrievalResult, 0, len(ranked))
	usedTokens := 0
	pagesSeen := make(map[int]bool)

	for _, c := range ranked {
		cost := EstimateTokens(c.chunk.Content)
		floor := len(results) < cfg.MinResults
		if !floor {
			if c.relevance < cfg.MinRelevanceScore {
				continue
			}
			if usedTokens+cost > cfg.MaxContextTokens {
				continue
			}
			// prefer unseen pages once past the floor; a repeat page is
			// admitted only while it still fits comfortably
			if pagesSeen[c.chunk.PageNumber] && usedTokens+cost > cfg.MaxContextTokens*3/4 {
				continue
			}
		}

		results = append(results, domain.RetrievalResult{
			ChunkID:        c.chunk.ID,
			Content:        c.chunk.Content,
			PageNumber:     c.chunk.PageNumber,
			RelevanceScore: c.relevance,
			Citation:       fmt.Sprintf("[Doc p.%d]", c.chunk.PageNumber),
		})
		usedTokens += cost
		pagesSeen[c.chunk.PageNumber] = true
	}
	return results
}
