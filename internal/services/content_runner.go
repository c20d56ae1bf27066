package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/studyforge/studyforge-backend/internal/data/repos"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
)

// BatchRunner processes one batch of a job's items, returning the estimated
// token spend. Errors are job-fatal; per-item degradation happens below this
// boundary inside ContentService.
type BatchRunner interface {
	Run(ctx context.Context, job *domain.GenerationJob, start, end int) (int, error)
}

// blended input+output rate used for the running cost estimate
const usdPerThousandTokens = 0.002

// contentRunner adapts ContentService to the scheduler's batch loop. The
// job payload carries the outline lessons; batch [start,end) indexes into it.
type contentRunner struct {
	log       *logger.Logger
	content   ContentService
	artifacts repos.ArtifactStore
}

func NewContentRunner(baseLog *logger.Logger, content ContentService, artifacts repos.ArtifactStore) BatchRunner {
	return &contentRunner{
		log:       baseLog.With("service", "ContentRunner"),
		content:   content,
		artifacts: artifacts,
	}
}

// DecodeOutlinePayload validates and decodes a job payload.
func DecodeOutlinePayload(raw []byte) ([]domain.OutlineLesson, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty job payload")
	}
	var outline []domain.OutlineLesson
	if err := json.Unmarshal(raw, &outline); err != nil {
		return nil, fmt.Errorf("decode outline payload: %w", err)
	}
	if len(outline) == 0 {
		return nil, fmt.Errorf("job payload has no outline lessons")
	}
	return outline, nil
}

func (r *contentRunner) Run(ctx context.Context, job *domain.GenerationJob, start, end int) (int, error) {
	outline, err := DecodeOutlinePayload(job.Payload)
	if err != nil {
		return 0, err
	}
	if start < 0 || end > len(outline) || start >= end {
		return 0, fmt.Errorf("batch range [%d,%d) out of bounds for %d items", start, end, len(outline))
	}
	slice := outline[start:end]

	switch job.JobType {
	case domain.JobTypeLessons:
		return r.runLessons(ctx, job, slice)
	case domain.JobTypeQuizzes:
		return r.runQuizzes(ctx, job, slice)
	case domain.JobTypeFlashcards:
		return r.runFlashcards(ctx, job, slice)
	case domain.JobTypeTakeaways:
		return r.runTakeaways(ctx, job, slice)
	default:
		return 0, fmt.Errorf("unsupported job type %q", job.JobType)
	}
}

func (r *contentRunner) runLessons(ctx context.Context, job *domain.GenerationJob, slice []domain.OutlineLesson) (int, error) {
	generated, err := r.content.GenerateLessons(ctx, job.DocumentID, slice, len(slice), nil)
	if err != nil {
		return 0, err
	}
	if err := r.artifacts.SaveLessons(ctx, nil, generated); err != nil {
		return 0, err
	}
	tokens := 0
	for _, l := range generated {
		tokens += EstimateTokens(l.Content)
	}
	return tokens, nil
}

func (r *contentRunner) runQuizzes(ctx context.Context, job *domain.GenerationJob, slice []domain.OutlineLesson) (int, error) {
	lessons, err := r.loadLessons(ctx, slice)
	if err != nil {
		return 0, err
	}
	quizzes, err := r.content.GenerateQuizzes(ctx, job.DocumentID, lessons, slice, 0, nil)
	if err != nil {
		return 0, err
	}
	if err := r.artifacts.SaveQuizzes(ctx, nil, quizzes); err != nil {
		return 0, err
	}
	tokens := 0
	for _, q := range quizzes {
		for _, it := range q.Items {
			tokens += EstimateTokens(it.Question + it.Rationale)
		}
	}
	return tokens, nil
}

func (r *contentRunner) runFlashcards(ctx context.Context, job *domain.GenerationJob, slice []domain.OutlineLesson) (int, error) {
	lessons, err := r.loadLessons(ctx, slice)
	if err != nil {
		return 0, err
	}
	decks, err := r.content.GenerateFlashcards(ctx, job.DocumentID, lessons, slice, nil)
	if err != nil {
		return 0, err
	}
	if err := r.artifacts.SaveFlashcards(ctx, nil, decks); err != nil {
		return 0, err
	}
	tokens := 0
	for _, d := range decks {
		for _, c := range d.Cards {
			tokens += EstimateTokens(c.Question + c.Answer)
		}
	}
	return tokens, nil
}

func (r *contentRunner) runTakeaways(ctx context.Context, job *domain.GenerationJob, slice []domain.OutlineLesson) (int, error) {
	lessons, err := r.loadLessons(ctx, slice)
	if err != nil {
		return 0, err
	}
	takeaways, err := r.content.GenerateTakeaways(ctx, job.DocumentID, lessons, slice, nil)
	if err != nil {
		return 0, err
	}
	if err := r.artifacts.SaveTakeaways(ctx, nil, takeaways); err != nil {
		return 0, err
	}
	tokens := 0
	for _, t := range takeaways {
		for _, b := range t.Takeaways {
			tokens += EstimateTokens(b)
		}
	}
	return tokens, nil
}

// loadLessons fetches the stored lessons for a batch's outline entries. A
// missing lesson degrades to a stub built from the outline so the follow-on
// artifact still gets generated.
func (r *contentRunner) loadLessons(ctx context.Context, slice []domain.OutlineLesson) ([]domain.GeneratedLesson, error) {
	ids := make([]uuid.UUID, len(slice))
	for i, ol := range slice {
		ids[i] = ol.ID
	}
	stored, err := r.artifacts.LessonsByOutlineIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]domain.GeneratedLesson, len(stored))
	for _, l := range stored {
		if _, ok := byID[l.OutlineLessonID]; !ok {
			byID[l.OutlineLessonID] = l
		}
	}
	lessons := make([]domain.GeneratedLesson, len(slice))
	for i, ol := range slice {
		if l, ok := byID[ol.ID]; ok {
			lessons[i] = l
			continue
		}
		r.log.Debug("No stored lesson for outline entry, using stub", "outline_lesson_id", ol.ID)
		lessons[i] = domain.GeneratedLesson{
			OutlineLessonID: ol.ID,
			Title:           ol.Title,
			Content:         ol.Description,
		}
	}
	return lessons, nil
}

// EstimateCost converts an estimated token count into dollars.
func EstimateCost(tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000.0 * usdPerThousandTokens
}
