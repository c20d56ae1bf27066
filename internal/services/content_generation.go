package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/studyforge/studyforge-backend/internal/config"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/observability"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
	"github.com/studyforge/studyforge-backend/internal/platform/openai"
)

// ProgressFunc reports completed items against the total after each batch or
// item. Callbacks run on the generating goroutine; keep them cheap.
type ProgressFunc func(completed, total int)

// ContentService produces the four study artifact types from outline lessons
// and retrieved context. Every entry point returns a value for each input
// even when the model output is malformed; only context cancellation and
// infrastructure failures surface as errors.
type ContentService interface {
	GenerateLessons(ctx context.Context, documentID uuid.UUID, outline []domain.OutlineLesson, batchSize int, onProgress ProgressFunc) ([]domain.GeneratedLesson, error)
	GenerateQuizzes(ctx context.Context, documentID uuid.UUID, lessons []domain.GeneratedLesson, outline []domain.OutlineLesson, batchSize int, onProgress ProgressFunc) ([]domain.GeneratedQuiz, error)
	GenerateFlashcards(ctx context.Context, documentID uuid.UUID, lessons []domain.GeneratedLesson, outline []domain.OutlineLesson, onProgress ProgressFunc) ([]domain.GeneratedFlashcard, error)
	GenerateTakeaways(ctx context.Context, documentID uuid.UUID, lessons []domain.GeneratedLesson, outline []domain.OutlineLesson, onProgress ProgressFunc) ([]domain.GeneratedTakeaway, error)
}

type contentService struct {
	log       *logger.Logger
	ai        openai.Client
	probes    ProbeService
	retriever RetrievalService
	metrics   *observability.Metrics
	cfg       config.GenerationConfig
}

func NewContentService(baseLog *logger.Logger, ai openai.Client, probes ProbeService, retriever RetrievalService, metrics *observability.Metrics, cfg config.GenerationConfig) ContentService {
	return &contentService{
		log:       baseLog.With("service", "ContentService"),
		ai:        ai,
		probes:    probes,
		retriever: retriever,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// GenerateLessons partitions the outline into consecutive batches of
// batchSize and generates each batch's lessons concurrently, writing results
// into index slots so the returned slice preserves outline order. Batches run
// sequentially with an inter-batch pacing delay.
func (s *contentService) GenerateLessons(ctx context.Context, documentID uuid.UUID, outline []domain.OutlineLesson, batchSize int, onProgress ProgressFunc) ([]domain.GeneratedLesson, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.LessonBatchSize
	}
	if batchSize > s.cfg.MaxBatchSize {
		batchSize = s.cfg.MaxBatchSize
	}

	results := make([]domain.GeneratedLesson, len(outline))
	for start := 0; start < len(outline); start += batchSize {
		if err := ctx.Err(); err != nil {
			return results[:start], err
		}
		end := start + batchSize
		if end > len(outline) {
			end = len(outline)
		}

		batchStart := time.Now()
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = s.generateOneLesson(gctx, documentID, outline[i])
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return results[:start], err
		}
		s.metrics.ObserveJobBatch(string(domain.JobTypeLessons), time.Since(batchStart), end-start)

		if onProgress != nil {
			onProgress(end, len(outline))
		}
		if end < len(outline) {
			if err := sleepCtx(ctx, s.cfg.InterBatchDelay); err != nil {
				return results[:end], err
			}
		}
	}
	return results, nil
}

// generateOneLesson never fails: probe and retrieval degradation and parse
// failures all land in a degraded lesson carrying whatever text came back.
func (s *contentService) generateOneLesson(ctx context.Context, documentID uuid.UUID, lesson domain.OutlineLesson) domain.GeneratedLesson {
	probe := s.probes.GenerateProbe(ctx, lesson)
	passages, err := s.retriever.Retrieve(ctx, documentID, probe)
	if err != nil {
		s.log.Warn("Retrieval failed for lesson, generating without context",
			"lesson_id", lesson.ID, "error", err)
	}

	prompt := buildLessonPrompt(lesson, passages)
	raw, err := s.ai.Complete(ctx, prompt, s.cfg.LessonTemperature, s.cfg.LessonMaxTokens)
	if err != nil {
		s.log.Warn("Lesson completion failed, using degraded lesson",
			"lesson_id", lesson.ID, "error", err)
		return degradedLesson(lesson, "", passages)
	}

	var parsed struct {
		Content   string   `json:"content"`
		Pitfalls  []string `json:"pitfalls"`
		Citations []string `json:"citations"`
	}
	body := extractJSONObject(raw)
	if body == "" || json.Unmarshal([]byte(body), &parsed) != nil || strings.TrimSpace(parsed.Content) == "" {
		s.log.Warn("Lesson output unparseable, using degraded lesson", "lesson_id", lesson.ID)
		return degradedLesson(lesson, raw, passages)
	}

	if len(parsed.Citations) == 0 {
		parsed.Citations = citationsFrom(passages)
	}
	return domain.GeneratedLesson{
		OutlineLessonID: lesson.ID,
		Title:           lesson.Title,
		Content:         parsed.Content,
		Pitfalls:        parsed.Pitfalls,
		Citations:       parsed.Citations,
	}
}

func buildLessonPrompt(lesson domain.OutlineLesson, passages []domain.RetrievalResult) string {
	var b strings.Builder
	b.WriteString("Write a study lesson grounded strictly in the source passages below.\n\n")
	fmt.Fprintf(&b, "Lesson: %s\n", lesson.Title)
	fmt.Fprintf(&b, "Description: %s\n", lesson.Description)
	fmt.Fprintf(&b, "Concepts to cover: %s\n", strings.Join(lesson.Concepts, ", "))
	fmt.Fprintf(&b, "Learning objectives: %s\n\n", strings.Join(lesson.LearningObjectives, ", "))
	writePassages(&b, passages)
	b.WriteString("Return a JSON object with:\n")
	b.WriteString("- \"content\": the lesson body, 800-1200 words, citing sources inline with their [Doc p.N] markers\n")
	b.WriteString("- \"pitfalls\": an array of common mistakes or misconceptions\n")
	b.WriteString("- \"citations\": the array of [Doc p.N] markers actually used\n")
	b.WriteString("JSON only.")
	return b.String()
}

func writePassages(b *strings.Builder, passages []domain.RetrievalResult) {
	if len(passages) == 0 {
		b.WriteString("Source passages: none available; write from the lesson metadata alone and say so.\n\n")
		return
	}
	b.WriteString("Source passages:\n")
	for _, p := range passages {
		fmt.Fprintf(b, "%s %s\n\n", p.Citation, p.Content)
	}
}

func degradedLesson(lesson domain.OutlineLesson, raw string, passages []domain.RetrievalResult) domain.GeneratedLesson {
	content := strings.TrimSpace(raw)
	if len(content) > 4000 {
		content = content[:4000]
	}
	if content == "" {
		content = "Lesson content could not be generated for \"" + lesson.Title + "\". Please regenerate."
	}
	return domain.GeneratedLesson{
		OutlineLessonID: lesson.ID,
		Title:           lesson.Title,
		Content:         content,
		Pitfalls:        []string{"Generated content may be incomplete; review against the source material."},
		Citations:       citationsFrom(passages),
	}
}

func citationsFrom(passages []domain.RetrievalResult) []string {
	if len(passages) == 0 {
		return []string{"[Doc p.1]"}
	}
	seen := make(map[string]bool, len(passages))
	citations := make([]string, 0, len(passages))
	for _, p := range passages {
		if seen[p.Citation] {
			continue
		}
		seen[p.Citation] = true
		citations = append(citations, p.Citation)
	}
	return citations
}

// GenerateQuizzes runs strictly sequentially, one completion per lesson, with
// an inter-item pacing delay. batchSize here is the question count per quiz.
func (s *contentService) GenerateQuizzes(ctx context.Context, documentID uuid.UUID, lessons []domain.GeneratedLesson, outline []domain.OutlineLesson, batchSize int, onProgress ProgressFunc) ([]domain.GeneratedQuiz, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.QuizQuestionCount
	}
	quizzes := make([]domain.GeneratedQuiz, 0, len(lessons))
	for i, lesson := range lessons {
		if err := ctx.Err(); err != nil {
			return quizzes, err
		}
		ol := outlineFor(outline, lesson.OutlineLessonID, i)
		passages, _ := s.retrieveFresh(ctx, documentID, ol)

		prompt := buildQuizPrompt(lesson, passages, batchSize)
		items := s.quizItems(ctx, lesson, prompt, passages, batchSize)
		quizzes = append(quizzes, domain.GeneratedQuiz{
			LessonID: lesson.OutlineLessonID,
			Items:    items,
		})

		if onProgress != nil {
			onProgress(i+1, len(lessons))
		}
		if i+1 < len(lessons) {
			if err := sleepCtx(ctx, s.cfg.InterItemDelay); err != nil {
				return quizzes, err
			}
		}
	}
	return quizzes, nil
}

func (s *contentService) quizItems(ctx context.Context, lesson domain.GeneratedLesson, prompt string, passages []domain.RetrievalResult, count int) []domain.QuizItem {
	raw, err := s.ai.Complete(ctx, prompt, 0.5, s.cfg.ArtifactMaxTokens)
	if err == nil {
		if items := parseQuizItems(raw, count); len(items) > 0 {
			return items
		}
	} else {
		s.log.Warn("Quiz completion failed, using fallback item",
			"lesson_id", lesson.OutlineLessonID, "error", err)
	}
	citation := firstCitation(lesson.Citations, passages)
	return []domain.QuizItem{{
		Question:      "Which statement best summarizes \"" + lesson.Title + "\"?",
		Choices:       []string{"Review the lesson content", "Not covered", "Not covered", "Not covered"},
		CorrectAnswer: 0,
		Rationale:     "Placeholder question; the generated quiz could not be parsed.",
		Citation:      citation,
	}}
}

func buildQuizPrompt(lesson domain.GeneratedLesson, passages []domain.RetrievalResult, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d multiple-choice questions testing understanding of the lesson below.\n\n", count)
	fmt.Fprintf(&b, "Lesson: %s\n\n%s\n\n", lesson.Title, clipText(lesson.Content, 3000))
	writePassages(&b, passages)
	b.WriteString("Return a JSON array where each element has \"question\", \"choices\" (exactly 4 strings), \"correct_answer\" (index 0-3), \"rationale\", and \"citation\" (a [Doc p.N] marker). JSON only.")
	return b.String()
}

func parseQuizItems(raw string, max int) []domain.QuizItem {
	body := extractJSONArray(raw)
	if body == "" {
		return nil
	}
	var items []domain.QuizItem
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil
	}
	valid := make([]domain.QuizItem, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Question) == "" || len(it.Choices) != 4 {
			continue
		}
		if it.CorrectAnswer < 0 || it.CorrectAnswer > 3 {
			it.CorrectAnswer = 0
		}
		valid = append(valid, it)
		if len(valid) == max {
			break
		}
	}
	return valid
}

// GenerateFlashcards is sequential per lesson like quizzes.
func (s *contentService) GenerateFlashcards(ctx context.Context, documentID uuid.UUID, lessons []domain.GeneratedLesson, outline []domain.OutlineLesson, onProgress ProgressFunc) ([]domain.GeneratedFlashcard, error) {
	decks := make([]domain.GeneratedFlashcard, 0, len(lessons))
	for i, lesson := range lessons {
		if err := ctx.Err(); err != nil {
			return decks, err
		}
		ol := outlineFor(outline, lesson.OutlineLessonID, i)
		passages, _ := s.retrieveFresh(ctx, documentID, ol)

		var b strings.Builder
		fmt.Fprintf(&b, "Write %d flashcards for the lesson below.\n\n", s.cfg.FlashcardCount)
		fmt.Fprintf(&b, "Lesson: %s\n\n%s\n\n", lesson.Title, clipText(lesson.Content, 3000))
		writePassages(&b, passages)
		b.WriteString("Return a JSON array where each element has \"question\", \"answer\", and \"citation\" (a [Doc p.N] marker). JSON only.")

		cards := s.flashcardItems(ctx, lesson, b.String(), passages)
		decks = append(decks, domain.GeneratedFlashcard{
			LessonID: lesson.OutlineLessonID,
			Cards:    cards,
		})

		if onProgress != nil {
			onProgress(i+1, len(lessons))
		}
		if i+1 < len(lessons) {
			if err := sleepCtx(ctx, s.cfg.InterItemDelay); err != nil {
				return decks, err
			}
		}
	}
	return decks, nil
}

func (s *contentService) flashcardItems(ctx context.Context, lesson domain.GeneratedLesson, prompt string, passages []domain.RetrievalResult) []domain.FlashcardItem {
	raw, err := s.ai.Complete(ctx, prompt, 0.5, s.cfg.ArtifactMaxTokens)
	if err == nil {
		if body := extractJSONArray(raw); body != "" {
			var cards []domain.FlashcardItem
			if json.Unmarshal([]byte(body), &cards) == nil {
				valid := cards[:0]
				for _, c := range cards {
					if strings.TrimSpace(c.Question) != "" && strings.TrimSpace(c.Answer) != "" {
						valid = append(valid, c)
					}
				}
				if len(valid) > 0 {
					return valid
				}
			}
		}
	} else {
		s.log.Warn("Flashcard completion failed, using fallback card",
			"lesson_id", lesson.OutlineLessonID, "error", err)
	}
	return []domain.FlashcardItem{{
		Question: "What is the main topic of \"" + lesson.Title + "\"?",
		Answer:   clipText(lesson.Content, 200),
		Citation: firstCitation(lesson.Citations, passages),
	}}
}

// GenerateTakeaways produces exactly TakeawayCount short bullets per lesson,
// sequential with pacing like the other per-lesson artifacts.
func (s *contentService) GenerateTakeaways(ctx context.Context, documentID uuid.UUID, lessons []domain.GeneratedLesson, outline []domain.OutlineLesson, onProgress ProgressFunc) ([]domain.GeneratedTakeaway, error) {
	out := make([]domain.GeneratedTakeaway, 0, len(lessons))
	for i, lesson := range lessons {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ol := outlineFor(outline, lesson.OutlineLessonID, i)
		passages, _ := s.retrieveFresh(ctx, documentID, ol)

		var b strings.Builder
		fmt.Fprintf(&b, "Distill the lesson below into exactly %d key takeaways of at most 20 words each.\n\n", s.cfg.TakeawayCount)
		fmt.Fprintf(&b, "Lesson: %s\n\n%s\n\n", lesson.Title, clipText(lesson.Content, 3000))
		writePassages(&b, passages)
		b.WriteString("Return a JSON object with \"takeaways\" (array of strings) and \"citations\" (array of [Doc p.N] markers, same length). JSON only.")

		out = append(out, s.takeawayFor(ctx, lesson, b.String(), passages))

		if onProgress != nil {
			onProgress(i+1, len(lessons))
		}
		if i+1 < len(lessons) {
			if err := sleepCtx(ctx, s.cfg.InterItemDelay); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (s *contentService) takeawayFor(ctx context.Context, lesson domain.GeneratedLesson, prompt string, passages []domain.RetrievalResult) domain.GeneratedTakeaway {
	raw, err := s.ai.Complete(ctx, prompt, 0.3, s.cfg.ArtifactMaxTokens)
	if err == nil {
		var parsed struct {
			Takeaways []string `json:"takeaways"`
			Citations []string `json:"citations"`
		}
		if body := extractJSONObject(raw); body != "" && json.Unmarshal([]byte(body), &parsed) == nil && len(parsed.Takeaways) > 0 {
			if len(parsed.Citations) != len(parsed.Takeaways) {
				parsed.Citations = repeatCitation(firstCitation(lesson.Citations, passages), len(parsed.Takeaways))
			}
			return domain.GeneratedTakeaway{
				LessonID:  lesson.OutlineLessonID,
				Takeaways: parsed.Takeaways,
				Citations: parsed.Citations,
			}
		}
	} else {
		s.log.Warn("Takeaway completion failed, using fallback",
			"lesson_id", lesson.OutlineLessonID, "error", err)
	}
	citation := firstCitation(lesson.Citations, passages)
	return domain.GeneratedTakeaway{
		LessonID:  lesson.OutlineLessonID,
		Takeaways: []string{"Review \"" + lesson.Title + "\" in the source material."},
		Citations: []string{citation},
	}
}

// retrieveFresh re-runs probe and retrieval for the per-lesson artifact
// generators so each artifact is grounded in current context, not the lesson
// generation's context.
func (s *contentService) retrieveFresh(ctx context.Context, documentID uuid.UUID, lesson domain.OutlineLesson) ([]domain.RetrievalResult, error) {
	probe := s.probes.GenerateProbe(ctx, lesson)
	passages, err := s.retriever.Retrieve(ctx, documentID, probe)
	if err != nil {
		s.log.Debug("Context retrieval failed for artifact",
			"lesson_id", lesson.ID, "error", err)
	}
	return passages, err
}

// outlineFor finds the outline lesson backing a generated lesson, falling
// back to the positional entry and finally a stub built from the id.
func outlineFor(outline []domain.OutlineLesson, id uuid.UUID, pos int) domain.OutlineLesson {
	for _, ol := range outline {
		if ol.ID == id {
			return ol
		}
	}
	if pos >= 0 && pos < len(outline) {
		return outline[pos]
	}
	return domain.OutlineLesson{ID: id, Title: "Lesson"}
}

func firstCitation(citations []string, passages []domain.RetrievalResult) string {
	if len(citations) > 0 {
		return citations[0]
	}
	if len(passages) > 0 {
		return passages[0].Citation
	}
	return "[Doc p.1]"
}

func repeatCitation(citation string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = citation
	}
	return out
}

func clipText(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max]
	}
	return s
}

func extractJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
