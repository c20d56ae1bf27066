package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/studyforge/studyforge-backend/internal/data/repos"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
)

func jobWithOutline(t *testing.T, jobType domain.JobType, outline []domain.OutlineLesson) *domain.GenerationJob {
	t.Helper()
	payload, err := json.Marshal(outline)
	if err != nil {
		t.Fatalf("marshal outline: %v", err)
	}
	return &domain.GenerationJob{
		ID:         uuid.New(),
		DocumentID: uuid.New(),
		JobType:    jobType,
		BatchSize:  2,
		TotalItems: len(outline),
		Payload:    payload,
	}
}

func TestDecodeOutlinePayload(t *testing.T) {
	outline := testOutline(3)
	raw, _ := json.Marshal(outline)
	decoded, err := DecodeOutlinePayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 3 || decoded[0].ID != outline[0].ID {
		t.Fatalf("payload round trip mismatch")
	}

	for _, bad := range [][]byte{nil, []byte("null"), []byte("[]"), []byte("{")} {
		if _, err := DecodeOutlinePayload(bad); err == nil {
			t.Fatalf("expected error for payload %q", bad)
		}
	}
}

func TestContentRunnerPersistsLessons(t *testing.T) {
	outline := testOutline(4)
	job := jobWithOutline(t, domain.JobTypeLessons, outline)
	artifacts := repos.NewMemoryArtifactStore()

	ai := &fakeAI{
		completeFn: func(string, float64) (string, error) {
			return `{"content":"lesson body","pitfalls":[],"citations":["[Doc p.1]"]}`, nil
		},
	}
	content := newTestContentService(ai, testGenerationConfig())
	runner := NewContentRunner(logger.NewNop(), content, artifacts)

	tokens, err := runner.Run(context.Background(), job, 0, 2)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if tokens == 0 {
		t.Fatalf("expected token accounting")
	}

	ids := []uuid.UUID{outline[0].ID, outline[1].ID}
	stored, err := artifacts.LessonsByOutlineIDs(context.Background(), nil, ids)
	if err != nil {
		t.Fatalf("load lessons: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 persisted lessons, got %d", len(stored))
	}
}

func TestContentRunnerQuizzesUseStoredLessons(t *testing.T) {
	outline := testOutline(2)
	job := jobWithOutline(t, domain.JobTypeQuizzes, outline)
	artifacts := repos.NewMemoryArtifactStore()

	seed := []domain.GeneratedLesson{
		{OutlineLessonID: outline[0].ID, Title: outline[0].Title, Content: "stored body", Citations: []string{"[Doc p.2]"}},
	}
	if err := artifacts.SaveLessons(context.Background(), nil, seed); err != nil {
		t.Fatalf("seed lessons: %v", err)
	}

	var sawStoredBody bool
	ai := &fakeAI{
		completeFn: func(prompt string, _ float64) (string, error) {
			if strings.Contains(prompt, "stored body") {
				sawStoredBody = true
			}
			return `[{"question":"Q","choices":["a","b","c","d"],"correct_answer":0,"rationale":"r","citation":"[Doc p.2]"}]`, nil
		},
	}
	content := newTestContentService(ai, testGenerationConfig())
	runner := NewContentRunner(logger.NewNop(), content, artifacts)

	if _, err := runner.Run(context.Background(), job, 0, 2); err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if !sawStoredBody {
		t.Fatalf("quiz prompt should include the stored lesson body")
	}
}

func TestContentRunnerRejectsBadRange(t *testing.T) {
	job := jobWithOutline(t, domain.JobTypeLessons, testOutline(2))
	runner := NewContentRunner(logger.NewNop(), newTestContentService(&fakeAI{}, testGenerationConfig()), repos.NewMemoryArtifactStore())

	for _, r := range [][2]int{{-1, 1}, {0, 3}, {2, 2}, {1, 0}} {
		if _, err := runner.Run(context.Background(), job, r[0], r[1]); err == nil {
			t.Fatalf("expected error for range %v", r)
		}
	}
}

func TestEstimateCost(t *testing.T) {
	if EstimateCost(0) != 0 || EstimateCost(-5) != 0 {
		t.Fatalf("non-positive tokens should cost nothing")
	}
	if EstimateCost(1000) <= 0 {
		t.Fatalf("expected positive cost for 1000 tokens")
	}
}

