package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/studyforge/studyforge-backend/internal/config"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
)

func testLesson() domain.OutlineLesson {
	return domain.OutlineLesson{
		ID:                 uuid.New(),
		Title:              "Photosynthesis",
		Description:        "How plants convert light into energy",
		Concepts:           []string{"chlorophyll", "light reactions"},
		LearningObjectives: []string{"explain the light reactions"},
	}
}

func newTestProbeService(ai *fakeAI) ProbeService {
	return NewProbeService(logger.NewNop(), ai, config.Default().Probe)
}

func TestGenerateProbeParsesJSON(t *testing.T) {
	ai := &fakeAI{
		completeFn: func(string, float64) (string, error) {
			return "```json\n" + `{"synopsis":"A detailed synopsis.","anchor_terms":["chlorophyll","thylakoid"],"question":"How do plants capture light?","answer":"Through chlorophyll."}` + "\n```", nil
		},
	}
	probe := newTestProbeService(ai).GenerateProbe(context.Background(), testLesson())
	if probe.Synopsis != "A detailed synopsis." {
		t.Fatalf("unexpected synopsis %q", probe.Synopsis)
	}
	if len(probe.AnchorTerms) != 2 || probe.AnchorTerms[0] != "chlorophyll" {
		t.Fatalf("unexpected anchor terms %v", probe.AnchorTerms)
	}
	if probe.Question == "" || probe.Answer == "" {
		t.Fatalf("probe missing question/answer: %+v", probe)
	}
}

func TestGenerateProbeExtractsFieldsFromProse(t *testing.T) {
	ai := &fakeAI{
		completeFn: func(string, float64) (string, error) {
			return `Here is what you asked for.
"synopsis": "Plants capture light energy in chloroplasts",
"anchor_terms": ["chloroplast", "photon", "ATP"],
"question": "Where does photosynthesis happen?"
"answer": "In the chloroplasts of plant cells."`, nil
		},
	}
	probe := newTestProbeService(ai).GenerateProbe(context.Background(), testLesson())
	if !strings.Contains(probe.Synopsis, "capture light energy") {
		t.Fatalf("synopsis not extracted, got %q", probe.Synopsis)
	}
	if len(probe.AnchorTerms) == 0 {
		t.Fatalf("anchor terms not extracted")
	}
	if probe.Question == "" || probe.Answer == "" {
		t.Fatalf("question/answer not extracted: %+v", probe)
	}
}

func TestGenerateProbePlaceholderOnGatewayError(t *testing.T) {
	ai := &fakeAI{
		completeFn: func(string, float64) (string, error) {
			return "", fmt.Errorf("gateway down")
		},
	}
	lesson := testLesson()
	probe := newTestProbeService(ai).GenerateProbe(context.Background(), lesson)
	if probe.Synopsis == "" {
		t.Fatalf("placeholder probe missing synopsis")
	}
	if len(probe.AnchorTerms) == 0 {
		t.Fatalf("placeholder probe missing anchor terms")
	}
	if !strings.Contains(probe.Question, lesson.Title) {
		t.Fatalf("placeholder question should reference the lesson, got %q", probe.Question)
	}
}

func TestGenerateProbePlaceholderWithoutLessonMetadata(t *testing.T) {
	ai := &fakeAI{
		completeFn: func(string, float64) (string, error) {
			return "no structure at all", nil
		},
	}
	probe := newTestProbeService(ai).GenerateProbe(context.Background(), domain.OutlineLesson{ID: uuid.New()})
	if probe.Synopsis != "Content not found" {
		t.Fatalf("expected placeholder synopsis, got %q", probe.Synopsis)
	}
	want := []string{"term1", "term2", "term3"}
	if len(probe.AnchorTerms) != 3 {
		t.Fatalf("expected %v, got %v", want, probe.AnchorTerms)
	}
	for i := range want {
		if probe.AnchorTerms[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, probe.AnchorTerms)
		}
	}
}

func TestExtractJSONObjectHandlesNestedBraces(t *testing.T) {
	raw := `prefix {"a": {"b": "c}"}, "d": 1} suffix`
	got := extractJSONObject(raw)
	if got != `{"a": {"b": "c}"}, "d": 1}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestProbePromptCarriesLengthTargets(t *testing.T) {
	ai := &fakeAI{
		completeFn: func(string, float64) (string, error) {
			return `{"synopsis":"s","anchor_terms":["a"],"question":"q","answer":"x"}`, nil
		},
	}
	svc := newTestProbeService(ai)
	svc.GenerateProbe(context.Background(), testLesson())

	calls := ai.completeCalls()
	if len(calls) != 1 {
		t.Fatalf("expected one completion call, got %d", len(calls))
	}
	cfg := config.Default().Probe
	for _, fragment := range []string{
		fmt.Sprintf("%d-%d word synopsis", cfg.SynopsisMinWords, cfg.SynopsisMaxWords),
		fmt.Sprintf("%d-%d key terms", cfg.AnchorTermsMin, cfg.AnchorTermsMax),
		fmt.Sprintf("%d-%d word answer", cfg.AnswerMinWords, cfg.AnswerMaxWords),
	} {
		if !strings.Contains(calls[0], fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, calls[0])
		}
	}
}
