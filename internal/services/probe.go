package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/studyforge/studyforge-backend/internal/config"
	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
	"github.com/studyforge/studyforge-backend/internal/platform/openai"
)

// ProbeService turns an outline lesson into the HyDE probe driving retrieval.
type ProbeService interface {
	GenerateProbe(ctx context.Context, lesson domain.OutlineLesson) domain.HyDEProbe
}

type probeService struct {
	log *logger.Logger
	ai  openai.Client
	cfg config.ProbeConfig
}

func NewProbeService(baseLog *logger.Logger, ai openai.Client, cfg config.ProbeConfig) ProbeService {
	return &probeService{
		log: baseLog.With("service", "ProbeService"),
		ai:  ai,
		cfg: cfg,
	}
}

// GenerateProbe makes one completion call and never fails: malformed model
// output degrades through regex extraction down to generic placeholders.
func (p *probeService) GenerateProbe(ctx context.Context, lesson domain.OutlineLesson) domain.HyDEProbe {
	prompt := p.buildPrompt(lesson)

	raw, err := p.ai.Complete(ctx, prompt, 0.3, 1500)
	if err != nil {
		p.log.Warn("Probe completion failed, using placeholders",
			"lesson_id", lesson.ID, "error", err)
		return placeholderProbe(lesson)
	}

	if probe, ok := parseProbeJSON(raw); ok {
		return probe
	}
	if probe, ok := extractProbeFields(raw); ok {
		p.log.Debug("Probe parsed via field extraction", "lesson_id", lesson.ID)
		return probe
	}

	p.log.Warn("Probe output unparseable, using placeholders", "lesson_id", lesson.ID)
	return placeholderProbe(lesson)
}

func (p *probeService) buildPrompt(lesson domain.OutlineLesson) string {
	var b strings.Builder
	b.WriteString("You are writing a hypothetical ideal study document to drive semantic retrieval.\n\n")
	fmt.Fprintf(&b, "Lesson title: %s\n", lesson.Title)
	fmt.Fprintf(&b, "Description: %s\n", lesson.Description)
	fmt.Fprintf(&b, "Concepts: %s\n", strings.Join(lesson.Concepts, ", "))
	fmt.Fprintf(&b, "Learning objectives: %s\n\n", strings.Join(lesson.LearningObjectives, ", "))
	b.WriteString("Return a JSON object with exactly these fields:\n")
	fmt.Fprintf(&b, "- \"synopsis\": a %d-%d word synopsis of the ideal source passage for this lesson\n",
		p.cfg.SynopsisMinWords, p.cfg.SynopsisMaxWords)
	fmt.Fprintf(&b, "- \"anchor_terms\": an array of %d-%d key terms a source passage would contain\n",
		p.cfg.AnchorTermsMin, p.cfg.AnchorTermsMax)
	b.WriteString("- \"question\": the single most central question this lesson answers\n")
	fmt.Fprintf(&b, "- \"answer\": a %d-%d word answer to that question\n\n",
		p.cfg.AnswerMinWords, p.cfg.AnswerMaxWords)
	b.WriteString("Respond with JSON only, no prose around it.")
	return b.String()
}

func parseProbeJSON(raw string) (domain.HyDEProbe, bool) {
	var probe domain.HyDEProbe
	body := extractJSONObject(raw)
	if body == "" {
		return probe, false
	}
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return probe, false
	}
	if strings.TrimSpace(probe.Synopsis) == "" || len(probe.AnchorTerms) == 0 ||
		strings.TrimSpace(probe.Question) == "" || strings.TrimSpace(probe.Answer) == "" {
		return probe, false
	}
	return probe, true
}

var (
	synopsisRe = regexp.MustCompile(`(?is)synopsis["':\s]+(.+?)(?:anchor[_ ]terms|question|$)`)
	termsRe    = regexp.MustCompile(`(?is)anchor[_ ]terms["':\s]+\[(.+?)\]`)
	questionRe = regexp.MustCompile(`(?is)question["':\s]+(.+?)(?:answer|$)`)
	answerRe   = regexp.MustCompile(`(?is)answer["':\s]+(.+?)$`)
	termItemRe = regexp.MustCompile(`"([^"]+)"`)
)

// extractProbeFields is the regex fallback for completions that wrapped the
// JSON in prose or broke its syntax.
func extractProbeFields(raw string) (domain.HyDEProbe, bool) {
	probe := domain.HyDEProbe{}
	if m := synopsisRe.FindStringSubmatch(raw); len(m) > 1 {
		probe.Synopsis = cleanExtracted(m[1])
	}
	if m := termsRe.FindStringSubmatch(raw); len(m) > 1 {
		for _, item := range termItemRe.FindAllStringSubmatch(m[1], -1) {
			term := strings.TrimSpace(item[1])
			if term != "" {
				probe.AnchorTerms = append(probe.AnchorTerms, term)
			}
		}
	}
	if m := questionRe.FindStringSubmatch(raw); len(m) > 1 {
		probe.Question = cleanExtracted(m[1])
	}
	if m := answerRe.FindStringSubmatch(raw); len(m) > 1 {
		probe.Answer = cleanExtracted(m[1])
	}

	if probe.Synopsis == "" || len(probe.AnchorTerms) == 0 || probe.Question == "" || probe.Answer == "" {
		return probe, false
	}
	return probe, true
}

func cleanExtracted(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"',:{}`)
	return strings.TrimSpace(s)
}

func placeholderProbe(lesson domain.OutlineLesson) domain.HyDEProbe {
	synopsis := strings.TrimSpace(lesson.Title + ". " + lesson.Description)
	if synopsis == "." || synopsis == "" {
		synopsis = "Content not found"
	}
	terms := append([]string{}, lesson.Concepts...)
	if len(terms) == 0 {
		terms = []string{"term1", "term2", "term3"}
	}
	return domain.HyDEProbe{
		Synopsis:    synopsis,
		AnchorTerms: terms,
		Question:    "What are the key ideas of " + lesson.Title + "?",
		Answer:      "Content not found",
	}
}

// extractJSONObject returns the first balanced {...} block in raw, tolerating
// markdown fences and surrounding prose.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1]
				}
			}
		}
	}
	return ""
}
