package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/studyforge/studyforge-backend/internal/platform/envutil"
)

// RetrievalConfig controls the HyDE retrieval pipeline.
type RetrievalConfig struct {
	VectorTopK        int     `yaml:"vector_top_k"`
	MaxContextTokens  int     `yaml:"max_context_tokens"`
	MinRelevanceScore float64 `yaml:"min_relevance_score"`
	RRFConstant       int     `yaml:"rrf_constant"`
	RerankCandidates  int     `yaml:"rerank_candidates"`
	RerankKeep        int     `yaml:"rerank_keep"`
	MinResults        int     `yaml:"min_results"`
}

// ProbeConfig carries the length targets baked into the probe prompt.
type ProbeConfig struct {
	SynopsisMinWords int `yaml:"synopsis_min_words"`
	SynopsisMaxWords int `yaml:"synopsis_max_words"`
	AnchorTermsMin   int `yaml:"anchor_terms_min"`
	AnchorTermsMax   int `yaml:"anchor_terms_max"`
	AnswerMinWords   int `yaml:"answer_min_words"`
	AnswerMaxWords   int `yaml:"answer_max_words"`
}

// GenerationConfig controls content generation batching and pacing.
type GenerationConfig struct {
	LessonBatchSize    int           `yaml:"lesson_batch_size"`
	MaxBatchSize       int           `yaml:"max_batch_size"`
	QuizQuestionCount  int           `yaml:"quiz_question_count"`
	FlashcardCount     int           `yaml:"flashcard_count"`
	TakeawayCount      int           `yaml:"takeaway_count"`
	LessonTemperature  float64       `yaml:"lesson_temperature"`
	LessonMaxTokens    int           `yaml:"lesson_max_tokens"`
	ArtifactMaxTokens  int           `yaml:"artifact_max_tokens"`
	InterBatchDelay    time.Duration `yaml:"-"`
	InterItemDelay     time.Duration `yaml:"-"`
}

// SchedulerConfig bounds job execution.
type SchedulerConfig struct {
	MaxJobDuration    time.Duration `yaml:"-"`
	WarningThreshold  time.Duration `yaml:"-"`
	InterBatchDelay   time.Duration `yaml:"-"`
	DefaultBatchSize  int           `yaml:"default_batch_size"`
}

type Config struct {
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Probe      ProbeConfig      `yaml:"probe"`
	Generation GenerationConfig `yaml:"generation"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Retrieval: RetrievalConfig{
			VectorTopK:        25,
			MaxContextTokens:  1200,
			MinRelevanceScore: 0.7,
			RRFConstant:       60,
			RerankCandidates:  15,
			RerankKeep:        10,
			MinResults:        3,
		},
		Probe: ProbeConfig{
			SynopsisMinWords: 200,
			SynopsisMaxWords: 300,
			AnchorTermsMin:   12,
			AnchorTermsMax:   20,
			AnswerMinWords:   120,
			AnswerMaxWords:   180,
		},
		Generation: GenerationConfig{
			LessonBatchSize:   3,
			MaxBatchSize:      10,
			QuizQuestionCount: 5,
			FlashcardCount:    8,
			TakeawayCount:     5,
			LessonTemperature: 0.4,
			LessonMaxTokens:   4000,
			ArtifactMaxTokens: 2000,
			InterBatchDelay:   500 * time.Millisecond,
			InterItemDelay:    300 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			MaxJobDuration:   15 * time.Minute,
			WarningThreshold: 13 * time.Minute,
			InterBatchDelay:  200 * time.Millisecond,
			DefaultBatchSize: 4,
		},
	}
}

// Load builds the config from defaults, an optional YAML file
// (STUDYFORGE_CONFIG), and env overrides, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("STUDYFORGE_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Retrieval.VectorTopK = envutil.Int("VECTOR_TOP_K", cfg.Retrieval.VectorTopK)
	cfg.Retrieval.MaxContextTokens = envutil.Int("MAX_CONTEXT_TOKENS", cfg.Retrieval.MaxContextTokens)
	cfg.Retrieval.MinRelevanceScore = envutil.Float("MIN_RELEVANCE_SCORE", cfg.Retrieval.MinRelevanceScore)
	cfg.Retrieval.RRFConstant = envutil.Int("RRF_CONSTANT", cfg.Retrieval.RRFConstant)
	cfg.Retrieval.RerankCandidates = envutil.Int("RERANK_CANDIDATES", cfg.Retrieval.RerankCandidates)

	cfg.Generation.LessonBatchSize = envutil.Int("LESSON_BATCH_SIZE", cfg.Generation.LessonBatchSize)
	cfg.Generation.MaxBatchSize = envutil.Int("MAX_BATCH_SIZE", cfg.Generation.MaxBatchSize)
	cfg.Generation.InterBatchDelay = envutil.Duration("GEN_INTER_BATCH_DELAY", cfg.Generation.InterBatchDelay)
	cfg.Generation.InterItemDelay = envutil.Duration("GEN_INTER_ITEM_DELAY", cfg.Generation.InterItemDelay)

	cfg.Scheduler.MaxJobDuration = envutil.Duration("MAX_JOB_DURATION", cfg.Scheduler.MaxJobDuration)
	cfg.Scheduler.WarningThreshold = envutil.Duration("WARNING_THRESHOLD", cfg.Scheduler.WarningThreshold)
	cfg.Scheduler.InterBatchDelay = envutil.Duration("JOB_INTER_BATCH_DELAY", cfg.Scheduler.InterBatchDelay)
	cfg.Scheduler.DefaultBatchSize = envutil.Int("JOB_DEFAULT_BATCH_SIZE", cfg.Scheduler.DefaultBatchSize)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Retrieval.VectorTopK <= 0 {
		return fmt.Errorf("vector_top_k must be positive")
	}
	if c.Retrieval.MaxContextTokens <= 0 {
		return fmt.Errorf("max_context_tokens must be positive")
	}
	if c.Retrieval.MinRelevanceScore < 0 || c.Retrieval.MinRelevanceScore > 1 {
		return fmt.Errorf("min_relevance_score must be in [0,1]")
	}
	if c.Retrieval.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive")
	}
	if c.Scheduler.WarningThreshold >= c.Scheduler.MaxJobDuration {
		return fmt.Errorf("warning_threshold must be below max_job_duration")
	}
	if c.Scheduler.DefaultBatchSize <= 0 {
		return fmt.Errorf("default_batch_size must be positive")
	}
	return nil
}
