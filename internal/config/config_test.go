package config

import (
	"testing"
	"time"
)

func TestDefaultsMatchDocumentedConstants(t *testing.T) {
	cfg := Default()
	if cfg.Retrieval.VectorTopK != 25 {
		t.Fatalf("vector_top_k default = %d", cfg.Retrieval.VectorTopK)
	}
	if cfg.Retrieval.MaxContextTokens != 1200 {
		t.Fatalf("max_context_tokens default = %d", cfg.Retrieval.MaxContextTokens)
	}
	if cfg.Retrieval.MinRelevanceScore != 0.7 {
		t.Fatalf("min_relevance_score default = %v", cfg.Retrieval.MinRelevanceScore)
	}
	if cfg.Retrieval.RRFConstant != 60 {
		t.Fatalf("rrf_constant default = %d", cfg.Retrieval.RRFConstant)
	}
	if cfg.Scheduler.MaxJobDuration != 15*time.Minute {
		t.Fatalf("max_job_duration default = %v", cfg.Scheduler.MaxJobDuration)
	}
	if cfg.Scheduler.WarningThreshold != 13*time.Minute {
		t.Fatalf("warning_threshold default = %v", cfg.Scheduler.WarningThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"zero top k":              func(c *Config) { c.Retrieval.VectorTopK = 0 },
		"negative budget":         func(c *Config) { c.Retrieval.MaxContextTokens = -1 },
		"score above one":         func(c *Config) { c.Retrieval.MinRelevanceScore = 1.5 },
		"zero rrf constant":       func(c *Config) { c.Retrieval.RRFConstant = 0 },
		"threshold above ceiling": func(c *Config) { c.Scheduler.WarningThreshold = 20 * time.Minute },
		"zero batch size":         func(c *Config) { c.Scheduler.DefaultBatchSize = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VECTOR_TOP_K", "40")
	t.Setenv("MAX_JOB_DURATION", "20m")
	t.Setenv("WARNING_THRESHOLD", "18m")
	t.Setenv("STUDYFORGE_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Retrieval.VectorTopK != 40 {
		t.Fatalf("env override ignored, top k = %d", cfg.Retrieval.VectorTopK)
	}
	if cfg.Scheduler.MaxJobDuration != 20*time.Minute {
		t.Fatalf("env override ignored, max duration = %v", cfg.Scheduler.MaxJobDuration)
	}
}
