package domain

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{
		JobType:        JobTypeLessons,
		CompletedItems: 8,
		BatchSize:      4,
		Timestamp:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	encoded := EncodeCursor(in)
	if encoded == "" {
		t.Fatalf("empty encoded cursor")
	}
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		t.Fatalf("cursor is not valid base64: %v", err)
	}

	out, err := DecodeCursor(encoded)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if out.JobType != in.JobType || out.CompletedItems != in.CompletedItems || out.BatchSize != in.BatchSize {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Fatalf("timestamp mismatch: %v vs %v", out.Timestamp, in.Timestamp)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"not base64 at all!!!",
		base64.StdEncoding.EncodeToString([]byte("not json")),
		EncodeCursor(Cursor{JobType: JobTypeQuizzes, CompletedItems: -1, BatchSize: 4}),
		EncodeCursor(Cursor{JobType: JobTypeQuizzes, CompletedItems: 2, BatchSize: 0}),
	}
	for _, raw := range cases {
		if _, err := DecodeCursor(raw); err == nil {
			t.Fatalf("expected error for cursor %q", raw)
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for status, want := range map[JobStatus]bool{
		JobStatusPending:   false,
		JobStatusRunning:   false,
		JobStatusPaused:    false,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	} {
		if status.Terminal() != want {
			t.Fatalf("%s terminal = %v, want %v", status, status.Terminal(), want)
		}
	}
}

func TestParseJobType(t *testing.T) {
	got, err := ParseJobType("  Lessons ")
	if err != nil || got != JobTypeLessons {
		t.Fatalf("expected lessons, got %q err %v", got, err)
	}
	_, err = ParseJobType("essay")
	if err == nil {
		t.Fatalf("expected error for unknown job type")
	}
	if !strings.Contains(err.Error(), "essay") {
		t.Fatalf("error should name the bad type, got %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	job := &GenerationJob{Status: JobStatusRunning, StartedAt: &now, Payload: []byte(`[1]`)}
	cp := job.Clone()

	*cp.StartedAt = now.Add(time.Hour)
	cp.Payload[0] = 'x'
	if !job.StartedAt.Equal(now) {
		t.Fatalf("clone shares started_at pointer")
	}
	if job.Payload[0] != '[' {
		t.Fatalf("clone shares payload backing array")
	}
}
