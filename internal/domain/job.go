package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type JobType string

const (
	JobTypeOutline    JobType = "outline"
	JobTypeLessons    JobType = "lessons"
	JobTypeQuizzes    JobType = "quizzes"
	JobTypeFlashcards JobType = "flashcards"
	JobTypeTakeaways  JobType = "takeaways"
)

func ParseJobType(raw string) (JobType, error) {
	switch JobType(strings.ToLower(strings.TrimSpace(raw))) {
	case JobTypeOutline:
		return JobTypeOutline, nil
	case JobTypeLessons:
		return JobTypeLessons, nil
	case JobTypeQuizzes:
		return JobTypeQuizzes, nil
	case JobTypeFlashcards:
		return JobTypeFlashcards, nil
	case JobTypeTakeaways:
		return JobTypeTakeaways, nil
	default:
		return "", fmt.Errorf("unknown job type %q", raw)
	}
}

// GenerationJob is the scheduler's unit of work. Mutated exclusively by the
// scheduler's transition methods.
type GenerationJob struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"document_id"`
	JobType        JobType        `gorm:"column:job_type;not null;index" json:"job_type"`
	Status         JobStatus      `gorm:"column:status;not null;index" json:"status"`
	Progress       int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Cursor         string         `gorm:"column:cursor" json:"cursor,omitempty"`
	BatchSize      int            `gorm:"column:batch_size;not null" json:"batch_size"`
	TotalItems     int            `gorm:"column:total_items;not null" json:"total_items"`
	CompletedItems int            `gorm:"column:completed_items;not null;default:0" json:"completed_items"`
	StartedAt      *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	ErrorMessage   string         `gorm:"column:error_message" json:"error_message,omitempty"`
	CostEstimate   float64        `gorm:"column:cost_estimate;not null;default:0" json:"cost_estimate"`
	TokenUsage     int            `gorm:"column:token_usage;not null;default:0" json:"token_usage"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (GenerationJob) TableName() string { return "generation_job" }

// Clone returns a copy safe to hand to callbacks and HTTP responses.
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if len(j.Payload) > 0 {
		cp.Payload = append(datatypes.JSON(nil), j.Payload...)
	}
	return &cp
}

// Cursor is the resumption marker persisted after every batch. The wire
// encoding (base64 JSON) is an implementation detail behind Encode/DecodeCursor.
type Cursor struct {
	JobType        JobType   `json:"job_type"`
	CompletedItems int       `json:"completed_items"`
	BatchSize      int       `json:"batch_size"`
	Timestamp      time.Time `json:"timestamp"`
}

func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeCursor(raw string) (Cursor, error) {
	var c Cursor
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return c, fmt.Errorf("empty cursor")
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return c, fmt.Errorf("decode cursor: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse cursor: %w", err)
	}
	if c.CompletedItems < 0 || c.BatchSize <= 0 {
		return c, fmt.Errorf("invalid cursor: completed=%d batch=%d", c.CompletedItems, c.BatchSize)
	}
	return c, nil
}
