package domain

import (
	"time"

	"github.com/google/uuid"
)

// GeneratedLesson is the grounded lesson body produced for one outline lesson.
type GeneratedLesson struct {
	ID              uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OutlineLessonID uuid.UUID `gorm:"type:uuid;not null;index" json:"outline_lesson_id"`
	Title           string    `gorm:"column:title;not null" json:"title"`
	Content         string    `gorm:"column:content;type:text;not null" json:"content"`
	Pitfalls        []string  `gorm:"serializer:json;column:pitfalls" json:"pitfalls"`
	Citations       []string  `gorm:"serializer:json;column:citations" json:"citations"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (GeneratedLesson) TableName() string { return "generated_lesson" }

// QuizItem is one multiple-choice question.
type QuizItem struct {
	Question      string   `json:"question"`
	Choices       []string `json:"choices"`
	CorrectAnswer int      `json:"correct_answer"`
	Rationale     string   `json:"rationale"`
	Citation      string   `json:"citation"`
}

type GeneratedQuiz struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LessonID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"lesson_id"`
	Items     []QuizItem `gorm:"serializer:json;column:items" json:"items"`
	CreatedAt time.Time  `gorm:"not null;default:now()" json:"created_at"`
}

func (GeneratedQuiz) TableName() string { return "generated_quiz" }

type FlashcardItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Citation string `json:"citation"`
}

type GeneratedFlashcard struct {
	ID        uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LessonID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"lesson_id"`
	Cards     []FlashcardItem `gorm:"serializer:json;column:cards" json:"cards"`
	CreatedAt time.Time       `gorm:"not null;default:now()" json:"created_at"`
}

func (GeneratedFlashcard) TableName() string { return "generated_flashcard" }

type GeneratedTakeaway struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LessonID  uuid.UUID `gorm:"type:uuid;not null;index" json:"lesson_id"`
	Takeaways []string  `gorm:"serializer:json;column:takeaways" json:"takeaways"`
	Citations []string  `gorm:"serializer:json;column:citations" json:"citations"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (GeneratedTakeaway) TableName() string { return "generated_takeaway" }
