package db

import (
	"gorm.io/gorm"

	"github.com/studyforge/studyforge-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.DocumentChunk{},
		&domain.GenerationJob{},
		&domain.GeneratedLesson{},
		&domain.GeneratedQuiz{},
		&domain.GeneratedFlashcard{},
		&domain.GeneratedTakeaway{},
	)
}
