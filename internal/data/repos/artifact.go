package repos

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
)

// ArtifactStore persists generated study artifacts and serves lessons back to
// the follow-on artifact generators.
type ArtifactStore interface {
	SaveLessons(ctx context.Context, tx *gorm.DB, lessons []domain.GeneratedLesson) error
	LessonsByOutlineIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]domain.GeneratedLesson, error)
	SaveQuizzes(ctx context.Context, tx *gorm.DB, quizzes []domain.GeneratedQuiz) error
	SaveFlashcards(ctx context.Context, tx *gorm.DB, decks []domain.GeneratedFlashcard) error
	SaveTakeaways(ctx context.Context, tx *gorm.DB, takeaways []domain.GeneratedTakeaway) error
}

type artifactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArtifactRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactStore {
	return &artifactRepo{db: db, log: baseLog.With("repo", "ArtifactRepo")}
}

func (r *artifactRepo) conn(tx *gorm.DB) *gorm.DB {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction
}

func (r *artifactRepo) SaveLessons(ctx context.Context, tx *gorm.DB, lessons []domain.GeneratedLesson) error {
	if len(lessons) == 0 {
		return nil
	}
	if err := r.conn(tx).WithContext(ctx).Create(&lessons).Error; err != nil {
		return fmt.Errorf("save lessons: %w", err)
	}
	return nil
}

func (r *artifactRepo) LessonsByOutlineIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]domain.GeneratedLesson, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var lessons []domain.GeneratedLesson
	err := r.conn(tx).WithContext(ctx).
		Where("outline_lesson_id IN ?", ids).
		Order("created_at ASC").
		Find(&lessons).Error
	if err != nil {
		return nil, fmt.Errorf("load lessons: %w", err)
	}
	return lessons, nil
}

func (r *artifactRepo) SaveQuizzes(ctx context.Context, tx *gorm.DB, quizzes []domain.GeneratedQuiz) error {
	if len(quizzes) == 0 {
		return nil
	}
	if err := r.conn(tx).WithContext(ctx).Create(&quizzes).Error; err != nil {
		return fmt.Errorf("save quizzes: %w", err)
	}
	return nil
}

func (r *artifactRepo) SaveFlashcards(ctx context.Context, tx *gorm.DB, decks []domain.GeneratedFlashcard) error {
	if len(decks) == 0 {
		return nil
	}
	if err := r.conn(tx).WithContext(ctx).Create(&decks).Error; err != nil {
		return fmt.Errorf("save flashcards: %w", err)
	}
	return nil
}

func (r *artifactRepo) SaveTakeaways(ctx context.Context, tx *gorm.DB, takeaways []domain.GeneratedTakeaway) error {
	if len(takeaways) == 0 {
		return nil
	}
	if err := r.conn(tx).WithContext(ctx).Create(&takeaways).Error; err != nil {
		return fmt.Errorf("save takeaways: %w", err)
	}
	return nil
}

// memoryArtifactStore backs tests and databaseless runs.
type memoryArtifactStore struct {
	mu        sync.RWMutex
	lessons   []domain.GeneratedLesson
	quizzes   []domain.GeneratedQuiz
	decks     []domain.GeneratedFlashcard
	takeaways []domain.GeneratedTakeaway
}

func NewMemoryArtifactStore() ArtifactStore {
	return &memoryArtifactStore{}
}

func (m *memoryArtifactStore) SaveLessons(_ context.Context, _ *gorm.DB, lessons []domain.GeneratedLesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessons = append(m.lessons, lessons...)
	return nil
}

func (m *memoryArtifactStore) LessonsByOutlineIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]domain.GeneratedLesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.GeneratedLesson
	for _, l := range m.lessons {
		if want[l.OutlineLessonID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memoryArtifactStore) SaveQuizzes(_ context.Context, _ *gorm.DB, quizzes []domain.GeneratedQuiz) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quizzes = append(m.quizzes, quizzes...)
	return nil
}

func (m *memoryArtifactStore) SaveFlashcards(_ context.Context, _ *gorm.DB, decks []domain.GeneratedFlashcard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decks = append(m.decks, decks...)
	return nil
}

func (m *memoryArtifactStore) SaveTakeaways(_ context.Context, _ *gorm.DB, takeaways []domain.GeneratedTakeaway) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.takeaways = append(m.takeaways, takeaways...)
	return nil
}
