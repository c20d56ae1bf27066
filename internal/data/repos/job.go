package repos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
)

// ErrJobNotFound is returned by Get when no job row matches the id. Callers
// test for it with errors.Is.
var ErrJobNotFound = errors.New("job not found")

// JobStore is the job registry injected into the scheduler. The scheduler is
// the sole writer; nothing else mutates job rows.
type JobStore interface {
	Create(ctx context.Context, job *domain.GenerationJob) error
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error)
	List(ctx context.Context) ([]*domain.GenerationJob, error)
	Update(ctx context.Context, job *domain.GenerationJob) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobStore {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) Create(ctx context.Context, job *domain.GenerationJob) error {
	if job == nil || job.ID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *jobRepo) Get(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing job id")
	}
	var row domain.GenerationJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func (r *jobRepo) List(ctx context.Context) ([]*domain.GenerationJob, error) {
	var rows []*domain.GenerationJob
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *jobRepo) Update(ctx context.Context, job *domain.GenerationJob) error {
	if job == nil || job.ID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	return r.db.WithContext(ctx).Save(job).Error
}

// memoryJobStore backs tests and the no-database mode.
type memoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*domain.GenerationJob
}

func NewMemoryJobStore() JobStore {
	return &memoryJobStore{jobs: map[uuid.UUID]*domain.GenerationJob{}}
}

func (s *memoryJobStore) Create(ctx context.Context, job *domain.GenerationJob) error {
	if job == nil || job.ID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *memoryJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job.Clone(), nil
}

func (s *memoryJobStore) List(ctx context.Context) ([]*domain.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.GenerationJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryJobStore) Update(ctx context.Context, job *domain.GenerationJob) error {
	if job == nil || job.ID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, ErrJobNotFound)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}
