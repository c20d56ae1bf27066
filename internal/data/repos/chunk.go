package repos

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
)

type ChunkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chunks []*domain.DocumentChunk) ([]*domain.DocumentChunk, error)
	GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*domain.DocumentChunk, error)
	UpdateEmbedding(ctx context.Context, tx *gorm.DB, chunkID uuid.UUID, embedding []float32) error
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: baseLog.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*domain.DocumentChunk) ([]*domain.DocumentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*domain.DocumentChunk{}, nil
	}

	// Keep batches small because Content is large.
	const batchSize = 100

	if err := transaction.WithContext(ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *chunkRepo) GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*domain.DocumentChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*domain.DocumentChunk
	if documentID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *chunkRepo) UpdateEmbedding(ctx context.Context, tx *gorm.DB, chunkID uuid.UUID, embedding []float32) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&domain.DocumentChunk{}).
		Where("id = ?", chunkID).
		Update("embedding", domain.EncodeEmbedding(embedding)).Error
}

// memoryChunkRepo backs tests and databaseless runs.
type memoryChunkRepo struct {
	mu     sync.RWMutex
	chunks map[uuid.UUID]*domain.DocumentChunk
}

func NewMemoryChunkRepo() ChunkRepo {
	return &memoryChunkRepo{chunks: map[uuid.UUID]*domain.DocumentChunk{}}
}

func (m *memoryChunkRepo) Create(_ context.Context, _ *gorm.DB, chunks []*domain.DocumentChunk) ([]*domain.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range chunks {
		if ch == nil {
			continue
		}
		if ch.ID == uuid.Nil {
			ch.ID = uuid.New()
		}
		cp := *ch
		m.chunks[ch.ID] = &cp
	}
	return chunks, nil
}

func (m *memoryChunkRepo) GetByDocumentID(_ context.Context, _ *gorm.DB, documentID uuid.UUID) ([]*domain.DocumentChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.DocumentChunk
	for _, ch := range m.chunks {
		if ch.DocumentID == documentID {
			cp := *ch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *memoryChunkRepo) UpdateEmbedding(_ context.Context, _ *gorm.DB, chunkID uuid.UUID, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.chunks[chunkID]
	if !ok {
		return fmt.Errorf("chunk %s not found", chunkID)
	}
	ch.Embedding = domain.EncodeEmbedding(embedding)
	return nil
}
