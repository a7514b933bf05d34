package service

import (
	"context"
	"fmt"
	"sync"

	"economy_index/internal/models"

	"gorm.io/gorm"
)

// RunStore 任务执行记录存储
type RunStore interface {
	Create(ctx context.Context, run *models.JobRun) error
	Update(ctx context.Context, run *models.JobRun) error
	List(ctx context.Context, limit int) ([]models.JobRun, error)
}

var (
	_ RunStore = (*GormRunStore)(nil)
	_ RunStore = (*MemoryRunStore)(nil)
)

// GormRunStore 基于 gorm 的 job_runs 表
type GormRunStore struct {
	db *gorm.DB
}

// NewGormRunStore 创建数据库记录存储
func NewGormRunStore(db *gorm.DB) *GormRunStore {
	return &GormRunStore{db: db}
}

// Create 新增记录
func (s *GormRunStore) Create(ctx context.Context, run *models.JobRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("创建任务记录失败: %w", err)
	}
	return nil
}

// Update 保存记录
func (s *GormRunStore) Update(ctx context.Context, run *models.JobRun) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("更新任务记录失败: %w", err)
	}
	return nil
}

// List 最近的记录，新的在前
func (s *GormRunStore) List(ctx context.Context, limit int) ([]models.JobRun, error) {
	var runs []models.JobRun
	if err := s.db.WithContext(ctx).Order("start_time desc").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("查询任务记录失败: %w", err)
	}
	return runs, nil
}

// MemoryRunStore 未配置记录库时使用，只保留最近 capacity 条
type MemoryRunStore struct {
	mu       sync.Mutex
	runs     []models.JobRun
	capacity int
	nextID   uint
}

// NewMemoryRunStore 创建内存记录存储
func NewMemoryRunStore(capacity int) *MemoryRunStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryRunStore{capacity: capacity}
}

// Create 新增记录并分配 ID
func (s *MemoryRunStore) Create(_ context.Context, run *models.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	run.ID = s.nextID
	s.runs = append(s.runs, *run)
	if len(s.runs) > s.capacity {
		s.runs = s.runs[len(s.runs)-s.capacity:]
	}
	return nil
}

// Update 按 ID 覆盖；已被淘汰的记录忽略
func (s *MemoryRunStore) Update(_ context.Context, run *models.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = *run
			return nil
		}
	}
	return nil
}

// List 最近的记录，新的在前
func (s *MemoryRunStore) List(_ context.Context, limit int) ([]models.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	result := make([]models.JobRun, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.runs[i])
	}
	return result, nil
}
