package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taskmill/taskmill/pkg/core"
)

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB exposes the underlying handle for embedding processes that want to
// run their own queries against the same database.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Task{}, &core.Worker{}, &core.RateLimit{})
}

// SaveTask upserts a task record.
func (s *GormStorage) SaveTask(ctx context.Context, task *core.Task) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(task).Error
}

// SaveTasks upserts a batch of task records in one transaction.
func (s *GormStorage) SaveTasks(ctx context.Context, tasks []*core.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, task := range tasks {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(task).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteTasks removes task records by id.
func (s *GormStorage) DeleteTasks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&core.Task{}).Error
}

// LoadTasks returns every persisted task, oldest first.
func (s *GormStorage) LoadTasks(ctx context.Context) ([]*core.Task, error) {
	var tasks []*core.Task
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&tasks).Error
	return tasks, err
}

// SaveWorker upserts a worker record.
func (s *GormStorage) SaveWorker(ctx context.Context, worker *core.Worker) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(worker).Error
}

// DeleteWorker removes a worker record.
func (s *GormStorage) DeleteWorker(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&core.Worker{}).Error
}

// LoadWorkers returns every persisted worker in registration order.
func (s *GormStorage) LoadWorkers(ctx context.Context) ([]*core.Worker, error) {
	var workers []*core.Worker
	err := s.db.WithContext(ctx).Order("registered_at ASC").Find(&workers).Error
	return workers, err
}

// SaveRateLimit upserts a rate-limit record.
func (s *GormStorage) SaveRateLimit(ctx context.Context, limit *core.RateLimit) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(limit).Error
}

// DeleteRateLimit removes a rate-limit record.
func (s *GormStorage) DeleteRateLimit(ctx context.Context, pat string) error {
	return s.db.WithContext(ctx).Where("pattern = ?", pat).Delete(&core.RateLimit{}).Error
}

// LoadRateLimits returns every persisted rate limit.
func (s *GormStorage) LoadRateLimits(ctx context.Context) ([]*core.RateLimit, error) {
	var limits []*core.RateLimit
	err := s.db.WithContext(ctx).Order("pattern ASC").Find(&limits).Error
	return limits, err
}

// Close releases the underlying database handle.
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
