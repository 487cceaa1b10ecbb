package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/taskmill/taskmill/pkg/core"
)

// File names inside the data directory. Each record set is an independently
// durable flat list, reloaded in full at startup and rewritten in full on
// every mutation.
const (
	tasksFile      = "tasks.json"
	workersFile    = "workers.json"
	rateLimitsFile = "ratelimits.json"
)

// FileStorage implements core.Storage on a directory of JSON files. Writes
// go to a temp file in the same directory and are renamed into place, so a
// crash mid-write never corrupts the previous snapshot.
type FileStorage struct {
	mu  sync.Mutex
	dir string

	tasks   map[string]*core.Task
	workers map[string]*core.Worker
	limits  map[string]*core.RateLimit
}

// NewFileStorage creates a storage rooted at dir. Call Migrate before use.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{
		dir:     dir,
		tasks:   make(map[string]*core.Task),
		workers: make(map[string]*core.Worker),
		limits:  make(map[string]*core.RateLimit),
	}
}

// Migrate creates the data directory and loads any existing snapshots.
func (s *FileStorage) Migrate(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("storage: create data dir: %w", err)
	}

	var tasks []*core.Task
	if err := s.readSnapshot(tasksFile, &tasks); err != nil {
		return err
	}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}

	var workers []*core.Worker
	if err := s.readSnapshot(workersFile, &workers); err != nil {
		return err
	}
	for _, w := range workers {
		s.workers[w.ID] = w
	}

	var limits []*core.RateLimit
	if err := s.readSnapshot(rateLimitsFile, &limits); err != nil {
		return err
	}
	for _, l := range limits {
		s.limits[l.Pattern] = l
	}
	return nil
}

func (s *FileStorage) SaveTask(ctx context.Context, task *core.Task) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return s.writeTasks()
}

func (s *FileStorage) SaveTasks(ctx context.Context, tasks []*core.Task) error {
	_ = ctx
	if len(tasks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.tasks[t.ID] = t.Clone()
	}
	return s.writeTasks()
}

func (s *FileStorage) DeleteTasks(ctx context.Context, ids []string) error {
	_ = ctx
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.tasks, id)
	}
	return s.writeTasks()
}

func (s *FileStorage) LoadTasks(ctx context.Context) ([]*core.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*core.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sortTasks(out)
	return out, nil
}

func (s *FileStorage) SaveWorker(ctx context.Context, worker *core.Worker) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[worker.ID] = worker.Clone()
	return s.writeWorkers()
}

func (s *FileStorage) DeleteWorker(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[id]; !ok {
		return nil
	}
	delete(s.workers, id)
	return s.writeWorkers()
}

func (s *FileStorage) LoadWorkers(ctx context.Context) ([]*core.Worker, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*core.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *FileStorage) SaveRateLimit(ctx context.Context, limit *core.RateLimit) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[limit.Pattern] = limit.Clone()
	return s.writeRateLimits()
}

func (s *FileStorage) DeleteRateLimit(ctx context.Context, pat string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.limits[pat]; !ok {
		return nil
	}
	delete(s.limits, pat)
	return s.writeRateLimits()
}

func (s *FileStorage) LoadRateLimits(ctx context.Context) ([]*core.RateLimit, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*core.RateLimit, 0, len(s.limits))
	for _, l := range s.limits {
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out, nil
}

func (s *FileStorage) Close() error {
	return nil
}

func (s *FileStorage) writeTasks() error {
	out := make([]*core.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sortTasks(out)
	return s.writeSnapshot(tasksFile, out)
}

func (s *FileStorage) writeWorkers() error {
	out := make([]*core.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return s.writeSnapshot(workersFile, out)
}

func (s *FileStorage) writeRateLimits() error {
	out := make([]*core.RateLimit, 0, len(s.limits))
	for _, l := range s.limits {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return s.writeSnapshot(rateLimitsFile, out)
}

func (s *FileStorage) readSnapshot(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("storage: read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("storage: decode %s: %w", name, err)
	}
	return nil
}

func (s *FileStorage) writeSnapshot(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("storage: replace %s: %w", name, err)
	}
	return nil
}

func sortTasks(tasks []*core.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
