package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/digkill/printstudio/internal/models"
)

// MemoryProjectRepository keeps encoded snapshots in a map. Values are
// stored encoded so callers never share memory with the repository.
type MemoryProjectRepository struct {
	mu       sync.RWMutex
	projects map[string][]byte
}

func NewMemoryProjectRepository() *MemoryProjectRepository {
	return &MemoryProjectRepository{projects: make(map[string][]byte)}
}

func (r *MemoryProjectRepository) Save(_ context.Context, p models.Project) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project snapshot: %w", err)
	}
	r.mu.Lock()
	r.projects[p.ID] = raw
	r.mu.Unlock()
	return nil
}

func (r *MemoryProjectRepository) Get(_ context.Context, id string) (models.Project, error) {
	r.mu.RLock()
	raw, ok := r.projects[id]
	r.mu.RUnlock()
	if !ok {
		return models.Project{}, ErrNotFound
	}
	return decodeProject(string(raw))
}

func (r *MemoryProjectRepository) List(_ context.Context) ([]models.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Project, 0, len(r.projects))
	for _, raw := range r.projects {
		p, err := decodeProject(string(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryProjectRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return ErrNotFound
	}
	delete(r.projects, id)
	return nil
}

// Len reports how many projects are stored.
func (r *MemoryProjectRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

type MemoryGenerationLog struct {
	mu      sync.Mutex
	entries []models.GenerationLog
}

func NewMemoryGenerationLog() *MemoryGenerationLog {
	return &MemoryGenerationLog{}
}

func (m *MemoryGenerationLog) Log(_ context.Context, entry models.GenerationLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if len(m.entries) > maxLogEntries {
		m.entries = slices.Delete(m.entries, 0, len(m.entries)-maxLogEntries)
	}
	return nil
}

func (m *MemoryGenerationLog) Recent(_ context.Context, projectID string, limit int) ([]models.GenerationLog, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GenerationLog
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].ProjectID == projectID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// All returns every entry in insertion order.
func (m *MemoryGenerationLog) All() []models.GenerationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

var (
	_ ProjectStore       = (*MemoryProjectRepository)(nil)
	_ GenerationLogStore = (*MemoryGenerationLog)(nil)
)
