package repository

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/digkill/printstudio/internal/models"
)

// CachedProjectRepository fronts a ProjectStore with an LRU of recently read
// or written snapshots. Writes go through to the backing store first; the
// cache is only updated once the backing write succeeded.
type CachedProjectRepository struct {
	next  ProjectStore
	cache *lru.Cache[string, models.Project]
}

func NewCachedProjectRepository(next ProjectStore, size int) (*CachedProjectRepository, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, models.Project](size)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &CachedProjectRepository{next: next, cache: cache}, nil
}

func (c *CachedProjectRepository) Save(ctx context.Context, p models.Project) error {
	if err := c.next.Save(ctx, p); err != nil {
		c.cache.Remove(p.ID)
		return err
	}
	c.cache.Add(p.ID, p)
	return nil
}

func (c *CachedProjectRepository) Get(ctx context.Context, id string) (models.Project, error) {
	if p, ok := c.cache.Get(id); ok {
		return p, nil
	}
	p, err := c.next.Get(ctx, id)
	if err != nil {
		return models.Project{}, err
	}
	c.cache.Add(id, p)
	return p, nil
}

func (c *CachedProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	return c.next.List(ctx)
}

func (c *CachedProjectRepository) Delete(ctx context.Context, id string) error {
	c.cache.Remove(id)
	return c.next.Delete(ctx, id)
}

// Cached reports whether id is currently held in the cache.
func (c *CachedProjectRepository) Cached(id string) bool {
	return c.cache.Contains(id)
}

var _ ProjectStore = (*CachedProjectRepository)(nil)
