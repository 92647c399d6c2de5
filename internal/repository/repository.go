// Package repository stores whole project snapshots and the generation log.
// Every backend overwrites a project by id; there are no partial updates.
package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/digkill/printstudio/internal/models"
)

var ErrNotFound = errors.New("project not found")

// ProjectStore is implemented by every snapshot backend.
type ProjectStore interface {
	Save(ctx context.Context, p models.Project) error
	Get(ctx context.Context, id string) (models.Project, error)
	// List returns every saved project, newest first.
	List(ctx context.Context) ([]models.Project, error)
	Delete(ctx context.Context, id string) error
}

type GenerationLogStore interface {
	Log(ctx context.Context, entry models.GenerationLog) error
	Recent(ctx context.Context, projectID string, limit int) ([]models.GenerationLog, error)
}

func sortNewestFirst(projects []models.Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].Timestamp != projects[j].Timestamp {
			return projects[i].Timestamp > projects[j].Timestamp
		}
		return projects[i].ID < projects[j].ID
	})
}
