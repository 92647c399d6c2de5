package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/printstudio/internal/database"
	"github.com/digkill/printstudio/internal/models"
)

type GenerationRepository struct {
	db *database.DB
}

func NewGenerationRepository(db *database.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Log(ctx context.Context, entry models.GenerationLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO generation_logs (project_id, slot, kind, prompt, outcome, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query,
		entry.ProjectID, entry.Slot, entry.Kind, entry.Prompt, string(entry.Outcome), entry.Error, entry.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert generation log: %w", err)
	}
	return nil
}

// Recent returns the latest entries for a project, newest first.
func (r *GenerationRepository) Recent(ctx context.Context, projectID string, limit int) ([]models.GenerationLog, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
SELECT project_id, slot, kind, prompt, outcome, COALESCE(error, ''), created_at
FROM generation_logs WHERE project_id = ?
ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generation logs: %w", err)
	}
	defer rows.Close()

	var out []models.GenerationLog
	for rows.Next() {
		var (
			e       models.GenerationLog
			outcome string
			created sql.NullInt64
		)
		if err := rows.Scan(&e.ProjectID, &e.Slot, &e.Kind, &e.Prompt, &outcome, &e.Error, &created); err != nil {
			return nil, fmt.Errorf("scan generation log: %w", err)
		}
		e.Outcome = models.GenerationOutcome(outcome)
		if created.Valid {
			e.CreatedAt = time.UnixMilli(created.Int64).UTC()
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ GenerationLogStore = (*GenerationRepository)(nil)
