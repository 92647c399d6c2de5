package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/digkill/printstudio/internal/database"
	"github.com/digkill/printstudio/internal/models"
)

type ProjectRepository struct {
	db *database.DB
}

func NewProjectRepository(db *database.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Save(ctx context.Context, p models.Project) error {
	snapshot, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project snapshot: %w", err)
	}

	query := `
INSERT INTO projects (id, title, saved_at, snapshot)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET title = excluded.title, saved_at = excluded.saved_at, snapshot = excluded.snapshot`
	if r.db.Dialect == database.MySQL {
		query = `
INSERT INTO projects (id, title, saved_at, snapshot)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE title = VALUES(title), saved_at = VALUES(saved_at), snapshot = VALUES(snapshot)`
	}
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.Plan.Title, p.Timestamp, string(snapshot)); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) Get(ctx context.Context, id string) (models.Project, error) {
	const query = `SELECT snapshot FROM projects WHERE id = ?`
	var raw string
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Project{}, ErrNotFound
		}
		return models.Project{}, fmt.Errorf("select project: %w", err)
	}
	return decodeProject(raw)
}

func (r *ProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	const query = `SELECT snapshot FROM projects ORDER BY saved_at DESC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p, err := decodeProject(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeProject(raw string) (models.Project, error) {
	var p models.Project
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.Project{}, fmt.Errorf("decode project snapshot: %w", err)
	}
	return p, nil
}

var _ ProjectStore = (*ProjectRepository)(nil)
