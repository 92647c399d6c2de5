package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/repository"
	"github.com/digkill/printstudio/internal/store"
)

// SnapshotWriter is the persistence adapter. Save is fire-and-forget.
type SnapshotWriter interface {
	Save(p models.Project)
	Load(ctx context.Context, id string) (models.Project, error)
	List(ctx context.Context) ([]models.Project, error)
	Delete(ctx context.Context, id string) error
}

// ProjectService owns the non-generating edits of a session and the saved
// project gallery. Every mutation of an active project is persisted.
type ProjectService struct {
	log      *slog.Logger
	sessions *SessionRegistry
	writer   SnapshotWriter
}

func NewProjectService(log *slog.Logger, sessions *SessionRegistry, writer SnapshotWriter) *ProjectService {
	return &ProjectService{log: log, sessions: sessions, writer: writer}
}

func (s *ProjectService) Sessions() *SessionRegistry { return s.sessions }

func (s *ProjectService) persist(sess *store.Session) {
	p, ok := sess.Snapshot()
	if !ok {
		return
	}
	s.writer.Save(p)
}

// settleSaved clears a placeholder left in the saved copy of a project the
// session has since closed: the previous asset comes back if there was one,
// otherwise the placeholder is removed.
func (s *ProjectService) settleSaved(ctx context.Context, projectID, assetID string, prior models.Asset, existed bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	p, err := s.writer.Load(ctx, projectID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error("load project to clear placeholder", "err", err, "project_id", projectID)
		}
		return
	}
	i := slices.IndexFunc(p.Assets, func(a models.Asset) bool { return a.ID == assetID })
	if i < 0 || !p.Assets[i].Loading {
		return
	}
	if existed {
		prior.Loading = false
		p.Assets[i] = prior
	} else {
		p.Assets = slices.Delete(p.Assets, i, i+1)
	}
	s.writer.Save(p)
	s.log.Info("placeholder cleared from closed project", "project_id", projectID, "asset_id", assetID)
}

func (s *ProjectService) SetWizard(sess *store.Session, w models.WizardConfiguration) {
	sess.SetWizard(w)
	s.persist(sess)
}

func (s *ProjectService) QuickStart(sess *store.Session) models.Project {
	p := sess.QuickStart()
	s.persist(sess)
	s.log.Info("quick start project created", "project_id", p.ID, "session", sess.Key())
	return p
}

func (s *ProjectService) UpdatePlan(sess *store.Session, patch store.PlanPatch) (models.Plan, error) {
	plan, err := sess.UpdatePlan(patch)
	if err != nil {
		return models.Plan{}, err
	}
	s.persist(sess)
	return plan, nil
}

// AddPage adds a manually written page.
func (s *ProjectService) AddPage(sess *store.Session, name, prompt string) (models.Page, error) {
	name, prompt = strings.TrimSpace(name), strings.TrimSpace(prompt)
	if name == "" {
		return models.Page{}, invalid("name", "Please enter a page name.")
	}
	if prompt == "" {
		return models.Page{}, invalid("prompt", "Please enter an image prompt.")
	}
	page, err := sess.AddPage(models.Page{
		Name:        name,
		Description: "Custom user page",
		ImagePrompt: prompt,
		RenderMode:  models.RenderLineArt,
	})
	if err != nil {
		return models.Page{}, err
	}
	s.persist(sess)
	return page, nil
}

func (s *ProjectService) EditPage(sess *store.Session, id string, patch store.PagePatch) (models.Page, error) {
	page, err := sess.EditPage(id, patch)
	if err != nil {
		return models.Page{}, err
	}
	s.persist(sess)
	return page, nil
}

func (s *ProjectService) SetRenderMode(sess *store.Session, id string, mode models.RenderMode) (models.Page, error) {
	if mode != models.RenderColor && mode != models.RenderLineArt {
		return models.Page{}, invalid("render mode", "Choose color or line art.")
	}
	page, err := sess.SetRenderMode(id, mode)
	if err != nil {
		return models.Page{}, err
	}
	s.persist(sess)
	return page, nil
}

func (s *ProjectService) DeletePage(sess *store.Session, id string) error {
	if err := sess.DeletePage(id); err != nil {
		return err
	}
	s.persist(sess)
	return nil
}

func (s *ProjectService) DeleteAsset(sess *store.Session, id string) error {
	if err := sess.DeleteAsset(id); err != nil {
		return err
	}
	s.persist(sess)
	return nil
}

func (s *ProjectService) EditIdea(sess *store.Session, i int, idea models.GeneratedIdea) error {
	return sess.EditIdea(i, idea)
}

func (s *ProjectService) DeleteIdea(sess *store.Session, i int) error {
	return sess.DeleteIdea(i)
}

// PromoteIdea turns a generated idea into a regular page. The idea stays in
// the list so it can be promoted again.
func (s *ProjectService) PromoteIdea(sess *store.Session, i int) (models.Page, error) {
	idea, err := sess.Idea(i)
	if err != nil {
		return models.Page{}, err
	}
	page, err := sess.AddPage(models.Page{
		Name:        idea.Title,
		Description: "Added from Prompt Generator",
		ImagePrompt: idea.Prompt,
	})
	if err != nil {
		return models.Page{}, err
	}
	s.persist(sess)
	return page, nil
}

func (s *ProjectService) Restart(sess *store.Session) {
	sess.Restart()
}

func (s *ProjectService) ListProjects(ctx context.Context) ([]models.Project, error) {
	return s.writer.List(ctx)
}

// LoadProject makes a saved project the session's active one.
func (s *ProjectService) LoadProject(ctx context.Context, sess *store.Session, id string) (models.Project, error) {
	p, err := s.writer.Load(ctx, id)
	if err != nil {
		return models.Project{}, err
	}
	sess.Load(p)
	s.log.Info("project loaded", "project_id", id, "session", sess.Key())
	return p, nil
}

// DeleteProject removes a saved project. Sessions that have it open are
// restarted.
func (s *ProjectService) DeleteProject(ctx context.Context, id string) error {
	if err := s.writer.Delete(ctx, id); err != nil {
		return err
	}
	for _, sess := range s.sessions.ForProject(id) {
		sess.Restart()
	}
	s.log.Info("project deleted", "project_id", id)
	return nil
}
