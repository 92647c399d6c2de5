// Package store holds the in-memory state of one user session: the active
// project, its pages and assets, and the transient idea list.
//
// Pages and assets share one arena keyed by id. A page's primary asset lives
// in the same entry as the page, so deleting a page drops its asset with a
// single key removal. Mockup assets get their own entries with no page.
package store

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/printstudio/internal/models"
)

var (
	ErrNoActiveProject = errors.New("no active project")
	ErrPageNotFound    = errors.New("page not found")
	ErrAssetNotFound   = errors.New("asset not found")
	ErrIdeaNotFound    = errors.New("idea not found")
)

type entry struct {
	page  *models.Page
	asset *models.Asset
}

type Session struct {
	mu sync.Mutex

	key       string
	projectID string
	timestamp int64
	wizard    models.WizardConfiguration
	plan      models.Plan

	entries    map[string]*entry
	pageOrder  []string
	assetOrder []string

	ideas []models.GeneratedIdea

	newID func() string
	now   func() time.Time
}

type Option func(*Session)

// WithIDs replaces the id generator, mostly for tests.
func WithIDs(fn func() string) Option {
	return func(s *Session) { s.newID = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(s *Session) { s.now = fn }
}

func NewSession(key string, opts ...Option) *Session {
	s := &Session{
		key:     key,
		wizard:  models.DefaultWizard(),
		entries: make(map[string]*entry),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Key() string { return s.key }

// NewID mints an identifier from the session's generator.
func (s *Session) NewID() string { return s.newID() }

func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

func (s *Session) Active() bool {
	return s.ProjectID() != ""
}

func (s *Session) Wizard() models.WizardConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wizard
}

// SetWizard stores the wizard answers. Outside an active project they are
// transient input for the next plan.
func (s *Session) SetWizard(w models.WizardConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wizard = w
	s.touch()
}

func (s *Session) Plan() (models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projectID == "" {
		return models.Plan{}, ErrNoActiveProject
	}
	return s.plan, nil
}

// CreateProject starts a new project from a plan. Every page gets a freshly
// minted id and a resolved render mode. Assets and ideas are cleared.
func (s *Session) CreateProject(w models.WizardConfiguration, plan models.Plan, pages []models.Page) models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.projectID = s.newID()
	s.wizard = w
	s.plan = plan
	for _, p := range pages {
		p.ID = s.newID()
		p.RenderMode = p.ResolvedRenderMode()
		s.insertPageLocked(p)
	}
	s.touch()
	return s.snapshotLocked()
}

// QuickStart opens a blank project so the tools are usable without a plan.
func (s *Session) QuickStart() models.Project {
	return s.CreateProject(s.Wizard(), models.Plan{
		Title:                  "Untitled Creative Project",
		Concept:                "Quick Start Session",
		ColorPalette:           []string{"Customize as needed"},
		MonetizationStrategies: []string{},
	}, nil)
}

type PlanPatch struct {
	Title   *string
	Concept *string
}

func (s *Session) UpdatePlan(patch PlanPatch) (models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projectID == "" {
		return models.Plan{}, ErrNoActiveProject
	}
	if patch.Title != nil {
		s.plan.Title = *patch.Title
	}
	if patch.Concept != nil {
		s.plan.Concept = *patch.Concept
	}
	s.touch()
	return s.plan, nil
}

// Restart drops the active project and every transient collection.
func (s *Session) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.wizard = models.DefaultWizard()
}

// Load makes a saved project the active one. Ideas are cleared. Assets saved
// while still loading belong to a generation that can no longer finish here,
// so they are dropped.
func (s *Session) Load(p models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.projectID = p.ID
	s.timestamp = p.Timestamp
	s.wizard = p.Wizard
	s.plan = p.Plan
	for _, page := range p.Pages {
		s.insertPageLocked(page)
	}
	for _, a := range p.Assets {
		if a.Loading {
			continue
		}
		s.upsertAssetLocked(a)
	}
}

// Snapshot returns a deep copy of the active project.
func (s *Session) Snapshot() (models.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projectID == "" {
		return models.Project{}, false
	}
	return s.snapshotLocked(), true
}

func (s *Session) snapshotLocked() models.Project {
	p := models.Project{
		ID:        s.projectID,
		Timestamp: s.timestamp,
		Wizard:    s.wizard,
		Plan:      clonePlan(s.plan),
		Pages:     make([]models.Page, 0, len(s.pageOrder)),
		Assets:    make([]models.Asset, 0, len(s.assetOrder)),
	}
	for _, id := range s.pageOrder {
		p.Pages = append(p.Pages, *s.entries[id].page)
	}
	for _, id := range s.assetOrder {
		p.Assets = append(p.Assets, *s.entries[id].asset)
	}
	return p
}

func (s *Session) resetLocked() {
	s.projectID = ""
	s.timestamp = 0
	s.plan = models.Plan{}
	s.entries = make(map[string]*entry)
	s.pageOrder = nil
	s.assetOrder = nil
	s.ideas = nil
}

func (s *Session) touch() {
	s.timestamp = s.now().UnixMilli()
}

func clonePlan(p models.Plan) models.Plan {
	p.ColorPalette = slices.Clone(p.ColorPalette)
	p.MonetizationStrategies = slices.Clone(p.MonetizationStrategies)
	return p
}
