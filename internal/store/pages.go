package store

import (
	"slices"

	"github.com/digkill/printstudio/internal/models"
)

// AddPage appends a page. An empty id is minted; an existing id is kept.
func (s *Session) AddPage(p models.Page) (models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projectID == "" {
		return models.Page{}, ErrNoActiveProject
	}
	if p.ID == "" {
		p.ID = s.newID()
	}
	s.insertPageLocked(p)
	s.touch()
	return p, nil
}

func (s *Session) insertPageLocked(p models.Page) {
	e, ok := s.entries[p.ID]
	if !ok {
		e = &entry{}
		s.entries[p.ID] = e
	}
	if e.page == nil {
		s.pageOrder = append(s.pageOrder, p.ID)
	}
	e.page = &p
}

type PagePatch struct {
	Name        *string
	Description *string
	ImagePrompt *string
	RenderMode  *models.RenderMode
}

// EditPage updates text fields and render mode. The id never changes.
func (s *Session) EditPage(id string, patch PagePatch) (models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.page == nil {
		return models.Page{}, ErrPageNotFound
	}
	if patch.Name != nil {
		e.page.Name = *patch.Name
	}
	if patch.Description != nil {
		e.page.Description = *patch.Description
	}
	if patch.ImagePrompt != nil {
		e.page.ImagePrompt = *patch.ImagePrompt
	}
	if patch.RenderMode != nil {
		e.page.RenderMode = *patch.RenderMode
	}
	s.touch()
	return *e.page, nil
}

func (s *Session) SetRenderMode(id string, mode models.RenderMode) (models.Page, error) {
	return s.EditPage(id, PagePatch{RenderMode: &mode})
}

// DeletePage removes the page and the asset sharing its id.
func (s *Session) DeletePage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.page == nil {
		return ErrPageNotFound
	}
	delete(s.entries, id)
	s.pageOrder = removeID(s.pageOrder, id)
	if e.asset != nil {
		s.assetOrder = removeID(s.assetOrder, id)
	}
	s.touch()
	return nil
}

func (s *Session) Page(id string) (models.Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.page == nil {
		return models.Page{}, false
	}
	return *e.page, true
}

func (s *Session) Pages() []models.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Page, 0, len(s.pageOrder))
	for _, id := range s.pageOrder {
		out = append(out, *s.entries[id].page)
	}
	return out
}

func (s *Session) PageNames() []string {
	pages := s.Pages()
	names := make([]string, len(pages))
	for i, p := range pages {
		names[i] = p.Name
	}
	return names
}

func removeID(ids []string, id string) []string {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}
