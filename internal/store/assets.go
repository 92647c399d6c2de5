package store

import (
	"github.com/digkill/printstudio/internal/models"
)

// UpsertAsset inserts the asset or overwrites the one with the same id in
// place. It reports whether an asset existed before.
func (s *Session) UpsertAsset(a models.Asset) (existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existed = s.upsertAssetLocked(a)
	s.touch()
	return existed
}

// UpsertPageAsset stores a page's primary asset, failing when the page with
// the same id is gone.
func (s *Session) UpsertPageAsset(a models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[a.ID]; !ok || e.page == nil {
		return ErrPageNotFound
	}
	s.upsertAssetLocked(a)
	s.touch()
	return nil
}

func (s *Session) upsertAssetLocked(a models.Asset) bool {
	e, ok := s.entries[a.ID]
	if !ok {
		e = &entry{}
		s.entries[a.ID] = e
	}
	existed := e.asset != nil
	if !existed {
		s.assetOrder = append(s.assetOrder, a.ID)
	}
	e.asset = &a
	return existed
}

// UpdateAsset applies fn to the stored asset under the lock.
func (s *Session) UpdateAsset(id string, fn func(*models.Asset)) (models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.asset == nil {
		return models.Asset{}, ErrAssetNotFound
	}
	fn(e.asset)
	s.touch()
	return *e.asset, nil
}

func (s *Session) DeleteAsset(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.asset == nil {
		return ErrAssetNotFound
	}
	e.asset = nil
	if e.page == nil {
		delete(s.entries, id)
	}
	s.assetOrder = removeID(s.assetOrder, id)
	s.touch()
	return nil
}

func (s *Session) Asset(id string) (models.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.asset == nil {
		return models.Asset{}, false
	}
	return *e.asset, true
}

func (s *Session) Assets() []models.Asset {
	return s.AssetsByType("")
}

// AssetsByType lists assets in insertion order. An empty type matches all.
func (s *Session) AssetsByType(t models.AssetType) []models.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Asset, 0, len(s.assetOrder))
	for _, id := range s.assetOrder {
		a := s.entries[id].asset
		if t == "" || a.Type == t {
			out = append(out, *a)
		}
	}
	return out
}

// ExportView is the read-only material an exporter needs.
type ExportView struct {
	Plan            models.Plan
	Pages           []models.Page
	Assets          []models.Asset
	PublicationSize models.PublicationSize
}

type ReadyPage struct {
	Page  models.Page
	Asset models.Asset
}

// ReadyPages pairs pages with finished assets in page order, skipping pages
// whose asset is absent or still loading.
func (v ExportView) ReadyPages() []ReadyPage {
	byID := make(map[string]models.Asset, len(v.Assets))
	for _, a := range v.Assets {
		byID[a.ID] = a
	}
	out := make([]ReadyPage, 0, len(v.Pages))
	for _, p := range v.Pages {
		a, ok := byID[p.ID]
		if !ok || !a.Ready() {
			continue
		}
		out = append(out, ReadyPage{Page: p, Asset: a})
	}
	return out
}

func (s *Session) ExportView() (ExportView, error) {
	p, ok := s.Snapshot()
	if !ok {
		return ExportView{}, ErrNoActiveProject
	}
	return ExportView{
		Plan:            p.Plan,
		Pages:           p.Pages,
		Assets:          p.Assets,
		PublicationSize: p.Wizard.PublicationSize,
	}, nil
}
