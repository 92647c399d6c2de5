package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/digkill/printstudio/internal/models"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestSession() *Session {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewSession("test", WithIDs(seqIDs()), WithClock(func() time.Time { return clock }))
}

func samplePages() []models.Page {
	return []models.Page{
		{Name: "Cover", ImagePrompt: "rocket", IsCover: true},
		{Name: "Moon", ImagePrompt: "moon base"},
		{Name: "Stars", ImagePrompt: "stars", RenderMode: models.RenderColor},
	}
}

func TestCreateProjectMintsIDsAndResolvesModes(t *testing.T) {
	s := newTestSession()
	s.SetIdeas([]models.GeneratedIdea{{Title: "old"}})
	s.UpsertAsset(models.Asset{ID: "stale", Type: models.AssetMockup})

	p := s.CreateProject(models.DefaultWizard(), models.Plan{Title: "Space"}, samplePages())

	if p.ID == "" || p.ID != s.ProjectID() {
		t.Fatalf("project id %q not active", p.ID)
	}
	if len(p.Pages) != 3 || len(p.Assets) != 0 || len(s.Ideas()) != 0 {
		t.Fatalf("unexpected state: %d pages, %d assets, %d ideas", len(p.Pages), len(p.Assets), len(s.Ideas()))
	}
	seen := map[string]bool{p.ID: true}
	for _, pg := range p.Pages {
		if pg.ID == "" || seen[pg.ID] {
			t.Fatalf("page id %q not unique", pg.ID)
		}
		seen[pg.ID] = true
	}
	wantModes := []models.RenderMode{models.RenderColor, models.RenderLineArt, models.RenderColor}
	for i, pg := range p.Pages {
		if pg.RenderMode != wantModes[i] {
			t.Fatalf("page %d mode = %q, want %q", i, pg.RenderMode, wantModes[i])
		}
	}
}

func TestEditPageKeepsID(t *testing.T) {
	s := newTestSession()
	p := s.CreateProject(models.DefaultWizard(), models.Plan{}, samplePages())
	id := p.Pages[1].ID

	name, desc, prompt := "Lunar", "a new take", "lunar rover"
	got, err := s.EditPage(id, PagePatch{Name: &name, Description: &desc, ImagePrompt: &prompt})
	if err != nil {
		t.Fatalf("EditPage: %v", err)
	}
	if got.ID != id || got.Name != name || got.Description != desc || got.ImagePrompt != prompt {
		t.Fatalf("edited page = %+v", got)
	}
	if pages := s.Pages(); pages[1].ID != id {
		t.Fatalf("page order changed: %+v", pages)
	}
	if _, err := s.EditPage("missing", PagePatch{Name: &name}); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeletePageCascadesOnlyItsAsset(t *testing.T) {
	s := newTestSession()
	p := s.CreateProject(models.DefaultWizard(), models.Plan{}, samplePages())
	for _, pg := range p.Pages {
		s.UpsertAsset(models.Asset{ID: pg.ID, Type: pg.AssetType(), Payload: "data:" + pg.Name})
	}
	s.UpsertAsset(models.Asset{ID: "mockup-1", Type: models.AssetMockup, Payload: "m"})

	victim := p.Pages[1].ID
	if err := s.DeletePage(victim); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	if _, ok := s.Page(victim); ok {
		t.Fatal("page still present")
	}
	if _, ok := s.Asset(victim); ok {
		t.Fatal("asset still present")
	}
	if len(s.Pages()) != 2 || len(s.Assets()) != 3 {
		t.Fatalf("got %d pages, %d assets", len(s.Pages()), len(s.Assets()))
	}
	if _, ok := s.Asset("mockup-1"); !ok {
		t.Fatal("unrelated mockup removed")
	}
	if err := s.DeletePage(victim); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestUpsertAssetInPlace(t *testing.T) {
	s := newTestSession()
	s.QuickStart()
	if existed := s.UpsertAsset(models.Asset{ID: "a", Loading: true}); existed {
		t.Fatal("new asset reported as existing")
	}
	s.UpsertAsset(models.Asset{ID: "b"})
	if existed := s.UpsertAsset(models.Asset{ID: "a", Payload: "X"}); !existed {
		t.Fatal("existing asset reported as new")
	}
	assets := s.Assets()
	if len(assets) != 2 || assets[0].ID != "a" || assets[0].Payload != "X" || assets[0].Loading {
		t.Fatalf("assets = %+v", assets)
	}
}

func TestAssetsByType(t *testing.T) {
	s := newTestSession()
	s.QuickStart()
	s.UpsertAsset(models.Asset{ID: "1", Type: models.AssetCover})
	s.UpsertAsset(models.Asset{ID: "2", Type: models.AssetMockup})
	s.UpsertAsset(models.Asset{ID: "3", Type: models.AssetMockup})
	if got := s.AssetsByType(models.AssetMockup); len(got) != 2 || got[0].ID != "2" {
		t.Fatalf("mockups = %+v", got)
	}
	if err := s.DeleteAsset("2"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteAsset("2"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestQuickStartBlankPlan(t *testing.T) {
	s := newTestSession()
	p := s.QuickStart()
	if p.Plan.Title != "Untitled Creative Project" || p.Plan.Concept != "Quick Start Session" || len(p.Pages) != 0 {
		t.Fatalf("quick start project = %+v", p)
	}
}

func TestRestartClearsEverything(t *testing.T) {
	s := newTestSession()
	s.CreateProject(models.WizardConfiguration{Theme: "Space"}, models.Plan{Title: "x"}, samplePages())
	s.SetIdeas([]models.GeneratedIdea{{Title: "i"}})
	s.Restart()

	if s.Active() {
		t.Fatal("project still active")
	}
	if len(s.Pages()) != 0 || len(s.Assets()) != 0 || len(s.Ideas()) != 0 {
		t.Fatal("collections not cleared")
	}
	if s.Wizard() != models.DefaultWizard() {
		t.Fatalf("wizard = %+v", s.Wizard())
	}
	if _, err := s.Plan(); !errors.Is(err, ErrNoActiveProject) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.AddPage(models.Page{Name: "x"}); !errors.Is(err, ErrNoActiveProject) {
		t.Fatalf("err = %v", err)
	}
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	s := newTestSession()
	p := s.CreateProject(models.DefaultWizard(), models.Plan{Title: "Space", ColorPalette: []string{"blue"}}, samplePages())
	s.UpsertAsset(models.Asset{ID: p.Pages[0].ID, Type: models.AssetCover, Payload: "X"})
	snap, _ := s.Snapshot()

	other := newTestSession()
	other.SetIdeas([]models.GeneratedIdea{{Title: "gone"}})
	other.Load(snap)
	back, ok := other.Snapshot()
	if !ok {
		t.Fatal("loaded session inactive")
	}
	if back.ID != snap.ID || len(back.Pages) != 3 || len(back.Assets) != 1 || len(other.Ideas()) != 0 {
		t.Fatalf("loaded = %+v", back)
	}

	snap.Plan.ColorPalette[0] = "mutated"
	if again, _ := s.Snapshot(); again.Plan.ColorPalette[0] != "blue" {
		t.Fatal("snapshot shares memory with the session")
	}
}

func TestLoadDropsUnfinishedAssets(t *testing.T) {
	s := newTestSession()
	p := s.CreateProject(models.DefaultWizard(), models.Plan{Title: "Space"}, samplePages())
	s.UpsertAsset(models.Asset{ID: p.Pages[0].ID, Payload: "X"})
	s.UpsertAsset(models.Asset{ID: p.Pages[1].ID, Loading: true})
	s.UpsertAsset(models.Asset{ID: "mock", Type: models.AssetMockup, Loading: true})
	snap, _ := s.Snapshot()

	other := newTestSession()
	other.Load(snap)
	assets := other.Assets()
	if len(assets) != 1 || assets[0].ID != p.Pages[0].ID {
		t.Fatalf("assets = %+v", assets)
	}
	if len(other.Pages()) != 3 {
		t.Fatalf("pages = %d", len(other.Pages()))
	}
}

func TestUpsertPageAssetNeedsPage(t *testing.T) {
	s := newTestSession()
	p := s.CreateProject(models.DefaultWizard(), models.Plan{Title: "Space"}, samplePages())
	id := p.Pages[1].ID
	if err := s.DeletePage(id); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertPageAsset(models.Asset{ID: id, Loading: true}); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("err = %v", err)
	}
	if len(s.Assets()) != 0 {
		t.Fatalf("orphan asset stored: %+v", s.Assets())
	}
	if err := s.UpsertPageAsset(models.Asset{ID: p.Pages[0].ID, Loading: true}); err != nil {
		t.Fatalf("live page rejected: %v", err)
	}
}

func TestIdeas(t *testing.T) {
	s := newTestSession()
	s.SetIdeas([]models.GeneratedIdea{{Title: "a"}, {Title: "b"}, {Title: "c"}})
	if err := s.EditIdea(1, models.GeneratedIdea{Title: "B", Prompt: "bee"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteIdea(0); err != nil {
		t.Fatal(err)
	}
	got := s.Ideas()
	if len(got) != 2 || got[0].Title != "B" || got[1].Title != "c" {
		t.Fatalf("ideas = %+v", got)
	}
	if _, err := s.Idea(5); !errors.Is(err, ErrIdeaNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestReadyPagesSkipsPendingAndMissing(t *testing.T) {
	s := newTestSession()
	p := s.CreateProject(models.DefaultWizard(), models.Plan{}, samplePages())
	s.UpsertAsset(models.Asset{ID: p.Pages[0].ID, Payload: "X"})
	s.UpsertAsset(models.Asset{ID: p.Pages[1].ID, Loading: true})

	view, err := s.ExportView()
	if err != nil {
		t.Fatal(err)
	}
	ready := view.ReadyPages()
	if len(ready) != 1 || ready[0].Page.ID != p.Pages[0].ID {
		t.Fatalf("ready = %+v", ready)
	}
	if view.PublicationSize != models.SizePortrait {
		t.Fatalf("size = %q", view.PublicationSize)
	}
}
