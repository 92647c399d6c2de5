package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/persistence"
	"github.com/digkill/printstudio/internal/provider"
	"github.com/digkill/printstudio/internal/repository"
	"github.com/digkill/printstudio/internal/store"
)

const samplePlan = "Here you go:\n```json\n" + `{
  "projectTitle": "Space Doodles",
  "concept": "Rockets and planets for kids",
  "colorPaletteSuggestions": ["navy", "orange"],
  "monetizationStrategies": ["Etsy", "KDP"],
  "pages": [
    {"name": "Cover", "description": "front", "imagePrompt": "rocket over moon", "isCover": true},
    {"name": "Moon", "description": "m", "imagePrompt": "moon base"},
    {"name": "Mars", "description": "m", "imagePrompt": "mars rover"},
    {"name": "Comet", "description": "c", "imagePrompt": "comet tail"},
    {"name": "Saturn", "description": "s", "imagePrompt": "ringed planet"},
    {"name": "Astronaut", "description": "a", "imagePrompt": "floating astronaut"}
  ]
}` + "\n```"

type stubProvider struct {
	mu         sync.Mutex
	credErr    error
	text       func(provider.StructuredRequest) (string, error)
	image      func(provider.ImageRequest) (*provider.Image, error)
	textCalls  int
	imageCalls int
	images     []provider.ImageRequest
}

func (p *stubProvider) RequestStructuredPlan(_ context.Context, req provider.StructuredRequest) (string, error) {
	p.mu.Lock()
	p.textCalls++
	fn := p.text
	p.mu.Unlock()
	if fn == nil {
		return "", errors.New("no text stub")
	}
	return fn(req)
}

func (p *stubProvider) RequestImage(_ context.Context, req provider.ImageRequest) (*provider.Image, error) {
	p.mu.Lock()
	p.imageCalls++
	p.images = append(p.images, req)
	fn := p.image
	p.mu.Unlock()
	if fn == nil {
		return &provider.Image{Bytes: []byte("png"), MIMEType: "image/png"}, nil
	}
	return fn(req)
}

func (p *stubProvider) CheckCredential() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.credErr
}

func (p *stubProvider) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.textCalls, p.imageCalls
}

type harness struct {
	projects *ProjectService
	gen      *GenerationService
	stub     *stubProvider
	repo     *repository.MemoryProjectRepository
	writer   *persistence.Writer
	genlog   *repository.MemoryGenerationLog
	sess     *store.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := repository.NewMemoryProjectRepository()
	writer := persistence.NewWriter(repo, log)
	t.Cleanup(func() { _ = writer.Close(context.Background()) })
	genlog := repository.NewMemoryGenerationLog()
	stub := &stubProvider{text: func(provider.StructuredRequest) (string, error) { return samplePlan, nil }}
	projects := NewProjectService(log, NewSessionRegistry(), writer)
	return &harness{
		projects: projects,
		gen:      NewGenerationService(log, projects, stub, genlog, 2),
		stub:     stub,
		repo:     repo,
		writer:   writer,
		genlog:   genlog,
		sess:     projects.Sessions().Get("t"),
	}
}

func (h *harness) plan(t *testing.T) models.Project {
	t.Helper()
	p, err := h.gen.FinalizePlan(context.Background(), h.sess, models.WizardConfiguration{
		ProductType:     "Coloring Book",
		Theme:           "Space",
		PublicationSize: models.SizePortrait,
	})
	if err != nil {
		t.Fatalf("FinalizePlan: %v", err)
	}
	return p
}

func TestFinalizePlanBuildsProject(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)

	if p.Plan.Title != "Space Doodles" || len(p.Plan.MonetizationStrategies) != 2 {
		t.Fatalf("plan = %+v", p.Plan)
	}
	if len(p.Pages) != 6 || len(p.Assets) != 0 {
		t.Fatalf("pages=%d assets=%d", len(p.Pages), len(p.Assets))
	}
	seen := map[string]bool{}
	for i, pg := range p.Pages {
		if pg.ID == "" || seen[pg.ID] {
			t.Fatalf("page %d id %q not unique", i, pg.ID)
		}
		seen[pg.ID] = true
		want := models.RenderLineArt
		if i == 0 {
			want = models.RenderColor
		}
		if pg.RenderMode != want {
			t.Fatalf("page %d mode = %q, want %q", i, pg.RenderMode, want)
		}
	}

	if err := h.writer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	saved, err := h.repo.Get(context.Background(), p.ID)
	if err != nil || len(saved.Pages) != 6 {
		t.Fatalf("saved = %+v, err = %v", saved, err)
	}
	if logs := h.genlog.All(); len(logs) != 1 || logs[0].Outcome != models.OutcomeFulfilled {
		t.Fatalf("generation log = %+v", logs)
	}
}

func TestFinalizePlanFailureLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)
	before := h.plan(t)

	h.stub.text = func(provider.StructuredRequest) (string, error) { return "sorry, no plan today", nil }
	_, err := h.gen.FinalizePlan(context.Background(), h.sess, models.WizardConfiguration{ProductType: "Planner"})
	var gerr *GenerationError
	if !errors.As(err, &gerr) || gerr.Op != OpPlan {
		t.Fatalf("err = %v", err)
	}
	if h.sess.ProjectID() != before.ID || len(h.sess.Pages()) != 6 {
		t.Fatalf("session changed after failed plan")
	}
	if !strings.Contains(Notice(err), "generating your plan") {
		t.Fatalf("notice = %q", Notice(err))
	}
}

func TestFinalizePlanRejectsIncompletePlans(t *testing.T) {
	cases := map[string]func(provider.StructuredRequest) (string, error){
		"null":          func(provider.StructuredRequest) (string, error) { return "null", nil },
		"unrelated":     func(provider.StructuredRequest) (string, error) { return `{"note":"unable to comply"}`, nil },
		"no pages":      func(provider.StructuredRequest) (string, error) { return `{"projectTitle":"Half"}`, nil },
		"no title":      func(provider.StructuredRequest) (string, error) { return `{"pages":[]}`, nil },
		"transport":     func(provider.StructuredRequest) (string, error) { return "", errors.New("connection reset") },
		"unparseable":   func(provider.StructuredRequest) (string, error) { return "here is a plan: rockets", nil },
		"null in fence": func(provider.StructuredRequest) (string, error) { return "```json\nnull\n```", nil },
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			before := h.plan(t)

			h.stub.text = text
			_, err := h.gen.FinalizePlan(context.Background(), h.sess, models.WizardConfiguration{ProductType: "Planner"})
			var gerr *GenerationError
			if !errors.As(err, &gerr) || gerr.Op != OpPlan {
				t.Fatalf("err = %v", err)
			}
			after, _ := h.sess.Snapshot()
			if after.ID != before.ID || after.Plan.Title != before.Plan.Title || len(after.Pages) != 6 {
				t.Fatalf("session changed: id=%s title=%q pages=%d", after.ID, after.Plan.Title, len(after.Pages))
			}
		})
	}
}

func TestFinalizePlanAcceptsEmptyPageList(t *testing.T) {
	h := newHarness(t)
	h.stub.text = func(provider.StructuredRequest) (string, error) {
		return `{"projectTitle":"Blank Slate","concept":"c","pages":[]}`, nil
	}
	p, err := h.gen.FinalizePlan(context.Background(), h.sess, models.WizardConfiguration{ProductType: "Planner"})
	if err != nil {
		t.Fatalf("FinalizePlan: %v", err)
	}
	if p.Plan.Title != "Blank Slate" || len(p.Pages) != 0 {
		t.Fatalf("project = %+v", p)
	}
}

func TestFinalizePlanRequiresProductType(t *testing.T) {
	h := newHarness(t)
	_, err := h.gen.FinalizePlan(context.Background(), h.sess, models.WizardConfiguration{Theme: "x"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v", err)
	}
	if text, _ := h.stub.counts(); text != 0 {
		t.Fatalf("provider called %d times", text)
	}
}

func TestGeneratePageImage(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	cover := p.Pages[0]

	asset, err := h.gen.GeneratePageImage(context.Background(), h.sess, cover.ID, false)
	if err != nil {
		t.Fatalf("GeneratePageImage: %v", err)
	}
	if asset.ID != cover.ID || asset.Type != models.AssetCover || !asset.Ready() {
		t.Fatalf("asset = %+v", asset)
	}
	if !strings.HasPrefix(asset.Payload, "data:image/png;base64,") {
		t.Fatalf("payload = %q", asset.Payload)
	}
	req := h.stub.images[0]
	if req.AspectRatio != models.AspectPortrait || !strings.Contains(req.Prompt, "rocket over moon") {
		t.Fatalf("image request = %+v", req)
	}

	// a finished image is returned without another provider call
	again, err := h.gen.GeneratePageImage(context.Background(), h.sess, cover.ID, false)
	if err != nil || again.Payload != asset.Payload {
		t.Fatalf("again = %+v, err = %v", again, err)
	}
	if _, images := h.stub.counts(); images != 1 {
		t.Fatalf("image calls = %d", images)
	}
}

func TestGeneratePageImageRollsBackNewPlaceholder(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	h.stub.image = func(provider.ImageRequest) (*provider.Image, error) {
		return nil, &provider.Error{Backend: "stub", Op: "image", Status: 500, Err: errors.New("boom")}
	}

	_, err := h.gen.GeneratePageImage(context.Background(), h.sess, p.Pages[1].ID, false)
	var gerr *GenerationError
	if !errors.As(err, &gerr) || gerr.Op != OpImage {
		t.Fatalf("err = %v", err)
	}
	if _, ok := h.sess.Asset(p.Pages[1].ID); ok {
		t.Fatal("placeholder left behind")
	}
	if h.gen.IsGenerating(h.sess, PageSlot(p.Pages[1].ID)) {
		t.Fatal("slot still occupied")
	}
	logs := h.genlog.All()
	if last := logs[len(logs)-1]; last.Outcome != models.OutcomeRolledBack || last.Error == "" {
		t.Fatalf("log = %+v", last)
	}
}

func TestRegenerateFailureKeepsPreviousImage(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	id := p.Pages[2].ID
	first, err := h.gen.GeneratePageImage(context.Background(), h.sess, id, false)
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	h.stub.image = func(provider.ImageRequest) (*provider.Image, error) { return nil, provider.ErrNoImage }
	if _, err := h.gen.GeneratePageImage(context.Background(), h.sess, id, true); err == nil {
		t.Fatal("expected error")
	}
	got, ok := h.sess.Asset(id)
	if !ok || got.Payload != first.Payload || got.Loading {
		t.Fatalf("asset after failed regen = %+v", got)
	}
}

func TestGeneratePageImageIsSingleFlight(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	id := p.Pages[1].ID

	entered := make(chan struct{})
	release := make(chan struct{})
	h.stub.image = func(provider.ImageRequest) (*provider.Image, error) {
		close(entered)
		<-release
		return &provider.Image{Bytes: []byte("x"), MIMEType: "image/png"}, nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := h.gen.GeneratePageImage(context.Background(), h.sess, id, false)
		errc <- err
	}()
	<-entered

	if st := h.gen.SlotState(h.sess, PageSlot(id)); st != SlotAwaitingProvider {
		t.Fatalf("slot state = %v", st)
	}
	if a, ok := h.sess.Asset(id); !ok || !a.Loading {
		t.Fatalf("placeholder = %+v", a)
	}
	if _, err := h.gen.GeneratePageImage(context.Background(), h.sess, id, true); !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("second call err = %v", err)
	}

	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, images := h.stub.counts(); images != 1 {
		t.Fatalf("image calls = %d", images)
	}
}

func TestResultDiscardedAfterProjectSwitch(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	id := p.Pages[1].ID

	entered := make(chan struct{})
	release := make(chan struct{})
	h.stub.image = func(provider.ImageRequest) (*provider.Image, error) {
		close(entered)
		<-release
		return &provider.Image{Bytes: []byte("x")}, nil
	}
	errc := make(chan error, 1)
	go func() {
		_, err := h.gen.GeneratePageImage(context.Background(), h.sess, id, false)
		errc <- err
	}()
	<-entered
	h.projects.QuickStart(h.sess)
	close(release)

	if err := <-errc; !errors.Is(err, ErrDiscarded) {
		t.Fatalf("err = %v", err)
	}
	if len(h.sess.Assets()) != 0 {
		t.Fatalf("new project got assets: %+v", h.sess.Assets())
	}
}

func TestDiscardedResultClearsSavedPlaceholder(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	id := p.Pages[1].ID

	entered := make(chan struct{})
	release := make(chan struct{})
	h.stub.image = func(provider.ImageRequest) (*provider.Image, error) {
		close(entered)
		<-release
		return &provider.Image{Bytes: []byte("x")}, nil
	}
	errc := make(chan error, 1)
	go func() {
		_, err := h.gen.GeneratePageImage(context.Background(), h.sess, id, false)
		errc <- err
	}()
	<-entered
	h.projects.QuickStart(h.sess)
	close(release)
	if err := <-errc; !errors.Is(err, ErrDiscarded) {
		t.Fatalf("err = %v", err)
	}

	if err := h.writer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	saved, err := h.repo.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(saved.Assets) != 0 {
		t.Fatalf("saved assets = %+v", saved.Assets)
	}

	// reopening and failing a regeneration must not invent an empty image
	if _, err := h.projects.LoadProject(context.Background(), h.sess, p.ID); err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	h.stub.image = func(provider.ImageRequest) (*provider.Image, error) { return nil, provider.ErrNoImage }
	if _, err := h.gen.GeneratePageImage(context.Background(), h.sess, id, true); err == nil {
		t.Fatal("expected error")
	}
	if a, ok := h.sess.Asset(id); ok {
		t.Fatalf("asset after failed regen = %+v", a)
	}
}

func TestDiscardedRegenerationRestoresSavedImage(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	id := p.Pages[2].ID
	first, err := h.gen.GeneratePageImage(context.Background(), h.sess, id, false)
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	h.stub.image = func(provider.ImageRequest) (*provider.Image, error) {
		close(entered)
		<-release
		return nil, errors.New("late failure")
	}
	errc := make(chan error, 1)
	go func() {
		_, err := h.gen.GeneratePageImage(context.Background(), h.sess, id, true)
		errc <- err
	}()
	<-entered
	h.projects.QuickStart(h.sess)
	close(release)
	<-errc

	if err := h.writer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	saved, _ := h.repo.Get(context.Background(), p.ID)
	if len(saved.Assets) != 1 || saved.Assets[0].Payload != first.Payload || saved.Assets[0].Loading {
		t.Fatalf("saved assets = %+v", saved.Assets)
	}
}

func TestMissingCredentialStartsNothing(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	src, err := h.gen.GeneratePageImage(context.Background(), h.sess, p.Pages[0].ID, false)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if err := h.writer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	h.stub.credErr = provider.ErrMissingCredential
	text0, images0 := h.stub.counts()
	logs0 := len(h.genlog.All())
	before, _ := h.sess.Snapshot()

	ctx := context.Background()
	calls := map[string]func() error{
		"image": func() error {
			_, err := h.gen.GeneratePageImage(ctx, h.sess, p.Pages[1].ID, false)
			return err
		},
		"mockup": func() error {
			_, err := h.gen.GenerateMockup(ctx, h.sess, MockupRequest{SourceAssetID: src.ID})
			return err
		},
		"extra pages": func() error {
			_, err := h.gen.GenerateExtraPages(ctx, h.sess)
			return err
		},
		"concept": func() error {
			_, err := h.gen.RegenerateConcept(ctx, h.sess, p.Pages[1].ID)
			return err
		},
		"ideas": func() error {
			_, err := h.gen.GenerateIdeas(ctx, h.sess, IdeasRequest{})
			return err
		},
		"plan": func() error {
			_, err := h.gen.FinalizePlan(ctx, h.sess, models.WizardConfiguration{ProductType: "Planner"})
			return err
		},
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, provider.ErrMissingCredential) {
			t.Fatalf("%s err = %v", name, err)
		}
	}

	if text, images := h.stub.counts(); text != text0 || images != images0 {
		t.Fatalf("provider called: text %d->%d images %d->%d", text0, text, images0, images)
	}
	if n := len(h.genlog.All()); n != logs0 {
		t.Fatalf("generation log grew %d -> %d", logs0, n)
	}
	after, _ := h.sess.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("session changed:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestGenerateAllPages(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	if _, err := h.gen.GeneratePageImage(context.Background(), h.sess, p.Pages[0].ID, false); err != nil {
		t.Fatalf("cover: %v", err)
	}

	outcomes, err := h.gen.GenerateAllPages(context.Background(), h.sess)
	if err != nil {
		t.Fatalf("GenerateAllPages: %v", err)
	}
	if len(outcomes) != 5 {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Err != nil || !o.Asset.Ready() {
			t.Fatalf("outcome = %+v", o)
		}
	}
	if _, images := h.stub.counts(); images != 6 {
		t.Fatalf("image calls = %d", images)
	}
	if n := len(h.sess.AssetsByType(models.AssetColoringPage)); n != 5 {
		t.Fatalf("coloring pages = %d", n)
	}
}

func TestGenerateMockup(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	src, err := h.gen.GeneratePageImage(context.Background(), h.sess, p.Pages[0].ID, false)
	if err != nil {
		t.Fatalf("source: %v", err)
	}

	mock, err := h.gen.GenerateMockup(context.Background(), h.sess, MockupRequest{SourceAssetID: src.ID, Scene: "on a desk"})
	if err != nil {
		t.Fatalf("GenerateMockup: %v", err)
	}
	if mock.ID == src.ID || mock.Type != models.AssetMockup || mock.Prompt != "Mockup: on a desk" {
		t.Fatalf("mockup = %+v", mock)
	}
	if mock.AspectRatio != models.MockupAspect {
		t.Fatalf("aspect = %q", mock.AspectRatio)
	}
	req := h.stub.images[len(h.stub.images)-1]
	if req.Reference == nil || string(req.Reference.Bytes) != "png" {
		t.Fatalf("reference = %+v", req.Reference)
	}
	if !strings.Contains(req.Prompt, "on a desk") {
		t.Fatalf("prompt = %q", req.Prompt)
	}

	if _, err := h.gen.GenerateMockup(context.Background(), h.sess, MockupRequest{SourceAssetID: mock.ID}); err == nil {
		t.Fatal("mockup of a mockup accepted")
	}
}

func TestGenerateMockupFailureRemovesPlaceholder(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	src, _ := h.gen.GeneratePageImage(context.Background(), h.sess, p.Pages[0].ID, false)
	h.stub.image = func(provider.ImageRequest) (*provider.Image, error) { return nil, errors.New("down") }

	_, err := h.gen.GenerateMockup(context.Background(), h.sess, MockupRequest{SourceAssetID: src.ID})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := len(h.sess.AssetsByType(models.AssetMockup)); n != 0 {
		t.Fatalf("mockups left = %d", n)
	}
	if Notice(err) != failureNotices[OpMockup] {
		t.Fatalf("notice = %q", Notice(err))
	}
}

func TestGenerateExtraPages(t *testing.T) {
	h := newHarness(t)
	h.plan(t)
	h.stub.text = func(req provider.StructuredRequest) (string, error) {
		if !strings.Contains(req.Task, "Moon") {
			t.Errorf("task does not list existing pages: %q", req.Task)
		}
		return `[{"name":"Nebula","description":"n","imagePrompt":"gas cloud"},
			{"name":"","imagePrompt":"skipped"},
			{"name":"Probe","description":"p","imagePrompt":"space probe"}]`, nil
	}

	added, err := h.gen.GenerateExtraPages(context.Background(), h.sess)
	if err != nil {
		t.Fatalf("GenerateExtraPages: %v", err)
	}
	if len(added) != 2 || len(h.sess.Pages()) != 8 {
		t.Fatalf("added=%d total=%d", len(added), len(h.sess.Pages()))
	}
	for _, pg := range added {
		if pg.RenderMode != models.RenderLineArt || pg.IsCover {
			t.Fatalf("extra page = %+v", pg)
		}
	}
}

func TestRegenerateConceptKeepsIDAndImage(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	id := p.Pages[3].ID
	img, _ := h.gen.GeneratePageImage(context.Background(), h.sess, id, false)
	h.stub.text = func(provider.StructuredRequest) (string, error) {
		return `{"name":"Black Hole","description":"dark","imagePrompt":"swirling black hole"}`, nil
	}

	page, err := h.gen.RegenerateConcept(context.Background(), h.sess, id)
	if err != nil {
		t.Fatalf("RegenerateConcept: %v", err)
	}
	if page.ID != id || page.Name != "Black Hole" || page.ImagePrompt != "swirling black hole" {
		t.Fatalf("page = %+v", page)
	}
	if a, ok := h.sess.Asset(id); !ok || a.Payload != img.Payload {
		t.Fatalf("image changed: %+v", a)
	}
}

func TestStructuredFailuresLeavePagesUntouched(t *testing.T) {
	responses := map[string]func(provider.StructuredRequest) (string, error){
		"transport":   func(provider.StructuredRequest) (string, error) { return "", &provider.Error{Backend: "stub", Op: "text", Status: 503, Err: errors.New("busy")} },
		"unparseable": func(provider.StructuredRequest) (string, error) { return "I would rather not.", nil },
		"null":        func(provider.StructuredRequest) (string, error) { return "null", nil },
	}
	ops := map[string]struct {
		op  Op
		run func(h *harness, pageID string) error
	}{
		"extra pages": {OpExtraPages, func(h *harness, _ string) error {
			_, err := h.gen.GenerateExtraPages(context.Background(), h.sess)
			return err
		}},
		"concept": {OpConcept, func(h *harness, pageID string) error {
			_, err := h.gen.RegenerateConcept(context.Background(), h.sess, pageID)
			return err
		}},
	}
	for opName, tc := range ops {
		for respName, resp := range responses {
			t.Run(opName+"/"+respName, func(t *testing.T) {
				h := newHarness(t)
				p := h.plan(t)
				before := h.sess.Pages()

				h.stub.text = resp
				err := tc.run(h, p.Pages[3].ID)
				var gerr *GenerationError
				if !errors.As(err, &gerr) || gerr.Op != tc.op {
					t.Fatalf("err = %v", err)
				}
				if after := h.sess.Pages(); !reflect.DeepEqual(before, after) {
					t.Fatalf("pages changed:\nbefore %+v\nafter  %+v", before, after)
				}
				if h.gen.IsGenerating(h.sess, ConceptSlot(p.Pages[3].ID)) || h.gen.IsGenerating(h.sess, SlotExtraPages) {
					t.Fatal("slot still occupied")
				}
			})
		}
	}
}

func TestGenerateIdeasAndPromote(t *testing.T) {
	h := newHarness(t)
	h.plan(t)
	h.stub.text = func(req provider.StructuredRequest) (string, error) {
		if !strings.Contains(req.Task, "10") {
			t.Errorf("count not clamped: %q", req.Task)
		}
		return `[{"title":"Robot","prompt":"friendly robot"},{"title":"Empty","prompt":" "}]`, nil
	}

	ideas, err := h.gen.GenerateIdeas(context.Background(), h.sess, IdeasRequest{Kind: models.IdeaSticker, Count: 40})
	if err != nil {
		t.Fatalf("GenerateIdeas: %v", err)
	}
	if len(ideas) != 1 || ideas[0].Title != "Robot" {
		t.Fatalf("ideas = %+v", ideas)
	}

	page, err := h.projects.PromoteIdea(h.sess, 0)
	if err != nil {
		t.Fatalf("PromoteIdea: %v", err)
	}
	if page.Name != "Robot" || page.ImagePrompt != "friendly robot" || page.Description != "Added from Prompt Generator" {
		t.Fatalf("page = %+v", page)
	}
	if len(h.sess.Ideas()) != 1 {
		t.Fatal("promoted idea removed from list")
	}

	if _, err := h.gen.GenerateIdeas(context.Background(), h.sess, IdeasRequest{Kind: "poster"}); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestGenerateWithoutProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.gen.GeneratePageImage(ctx, h.sess, "x", false); !errors.Is(err, ErrNoActiveProject) {
		t.Fatalf("image err = %v", err)
	}
	if _, err := h.gen.GenerateExtraPages(ctx, h.sess); !errors.Is(err, ErrNoActiveProject) {
		t.Fatalf("extra err = %v", err)
	}
	if _, err := h.gen.GenerateIdeas(ctx, h.sess, IdeasRequest{}); !errors.Is(err, ErrNoActiveProject) {
		t.Fatalf("ideas err = %v", err)
	}
	if text, images := h.stub.counts(); text+images != 0 {
		t.Fatalf("provider called")
	}
}

func TestDeleteProjectRestartsOpenSessions(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	if err := h.writer.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := h.projects.DeleteProject(context.Background(), p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if h.sess.Active() {
		t.Fatal("session still has deleted project")
	}
	if _, err := h.projects.LoadProject(context.Background(), h.sess, p.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("load err = %v", err)
	}
}

func TestLoadProjectRoundTrip(t *testing.T) {
	h := newHarness(t)
	p := h.plan(t)
	other := h.projects.Sessions().Get("other")

	if _, err := h.projects.LoadProject(context.Background(), other, p.ID); err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if other.ProjectID() != p.ID || len(other.Pages()) != 6 {
		t.Fatalf("loaded session = %s with %d pages", other.ProjectID(), len(other.Pages()))
	}
}

func TestSessionRegistryEvictsLeastRecentlyUsed(t *testing.T) {
	r := NewBoundedSessionRegistry(2, 0)
	a := r.Get("a")
	b := r.Get("b")
	if r.Get("a") != a {
		t.Fatal("live session replaced")
	}
	r.Get("c")
	if r.Len() != 2 {
		t.Fatalf("len = %d", r.Len())
	}
	if r.Get("a") != a {
		t.Fatal("recently used session evicted")
	}
	if r.Get("b") == b {
		t.Fatal("least recently used session kept")
	}
}

func TestSessionRegistryExpiresIdleSessions(t *testing.T) {
	r := NewBoundedSessionRegistry(0, 30*time.Millisecond)
	sess := r.Get("idle")
	sess.QuickStart()
	id := sess.ProjectID()
	time.Sleep(90 * time.Millisecond)

	if got := r.ForProject(id); len(got) != 0 {
		t.Fatalf("expired session still listed: %d", len(got))
	}
	if r.Get("idle") == sess {
		t.Fatal("idle session survived its ttl")
	}
}

func TestNotice(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrSlotBusy, "already being generated"},
		{provider.ErrMissingCredential, "not configured"},
		{&GenerationError{Op: OpImage, Err: errors.New("HTTP 500: internal secret")}, "Failed to generate image"},
		{invalid("name", "Please enter a page name."), "Please enter a page name."},
		{store.ErrPageNotFound, "no longer exists"},
	}
	for _, tc := range cases {
		got := Notice(tc.err)
		if !strings.Contains(got, tc.want) {
			t.Errorf("Notice(%v) = %q, want %q", tc.err, got, tc.want)
		}
		if strings.Contains(got, "secret") {
			t.Errorf("provider text leaked: %q", got)
		}
	}
}

func TestAccessGate(t *testing.T) {
	open := NewAccessGate(nil)
	if open.Enabled() || !open.Allow("") {
		t.Fatal("empty gate should allow everyone")
	}
	g := NewAccessGate([]string{" alpha ", "", "beta"})
	if !g.Enabled() || !g.Allow("alpha") || !g.Allow("beta ") || g.Allow("gamma") || g.Allow("") {
		t.Fatal("gate rules broken")
	}
}
