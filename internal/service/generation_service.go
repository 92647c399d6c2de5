package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/digkill/printstudio/internal/directive"
	"github.com/digkill/printstudio/internal/jsonextract"
	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/provider"
	"github.com/digkill/printstudio/internal/store"
)

const (
	defaultIdeaCount = 5
	maxIdeaCount     = 10
	defaultTheme     = "General Creative"
)

type GenerationLogger interface {
	Log(ctx context.Context, entry models.GenerationLog) error
}

// GenerationService drives every provider call: it inserts placeholders,
// calls the provider, merges results by id and rolls back on failure. Each
// logical target is single-flight through the slot table.
type GenerationService struct {
	log         *slog.Logger
	projects    *ProjectService
	provider    provider.Client
	generations GenerationLogger
	slots       *SlotTable
	parallelism int
}

func NewGenerationService(log *slog.Logger, projects *ProjectService, client provider.Client, generations GenerationLogger, parallelism int) *GenerationService {
	if parallelism <= 0 {
		parallelism = 2
	}
	return &GenerationService{
		log:         log,
		projects:    projects,
		provider:    client,
		generations: generations,
		slots:       NewSlotTable(),
		parallelism: parallelism,
	}
}

// IsGenerating reports whether slot is occupied for the session.
func (s *GenerationService) IsGenerating(sess *store.Session, slot Slot) bool {
	return s.slots.State(sess.Key(), slot) != SlotIdle
}

func (s *GenerationService) SlotState(sess *store.Session, slot Slot) SlotState {
	return s.slots.State(sess.Key(), slot)
}

func (s *GenerationService) BusySlots(sess *store.Session) map[Slot]SlotState {
	return s.slots.Busy(sess.Key())
}

func (s *GenerationService) record(ctx context.Context, projectID string, slot Slot, op Op, prompt string, err error) {
	if s.generations == nil {
		return
	}
	entry := models.GenerationLog{
		ProjectID: projectID,
		Slot:      string(slot),
		Kind:      string(op),
		Prompt:    prompt,
		Outcome:   models.OutcomeFulfilled,
	}
	if err != nil {
		entry.Outcome = models.OutcomeRolledBack
		entry.Error = err.Error()
	}
	if logErr := s.generations.Log(context.WithoutCancel(ctx), entry); logErr != nil {
		s.log.Error("failed to log generation", "err", logErr, "slot", string(slot))
	}
}

type pageDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImagePrompt string `json:"imagePrompt"`
	IsCover     bool   `json:"isCover"`
}

func (d pageDraft) valid() bool {
	return strings.TrimSpace(d.Name) != "" && strings.TrimSpace(d.ImagePrompt) != ""
}

type planDraft struct {
	Title                  string      `json:"projectTitle"`
	Concept                string      `json:"concept"`
	ColorPalette           []string    `json:"colorPaletteSuggestions"`
	Pages                  []pageDraft `json:"pages"`
	MonetizationStrategies []string    `json:"monetizationStrategies"`
}

var errIncompletePlan = errors.New("response held no plan title or page list")

// decodePlan accepts a plan only when it names a title and carries a pages
// array. A JSON null or an unrelated object is a parse failure.
func decodePlan(raw string) (*planDraft, error) {
	draft, err := jsonextract.Decode[*planDraft](raw)
	if err != nil {
		return nil, err
	}
	if draft == nil || strings.TrimSpace(draft.Title) == "" || draft.Pages == nil {
		return nil, errIncompletePlan
	}
	return draft, nil
}

// FinalizePlan asks the provider for a plan and, only on success, opens a new
// project with it. On failure the session is left exactly as it was.
func (s *GenerationService) FinalizePlan(ctx context.Context, sess *store.Session, w models.WizardConfiguration) (models.Project, error) {
	if strings.TrimSpace(w.ProductType) == "" {
		return models.Project{}, invalid("product type", "Please choose a product type.")
	}
	if strings.TrimSpace(w.Theme) == "" {
		w.Theme = defaultTheme
	}
	if w.PublicationSize == "" {
		w.PublicationSize = models.SizePortrait
	}

	if err := provider.CheckTextCredential(s.provider); err != nil {
		return models.Project{}, err
	}

	if !s.slots.Acquire(sess.Key(), SlotPlan, SlotAwaitingProvider) {
		return models.Project{}, ErrSlotBusy
	}
	defer s.slots.Release(sess.Key(), SlotPlan)

	task := directive.PlanTask(w)
	raw, err := s.provider.RequestStructuredPlan(ctx, task)
	var draft *planDraft
	if err == nil {
		draft, err = decodePlan(raw)
	}
	if err != nil {
		s.record(ctx, sess.ProjectID(), SlotPlan, OpPlan, task.Task, err)
		s.log.Error("plan generation failed", "err", err, "session", sess.Key())
		return models.Project{}, &GenerationError{Op: OpPlan, Err: err}
	}

	pages := make([]models.Page, 0, len(draft.Pages))
	for _, d := range draft.Pages {
		if !d.valid() {
			continue
		}
		pages = append(pages, models.Page{Name: d.Name, Description: d.Description, ImagePrompt: d.ImagePrompt, IsCover: d.IsCover})
	}
	plan := models.Plan{
		Title:                  draft.Title,
		Concept:                draft.Concept,
		ColorPalette:           draft.ColorPalette,
		MonetizationStrategies: draft.MonetizationStrategies,
	}
	p := sess.CreateProject(w, plan, pages)
	s.projects.persist(sess)
	s.record(ctx, p.ID, SlotPlan, OpPlan, task.Task, nil)
	s.log.Info("plan generated", "project_id", p.ID, "pages", len(p.Pages), "session", sess.Key())
	return p, nil
}

// GeneratePageImage renders the image for one page. A page that already has
// a finished image returns it untouched unless force is set.
func (s *GenerationService) GeneratePageImage(ctx context.Context, sess *store.Session, pageID string, force bool) (models.Asset, error) {
	projectID := sess.ProjectID()
	if projectID == "" {
		return models.Asset{}, ErrNoActiveProject
	}
	page, ok := sess.Page(pageID)
	if !ok {
		return models.Asset{}, store.ErrPageNotFound
	}
	if strings.TrimSpace(page.ImagePrompt) == "" {
		return models.Asset{}, invalid("prompt", "This page has no image prompt.")
	}
	if prior, existed := sess.Asset(pageID); existed && prior.Ready() && !force {
		return prior, nil
	}
	if err := provider.CheckImageCredential(s.provider); err != nil {
		return models.Asset{}, err
	}

	slot := PageSlot(pageID)
	if !s.slots.Acquire(sess.Key(), slot, SlotPlaceholderInserted) {
		return models.Asset{}, ErrSlotBusy
	}
	defer s.slots.Release(sess.Key(), slot)

	// the page may have been edited or deleted while the slot was contended
	page, ok = sess.Page(pageID)
	if !ok {
		return models.Asset{}, store.ErrPageNotFound
	}
	prior, existed := sess.Asset(pageID)
	if existed && prior.Ready() && !force {
		return prior, nil
	}
	// a leftover placeholder is nothing worth restoring
	existed = existed && prior.Ready()

	assetType := page.AssetType()
	mode := directive.ResolveMode(assetType, page.RenderMode)
	aspect := sess.Wizard().PublicationSize.AspectRatio()

	if err := sess.UpsertPageAsset(models.Asset{
		ID:          pageID,
		Prompt:      page.ImagePrompt,
		Type:        assetType,
		Loading:     true,
		AspectRatio: aspect,
	}); err != nil {
		return models.Asset{}, err
	}
	s.projects.persist(sess)

	s.slots.Advance(sess.Key(), slot, SlotAwaitingProvider)
	prompt := directive.Enhance(page.ImagePrompt, assetType, mode)
	img, err := s.provider.RequestImage(ctx, provider.ImageRequest{Prompt: prompt, AspectRatio: aspect})
	if err != nil {
		s.rollbackAsset(ctx, sess, projectID, pageID, prior, existed)
		s.record(ctx, projectID, slot, OpImage, prompt, err)
		s.log.Error("page image generation failed", "err", err, "project_id", projectID, "page_id", pageID, "asset_type", string(assetType))
		return models.Asset{}, &GenerationError{Op: OpImage, Err: err}
	}

	asset, err := s.mergeAsset(ctx, sess, projectID, pageID, prior, existed, func(a *models.Asset) {
		a.Payload = img.DataURL()
		a.Loading = false
		a.Prompt = page.ImagePrompt
	})
	s.record(ctx, projectID, slot, OpImage, prompt, err)
	if err != nil {
		return models.Asset{}, err
	}
	s.log.Info("page image generated", "project_id", projectID, "page_id", pageID, "asset_type", string(assetType))
	return asset, nil
}

// mergeAsset applies a provider result to the asset with id, provided the
// session still has the same project open. A discarded result still clears
// the placeholder from the project it was started in.
func (s *GenerationService) mergeAsset(ctx context.Context, sess *store.Session, projectID, id string, prior models.Asset, existed bool, fn func(*models.Asset)) (models.Asset, error) {
	if sess.ProjectID() != projectID {
		s.projects.settleSaved(ctx, projectID, id, prior, existed)
		return models.Asset{}, ErrDiscarded
	}
	asset, err := sess.UpdateAsset(id, fn)
	if err != nil {
		return models.Asset{}, err
	}
	s.projects.persist(sess)
	return asset, nil
}

// rollbackAsset removes a fresh placeholder or restores the previous asset.
func (s *GenerationService) rollbackAsset(ctx context.Context, sess *store.Session, projectID, id string, prior models.Asset, existed bool) {
	if sess.ProjectID() != projectID {
		s.projects.settleSaved(ctx, projectID, id, prior, existed)
		return
	}
	var err error
	if existed {
		// a page deleted mid-flight must not get its asset back
		_, err = sess.UpdateAsset(id, func(a *models.Asset) {
			*a = prior
			a.Loading = false
		})
	} else {
		err = sess.DeleteAsset(id)
	}
	if err != nil && !errors.Is(err, store.ErrAssetNotFound) {
		s.log.Error("rollback placeholder", "err", err, "project_id", projectID)
	}
	s.projects.persist(sess)
}

type PageOutcome struct {
	PageID string
	Asset  models.Asset
	Err    error
}

// GenerateAllPages renders every page without a finished image, a few at a
// time. Each page still goes through its own slot.
func (s *GenerationService) GenerateAllPages(ctx context.Context, sess *store.Session) ([]PageOutcome, error) {
	if !sess.Active() {
		return nil, ErrNoActiveProject
	}
	var todo []models.Page
	for _, p := range sess.Pages() {
		if a, ok := sess.Asset(p.ID); ok && a.Ready() {
			continue
		}
		todo = append(todo, p)
	}

	outcomes := make([]PageOutcome, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, p := range todo {
		g.Go(func() error {
			asset, err := s.GeneratePageImage(gctx, sess, p.ID, false)
			outcomes[i] = PageOutcome{PageID: p.ID, Asset: asset, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

type MockupRequest struct {
	SourceAssetID string
	Scene         string
}

// GenerateMockup places a finished image into a product photo scene. The new
// asset id is minted before the provider call and never changes.
func (s *GenerationService) GenerateMockup(ctx context.Context, sess *store.Session, req MockupRequest) (models.Asset, error) {
	projectID := sess.ProjectID()
	if projectID == "" {
		return models.Asset{}, ErrNoActiveProject
	}
	src, ok := sess.Asset(req.SourceAssetID)
	if !ok {
		return models.Asset{}, invalid("source", "Please select an image.")
	}
	if !src.Ready() || src.Type == models.AssetMockup {
		return models.Asset{}, invalid("source", "Please select a finished design image.")
	}
	ref, err := provider.DecodeDataURL(src.Payload)
	if err != nil {
		return models.Asset{}, invalid("source", "The selected image cannot be used as a reference.")
	}
	scene := strings.TrimSpace(req.Scene)
	if scene == "" {
		scene = directive.DefaultScene()
	}

	if err := provider.CheckImageCredential(s.provider); err != nil {
		return models.Asset{}, err
	}

	if !s.slots.Acquire(sess.Key(), SlotMockup, SlotPlaceholderInserted) {
		return models.Asset{}, ErrSlotBusy
	}
	defer s.slots.Release(sess.Key(), SlotMockup)

	id := sess.NewID()
	sess.UpsertAsset(models.Asset{
		ID:          id,
		Prompt:      "Mockup: " + scene,
		Type:        models.AssetMockup,
		Loading:     true,
		AspectRatio: models.MockupAspect,
	})
	s.projects.persist(sess)

	s.slots.Advance(sess.Key(), SlotMockup, SlotAwaitingProvider)
	prompt := directive.Enhance(scene, models.AssetMockup, models.RenderUnset)
	img, err := s.provider.RequestImage(ctx, provider.ImageRequest{
		Prompt:      prompt,
		AspectRatio: models.MockupAspect,
		Reference:   ref,
	})
	if err != nil {
		s.rollbackAsset(ctx, sess, projectID, id, models.Asset{}, false)
		s.record(ctx, projectID, SlotMockup, OpMockup, prompt, err)
		s.log.Error("mockup generation failed", "err", err, "project_id", projectID)
		return models.Asset{}, &GenerationError{Op: OpMockup, Err: err}
	}

	asset, err := s.mergeAsset(ctx, sess, projectID, id, models.Asset{}, false, func(a *models.Asset) {
		a.Payload = img.DataURL()
		a.Loading = false
	})
	s.record(ctx, projectID, SlotMockup, OpMockup, prompt, err)
	if err != nil {
		return models.Asset{}, err
	}
	return asset, nil
}

// GenerateExtraPages appends a few new pages that fit the plan.
func (s *GenerationService) GenerateExtraPages(ctx context.Context, sess *store.Session) ([]models.Page, error) {
	projectID := sess.ProjectID()
	plan, err := sess.Plan()
	if err != nil {
		return nil, err
	}

	if err := provider.CheckTextCredential(s.provider); err != nil {
		return nil, err
	}

	if !s.slots.Acquire(sess.Key(), SlotExtraPages, SlotAwaitingProvider) {
		return nil, ErrSlotBusy
	}
	defer s.slots.Release(sess.Key(), SlotExtraPages)

	task := directive.ExtraPagesTask(plan, sess.PageNames())
	drafts, err := requestStructured[[]pageDraft](ctx, s.provider, task)
	if err != nil {
		s.record(ctx, projectID, SlotExtraPages, OpExtraPages, task.Task, err)
		return nil, &GenerationError{Op: OpExtraPages, Err: err}
	}
	if sess.ProjectID() != projectID {
		return nil, ErrDiscarded
	}

	added := make([]models.Page, 0, len(drafts))
	for _, d := range drafts {
		if !d.valid() {
			continue
		}
		page, err := sess.AddPage(models.Page{
			Name:        d.Name,
			Description: d.Description,
			ImagePrompt: d.ImagePrompt,
			RenderMode:  models.RenderLineArt,
		})
		if err != nil {
			return added, err
		}
		added = append(added, page)
	}
	if len(added) == 0 {
		err := errors.New("response held no usable pages")
		s.record(ctx, projectID, SlotExtraPages, OpExtraPages, task.Task, err)
		return nil, &GenerationError{Op: OpExtraPages, Err: err}
	}
	s.projects.persist(sess)
	s.record(ctx, projectID, SlotExtraPages, OpExtraPages, task.Task, nil)
	return added, nil
}

// RegenerateConcept replaces a page's name, description and prompt with a
// fresh idea. The page keeps its id and its image.
func (s *GenerationService) RegenerateConcept(ctx context.Context, sess *store.Session, pageID string) (models.Page, error) {
	projectID := sess.ProjectID()
	plan, err := sess.Plan()
	if err != nil {
		return models.Page{}, err
	}
	page, ok := sess.Page(pageID)
	if !ok {
		return models.Page{}, store.ErrPageNotFound
	}

	if err := provider.CheckTextCredential(s.provider); err != nil {
		return models.Page{}, err
	}

	slot := ConceptSlot(pageID)
	if !s.slots.Acquire(sess.Key(), slot, SlotAwaitingProvider) {
		return models.Page{}, ErrSlotBusy
	}
	defer s.slots.Release(sess.Key(), slot)

	task := directive.ConceptTask(plan, page.Name)
	d, err := requestStructured[pageDraft](ctx, s.provider, task)
	if err == nil && !d.valid() {
		err = errors.New("response held no usable page")
	}
	if err != nil {
		s.record(ctx, projectID, slot, OpConcept, task.Task, err)
		return models.Page{}, &GenerationError{Op: OpConcept, Err: err}
	}
	if sess.ProjectID() != projectID {
		return models.Page{}, ErrDiscarded
	}

	updated, err := s.projects.EditPage(sess, pageID, store.PagePatch{
		Name:        &d.Name,
		Description: &d.Description,
		ImagePrompt: &d.ImagePrompt,
	})
	s.record(ctx, projectID, slot, OpConcept, task.Task, err)
	if err != nil {
		return models.Page{}, err
	}
	return updated, nil
}

type IdeasRequest struct {
	Kind         models.IdeaKind
	Style        models.RenderMode
	Instructions string
	Count        int
}

// GenerateIdeas replaces the session's idea list. The previous list is
// cleared as soon as the request starts.
func (s *GenerationService) GenerateIdeas(ctx context.Context, sess *store.Session, req IdeasRequest) ([]models.GeneratedIdea, error) {
	projectID := sess.ProjectID()
	plan, err := sess.Plan()
	if err != nil {
		return nil, err
	}
	switch req.Kind {
	case models.IdeaCover, models.IdeaPage, models.IdeaSticker:
	case "":
		req.Kind = models.IdeaPage
	default:
		return nil, invalid("kind", "Choose cover, page or sticker.")
	}
	switch {
	case req.Count <= 0:
		req.Count = defaultIdeaCount
	case req.Count > maxIdeaCount:
		req.Count = maxIdeaCount
	}
	if req.Style == models.RenderUnset {
		req.Style = models.RenderColor
	}

	if err := provider.CheckTextCredential(s.provider); err != nil {
		return nil, err
	}

	if !s.slots.Acquire(sess.Key(), SlotIdeas, SlotAwaitingProvider) {
		return nil, ErrSlotBusy
	}
	defer s.slots.Release(sess.Key(), SlotIdeas)

	sess.SetIdeas(nil)
	task := directive.IdeasTask(plan, req.Kind, req.Style, req.Instructions, req.Count)
	ideas, err := requestStructured[[]models.GeneratedIdea](ctx, s.provider, task)
	if err != nil {
		s.record(ctx, projectID, SlotIdeas, OpIdeas, task.Task, err)
		return nil, &GenerationError{Op: OpIdeas, Err: err}
	}

	kept := ideas[:0]
	for _, idea := range ideas {
		if strings.TrimSpace(idea.Prompt) != "" {
			kept = append(kept, idea)
		}
	}
	if sess.ProjectID() != projectID {
		return nil, ErrDiscarded
	}
	sess.SetIdeas(kept)
	s.record(ctx, projectID, SlotIdeas, OpIdeas, task.Task, nil)
	return sess.Ideas(), nil
}

func requestStructured[T any](ctx context.Context, p provider.PlanRequester, task provider.StructuredRequest) (T, error) {
	var zero T
	raw, err := p.RequestStructuredPlan(ctx, task)
	if err != nil {
		return zero, err
	}
	return jsonextract.Decode[T](raw)
}
