package api

import (
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/printstudio/internal/directive"
	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/service"
	"github.com/digkill/printstudio/internal/store"
)

type sessionResponse struct {
	Wizard  models.WizardConfiguration `json:"wizardState"`
	Project *models.Project            `json:"project"`
	Ideas   []models.GeneratedIdea     `json:"ideas"`
	Busy    map[string]string          `json:"generating"`
}

func (s *Server) sessionView(sess *store.Session) sessionResponse {
	resp := sessionResponse{
		Wizard: sess.Wizard(),
		Ideas:  sess.Ideas(),
		Busy:   map[string]string{},
	}
	if p, ok := sess.Snapshot(); ok {
		resp.Project = &p
	}
	for slot, state := range s.generations.BusySlots(sess) {
		resp.Busy[string(slot)] = state.String()
	}
	return resp
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sessionView(s.session(r)))
}

func (s *Server) handleSetWizard(w http.ResponseWriter, r *http.Request) {
	var req models.WizardConfiguration
	if !s.decode(w, r, &req) {
		return
	}
	sess := s.session(r)
	s.projects.SetWizard(sess, req)
	s.writeJSON(w, http.StatusOK, sess.Wizard())
}

// handleFinalizePlan takes wizard answers in the body, or falls back to the
// session's stored wizard when the body is empty.
func (s *Server) handleFinalizePlan(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	wizard := sess.Wizard()
	if err := decodeOptional(r, &wizard); err != nil {
		s.writeDecodeError(w, err)
		return
	}
	p, err := s.generations.FinalizePlan(r.Context(), sess, wizard)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

type planPatchRequest struct {
	Title   *string `json:"projectTitle"`
	Concept *string `json:"concept"`
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req planPatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	plan, err := s.projects.UpdatePlan(s.session(r), store.PlanPatch{Title: req.Title, Concept: req.Concept})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleQuickStart(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusCreated, s.projects.QuickStart(s.session(r)))
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.projects.Restart(s.session(r))
	w.WriteHeader(http.StatusNoContent)
}

type exportPage struct {
	Page  models.Page  `json:"page"`
	Asset models.Asset `json:"image"`
}

type exportResponse struct {
	Plan            models.Plan            `json:"plan"`
	PublicationSize models.PublicationSize `json:"publicationSize"`
	Pages           []exportPage           `json:"pages"`
	Mockups         []models.Asset         `json:"mockups"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	view, err := sess.ExportView()
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := exportResponse{
		Plan:            view.Plan,
		PublicationSize: view.PublicationSize,
		Pages:           []exportPage{},
		Mockups:         []models.Asset{},
	}
	for _, rp := range view.ReadyPages() {
		resp.Pages = append(resp.Pages, exportPage{Page: rp.Page, Asset: rp.Asset})
	}
	for _, a := range view.Assets {
		if a.Type == models.AssetMockup && a.Ready() {
			resp.Mockups = append(resp.Mockups, a)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type addPageRequest struct {
	Name        string `json:"name"`
	ImagePrompt string `json:"imagePrompt"`
}

func (s *Server) handleAddPage(w http.ResponseWriter, r *http.Request) {
	var req addPageRequest
	if !s.decode(w, r, &req) {
		return
	}
	page, err := s.projects.AddPage(s.session(r), req.Name, req.ImagePrompt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, page)
}

type pagePatchRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ImagePrompt *string `json:"imagePrompt"`
}

func (s *Server) handleEditPage(w http.ResponseWriter, r *http.Request) {
	var req pagePatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	page, err := s.projects.EditPage(s.session(r), chi.URLParam(r, "id"), store.PagePatch{
		Name:        req.Name,
		Description: req.Description,
		ImagePrompt: req.ImagePrompt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

type renderModeRequest struct {
	Mode string `json:"renderMode"`
}

func (s *Server) handleSetRenderMode(w http.ResponseWriter, r *http.Request) {
	var req renderModeRequest
	if !s.decode(w, r, &req) {
		return
	}
	mode, _ := models.ParseRenderMode(req.Mode)
	page, err := s.projects.SetRenderMode(s.session(r), chi.URLParam(r, "id"), mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.DeletePage(s.session(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	asset, err := s.generations.GeneratePageImage(r.Context(), s.session(r), chi.URLParam(r, "id"), force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, asset)
}

type pageOutcomeResponse struct {
	PageID string        `json:"pageId"`
	Image  *models.Asset `json:"image,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (s *Server) handleGenerateAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.generations.GenerateAllPages(r.Context(), s.session(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := make([]pageOutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		item := pageOutcomeResponse{PageID: o.PageID}
		if o.Err != nil {
			item.Error = service.Notice(o.Err)
		} else {
			asset := o.Asset
			item.Image = &asset
		}
		resp = append(resp, item)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegenerateConcept(w http.ResponseWriter, r *http.Request) {
	page, err := s.generations.RegenerateConcept(r.Context(), s.session(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleExtraPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.generations.GenerateExtraPages(r.Context(), s.session(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pages)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.DeleteAsset(s.session(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mockupRequest struct {
	SourceAssetID string `json:"sourceImageId"`
	Scene         string `json:"scene"`
}

func (s *Server) handleGenerateMockup(w http.ResponseWriter, r *http.Request) {
	var req mockupRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, err := s.generations.GenerateMockup(r.Context(), s.session(r), service.MockupRequest{
		SourceAssetID: req.SourceAssetID,
		Scene:         req.Scene,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleMockupScenes(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil || n <= 0 {
		n = 4
	}
	s.writeJSON(w, http.StatusOK, directive.SuggestScenes(n, rand.Perm))
}

func (s *Server) handleListIdeas(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session(r).Ideas())
}

type ideasRequest struct {
	Kind         models.IdeaKind `json:"kind"`
	Style        string          `json:"style"`
	Instructions string          `json:"instructions"`
	Count        int             `json:"count"`
}

func (s *Server) handleGenerateIdeas(w http.ResponseWriter, r *http.Request) {
	var req ideasRequest
	if !s.decode(w, r, &req) {
		return
	}
	style, ok := models.ParseRenderMode(req.Style)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Choose color or line art."})
		return
	}
	ideas, err := s.generations.GenerateIdeas(r.Context(), s.session(r), service.IdeasRequest{
		Kind:         req.Kind,
		Style:        style,
		Instructions: req.Instructions,
		Count:        req.Count,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ideas)
}

func (s *Server) ideaIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || i < 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid idea index"})
		return 0, false
	}
	return i, true
}

func (s *Server) handleEditIdea(w http.ResponseWriter, r *http.Request) {
	i, ok := s.ideaIndex(w, r)
	if !ok {
		return
	}
	var req models.GeneratedIdea
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.projects.EditIdea(s.session(r), i, req); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDeleteIdea(w http.ResponseWriter, r *http.Request) {
	i, ok := s.ideaIndex(w, r)
	if !ok {
		return
	}
	if err := s.projects.DeleteIdea(s.session(r), i); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePromoteIdea(w http.ResponseWriter, r *http.Request) {
	i, ok := s.ideaIndex(w, r)
	if !ok {
		return
	}
	page, err := s.projects.PromoteIdea(s.session(r), i)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, page)
}

type projectSummary struct {
	ID        string `json:"id"`
	Title     string `json:"projectTitle"`
	Timestamp int64  `json:"timestamp"`
	Pages     int    `json:"pages"`
	Images    int    `json:"images"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := make([]projectSummary, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, projectSummary{
			ID:        p.ID,
			Title:     p.Plan.Title,
			Timestamp: p.Timestamp,
			Pages:     len(p.Pages),
			Images:    len(p.Assets),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.LoadProject(r.Context(), s.session(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProjectGenerations(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, []models.GenerationLog{})
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	logs, err := s.history.Recent(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []models.GenerationLog{}
	}
	s.writeJSON(w, http.StatusOK, logs)
}

// decodeOptional decodes the body into v, treating an empty body as no-op.
func decodeOptional(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil
	}
	return json.Unmarshal(body, v)
}
