// Package api exposes the studio session over a JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/provider"
	"github.com/digkill/printstudio/internal/repository"
	"github.com/digkill/printstudio/internal/service"
	"github.com/digkill/printstudio/internal/store"
)

const (
	headerAccessCode = "X-Access-Code"
	headerSession    = "X-Session-ID"

	maxBodyBytes = 1 << 20
)

type History interface {
	Recent(ctx context.Context, projectID string, limit int) ([]models.GenerationLog, error)
}

type Server struct {
	addr        string
	log         *slog.Logger
	gate        *service.AccessGate
	projects    *service.ProjectService
	generations *service.GenerationService
	history     History
	router      *chi.Mux
}

func NewServer(addr string, log *slog.Logger, gate *service.AccessGate, projects *service.ProjectService, generations *service.GenerationService, history History) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxBodyBytes))

	s := &Server{
		addr:        addr,
		log:         log,
		gate:        gate,
		projects:    projects,
		generations: generations,
		history:     history,
		router:      r,
	}
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Group(func(protected chi.Router) {
		protected.Use(s.accessMiddleware())
		protected.Get("/mockup-scenes", s.handleMockupScenes)
		protected.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Put("/wizard", s.handleSetWizard)
			r.Post("/plan", s.handleFinalizePlan)
			r.Patch("/plan", s.handleUpdatePlan)
			r.Post("/quick-start", s.handleQuickStart)
			r.Post("/restart", s.handleRestart)
			r.Get("/export", s.handleExport)

			r.Route("/pages", func(r chi.Router) {
				r.Post("/", s.handleAddPage)
				r.Post("/extra", s.handleExtraPages)
				r.Post("/generate-all", s.handleGenerateAll)
				r.Patch("/{id}", s.handleEditPage)
				r.Delete("/{id}", s.handleDeletePage)
				r.Put("/{id}/mode", s.handleSetRenderMode)
				r.Post("/{id}/image", s.handleGenerateImage)
				r.Post("/{id}/concept", s.handleRegenerateConcept)
			})
			r.Delete("/assets/{id}", s.handleDeleteAsset)
			r.Post("/mockups", s.handleGenerateMockup)

			r.Route("/ideas", func(r chi.Router) {
				r.Get("/", s.handleListIdeas)
				r.Post("/", s.handleGenerateIdeas)
				r.Put("/{index}", s.handleEditIdea)
				r.Delete("/{index}", s.handleDeleteIdea)
				r.Post("/{index}/promote", s.handlePromoteIdea)
			})
		})
		protected.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/{id}/open", s.handleOpenProject)
			r.Delete("/{id}", s.handleDeleteProject)
			r.Get("/{id}/generations", s.handleProjectGenerations)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// image generation can take well over a minute
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) accessMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.gate.Allow(r.Header.Get(headerAccessCode)) {
				s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "A valid access code is required."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) session(r *http.Request) *store.Session {
	return s.projects.Sessions().Get(r.Header.Get(headerSession))
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a service error to a status code. The body always carries
// the user-facing notice rather than the raw error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var verr *service.ValidationError
	var perr *provider.Error
	var gerr *service.GenerationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrSlotBusy), errors.Is(err, service.ErrDiscarded):
		status = http.StatusConflict
	case errors.Is(err, service.ErrNoActiveProject):
		status = http.StatusConflict
	case errors.Is(err, store.ErrPageNotFound), errors.Is(err, store.ErrAssetNotFound),
		errors.Is(err, store.ErrIdeaNotFound), errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, provider.ErrMissingCredential):
		status = http.StatusServiceUnavailable
	case errors.As(err, &perr), errors.As(err, &gerr):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("api handler error", "err", err)
	}
	s.writeJSON(w, status, errorResponse{Error: service.Notice(err)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeDecodeError(w, err)
		return false
	}
	return true
}

func (s *Server) writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
}
