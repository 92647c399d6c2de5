package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/persistence"
	"github.com/digkill/printstudio/internal/provider"
	"github.com/digkill/printstudio/internal/repository"
	"github.com/digkill/printstudio/internal/service"
)

const planJSON = `{"projectTitle":"Garden","concept":"flowers","colorPaletteSuggestions":["green"],
"monetizationStrategies":["Etsy"],"pages":[
{"name":"Cover","description":"c","imagePrompt":"sunflower field","isCover":true},
{"name":"Tulips","description":"t","imagePrompt":"tulip rows"}]}`

type fakeProvider struct {
	mu       sync.Mutex
	imageErr error
}

func (f *fakeProvider) failImages(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageErr = err
}

func (f *fakeProvider) RequestStructuredPlan(context.Context, provider.StructuredRequest) (string, error) {
	return planJSON, nil
}

func (f *fakeProvider) RequestImage(context.Context, provider.ImageRequest) (*provider.Image, error) {
	f.mu.Lock()
	err := f.imageErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &provider.Image{Bytes: []byte("img"), MIMEType: "image/png"}, nil
}

type testServer struct {
	srv  *httptest.Server
	fake *fakeProvider
	code string
}

func newTestServer(t *testing.T, codes ...string) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := repository.NewMemoryProjectRepository()
	writer := persistence.NewWriter(repo, log)
	t.Cleanup(func() { _ = writer.Close(context.Background()) })
	genlog := repository.NewMemoryGenerationLog()
	fake := &fakeProvider{}
	projects := service.NewProjectService(log, service.NewSessionRegistry(), writer)
	gens := service.NewGenerationService(log, projects, fake, genlog, 2)
	s := NewServer(":0", log, service.NewAccessGate(codes), projects, gens, genlog)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	ts := &testServer{srv: srv, fake: fake}
	if len(codes) > 0 {
		ts.code = codes[0]
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(headerSession, "s1")
	if ts.code != "" {
		req.Header.Set(headerAccessCode, ts.code)
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func decodeInto[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestAccessCodeRequired(t *testing.T) {
	ts := newTestServer(t, "letmein")

	ts.code = ""
	if status, _ := ts.do(t, http.MethodGet, "/session", nil); status != http.StatusUnauthorized {
		t.Fatalf("status without code = %d", status)
	}
	ts.code = "wrong"
	if status, _ := ts.do(t, http.MethodGet, "/session", nil); status != http.StatusUnauthorized {
		t.Fatalf("status with wrong code = %d", status)
	}
	ts.code = "letmein"
	if status, _ := ts.do(t, http.MethodGet, "/session", nil); status != http.StatusOK {
		t.Fatalf("status with code = %d", status)
	}
	ts.code = ""
	if status, _ := ts.do(t, http.MethodGet, "/health", nil); status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	ts := newTestServer(t)
	huge := strings.Repeat("a", maxBodyBytes+1)
	status, body := ts.do(t, http.MethodPost, "/session/pages", map[string]string{"name": "Big", "imagePrompt": huge})
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d body = %s", status, body)
	}
	if status, _ := ts.do(t, http.MethodPost, "/session/plan", map[string]string{"productType": huge}); status != http.StatusRequestEntityTooLarge {
		t.Fatalf("plan status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodPost, "/session/quick-start", nil); status != http.StatusCreated {
		t.Fatalf("quick start status = %d", status)
	}
}

func TestPlanImageAndExportFlow(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/session/plan", models.WizardConfiguration{
		ProductType: "Coloring Book", Theme: "Garden",
	})
	if status != http.StatusCreated {
		t.Fatalf("plan status = %d body = %s", status, body)
	}
	project := decodeInto[models.Project](t, body)
	if len(project.Pages) != 2 || project.Wizard.PublicationSize != models.SizePortrait {
		t.Fatalf("project = %+v", project)
	}

	status, body = ts.do(t, http.MethodPost, "/session/pages/"+project.Pages[0].ID+"/image", nil)
	if status != http.StatusOK {
		t.Fatalf("image status = %d body = %s", status, body)
	}
	asset := decodeInto[models.Asset](t, body)
	if asset.ID != project.Pages[0].ID || asset.Type != models.AssetCover {
		t.Fatalf("asset = %+v", asset)
	}

	status, body = ts.do(t, http.MethodGet, "/session/export", nil)
	if status != http.StatusOK {
		t.Fatalf("export status = %d", status)
	}
	export := decodeInto[exportResponse](t, body)
	if len(export.Pages) != 1 || export.Pages[0].Page.ID != project.Pages[0].ID {
		t.Fatalf("export = %+v", export)
	}

	status, body = ts.do(t, http.MethodGet, "/projects/"+project.ID+"/generations", nil)
	if status != http.StatusOK {
		t.Fatalf("generations status = %d", status)
	}
	if logs := decodeInto[[]models.GenerationLog](t, body); len(logs) != 2 {
		t.Fatalf("generation logs = %+v", logs)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/session/pages/none/image", nil)
	if status != http.StatusConflict {
		t.Fatalf("no project status = %d", status)
	}
	if resp := decodeInto[errorResponse](t, body); resp.Error != "Start or open a project first." {
		t.Fatalf("error = %q", resp.Error)
	}

	if status, _ := ts.do(t, http.MethodPost, "/session/quick-start", nil); status != http.StatusCreated {
		t.Fatalf("quick start status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodPost, "/session/pages", addPageRequest{Name: "Only name"}); status != http.StatusBadRequest {
		t.Fatalf("add page without prompt status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodDelete, "/session/pages/missing", nil); status != http.StatusNotFound {
		t.Fatalf("delete missing page status = %d", status)
	}

	status, body = ts.do(t, http.MethodPost, "/session/pages", addPageRequest{Name: "Rose", ImagePrompt: "a rose"})
	if status != http.StatusCreated {
		t.Fatalf("add page status = %d", status)
	}
	page := decodeInto[models.Page](t, body)

	ts.fake.failImages(&provider.Error{Backend: "fake", Op: "image", Status: 500, Err: errors.New("upstream secret")})
	status, body = ts.do(t, http.MethodPost, "/session/pages/"+page.ID+"/image", nil)
	if status != http.StatusBadGateway {
		t.Fatalf("provider failure status = %d", status)
	}
	if strings.Contains(string(body), "secret") {
		t.Fatalf("provider detail leaked: %s", body)
	}
}

func TestProjectGallery(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodPost, "/session/quick-start", nil)
	if status != http.StatusCreated {
		t.Fatalf("quick start status = %d", status)
	}
	project := decodeInto[models.Project](t, body)

	status, body = ts.do(t, http.MethodGet, "/projects", nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	list := decodeInto[[]projectSummary](t, body)
	if len(list) != 1 || list[0].ID != project.ID || list[0].Title != "Untitled Creative Project" {
		t.Fatalf("list = %+v", list)
	}

	if status, _ := ts.do(t, http.MethodDelete, "/projects/"+project.ID, nil); status != http.StatusNoContent {
		t.Fatalf("delete status = %d", status)
	}
	if status, _ := ts.do(t, http.MethodPost, "/projects/"+project.ID+"/open", nil); status != http.StatusNotFound {
		t.Fatalf("open deleted status = %d", status)
	}
	status, body = ts.do(t, http.MethodGet, "/session", nil)
	if status != http.StatusOK {
		t.Fatalf("session status = %d", status)
	}
	if view := decodeInto[sessionResponse](t, body); view.Project != nil {
		t.Fatalf("session still holds deleted project")
	}
}

func TestMockupScenes(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/mockup-scenes?n=3", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if scenes := decodeInto[[]string](t, body); len(scenes) != 3 {
		t.Fatalf("scenes = %v", scenes)
	}
}
