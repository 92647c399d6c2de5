package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/"}, nil), &hits
}

func TestMissingCredentialMakesNoRequest(t *testing.T) {
	t.Setenv(provider.EnvGeminiKey, "")
	t.Setenv(provider.EnvFallbackKey, "")
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, err := c.RequestStructuredPlan(context.Background(), provider.StructuredRequest{Task: "x"}); !errors.Is(err, provider.ErrMissingCredential) {
		t.Fatalf("plan err = %v", err)
	}
	if _, err := c.RequestImage(context.Background(), provider.ImageRequest{Prompt: "x"}); !errors.Is(err, provider.ErrMissingCredential) {
		t.Fatalf("image err = %v", err)
	}
	if err := c.CheckCredential(); !errors.Is(err, provider.ErrMissingCredential) {
		t.Fatalf("check err = %v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Fatalf("server was called %d times", *hits)
	}

	t.Setenv(provider.EnvFallbackKey, "key")
	if err := c.CheckCredential(); err != nil {
		t.Fatalf("check with fallback key: %v", err)
	}
}

func TestRequestStructuredPlanSendsSchema(t *testing.T) {
	t.Setenv(provider.EnvGeminiKey, "k")
	var body map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		if !strings.Contains(r.URL.Path, "gemini-3-flash-preview") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"projectTitle\":\"T\"}"}]}}]}`)
	})

	text, err := c.RequestStructuredPlan(context.Background(), provider.StructuredRequest{
		Task:  "make a plan",
		Shape: &provider.Shape{Kind: provider.KindObject, Properties: map[string]*provider.Shape{"projectTitle": {Kind: provider.KindString}}},
	})
	if err != nil {
		t.Fatalf("RequestStructuredPlan: %v", err)
	}
	if text != `{"projectTitle":"T"}` {
		t.Fatalf("text = %q", text)
	}
	gen, _ := body["generationConfig"].(map[string]any)
	if gen["responseMimeType"] != "application/json" || gen["responseSchema"] == nil {
		t.Fatalf("generation config = %v", gen)
	}
}

func TestRequestImageDecodesInlineData(t *testing.T) {
	t.Setenv(provider.EnvGeminiKey, "k")
	png := []byte{0x89, 'P', 'N', 'G'}
	var body map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		resp := `{"candidates":[{"content":{"role":"model","parts":[{"text":"here"},{"inlineData":{"mimeType":"image/png","data":"` +
			base64.StdEncoding.EncodeToString(png) + `"}}]}}]}`
		_, _ = io.WriteString(w, resp)
	})

	img, err := c.RequestImage(context.Background(), provider.ImageRequest{
		Prompt:      "cat",
		AspectRatio: models.AspectPortrait,
		Reference:   &provider.Image{Bytes: []byte("ref"), MIMEType: "image/png"},
	})
	if err != nil {
		t.Fatalf("RequestImage: %v", err)
	}
	if img.MIMEType != "image/png" || string(img.Bytes) != string(png) {
		t.Fatalf("image = %+v", img)
	}
	gen, _ := body["generationConfig"].(map[string]any)
	imgCfg, _ := gen["imageConfig"].(map[string]any)
	if imgCfg["aspectRatio"] != "3:4" {
		t.Fatalf("image config = %v", gen)
	}
	contents, _ := body["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("contents = %v", body["contents"])
	}
	parts, _ := contents[0].(map[string]any)["parts"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected reference + text parts, got %d", len(parts))
	}
}

func TestRequestImageWithoutImage(t *testing.T) {
	t.Setenv(provider.EnvGeminiKey, "k")
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"I cannot draw that"}]}}]}`)
	})
	if _, err := c.RequestImage(context.Background(), provider.ImageRequest{Prompt: "x"}); !errors.Is(err, provider.ErrNoImage) {
		t.Fatalf("err = %v, want ErrNoImage", err)
	}
}

func TestTransportFailureIsProviderError(t *testing.T) {
	t.Setenv(provider.EnvGeminiKey, "k")
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`)
	})
	_, err := c.RequestStructuredPlan(context.Background(), provider.StructuredRequest{Task: "x"})
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("err = %T %v, want *provider.Error", err, err)
	}
	if pe.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d", pe.Status)
	}
}
