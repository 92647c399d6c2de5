// Package gemini implements the provider contract on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	genai "google.golang.org/genai"

	"github.com/digkill/printstudio/internal/provider"
)

const backendName = "gemini"

type Config struct {
	TextModel  string
	ImageModel string
	Timeout    time.Duration
	// BaseURL overrides the API endpoint; empty means the public endpoint.
	BaseURL string
}

// Client is safe for concurrent use. The underlying genai client is rebuilt
// whenever the credential in the environment changes.
type Client struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	cli    *genai.Client
	cliKey string
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.TextModel == "" {
		cfg.TextModel = "gemini-3-flash-preview"
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "gemini-2.5-flash-image"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Client{cfg: cfg, log: log}
}

// CheckCredential reports whether a Gemini key is present in the environment.
func (c *Client) CheckCredential() error {
	_, err := provider.ResolveCredential(provider.EnvGeminiKey, provider.EnvFallbackKey)
	return err
}

func (c *Client) client(ctx context.Context) (*genai.Client, error) {
	key, err := provider.ResolveCredential(provider.EnvGeminiKey, provider.EnvFallbackKey)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli != nil && c.cliKey == key {
		return c.cli, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: c.cfg.Timeout},
	}
	if c.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.cfg.BaseURL}
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &provider.Error{Backend: backendName, Op: "new client", Err: err}
	}
	c.cli, c.cliKey = cli, key
	return cli, nil
}

// RequestStructuredPlan sends the task with a JSON response schema and returns
// the raw text. The text is not guaranteed to honour the schema.
func (c *Client) RequestStructuredPlan(ctx context.Context, req provider.StructuredRequest) (string, error) {
	cli, err := c.client(ctx)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if req.Shape != nil {
		cfg.ResponseSchema = toSchema(req.Shape)
	}
	resp, err := cli.Models.GenerateContent(ctx, c.cfg.TextModel, genai.Text(req.Task), cfg)
	if err != nil {
		return "", wrapErr("generate plan", err)
	}
	text := resp.Text()
	if c.log != nil {
		c.log.Debug("gemini structured response", "model", c.cfg.TextModel, "chars", len(text))
	}
	return text, nil
}

// RequestImage asks the image model for one picture. A reference image, when
// present, is sent ahead of the prompt text.
func (c *Client) RequestImage(ctx context.Context, req provider.ImageRequest) (*provider.Image, error) {
	cli, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	parts := make([]*genai.Part, 0, 2)
	if req.Reference != nil && len(req.Reference.Bytes) > 0 {
		mime := req.Reference.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Reference.Bytes, mime))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	if req.AspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: string(req.AspectRatio)}
	}

	resp, err := cli.Models.GenerateContent(ctx, c.cfg.ImageModel, contents, cfg)
	if err != nil {
		return nil, wrapErr("generate image", err)
	}
	img := firstInlineImage(resp)
	if img == nil {
		return nil, provider.ErrNoImage
	}
	if c.log != nil {
		c.log.Debug("gemini image received", "model", c.cfg.ImageModel, "mime", img.MIMEType, "bytes", len(img.Bytes))
	}
	return img, nil
}

func firstInlineImage(resp *genai.GenerateContentResponse) *provider.Image {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		return &provider.Image{Bytes: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}
	}
	return nil
}

func wrapErr(op string, err error) error {
	pe := &provider.Error{Backend: backendName, Op: op, Err: err}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		pe.Status = apiErr.Code
	}
	return pe
}

func toSchema(s *provider.Shape) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{Description: s.Description}
	switch s.Kind {
	case provider.KindObject:
		out.Type = genai.TypeObject
	case provider.KindArray:
		out.Type = genai.TypeArray
	case provider.KindBoolean:
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}
	if s.Items != nil {
		out.Items = toSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toSchema(prop)
		}
	}
	if len(s.Required) > 0 {
		out.Required = append([]string(nil), s.Required...)
	}
	return out
}

var _ provider.Client = (*Client)(nil)

func (c *Client) String() string {
	return fmt.Sprintf("gemini(text=%s, image=%s)", c.cfg.TextModel, c.cfg.ImageModel)
}
