// Package kie is an alternate image backend built on the KIE jobs API:
// create a task, poll its record until it settles, then download the result.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/printstudio/internal/provider"
)

const backendName = "kie"

// ReferenceUploader hosts a reference image and returns its public URL.
type ReferenceUploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type Config struct {
	BaseURL      string
	Model        string
	Resolution   string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

type Client struct {
	cfg        Config
	uploader   ReferenceUploader
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, uploader ReferenceUploader, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kie.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "nano-banana-pro"
	}
	if cfg.Resolution == "" {
		cfg.Resolution = "1K"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		uploader:   uploader,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

func (c *Client) CheckCredential() error {
	_, err := provider.ResolveCredential(provider.EnvKIEKey)
	return err
}

// RequestImage runs one image task. A reference image is uploaded first
// because the jobs API only accepts input images by URL.
func (c *Client) RequestImage(ctx context.Context, req provider.ImageRequest) (*provider.Image, error) {
	apiKey, err := provider.ResolveCredential(provider.EnvKIEKey)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"prompt":        req.Prompt,
		"aspect_ratio":  string(req.AspectRatio),
		"resolution":    c.cfg.Resolution,
		"output_format": "png",
	}
	if req.Reference != nil && len(req.Reference.Bytes) > 0 {
		if c.uploader == nil {
			return nil, &provider.Error{Backend: backendName, Op: "upload reference", Err: errors.New("no reference uploader configured")}
		}
		refURL, err := c.uploader.Upload(ctx, req.Reference.Bytes, req.Reference.MIMEType)
		if err != nil {
			return nil, &provider.Error{Backend: backendName, Op: "upload reference", Err: err}
		}
		input["image_input"] = []string{refURL}
	}

	payload := map[string]any{
		"model": c.cfg.Model,
		"input": input,
	}

	taskID, err := c.createTask(ctx, apiKey, payload)
	if err != nil {
		return nil, err
	}
	resultURL, err := c.pollTaskStatus(ctx, apiKey, taskID)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, resultURL)
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) createTask(ctx context.Context, apiKey string, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", &provider.Error{Backend: backendName, Op: "create task", Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logInfo("creating KIE task", "url", fullURL, "model", c.cfg.Model)

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := c.doJSON(req, "create task", &createResp); err != nil {
		return "", err
	}
	if createResp.Code != 200 {
		return "", &provider.Error{Backend: backendName, Op: "create task", Status: createResp.Code, Err: errors.New(createResp.Msg)}
	}
	if createResp.Data.TaskID == "" {
		return "", &provider.Error{Backend: backendName, Op: "create task", Err: errors.New("empty taskId in response")}
	}

	c.logInfo("KIE task created", "task_id", createResp.Data.TaskID)
	return createResp.Data.TaskID, nil
}

func (c *Client) pollTaskStatus(ctx context.Context, apiKey, taskID string) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return "", &provider.Error{Backend: backendName, Op: "poll task", Err: err}
	}

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return "", fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Accept", "application/json")

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := c.doJSON(req, "poll task", &statusResp); err != nil {
			return "", err
		}
		if statusResp.Code != 200 {
			return "", &provider.Error{Backend: backendName, Op: "poll task", Status: statusResp.Code, Err: errors.New(statusResp.Msg)}
		}

		switch state := statusResp.Data.State; state {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
				return "", &provider.Error{Backend: backendName, Op: "poll task", Err: fmt.Errorf("parse resultJson: %w", err)}
			}
			if len(result.ResultURLs) == 0 {
				return "", provider.ErrNoImage
			}
			c.logInfo("KIE task completed", "task_id", taskID, "attempt", attempt+1)
			return result.ResultURLs[0], nil

		case "fail":
			failMsg := statusResp.Data.FailMsg
			if failMsg == "" {
				failMsg = "unknown error"
			}
			if c.log != nil {
				c.log.Error("KIE task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", failMsg)
			}
			return "", &provider.Error{Backend: backendName, Op: "task", Err: fmt.Errorf("%s (code: %s)", failMsg, statusResp.Data.FailCode)}

		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 0 {
				c.logInfo("KIE task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", c.cfg.MaxAttempts)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.cfg.PollInterval):
			}

		default:
			return "", &provider.Error{Backend: backendName, Op: "poll task", Err: fmt.Errorf("unknown task state: %s", state)}
		}
	}

	return "", &provider.Error{Backend: backendName, Op: "poll task", Err: fmt.Errorf("task timeout after %d attempts", c.cfg.MaxAttempts)}
}

func (c *Client) download(ctx context.Context, resultURL string) (*provider.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &provider.Error{Backend: backendName, Op: "download result", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.Error{Backend: backendName, Op: "download result", Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &provider.Error{Backend: backendName, Op: "download result", Status: resp.StatusCode, Err: errors.New(truncateBody(data))}
	}
	if len(data) == 0 {
		return nil, provider.ErrNoImage
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return &provider.Image{Bytes: data, MIMEType: mime}, nil
}

func (c *Client) doJSON(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &provider.Error{Backend: backendName, Op: op, Err: err}
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &provider.Error{Backend: backendName, Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("KIE request failed", "op", op, "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return &provider.Error{Backend: backendName, Op: op, Status: resp.StatusCode, Err: errors.New(truncateBody(rawBody))}
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return &provider.Error{Backend: backendName, Op: op, Err: fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))}
	}
	return nil
}

func (c *Client) logInfo(msg string, args ...any) {
	if c.log != nil {
		c.log.Info(msg, args...)
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

var _ provider.ImageRequester = (*Client)(nil)
