// Package provider defines the contract with the external generative backend:
// a structured text request and an image request, plus the error taxonomy
// shared by every backend implementation.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/digkill/printstudio/internal/models"
)

// Credential environment variables. They are read on every call, never cached.
const (
	EnvGeminiKey   = "GEMINI_API_KEY"
	EnvFallbackKey = "API_KEY"
	EnvKIEKey      = "KIE_API_KEY"
)

var (
	// ErrMissingCredential is raised before any network attempt.
	ErrMissingCredential = errors.New("provider: credential not configured")
	// ErrNoImage means the call succeeded but carried no usable image.
	ErrNoImage = errors.New("provider: no image data in response")
)

// Error wraps a transport, auth or status failure from a backend.
type Error struct {
	Backend string
	Op      string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Backend, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ResolveCredential returns the first non-empty variable among names.
func ResolveCredential(names ...string) (string, error) {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: set %s", ErrMissingCredential, strings.Join(names, " or "))
}

type Kind string

const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindBoolean Kind = "boolean"
)

// Shape is a backend-neutral description of the JSON the task expects back.
type Shape struct {
	Kind        Kind
	Description string
	Properties  map[string]*Shape
	Items       *Shape
	Required    []string
}

type StructuredRequest struct {
	Task  string
	Shape *Shape
}

type Image struct {
	Bytes    []byte
	MIMEType string
}

// DataURL encodes the image the way assets store their payload.
func (i *Image) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Bytes)
}

// DecodeDataURL parses a base64 data URL back into raw bytes.
func DecodeDataURL(raw string) (*Image, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return nil, errors.New("decode data url: missing data: prefix")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("decode data url: missing payload separator")
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, errors.New("decode data url: payload is not base64")
	}
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}
	return &Image{Bytes: b, MIMEType: mime}, nil
}

type ImageRequest struct {
	Prompt      string
	AspectRatio models.AspectRatio
	Reference   *Image
}

type PlanRequester interface {
	RequestStructuredPlan(ctx context.Context, req StructuredRequest) (string, error)
}

type ImageRequester interface {
	RequestImage(ctx context.Context, req ImageRequest) (*Image, error)
}

// Client is everything the orchestrator needs from a backend.
type Client interface {
	PlanRequester
	ImageRequester
}

// CredentialChecker is implemented by backends that can tell without a
// network call whether their credential is configured.
type CredentialChecker interface {
	CheckCredential() error
}

// CheckTextCredential reports ErrMissingCredential when the backend serving
// structured requests has no credential. Backends that cannot tell pass.
func CheckTextCredential(c PlanRequester) error {
	if r, ok := c.(*Router); ok {
		return checkCredential(r.text)
	}
	return checkCredential(c)
}

// CheckImageCredential is CheckTextCredential for the image backend.
func CheckImageCredential(c ImageRequester) error {
	if r, ok := c.(*Router); ok {
		return checkCredential(r.images)
	}
	return checkCredential(c)
}

func checkCredential(backend any) error {
	if c, ok := backend.(CredentialChecker); ok {
		return c.CheckCredential()
	}
	return nil
}

// Router sends text tasks and image tasks to possibly different backends.
type Router struct {
	text   PlanRequester
	images ImageRequester
}

func NewRouter(text PlanRequester, images ImageRequester) *Router {
	return &Router{text: text, images: images}
}

func (r *Router) RequestStructuredPlan(ctx context.Context, req StructuredRequest) (string, error) {
	return r.text.RequestStructuredPlan(ctx, req)
}

func (r *Router) RequestImage(ctx context.Context, req ImageRequest) (*Image, error) {
	return r.images.RequestImage(ctx, req)
}
