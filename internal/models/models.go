package models

import (
	"strings"
	"time"
)

type PublicationSize string

const (
	SizeSquare    PublicationSize = "Square (12x12)"
	SizePortrait  PublicationSize = "Portrait (8.5x11)"
	SizeLandscape PublicationSize = "Landscape (11x8.5)"
	SizeCustom    PublicationSize = "Custom"
)

// AspectRatio maps a publication size onto the provider's aspect ratio tag.
func (s PublicationSize) AspectRatio() AspectRatio {
	switch s {
	case SizePortrait:
		return AspectPortrait
	case SizeLandscape:
		return AspectLandscape
	default:
		return AspectSquare
	}
}

type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectPortrait  AspectRatio = "3:4"
	AspectLandscape AspectRatio = "4:3"
	AspectWide      AspectRatio = "16:9"
	AspectTall      AspectRatio = "9:16"

	// MockupAspect is fixed regardless of the publication size.
	MockupAspect = AspectLandscape
)

type RenderMode string

const (
	RenderUnset   RenderMode = ""
	RenderColor   RenderMode = "color"
	RenderLineArt RenderMode = "line_art"
)

// ParseRenderMode accepts the wire names plus a few loose spellings.
func ParseRenderMode(raw string) (RenderMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "color", "colour", "full_color":
		return RenderColor, true
	case "line_art", "lineart", "line-art", "bw":
		return RenderLineArt, true
	case "":
		return RenderUnset, true
	default:
		return RenderUnset, false
	}
}

type AssetType string

const (
	AssetCover        AssetType = "cover"
	AssetColoringPage AssetType = "coloring_page"
	AssetSticker      AssetType = "sticker"
	AssetDivider      AssetType = "divider"
	AssetMockup       AssetType = "mockup"
)

func (t AssetType) Valid() bool {
	switch t {
	case AssetCover, AssetColoringPage, AssetSticker, AssetDivider, AssetMockup:
		return true
	}
	return false
}

// WizardConfiguration is the transient input collected before a plan exists.
type WizardConfiguration struct {
	ProductType      string          `json:"productType"`
	Theme            string          `json:"theme"`
	TargetAudience   string          `json:"targetAudience"`
	ArtStyle         string          `json:"artStyle"`
	PublicationSize  PublicationSize `json:"publicationSize"`
	CustomDimensions string          `json:"customDimensions,omitempty"`
}

// DefaultWizard mirrors the initial wizard values shown to a new user.
func DefaultWizard() WizardConfiguration {
	return WizardConfiguration{PublicationSize: SizePortrait}
}

// SizeLabel renders the publication size the way the plan task describes it.
func (w WizardConfiguration) SizeLabel() string {
	if w.PublicationSize == SizeCustom {
		dims := strings.TrimSpace(w.CustomDimensions)
		if dims == "" {
			dims = "Unspecified"
		}
		return "Custom Size: " + dims
	}
	if w.PublicationSize == "" {
		return string(SizePortrait)
	}
	return string(w.PublicationSize)
}

type Plan struct {
	Title                  string   `json:"projectTitle"`
	Concept                string   `json:"concept"`
	ColorPalette           []string `json:"colorPaletteSuggestions"`
	MonetizationStrategies []string `json:"monetizationStrategies"`
}

type Page struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ImagePrompt string     `json:"imagePrompt"`
	IsCover     bool       `json:"isCover"`
	RenderMode  RenderMode `json:"renderMode,omitempty"`
}

// ResolvedRenderMode applies the cover/interior default when no mode is set.
func (p Page) ResolvedRenderMode() RenderMode {
	if p.RenderMode != RenderUnset {
		return p.RenderMode
	}
	if p.IsCover {
		return RenderColor
	}
	return RenderLineArt
}

// AssetType is the image kind generated for this page.
func (p Page) AssetType() AssetType {
	if p.IsCover {
		return AssetCover
	}
	return AssetColoringPage
}

// Asset is a generated image record. For every type except mockup its ID is
// the owning page's ID.
type Asset struct {
	ID          string      `json:"id"`
	Prompt      string      `json:"prompt"`
	Type        AssetType   `json:"type"`
	Payload     string      `json:"url"`
	Loading     bool        `json:"loading"`
	AspectRatio AspectRatio `json:"aspectRatio,omitempty"`
}

// Ready reports whether the asset holds a finished payload.
func (a Asset) Ready() bool {
	return !a.Loading && a.Payload != ""
}

// Project is the unit of persistence: a full snapshot, overwritten on save.
type Project struct {
	ID        string              `json:"id"`
	Timestamp int64               `json:"timestamp"`
	Wizard    WizardConfiguration `json:"wizardState"`
	Plan      Plan                `json:"plan"`
	Pages     []Page              `json:"pages"`
	Assets    []Asset             `json:"images"`
}

type GeneratedIdea struct {
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

type IdeaKind string

const (
	IdeaCover   IdeaKind = "cover"
	IdeaPage    IdeaKind = "page"
	IdeaSticker IdeaKind = "sticker"
)

type GenerationOutcome string

const (
	OutcomeFulfilled  GenerationOutcome = "fulfilled"
	OutcomeRolledBack GenerationOutcome = "rolled_back"
)

// GenerationLog is one provider call recorded for auditing.
type GenerationLog struct {
	ProjectID string            `json:"projectId"`
	Slot      string            `json:"slot"`
	Kind      string            `json:"kind"`
	Prompt    string            `json:"prompt"`
	Outcome   GenerationOutcome `json:"outcome"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
