// Package directive builds the final text sent to the image model.
//
// Enhance is a pure function of its inputs: it selects exactly one style
// clause set (color or line art) plus a framing for the asset type and wraps
// the caller's free-text prompt with them. Mockups bypass the style sets and
// use a fixed product-photo framing instead.
package directive

import (
	"strings"

	"github.com/digkill/printstudio/internal/models"
)

// ColorDirectives force a full color rendering.
var ColorDirectives = []string{
	"(FULL COLOR ILLUSTRATION)",
	"(NO MONOCHROME)",
	"(NO OUTLINE-ONLY RENDERING)",
	"vibrant colors",
	"rich saturated palette",
}

// LineArtDirectives force printable black and white outlines.
var LineArtDirectives = []string{
	"(STRICT BLACK AND WHITE LINE ART)",
	"(NO GRAYSCALE)",
	"(NO SHADING)",
	"(NO COLORS)",
	"clean crisp vector lines",
	"high contrast",
}

const (
	coverFraming        = "(NO RANDOM AUTHOR NAMES), highly detailed professional book cover art"
	coverQuality        = "8k resolution"
	coloringPageFraming = "professional coloring book page, white background"
	coloringPageDetail  = "intricate details"
	stickerFraming      = "sticker sheet design, thick white die-cut border around each item, white background, organized layout"
	mockupFraming       = "Generate a high-quality, photorealistic product mockup."
	mockupReference     = "The product being shown is a coloring book or planner page. Use the supplied reference image as the printed design on the paper in the scene. Make it look like a professional product listing photo."
)

// ResolveMode applies the per-type default when mode is unset.
func ResolveMode(assetType models.AssetType, mode models.RenderMode) models.RenderMode {
	if mode == models.RenderColor || mode == models.RenderLineArt {
		return mode
	}
	switch assetType {
	case models.AssetCover, models.AssetSticker:
		return models.RenderColor
	default:
		return models.RenderLineArt
	}
}

// Enhance returns the final prompt for an image request.
func Enhance(prompt string, assetType models.AssetType, mode models.RenderMode) string {
	prompt = strings.TrimSpace(prompt)
	if assetType == models.AssetMockup {
		return MockupPrompt(prompt)
	}

	mode = ResolveMode(assetType, mode)
	style := LineArtDirectives
	if mode == models.RenderColor {
		style = ColorDirectives
	}

	var b strings.Builder
	b.WriteString(strings.Join(style, ", "))
	b.WriteString(", ")
	b.WriteString(prompt)
	b.WriteString(". ")

	tail := make([]string, 0, 3)
	switch assetType {
	case models.AssetCover:
		tail = append(tail, coverFraming)
		if mode == models.RenderColor {
			tail = append(tail, coverQuality)
		}
	case models.AssetSticker:
		tail = append(tail, stickerFraming)
	default:
		if mode == models.RenderLineArt {
			tail = append(tail, coloringPageFraming, coloringPageDetail)
		}
	}
	if len(tail) > 0 {
		b.WriteString(strings.Join(tail, ", "))
		b.WriteString(".")
	}
	return strings.TrimSpace(b.String())
}

// MockupPrompt frames a scene description as a product mockup request. The
// design itself travels as the reference image, not as text.
func MockupPrompt(scene string) string {
	scene = strings.TrimSpace(scene)
	return mockupFraming + "\nScene: " + scene + ".\n" + mockupReference
}
