package directive

import (
	"fmt"
	"strings"

	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/provider"
)

var (
	str     = &provider.Shape{Kind: provider.KindString}
	strList = &provider.Shape{Kind: provider.KindArray, Items: str}

	pageShape = &provider.Shape{
		Kind: provider.KindObject,
		Properties: map[string]*provider.Shape{
			"name":        str,
			"description": str,
			"imagePrompt": str,
			"isCover":     {Kind: provider.KindBoolean, Description: "True if this is the main cover"},
		},
		Required: []string{"name", "description", "imagePrompt"},
	}

	// PlanShape is the declared output of the plan task.
	PlanShape = &provider.Shape{
		Kind: provider.KindObject,
		Properties: map[string]*provider.Shape{
			"projectTitle":            str,
			"concept":                 str,
			"colorPaletteSuggestions": strList,
			"pages":                   {Kind: provider.KindArray, Items: pageShape},
			"monetizationStrategies":  strList,
		},
		Required: []string{"projectTitle", "concept", "pages", "monetizationStrategies"},
	}

	PagesShape = &provider.Shape{Kind: provider.KindArray, Items: pageShape}
	PageShape  = pageShape

	IdeasShape = &provider.Shape{
		Kind: provider.KindArray,
		Items: &provider.Shape{
			Kind:       provider.KindObject,
			Properties: map[string]*provider.Shape{"title": str, "prompt": str},
			Required:   []string{"title", "prompt"},
		},
	}
)

// ExtraPageCount is how many pages one "add more pages" call asks for.
const ExtraPageCount = 3

// PlanTask asks for a full creative plan from the wizard answers.
func PlanTask(w models.WizardConfiguration) provider.StructuredRequest {
	var b strings.Builder
	b.WriteString("Act as a professional creative director for a publishing company.\n")
	fmt.Fprintf(&b, "Create a detailed project plan for a %q centered around the theme %q.\n", w.ProductType, w.Theme)
	fmt.Fprintf(&b, "It is designed for %q and uses a %q art style. The publication format is %q.\n", w.TargetAudience, w.ArtStyle, w.SizeLabel())
	b.WriteString("The plan must include:\n")
	b.WriteString("1. A catchy project title.\n")
	fmt.Fprintf(&b, "2. A high-level concept description built around %q.\n", w.Theme)
	b.WriteString("3. 3-5 descriptive color palette suggestions.\n")
	b.WriteString("4. 5-8 specific pages or sections (for example Cover, Daily Spread, Habit Tracker). Give each page a detailed image generation prompt. Mark exactly one page as the cover.\n")
	b.WriteString("5. 3 monetization strategies.\n")
	return provider.StructuredRequest{Task: b.String(), Shape: PlanShape}
}

// ExtraPagesTask asks for new pages that do not duplicate existing ones.
func ExtraPagesTask(plan models.Plan, existing []string) provider.StructuredRequest {
	names := "none"
	if len(existing) > 0 {
		names = strings.Join(existing, ", ")
	}
	task := fmt.Sprintf("Context: creating %q.\nConcept: %s\nExisting pages: %s.\n"+
		"Task: create %d new, unique page ideas that fit the project theme and do not duplicate existing pages. "+
		"Provide a name, description and detailed image prompt for each.",
		plan.Title, plan.Concept, names, ExtraPageCount)
	return provider.StructuredRequest{Task: task, Shape: PagesShape}
}

// ConceptTask asks for a fresh take on one page.
func ConceptTask(plan models.Plan, currentName string) provider.StructuredRequest {
	task := fmt.Sprintf("Context: creating %q.\n"+
		"Task: provide a fresh alternative concept for a page similar to %q, or a new idea that fits the theme well. "+
		"Return a single page object with name, description and imagePrompt.",
		plan.Title, currentName)
	return provider.StructuredRequest{Task: task, Shape: PageShape}
}

// IdeasTask asks for count standalone prompts of the given kind.
func IdeasTask(plan models.Plan, kind models.IdeaKind, mode models.RenderMode, instructions string, count int) provider.StructuredRequest {
	var base string
	switch kind {
	case models.IdeaCover:
		base = "Create prompts for FULL COLOR book covers. Vibrant, eye-catching. NO TEXT, NO AUTHOR NAMES on the art."
	case models.IdeaSticker:
		if mode == models.RenderLineArt {
			base = "Create prompts for BLACK AND WHITE LINE ART sticker sheets (coloring stickers). Die-cut style, white borders."
		} else {
			base = "Create prompts for FULL COLOR sticker sheets. Cute, die-cut style, white borders."
		}
	default:
		base = "Create prompts for INTERIOR COLORING PAGES. Black and white, clean line art, no shading, high contrast."
	}
	task := fmt.Sprintf("Context: project %q (%s).\nTask: generate %d distinct image prompts for: %s.\n"+
		"Base style: %s\nAdditional user instructions: %s\nFocus on unique angles, details or complementary scenes.",
		plan.Title, plan.Concept, count, strings.ToUpper(string(kind)), base, strings.TrimSpace(instructions))
	return provider.StructuredRequest{Task: task, Shape: IdeasShape}
}
