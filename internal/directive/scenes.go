package directive

// Scenes is the mockup scene catalogue. The first entry is the default.
var Scenes = []string{
	"A photorealistic flat lay on a rustic wooden desk with colored pencils scattered around",
	"A cozy scene with the page resting on a soft knit blanket next to a warm cup of tea",
	"Professional clean white background product shot with soft natural window lighting",
	"A bright, sunny nursery room shelf display with toys in the background",
	"An artistic view with watercolor paints, brushes, and a water glass nearby",
	"Pinned to a corkboard in a creative home office setting",
	"Held in hands against a blurred nature background (park or garden)",
	"Lying on a marble countertop with fresh flowers and a gold pen",
	"A moody, dark academia styled desk with old books and a candle",
	"A bright and colorful kids craft table with crayons and markers",
	"A minimalist scandinavian desk setup with a succulent plant",
	"Displayed on a wooden easel in an art studio context",
	"Laying on a beach towel with sunglasses and a summer drink",
	"Nestled among autumn leaves and pumpkins",
	"On a glass coffee table in a modern living room",
	"Clipped onto a clipboard hanging on a wire grid wall",
	"Surrounded by washi tapes and stickers on a craft mat",
	"Peeking out of a tote bag on a park bench",
	"Next to a laptop and a steaming latte in a busy coffee shop",
	"A close up macro shot showing the paper texture and line details",
}

// DefaultScene is used when a mockup request carries no scene.
func DefaultScene() string { return Scenes[0] }

// SuggestScenes returns up to n catalogue scenes. perm supplies the order
// (for example rand.Perm) so callers control randomness.
func SuggestScenes(n int, perm func(int) []int) []string {
	if n <= 0 {
		return nil
	}
	if n > len(Scenes) {
		n = len(Scenes)
	}
	order := perm(len(Scenes))
	out := make([]string, 0, n)
	for _, idx := range order {
		if idx < 0 || idx >= len(Scenes) {
			continue
		}
		out = append(out, Scenes[idx])
		if len(out) == n {
			break
		}
	}
	return out
}
