package dialogue

import (
	"strings"

	"github.com/ent0n29/aili/internal/persona"
)

// Compose fills the runtime placeholders of a persona template. Values are
// inserted literally; braces inside them are not re-expanded.
func Compose(template, query, youName, shortHistory, longHistory string) string {
	return strings.NewReplacer(
		persona.PlaceholderInput, query,
		persona.PlaceholderYouName, youName,
		persona.PlaceholderShortHistory, shortHistory,
		persona.PlaceholderLongHistory, longHistory,
	).Replace(template)
}
