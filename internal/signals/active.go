package signals

import (
	"strings"

	"github.com/runnerr0/refyn/internal/dom"
)

var activeClassTokens = map[string]bool{
	"active":   true,
	"selected": true,
	"liked":    true,
	"disliked": true,
	"pressed":  true,
	"on":       true,
	"filled":   true,
	"checked":  true,
}

var activeDataAttrs = []string{"data-state", "data-active", "data-liked", "data-selected"}

var truthyValues = map[string]bool{
	"true":     true,
	"on":       true,
	"active":   true,
	"checked":  true,
	"liked":    true,
	"selected": true,
}

// IsActive reports whether a toggle control reads as switched on: an active
// class token, aria-pressed or aria-checked, a filled icon, or a truthy
// state data attribute.
func IsActive(n dom.Node) bool {
	for _, class := range n.Classes() {
		for _, tok := range strings.FieldsFunc(strings.ToLower(class), func(r rune) bool { return r == '-' || r == '_' }) {
			if activeClassTokens[tok] {
				return true
			}
		}
	}

	for _, a := range []string{"aria-pressed", "aria-checked"} {
		if v, ok := n.Attr(a); ok && strings.EqualFold(strings.TrimSpace(v), "true") {
			return true
		}
	}

	for _, a := range activeDataAttrs {
		if v, ok := n.Attr(a); ok && truthyValues[strings.ToLower(strings.TrimSpace(v))] {
			return true
		}
	}

	icon := dom.Find(n, func(c dom.Node) bool {
		if c.Tag() != "svg" && c.Tag() != "path" {
			return false
		}
		fill, ok := c.Attr("fill")
		fill = strings.ToLower(strings.TrimSpace(fill))
		return ok && fill != "" && fill != "none" && fill != "transparent"
	})
	return icon != nil
}
