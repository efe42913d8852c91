// Package dom defines the opaque element handle the engine reasons about.
// The engine never owns the page; it sees candidate elements through Node
// and only reads them.
package dom

import (
	"regexp"
	"strings"
)

// Rect is an element's layout box in CSS pixels.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Node is a read-only view of one element.
type Node interface {
	// Tag returns the lowercase tag name.
	Tag() string
	// ID returns the element's id attribute, or "".
	ID() string
	Attr(name string) (string, bool)
	// Attrs returns every attribute as name/value pairs in document order.
	Attrs() [][2]string
	Classes() []string
	// Text returns the whitespace-collapsed text content.
	Text() string
	// Parent returns nil at the top of the observed fragment.
	Parent() Node
	Children() []Node
	// Bounds reports the layout box; ok is false when it is unknown.
	Bounds() (r Rect, ok bool)
}

// Find returns the first node in root's subtree (root included, depth-first)
// for which match returns true.
func Find(root Node, match func(Node) bool) Node {
	if root == nil {
		return nil
	}
	if match(root) {
		return root
	}
	for _, c := range root.Children() {
		if n := Find(c, match); n != nil {
			return n
		}
	}
	return nil
}

// FindAll returns every node in root's subtree for which match returns true.
func FindAll(root Node, match func(Node) bool) []Node {
	var out []Node
	walk(root, func(n Node) {
		if match(n) {
			out = append(out, n)
		}
	})
	return out
}

func walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children() {
		walk(c, fn)
	}
}

// Ancestors returns up to depth ancestors of n, nearest first.
func Ancestors(n Node, depth int) []Node {
	var out []Node
	for p := n.Parent(); p != nil && len(out) < depth; p = p.Parent() {
		out = append(out, p)
	}
	return out
}

// HasClassContaining reports whether any class token of n contains one of
// the given substrings (case-insensitive).
func HasClassContaining(n Node, subs ...string) bool {
	for _, c := range n.Classes() {
		lc := strings.ToLower(c)
		for _, s := range subs {
			if s != "" && strings.Contains(lc, strings.ToLower(s)) {
				return true
			}
		}
	}
	return false
}

// Caption gathers the human-visible labels of a control: its text,
// aria-label, title and tooltip attributes.
func Caption(n Node) string {
	return strings.Join(Captions(n), " ")
}

// Captions returns each non-empty label of a control separately.
func Captions(n Node) []string {
	var parts []string
	if t := n.Text(); t != "" {
		parts = append(parts, t)
	}
	for _, a := range []string{"aria-label", "title", "data-tooltip"} {
		if v, ok := n.Attr(a); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return parts
}

var cssURL = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// MediaURL returns the first media reference found in n's subtree: img and
// video/audio/source src, video poster, or a CSS background-image url.
func MediaURL(n Node) string {
	var found string
	Find(n, func(c Node) bool {
		found = ownMediaURL(c)
		return found != ""
	})
	return found
}

func ownMediaURL(n Node) string {
	switch n.Tag() {
	case "img", "video", "audio", "source":
		if v, ok := n.Attr("src"); ok && v != "" {
			return v
		}
		if v, ok := n.Attr("data-src"); ok && v != "" {
			return v
		}
		if n.Tag() == "video" {
			if v, ok := n.Attr("poster"); ok && v != "" {
				return v
			}
		}
	}
	if style, ok := n.Attr("style"); ok {
		if m := cssURL.FindStringSubmatch(style); m != nil {
			return m[1]
		}
	}
	return ""
}
