package dom

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RefAttr marks the element a snapshot is about. The extension stamps it on
// the candidate (or clicked control) before serialising the surrounding
// markup.
const RefAttr = "data-refyn-ref"

// Layout attributes the extension stamps with getBoundingClientRect values.
const (
	attrX      = "data-refyn-x"
	attrY      = "data-refyn-y"
	attrWidth  = "data-refyn-width"
	attrHeight = "data-refyn-height"
)

const fragmentTag = "refyn-fragment"

// Document holds the latest markup snapshot for every element handle the
// extension has reported. Snapshots are replaced wholesale, never mutated,
// so nodes handed out earlier stay consistent.
type Document struct {
	mu    sync.RWMutex
	roots map[string]*html.Node
}

// NewDocument returns an empty handle table.
func NewDocument() *Document {
	return &Document{roots: make(map[string]*html.Node)}
}

// Put parses markup and makes it the current snapshot for ref.
func (d *Document) Put(ref, markup string) error {
	if ref == "" {
		return fmt.Errorf("empty element ref")
	}
	root, err := parseFragment(markup)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.roots[ref] = root
	d.mu.Unlock()
	return nil
}

// Remove forgets ref.
func (d *Document) Remove(ref string) {
	d.mu.Lock()
	delete(d.roots, ref)
	d.mu.Unlock()
}

// Len returns the number of live handles.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.roots)
}

// Handle returns a live node for ref. Each method call reads the latest
// snapshot, which is what lets a toggle button be re-inspected after the
// page has updated it. Returns nil when ref is unknown.
func (d *Document) Handle(ref string) Node {
	d.mu.RLock()
	_, ok := d.roots[ref]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	return &liveNode{doc: d, ref: ref}
}

// resolve finds the node at path in ref's current snapshot. A nil path
// names the element marked with ref.
func (d *Document) resolve(ref string, path []int) *html.Node {
	d.mu.RLock()
	root := d.roots[ref]
	d.mu.RUnlock()
	if root == nil {
		return nil
	}
	if path == nil {
		return target(root, ref)
	}
	n := root
	for _, i := range path {
		if n = elementChild(n, i); n == nil {
			return nil
		}
	}
	return n
}

func elementChild(n *html.Node, i int) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if i == 0 {
			return c
		}
		i--
	}
	return nil
}

// pathOf returns the element-child indexes leading from the fragment root
// to n.
func pathOf(n *html.Node) []int {
	var rev []int
	for ; n.Parent != nil; n = n.Parent {
		i := 0
		for c := n.PrevSibling; c != nil; c = c.PrevSibling {
			if c.Type == html.ElementNode {
				i++
			}
		}
		rev = append(rev, i)
	}
	path := make([]int, len(rev))
	for i, v := range rev {
		path[len(rev)-1-i] = v
	}
	return path
}

// Parse returns a static node for the marked (or first) element of markup.
func Parse(markup string) (Node, error) {
	root, err := parseFragment(markup)
	if err != nil {
		return nil, err
	}
	n := target(root, "")
	if n == nil {
		return nil, fmt.Errorf("no element in markup")
	}
	return snapNode{n}, nil
}

// MustParse is Parse for fixtures.
func MustParse(markup string) Node {
	n, err := Parse(markup)
	if err != nil {
		panic(err)
	}
	return n
}

func parseFragment(markup string) (*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	root := &html.Node{Type: html.ElementNode, Data: fragmentTag}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

// target finds the element carrying RefAttr (matching ref when non-empty),
// falling back to the first element child of the fragment.
func target(root *html.Node, ref string) *html.Node {
	var marked, first *html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if marked != nil {
			return
		}
		if n.Type == html.ElementNode && n != root {
			if first == nil {
				first = n
			}
			if v, ok := rawAttr(n, RefAttr); ok && (ref == "" || v == ref) {
				marked = n
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)

	if marked != nil {
		return marked
	}
	return first
}

func rawAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// snapNode is a node inside an immutable snapshot.
type snapNode struct {
	n *html.Node
}

func (s snapNode) Tag() string { return strings.ToLower(s.n.Data) }

func (s snapNode) ID() string {
	v, _ := rawAttr(s.n, "id")
	return v
}

func (s snapNode) Attr(name string) (string, bool) { return rawAttr(s.n, name) }

func (s snapNode) Attrs() [][2]string {
	out := make([][2]string, 0, len(s.n.Attr))
	for _, a := range s.n.Attr {
		out = append(out, [2]string{a.Key, a.Val})
	}
	return out
}

func (s snapNode) Classes() []string {
	v, _ := rawAttr(s.n, "class")
	return strings.Fields(v)
}

func (s snapNode) Text() string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(s.n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func (s snapNode) Parent() Node {
	p := s.n.Parent
	if p == nil || p.Type != html.ElementNode || p.Data == fragmentTag {
		return nil
	}
	return snapNode{p}
}

func (s snapNode) Children() []Node {
	var out []Node
	for c := s.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, snapNode{c})
		}
	}
	return out
}

func (s snapNode) Bounds() (Rect, bool) {
	w, okW := floatAttr(s.n, attrWidth)
	h, okH := floatAttr(s.n, attrHeight)
	if !okW || !okH {
		return Rect{}, false
	}
	x, _ := floatAttr(s.n, attrX)
	y, _ := floatAttr(s.n, attrY)
	return Rect{X: x, Y: y, Width: w, Height: h}, true
}

func floatAttr(n *html.Node, name string) (float64, bool) {
	v, ok := rawAttr(n, name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// liveNode re-resolves its snapshot on every call. Nodes reached through
// Parent and Children are live too: they are located by their path from
// the fragment root, so an ancestor of the clicked element reflects the
// markup reported after the click.
type liveNode struct {
	doc  *Document
	ref  string
	path []int
}

func (l *liveNode) current() (snapNode, bool) {
	n := l.doc.resolve(l.ref, l.path)
	if n == nil {
		return snapNode{}, false
	}
	return snapNode{n}, true
}

func (l *liveNode) Tag() string {
	if s, ok := l.current(); ok {
		return s.Tag()
	}
	return ""
}

func (l *liveNode) ID() string {
	if s, ok := l.current(); ok {
		return s.ID()
	}
	return ""
}

func (l *liveNode) Attr(name string) (string, bool) {
	if s, ok := l.current(); ok {
		return s.Attr(name)
	}
	return "", false
}

func (l *liveNode) Attrs() [][2]string {
	if s, ok := l.current(); ok {
		return s.Attrs()
	}
	return nil
}

func (l *liveNode) Classes() []string {
	if s, ok := l.current(); ok {
		return s.Classes()
	}
	return nil
}

func (l *liveNode) Text() string {
	if s, ok := l.current(); ok {
		return s.Text()
	}
	return ""
}

func (l *liveNode) Parent() Node {
	s, ok := l.current()
	if !ok || s.Parent() == nil {
		return nil
	}
	path := pathOf(s.n)
	return &liveNode{doc: l.doc, ref: l.ref, path: path[:len(path)-1]}
}

func (l *liveNode) Children() []Node {
	s, ok := l.current()
	if !ok {
		return nil
	}
	path := pathOf(s.n)
	var out []Node
	i := 0
	for c := s.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		child := make([]int, len(path)+1)
		copy(child, path)
		child[len(path)] = i
		out = append(out, &liveNode{doc: l.doc, ref: l.ref, path: child})
		i++
	}
	return out
}

func (l *liveNode) Bounds() (Rect, bool) {
	if s, ok := l.current(); ok {
		return s.Bounds()
	}
	return Rect{}, false
}
