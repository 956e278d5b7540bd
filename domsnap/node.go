// Package domsnap captures a page's element/text tree as an indexed snapshot.
//
// The capture runs inside the page (see Capture) and returns a raw JSON tree.
// Parse turns that tree into an owned node graph plus an index table mapping
// highlight indices to elements. Elements are never referenced by live
// handle across the page boundary: every re-resolution goes through the
// element's path (see Highlight and the operator package).
package domsnap

// RootPath is the fixed path of the document root element.
const RootPath = "/html"

// Node is either an *ElementNode or a *TextNode.
type Node interface {
	// Visible reports the visibility computed at capture time.
	Visible() bool
	// Parent returns the containing element, nil for the root.
	Parent() *ElementNode

	node()
}

// TextNode is a filtered, trimmed run of text.
type TextNode struct {
	Text      string
	IsVisible bool

	parent *ElementNode
}

func (t *TextNode) Visible() bool        { return t.IsVisible }
func (t *TextNode) Parent() *ElementNode { return t.parent }
func (*TextNode) node()                  {}

// ElementNode is a DOM element kept by the capture.
//
// Children are owned top-down. The parent pointer is a back-reference for
// navigation only.
type ElementNode struct {
	TagName        string
	Path           string
	Attributes     map[string]string
	Children       []Node
	IsVisible      bool
	IsInteractive  bool
	IsTopElement   bool
	HasShadowRoot  bool
	HighlightIndex int // 0 when the element carries no index

	parent *ElementNode
}

func (e *ElementNode) Visible() bool        { return e.IsVisible }
func (e *ElementNode) Parent() *ElementNode { return e.parent }
func (*ElementNode) node()                  {}

// Indexed reports whether the element carries a highlight index.
func (e *ElementNode) Indexed() bool { return e.HighlightIndex > 0 }

// Attr returns an attribute value, or "" when absent.
func (e *ElementNode) Attr(name string) string {
	return e.Attributes[name]
}

// Snapshot is a point-in-time capture: the element tree and its index table.
// A Snapshot is not mutated after Parse returns it.
type Snapshot struct {
	Root  *ElementNode
	Index map[int]*ElementNode
}

// Lookup returns the element carrying the given highlight index.
func (s *Snapshot) Lookup(index int) (*ElementNode, bool) {
	el, ok := s.Index[index]
	return el, ok
}

// Len returns the number of indexed elements.
func (s *Snapshot) Len() int { return len(s.Index) }

// Walk visits every node in document preorder. Returning false from fn
// skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	if el, ok := n.(*ElementNode); ok {
		for _, c := range el.Children {
			Walk(c, fn)
		}
	}
}
