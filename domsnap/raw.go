package domsnap

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Raw node type tags as emitted by the in-page builder.
const (
	TypeElement = "ELEMENT_NODE"
	TypeText    = "TEXT_NODE"
)

// RawNode is the wire form of a captured node. It crosses the page boundary
// twice: out of the page after Capture, and back into it for Highlight.
type RawNode struct {
	Type           string            `json:"type"`
	Text           string            `json:"text,omitempty"`
	TagName        string            `json:"tagName,omitempty"`
	XPath          string            `json:"xpath,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Children       []*RawNode        `json:"children,omitempty"`
	IsVisible      bool              `json:"isVisible"`
	IsInteractive  bool              `json:"isInteractive,omitempty"`
	IsTopElement   bool              `json:"isTopElement,omitempty"`
	ShadowRoot     bool              `json:"shadowRoot,omitempty"`
	HighlightIndex *int              `json:"highlightIndex,omitempty"`
}

// ErrNoDocument is returned when the page has no root element to capture.
var ErrNoDocument = errors.New("domsnap: no document element")

// ErrMalformedSnapshot matches every *MalformedSnapshotError.
var ErrMalformedSnapshot = errors.New("domsnap: malformed snapshot")

// MalformedSnapshotError reports where and why a raw tree was rejected.
type MalformedSnapshotError struct {
	Path   string // location in the raw tree, e.g. "root.children[2]"
	Reason string
}

func (e *MalformedSnapshotError) Error() string {
	return fmt.Sprintf("domsnap: malformed snapshot at %s: %s", e.Path, e.Reason)
}

func (e *MalformedSnapshotError) Is(target error) bool {
	return target == ErrMalformedSnapshot
}

// DecodeRaw unmarshals a raw tree. JSON null yields ErrNoDocument, which is
// what the in-page builder returns for a page without a root element.
func DecodeRaw(data []byte) (*RawNode, error) {
	var raw *RawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedSnapshotError{Path: "root", Reason: err.Error()}
	}
	if raw == nil {
		return nil, ErrNoDocument
	}
	return raw, nil
}

// Indices returns the highlight indices of the raw tree in preorder.
func (r *RawNode) Indices() []int {
	var out []int
	var walk func(*RawNode)
	walk = func(n *RawNode) {
		if n == nil {
			return
		}
		if n.HighlightIndex != nil {
			out = append(out, *n.HighlightIndex)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(r)
	return out
}

func intPtr(v int) *int { return &v }
