package domsnap

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse rebuilds the typed node graph from a raw tree and collects the index
// table in the same traversal. Visibility, interactivity, paths and indices
// are taken as captured; nothing is recomputed here.
func Parse(raw *RawNode) (*Snapshot, error) {
	if raw == nil {
		return nil, &MalformedSnapshotError{Path: "root", Reason: "absent"}
	}
	if raw.Type != TypeElement {
		return nil, &MalformedSnapshotError{Path: "root", Reason: fmt.Sprintf("want %s, got %q", TypeElement, raw.Type)}
	}

	p := parser{index: make(map[int]*ElementNode)}
	n, err := p.node(raw, nil, "root")
	if err != nil {
		return nil, err
	}
	return &Snapshot{Root: n.(*ElementNode), Index: p.index}, nil
}

// ParseJSON decodes and parses a raw tree in one step.
func ParseJSON(data []byte) (*Snapshot, error) {
	raw, err := DecodeRaw(data)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

type parser struct {
	index map[int]*ElementNode
	last  int // highest index seen so far in preorder
}

func (p *parser) node(raw *RawNode, parent *ElementNode, at string) (Node, error) {
	if raw == nil {
		return nil, &MalformedSnapshotError{Path: at, Reason: "null node"}
	}

	switch raw.Type {
	case TypeText:
		if raw.TagName != "" || len(raw.Children) > 0 || raw.HighlightIndex != nil {
			return nil, &MalformedSnapshotError{Path: at, Reason: "text node carries element fields"}
		}
		if strings.TrimSpace(raw.Text) == "" {
			return nil, &MalformedSnapshotError{Path: at, Reason: "empty text node"}
		}
		return &TextNode{Text: raw.Text, IsVisible: raw.IsVisible, parent: parent}, nil

	case TypeElement:
		if raw.TagName == "" {
			return nil, &MalformedSnapshotError{Path: at, Reason: "element without tag name"}
		}
		el := &ElementNode{
			TagName:       raw.TagName,
			Path:          raw.XPath,
			Attributes:    raw.Attributes,
			IsVisible:     raw.IsVisible,
			IsInteractive: raw.IsInteractive,
			IsTopElement:  raw.IsTopElement,
			HasShadowRoot: raw.ShadowRoot,
			parent:        parent,
		}
		if el.Attributes == nil {
			el.Attributes = map[string]string{}
		}
		if raw.HighlightIndex != nil {
			idx := *raw.HighlightIndex
			if idx <= 0 {
				return nil, &MalformedSnapshotError{Path: at, Reason: "non-positive highlight index " + strconv.Itoa(idx)}
			}
			if _, dup := p.index[idx]; dup {
				return nil, &MalformedSnapshotError{Path: at, Reason: "duplicate highlight index " + strconv.Itoa(idx)}
			}
			// Indices are exactly 1..k in document preorder.
			if idx != p.last+1 {
				return nil, &MalformedSnapshotError{Path: at, Reason: fmt.Sprintf("highlight index %d out of sequence, want %d", idx, p.last+1)}
			}
			p.last = idx
			el.HighlightIndex = idx
			p.index[idx] = el
		}

		el.Children = make([]Node, 0, len(raw.Children))
		for i, c := range raw.Children {
			child, err := p.node(c, el, at+".children["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			el.Children = append(el.Children, child)
		}
		return el, nil

	default:
		return nil, &MalformedSnapshotError{Path: at, Reason: fmt.Sprintf("unknown node type %q", raw.Type)}
	}
}
