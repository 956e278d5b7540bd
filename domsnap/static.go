package domsnap

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// FromHTML builds a raw tree from a static HTML document, applying the same
// text filter, exclusion rules, classifier and path computer as the in-page
// builder. There is no layout: an element counts as visible unless it or an
// ancestor is hidden by inline style, the hidden attribute, or by being
// inside <head>.
func FromHTML(r io.Reader) (*RawNode, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("domsnap: parse html: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument is FromHTML for an already parsed document.
func FromDocument(doc *html.Node) (*RawNode, error) {
	root := documentElement(doc)
	if root == nil {
		return nil, ErrNoDocument
	}
	b := staticBuilder{counter: 1}
	raw := b.element(root, true)
	if raw == nil {
		return nil, ErrNoDocument
	}
	raw.IsTopElement = true
	raw.XPath = RootPath
	return raw, nil
}

func documentElement(doc *html.Node) *html.Node {
	if doc == nil {
		return nil
	}
	if doc.Type == html.ElementNode {
		return doc
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

type staticBuilder struct {
	counter int
}

func (b *staticBuilder) node(n *html.Node, parentVisible bool) *RawNode {
	switch n.Type {
	case html.TextNode:
		text, ok := KeepText(n.Data)
		if !ok {
			return nil
		}
		return &RawNode{Type: TypeText, Text: text, IsVisible: parentVisible}
	case html.ElementNode:
		return b.element(n, parentVisible)
	default:
		return nil
	}
}

func (b *staticBuilder) element(n *html.Node, parentVisible bool) *RawNode {
	tag := strings.ToLower(n.Data)
	if tag == "script" || tag == "style" {
		return nil
	}
	if tag == "a" && strings.TrimSpace(textContent(n)) == "" && !hasDescendant(n, "img") {
		return nil
	}

	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}

	visible := parentVisible && staticVisible(tag, attrs)
	raw := &RawNode{
		Type:          TypeElement,
		TagName:       tag,
		XPath:         PathOf(n),
		Attributes:    attrs,
		IsVisible:     visible,
		IsInteractive: IsInteractive(tag, attrs),
		ShadowRoot:    hasDeclarativeShadowRoot(n),
	}
	// Assigned before descending so indices follow document preorder.
	if raw.IsInteractive && visible {
		raw.HighlightIndex = intPtr(b.counter)
		b.counter++
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if child := b.node(c, visible); child != nil {
			raw.Children = append(raw.Children, child)
		}
	}
	return raw
}

func staticVisible(tag string, attrs map[string]string) bool {
	switch tag {
	case "head", "template", "noscript":
		return false
	case "input":
		if strings.EqualFold(attrs["type"], "hidden") {
			return false
		}
	}
	if _, ok := attrs["hidden"]; ok {
		return false
	}
	// No layout: treat every rendered element as a 1x1 box.
	return Visible(1, 1, inlineStyle(attrs["style"]))
}

func hasDeclarativeShadowRoot(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "template" {
			continue
		}
		for _, a := range c.Attr {
			if a.Key == "shadowrootmode" || a.Key == "shadowroot" {
				return true
			}
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func hasDescendant(n *html.Node, tag string) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return true
		}
		if hasDescendant(c, tag) {
			return true
		}
	}
	return false
}
