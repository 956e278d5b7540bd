package domsnap

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// PathOf computes the positional locator of an element: one segment per
// ancestor, each suffixed with its 1-based index among same-tag siblings
// when that index is above 1. The ascent stops at the first ancestor tagged
// "html", which is prefixed explicitly. That ancestor is assumed to be the
// document root; foreign fragments nesting their own <html> yield paths that
// do not re-resolve against the real document.
func PathOf(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	var segs []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; {
		segs = append(segs, segment(cur))
		cur = cur.Parent
		if cur == nil || cur.Parent == nil {
			break
		}
		if strings.EqualFold(cur.Data, "html") && cur.Type == html.ElementNode {
			segs = append(segs, "html")
			break
		}
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return "/" + strings.Join(segs, "/")
}

func segment(n *html.Node) string {
	tag := strings.ToLower(n.Data)
	idx := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && strings.EqualFold(s.Data, tag) {
			idx++
		}
	}
	if idx > 1 {
		return tag + "[" + strconv.Itoa(idx) + "]"
	}
	return tag
}

// Resolve evaluates a path produced by PathOf against a parsed document and
// returns the first matching element, or nil. Only the positional subset of
// XPath that PathOf emits is understood.
func Resolve(doc *html.Node, path string) *html.Node {
	if doc == nil || !strings.HasPrefix(path, "/") {
		return nil
	}
	cur := doc
	for _, step := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		tag, want := step, 1
		if i := strings.IndexByte(step, '['); i >= 0 && strings.HasSuffix(step, "]") {
			n, err := strconv.Atoi(step[i+1 : len(step)-1])
			if err != nil || n < 1 {
				return nil
			}
			tag, want = step[:i], n
		}
		var next *html.Node
		seen := 0
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strings.EqualFold(c.Data, tag) {
				seen++
				if seen == want {
					next = c
					break
				}
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}
