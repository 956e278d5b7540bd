package domsnap

import (
	"sort"
	"strconv"
	"strings"
)

// renderAttrs is the attribute allowlist of Render, in output order.
var renderAttrs = []string{"type", "name", "placeholder", "aria-label", "title", "role", "href", "value", "alt"}

const maxRenderText = 120

// Render lists the indexed elements in index order, one per line:
//
//	[3]<button aria-label="Close">Close dialog</button>
//
// Element text is the visible text below the element, stopping at nested
// indexed elements, which get their own line.
func (s *Snapshot) Render() string {
	if s == nil || len(s.Index) == 0 {
		return ""
	}
	keys := make([]int, 0, len(s.Index))
	for i := range s.Index {
		keys = append(keys, i)
	}
	sort.Ints(keys)

	var sb strings.Builder
	for _, i := range keys {
		el := s.Index[i]
		sb.WriteString("[")
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString("]<")
		sb.WriteString(el.TagName)
		for _, name := range renderAttrs {
			v, ok := el.Attributes[name]
			if !ok || v == "" {
				continue
			}
			sb.WriteString(" ")
			sb.WriteString(name)
			sb.WriteString(`="`)
			sb.WriteString(strings.ReplaceAll(truncate(v, maxRenderText), `"`, `'`))
			sb.WriteString(`"`)
		}
		sb.WriteString(">")
		sb.WriteString(truncate(ownText(el), maxRenderText))
		sb.WriteString("</")
		sb.WriteString(el.TagName)
		sb.WriteString(">\n")
	}
	return sb.String()
}

// Text returns the visible text of the whole snapshot, one text node per line.
func (s *Snapshot) Text() string {
	if s == nil || s.Root == nil {
		return ""
	}
	var lines []string
	Walk(s.Root, func(n Node) bool {
		if !n.Visible() {
			return false
		}
		if t, ok := n.(*TextNode); ok {
			lines = append(lines, t.Text)
		}
		return true
	})
	return strings.Join(lines, "\n")
}

func ownText(el *ElementNode) string {
	var parts []string
	for _, c := range el.Children {
		Walk(c, func(n Node) bool {
			switch v := n.(type) {
			case *TextNode:
				if v.IsVisible {
					parts = append(parts, v.Text)
				}
			case *ElementNode:
				return !v.Indexed()
			}
			return true
		})
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
