package domsnap

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// These predicates are the reference definitions of the rules applied by
// scripts/gather.js. FromHTML uses them directly; keep both in step.

var interactiveTags = map[string]bool{
	"a": true, "button": true, "details": true, "embed": true,
	"input": true, "label": true, "menu": true, "menuitem": true,
	"object": true, "select": true, "textarea": true, "summary": true,
}

var (
	interactiveRole = regexp.MustCompile(`(?i)^(button|menu|menuitem|link|checkbox|radio|tab|switch|treeitem)$`)
	numericText     = regexp.MustCompile(`^[\d\s./$@]+$`)
)

// clickAttrs are attributes that bind a click handler.
var clickAttrs = []string{"onclick", "ng-click", "@click"}

// KeepText returns the trimmed text and whether it survives the text filter:
// at least two characters (code points, not bytes), not numeric/punctuation-only,
// not starting with "{".
func KeepText(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if utf8.RuneCountInString(t) < 2 || numericText.MatchString(t) || strings.HasPrefix(t, "{") {
		return "", false
	}
	return t, true
}

// IsInteractive reports whether an element with the given lower-case tag and
// attributes is a candidate for a highlight index.
func IsInteractive(tag string, attrs map[string]string) bool {
	if interactiveTags[tag] {
		return true
	}
	if role, ok := attrs["role"]; ok && interactiveRole.MatchString(role) {
		return true
	}
	for _, a := range clickAttrs {
		if _, ok := attrs[a]; ok {
			return true
		}
	}
	if ti, ok := attrs["tabindex"]; ok && ti != "" && ti != "-1" {
		return true
	}
	return attrs["data-action"] != ""
}

// Style holds the computed style properties the visibility test reads.
type Style struct {
	Display    string
	Visibility string
	Opacity    float64
}

// Visible reports whether a box of the given size with the given style is
// rendered: nonzero width or height, displayed, not hidden, opacity >= 0.1.
func Visible(width, height float64, st Style) bool {
	if width == 0 && height == 0 {
		return false
	}
	return st.Display != "none" && st.Visibility != "hidden" && st.Opacity >= 0.1
}

// inlineStyle extracts the visibility-relevant declarations of a style
// attribute. Unset properties keep the defaults of a displayed, opaque box.
func inlineStyle(decl string) Style {
	st := Style{Display: "inline", Visibility: "visible", Opacity: 1}
	for _, d := range strings.Split(decl, ";") {
		name, val, ok := strings.Cut(d, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		val = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "!important")))
		switch name {
		case "display":
			st.Display = val
		case "visibility":
			st.Visibility = val
		case "opacity":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				st.Opacity = f
			}
		}
	}
	return st
}
