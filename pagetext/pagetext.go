// Package pagetext reduces a rendered page to readable Markdown for the
// agent: boilerplate and hidden content are dropped, the rest is sanitized
// and converted.
package pagetext

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultMaxChars bounds the Markdown returned when Options.MaxChars is 0.
const DefaultMaxChars = 20000

// Options controls extraction.
type Options struct {
	// MaxChars truncates the Markdown, in runes. Negative disables the limit.
	MaxChars int
	// KeepBoilerplate keeps nav, header and footer elements.
	KeepBoilerplate bool
}

// Page is the extracted content.
type Page struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Markdown  string `json:"markdown"`
	Truncated bool   `json:"truncated,omitempty"`
}

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9.]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0(\s|;|$)`),
}

var blankLines = regexp.MustCompile(`\n{3,}`)

var policy = bluemonday.UGCPolicy()

// Extract converts rawHTML loaded from pageURL. Relative links are resolved
// against pageURL's origin.
func Extract(rawHTML, pageURL string, opts Options) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("pagetext: parse: %w", err)
	}
	title := findTitle(doc)
	prune(doc, opts.KeepBoilerplate)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("pagetext: render: %w", err)
	}
	clean := policy.SanitizeBytes(buf.Bytes())

	var convOpts []converter.ConvertOptionFunc
	if origin := originOf(pageURL); origin != "" {
		convOpts = append(convOpts, converter.WithDomain(origin))
	}
	md, err := htmltomarkdown.ConvertString(string(clean), convOpts...)
	if err != nil {
		return nil, fmt.Errorf("pagetext: convert: %w", err)
	}
	md = strings.TrimSpace(blankLines.ReplaceAllString(md, "\n\n"))

	p := &Page{Title: title, URL: pageURL, Markdown: md}
	limit := opts.MaxChars
	if limit == 0 {
		limit = DefaultMaxChars
	}
	if limit > 0 {
		if r := []rune(md); len(r) > limit {
			p.Markdown = string(r[:limit])
			p.Truncated = true
		}
	}
	return p, nil
}

// String renders the page as the text returned to the agent.
func (p *Page) String() string {
	var sb strings.Builder
	if p.Title != "" {
		sb.WriteString("# ")
		sb.WriteString(p.Title)
		sb.WriteString("\n")
	}
	if p.URL != "" {
		sb.WriteString("URL: ")
		sb.WriteString(p.URL)
		sb.WriteString("\n")
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(p.Markdown)
	if p.Truncated {
		sb.WriteString("\n\n[content truncated]")
	}
	return sb.String()
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
		return strings.Join(strings.Fields(sb.String()), " ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// prune removes non-content subtrees in place.
func prune(n *html.Node, keepBoilerplate bool) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && drop(c, keepBoilerplate)) {
			n.RemoveChild(c)
		} else {
			prune(c, keepBoilerplate)
		}
		c = next
	}
}

func drop(n *html.Node, keepBoilerplate bool) bool {
	switch n.DataAtom {
	case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg, atom.Iframe:
		return true
	case atom.Nav, atom.Footer, atom.Header, atom.Aside:
		if !keepBoilerplate {
			return true
		}
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "style":
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

func originOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
