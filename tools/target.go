package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/operator/operator"
	"github.com/hazyhaar/operator/pagetext"
	"github.com/hazyhaar/operator/session"
)

// --- click ---

type clickReq struct {
	sessionArg
	Description string `json:"description"`
}

func (t *Tools) registerClick(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "click",
		Description: "Click the element matching a natural-language description, located visually on a screenshot.",
		InputSchema: inputSchema(map[string]any{
			"description": map[string]any{"type": "string", "description": "What to click, e.g. \"the blue Sign in button\""},
		}, []string{"description"}),
	}
	t.add(srv, tool, "clicking target", func() sessioned { return &clickReq{} },
		func(ctx context.Context, s *session.Session, req any) (any, error) {
			r := req.(*clickReq)
			if t.resolver == nil {
				return nil, ErrNoVision
			}
			if strings.TrimSpace(r.Description) == "" {
				return nil, fmt.Errorf("empty description")
			}
			acts := s.Actions()
			img, err := acts.Screenshot(ctx)
			if err != nil {
				return nil, err
			}
			_, pt, err := t.resolver.Resolve(ctx, img.Data, img.MIMEType, r.Description)
			if err != nil {
				return nil, err
			}
			vp := s.RefreshViewport(ctx)

			before := currentURL(ctx, s)
			defer invalidateIfMoved(ctx, s, before)
			px, err := acts.Click(ctx, pt, vp, t.click)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Clicked %q at %s", r.Description, px), nil
		})
}

// --- observe ---

type observeReq struct {
	sessionArg
	Highlight *bool `json:"highlight,omitempty"`
}

func (t *Tools) registerObserve(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "observe",
		Description: "List the visible interactive elements of the page, numbered for click_element. Paints matching numbered markers unless highlight is false.",
		InputSchema: inputSchema(map[string]any{
			"highlight": map[string]any{"type": "boolean", "description": "Paint numbered markers on the page (default true)"},
		}, nil),
	}
	t.add(srv, tool, "observing page", func() sessioned { return &observeReq{} },
		func(ctx context.Context, s *session.Session, req any) (any, error) {
			r := req.(*observeReq)
			highlight := r.Highlight == nil || *r.Highlight
			obs, err := s.Actions().Observe(ctx, highlight)
			if err != nil {
				return nil, err
			}
			s.SetSnapshot(obs.Snapshot)

			var sb strings.Builder
			if info, err := s.Actions().Page().Info(ctx); err == nil {
				fmt.Fprintf(&sb, "Page: %s (%s)\n", info.Title, info.URL)
			}
			fmt.Fprintf(&sb, "Interactive elements: %d", obs.Snapshot.Len())
			if highlight {
				fmt.Fprintf(&sb, " (%d highlighted)", obs.Painted)
			}
			sb.WriteString("\n\n")
			sb.WriteString(obs.Snapshot.Render())
			return sb.String(), nil
		})
}

// --- click_element ---

type clickElementReq struct {
	sessionArg
	Index int `json:"index"`
}

func (t *Tools) registerClickElement(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "click_element",
		Description: "Click the element carrying an index from the latest observe.",
		InputSchema: inputSchema(map[string]any{
			"index": map[string]any{"type": "integer", "minimum": 1, "description": "Element index from observe"},
		}, []string{"index"}),
	}
	t.add(srv, tool, "clicking element", func() sessioned { return &clickElementReq{} },
		func(ctx context.Context, s *session.Session, req any) (any, error) {
			r := req.(*clickElementReq)
			before := currentURL(ctx, s)
			px, el, err := s.Actions().ClickIndex(ctx, s.Snapshot(), r.Index, t.click)
			if err != nil {
				return nil, err
			}
			invalidateIfMoved(ctx, s, before)
			return fmt.Sprintf("Clicked [%d] <%s> at %s", r.Index, el.TagName, px), nil
		})
}

// --- read_page ---

type readPageReq struct {
	sessionArg
	MaxChars int `json:"max_chars,omitempty"`
}

func (t *Tools) registerReadPage(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "read_page",
		Description: "Return the main text of the page as Markdown.",
		InputSchema: inputSchema(map[string]any{
			"max_chars": map[string]any{"type": "integer", "description": "Truncate the Markdown to this many characters"},
		}, nil),
	}
	t.add(srv, tool, "reading page", func() sessioned { return &readPageReq{} },
		func(ctx context.Context, s *session.Session, req any) (any, error) {
			r := req.(*readPageReq)
			raw, info, err := s.Actions().Content(ctx)
			if err != nil {
				return nil, err
			}
			opts := t.text
			if r.MaxChars > 0 {
				opts.MaxChars = r.MaxChars
			}
			page, err := pagetext.Extract(raw, info.URL, opts)
			if err != nil {
				return nil, err
			}
			if page.Title == "" {
				page.Title = info.Title
			}
			return page.String(), nil
		})
}

// --- export_pdf ---

type exportPDFReq struct {
	sessionArg
}

func (t *Tools) registerExportPDF(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "export_pdf",
		Description: "Print the page to PDF.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	t.add(srv, tool, "exporting PDF", func() sessioned { return &exportPDFReq{} },
		func(ctx context.Context, s *session.Session, _ any) (any, error) {
			doc, err := s.Actions().ExportPDF(ctx)
			if err != nil {
				return nil, err
			}
			return []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Exported %s (%d bytes)", pages(doc), len(doc.Data))},
				&mcp.EmbeddedResource{Resource: &mcp.ResourceContents{
					URI:      fmt.Sprintf("operator://sessions/%s/page.pdf", s.ID()),
					MIMEType: "application/pdf",
					Blob:     doc.Data,
				}},
			}, nil
		})
}

func pages(doc operator.PDF) string {
	if doc.Pages == 1 {
		return "1 page"
	}
	return fmt.Sprintf("%d pages", doc.Pages)
}
