package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/operator/session"
)

// --- navigate ---

type navigateReq struct {
	sessionArg
	URL       string `json:"url,omitempty"`
	Direction string `json:"direction,omitempty"`
}

func (t *Tools) registerNavigate(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "navigate",
		Description: "Load a URL in the browser, or go back/forward in history.",
		InputSchema: inputSchema(map[string]any{
			"url":       map[string]any{"type": "string", "description": "URL to load; https:// is assumed when no scheme is given"},
			"direction": map[string]any{"type": "string", "enum": []string{"back", "forward"}, "description": "History direction, instead of url"},
		}, nil),
	}
	t.add(srv, tool, "navigating", func() sessioned { return &navigateReq{} },
		func(ctx context.Context, s *session.Session, req any) (any, error) {
			r := req.(*navigateReq)
			acts := s.Actions()
			defer s.Invalidate()
			switch strings.ToLower(r.Direction) {
			case "back":
				return acts.Back(ctx)
			case "forward":
				return acts.Forward(ctx)
			case "":
				if strings.TrimSpace(r.URL) == "" {
					return nil, fmt.Errorf("url or direction is required")
				}
				return acts.Navigate(ctx, r.URL)
			default:
				return nil, fmt.Errorf("unknown direction %q", r.Direction)
			}
		})
}

// --- search ---

type searchReq struct {
	sessionArg
	Query string `json:"query"`
}

func (t *Tools) registerSearch(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "search",
		Description: "Run a web search and load the results page.",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query"},
		}, []string{"query"}),
	}
	t.add(srv, tool, "searching", func() sessioned { return &searchReq{} },
		func(ctx context.Context, s *session.Session, req any) (any, error) {
			defer s.Invalidate()
			return s.Actions().Search(ctx, req.(*searchReq).Query)
		})
}

// --- type ---

type typeReq struct {
	sessionArg
	Text string `json:"text"`
}

func (t *Tools) registerType(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "type",
		Description: "Type text into the focused element, then press Enter.",
		InputSchema: inputSchema(map[string]any{
			"text": map[string]any{"type": "string", "description": "Text to type"},
		}, []string{"text"}),
	}
	t.add(srv, tool, "typing", func() sessioned { return &typeReq{} },
		func(ctx context.Context, s *session.Session, req any) (any, error) {
			before := currentURL(ctx, s)
			defer invalidateIfMoved(ctx, s, before)
			return s.Actions().Type(ctx, req.(*typeReq).Text)
		})
}

// --- press_key ---

type pressReq struct {
	sessionArg
	Key string `json:"key"`
}

func (t *Tools) registerPressKey(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "press_key",
		Description: "Press a named key (Enter, Tab, Escape, ArrowDown, PageDown, ...) or a single character.",
		InputSchema: inputSchema(map[string]any{
			"key": map[string]any{"type": "string", "description": "Key name or single character"},
		}, []string{"key"}),
	}
	t.add(srv, tool, "pressing key", func() sessioned { return &pressReq{} },
		func(ctx context.Context, s *session.Session, req any) (any, error) {
			before := currentURL(ctx, s)
			defer invalidateIfMoved(ctx, s, before)
			return s.Actions().Press(ctx, req.(*pressReq).Key)
		})
}

// --- scroll ---

type scrollReq struct {
	sessionArg
	Amount int `json:"amount,omitempty"`
}

func (t *Tools) registerScroll(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "scroll",
		Description: "Scroll down by a number of pixels, or one page when amount is omitted.",
		InputSchema: inputSchema(map[string]any{
			"amount": map[string]any{"type": "integer", "description": "Pixels to scroll down"},
		}, nil),
	}
	t.add(srv, tool, "scrolling", func() sessioned { return &scrollReq{} },
		func(ctx context.Context, s *session.Session, req any) (any, error) {
			return s.Actions().Scroll(ctx, req.(*scrollReq).Amount)
		})
}

// --- screenshot ---

type screenshotReq struct {
	sessionArg
}

func (t *Tools) registerScreenshot(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "screenshot",
		Description: "Capture the visible viewport as a JPEG image.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	t.add(srv, tool, "taking screenshot", func() sessioned { return &screenshotReq{} },
		func(ctx context.Context, s *session.Session, _ any) (any, error) {
			img, err := s.Actions().Screenshot(ctx)
			if err != nil {
				return nil, err
			}
			return &mcp.ImageContent{Data: img.Data, MIMEType: img.MIMEType}, nil
		})
}
