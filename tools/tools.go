// Package tools exposes browser sessions to an agent loop as MCP tools. Each
// call performs one operation on one session; failures come back as
// error-flagged text results rather than protocol errors.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/operator/internal/kit"
	"github.com/hazyhaar/operator/operator"
	"github.com/hazyhaar/operator/pagetext"
	"github.com/hazyhaar/operator/session"
	"github.com/hazyhaar/operator/vision"
)

// ErrNoVision is returned by click when no vision model is configured.
var ErrNoVision = errors.New("tools: no vision model configured")

// Config wires the tool surface.
type Config struct {
	Registry *session.Registry
	// Resolver backs the click tool. It may be nil.
	Resolver *vision.Resolver
	Click    operator.ClickOptions
	PageText pagetext.Options
	Logger   *slog.Logger
}

// Tools registers the browser tools on an MCP server.
type Tools struct {
	reg      *session.Registry
	resolver *vision.Resolver
	click    operator.ClickOptions
	text     pagetext.Options
	logger   *slog.Logger
}

// New creates the tool surface.
func New(cfg Config) *Tools {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tools{
		reg:      cfg.Registry,
		resolver: cfg.Resolver,
		click:    cfg.Click,
		text:     cfg.PageText,
		logger:   cfg.Logger,
	}
}

// actionError carries the user-facing failure text of a tool.
type actionError struct {
	action string
	err    error
}

func (e *actionError) Error() string { return fmt.Sprintf("Error %s: %v", e.action, e.err) }
func (e *actionError) Unwrap() error { return e.err }

// sessionArg is embedded in every request.
type sessionArg struct {
	SessionID string `json:"session_id,omitempty"`
}

func (a sessionArg) session() string { return a.SessionID }

type sessioned interface{ session() string }

func inputSchema(properties map[string]any, required []string) map[string]any {
	props := map[string]any{
		"session_id": map[string]any{"type": "string", "description": "Browser session id. Omit for the default session."},
	}
	for k, v := range properties {
		props[k] = v
	}
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// action runs against a live session while the session lock is held.
type action func(ctx context.Context, s *session.Session, req any) (any, error)

// add registers one tool. newReq returns a fresh request value to decode
// into; failure names the action in error results ("clicking target").
func (t *Tools) add(srv *mcp.Server, tool *mcp.Tool, failure string, newReq func() sessioned, fn action) {
	endpoint := func(ctx context.Context, req any) (any, error) {
		var out any
		err := t.reg.Do(ctx, kit.GetSessionID(ctx), func(ctx context.Context, s *session.Session) error {
			var err error
			out, err = fn(ctx, s, req)
			return err
		})
		if err != nil {
			return nil, &actionError{action: failure, err: err}
		}
		return out, nil
	}
	endpoint = kit.Chain(t.resolveSession(failure), t.audit())(endpoint)

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r := newReq()
		if err := kit.DecodeArgs(req, r); err != nil {
			return nil, err
		}
		id := r.session()
		return &kit.MCPDecodeResult{
			Request:   r,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithSessionID(ctx, id) },
		}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// resolveSession replaces an empty session id with the default session,
// creating it on first use.
func (t *Tools) resolveSession(failure string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			id, err := t.reg.Resolve(ctx, kit.GetSessionID(ctx))
			if err != nil {
				return nil, &actionError{action: failure, err: err}
			}
			return next(kit.WithSessionID(ctx, id), req)
		}
	}
}

// audit logs every call and appends it to the action ledger.
func (t *Tools) audit() kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			dur := time.Since(start)

			tool, id := kit.GetTool(ctx), kit.GetSessionID(ctx)
			a := session.Action{SessionID: id, Tool: tool, Status: "ok", Duration: dur}
			if args, merr := json.Marshal(req); merr == nil {
				a.Args = string(args)
			}
			if err != nil {
				a.Status = "error"
				a.Error = err.Error()
				t.logger.Warn("tools: call failed", "tool", tool, "session", id, "duration", dur, "error", err)
			} else {
				t.logger.Info("tools: call", "tool", tool, "session", id, "duration", dur)
			}
			if st := t.reg.Store(); st != nil {
				if serr := st.RecordAction(context.WithoutCancel(ctx), a); serr != nil {
					t.logger.Warn("tools: record action", "tool", tool, "session", id, "error", serr)
				}
			}
			return resp, err
		}
	}
}

// Register adds every tool to srv.
func (t *Tools) Register(srv *mcp.Server) {
	t.registerNavigate(srv)
	t.registerSearch(srv)
	t.registerType(srv)
	t.registerPressKey(srv)
	t.registerScroll(srv)
	t.registerScreenshot(srv)
	t.registerClick(srv)
	t.registerObserve(srv)
	t.registerClickElement(srv)
	t.registerReadPage(srv)
	t.registerExportPDF(srv)
}

// NewServer returns an MCP server carrying the browser tools.
func (t *Tools) NewServer(name, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	t.Register(srv)
	return srv
}

// currentURL is best effort; an empty string never matches a real URL.
func currentURL(ctx context.Context, s *session.Session) string {
	info, err := s.Actions().Page().Info(ctx)
	if err != nil {
		return ""
	}
	return info.URL
}

// invalidateIfMoved drops the session snapshot when the document URL changed
// since before.
func invalidateIfMoved(ctx context.Context, s *session.Session, before string) {
	if after := currentURL(ctx, s); after == "" || after != before {
		s.Invalidate()
	}
}
