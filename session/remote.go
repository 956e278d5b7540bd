package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/operator/operator"
)

// RemoteConfig configures a RemoteTransport against a Browserbase-style
// provider.
type RemoteConfig struct {
	APIKey    string
	ProjectID string
	// APIURL is the REST endpoint. Default https://api.browserbase.com.
	APIURL string
	// ConnectURL is the CDP WebSocket endpoint. Default
	// wss://connect.browserbase.com.
	ConnectURL string
	// Viewport is requested at session creation. Default 1280x720.
	Viewport    operator.Viewport
	LoadTimeout time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func (c *RemoteConfig) defaults() {
	if c.APIURL == "" {
		c.APIURL = "https://api.browserbase.com"
	}
	if c.ConnectURL == "" {
		c.ConnectURL = "wss://connect.browserbase.com"
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		c.Viewport = operator.Viewport{Width: 1280, Height: 720}
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RemoteTransport drives browsers hosted by a remote provider: sessions are
// created and released over its REST API, pages are reached over CDP.
type RemoteTransport struct {
	cfg RemoteConfig
}

// NewRemoteTransport creates a transport. APIKey is required.
func NewRemoteTransport(cfg RemoteConfig) (*RemoteTransport, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("session: remote: API key is required")
	}
	cfg.defaults()
	return &RemoteTransport{cfg: cfg}, nil
}

func (t *RemoteTransport) Name() string { return "remote" }

type createRequest struct {
	ProjectID       string          `json:"projectId,omitempty"`
	BrowserSettings browserSettings `json:"browserSettings"`
}

type browserSettings struct {
	Viewport operator.Viewport `json:"viewport"`
}

type sessionResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
}

type debugResponse struct {
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
	DebuggerURL           string `json:"debuggerUrl"`
}

func (t *RemoteTransport) CreateSession(ctx context.Context) (Info, error) {
	var created sessionResponse
	err := t.call(ctx, http.MethodPost, "/v1/sessions", createRequest{
		ProjectID:       t.cfg.ProjectID,
		BrowserSettings: browserSettings{Viewport: t.cfg.Viewport},
	}, &created)
	if err != nil {
		return Info{}, fmt.Errorf("session: remote: create: %w", err)
	}
	if created.ID == "" {
		return Info{}, fmt.Errorf("session: remote: create: provider returned no session id")
	}

	info := Info{ID: created.ID, Transport: t.Name(), CreatedAt: time.Now()}
	if ts, err := time.Parse(time.RFC3339, created.CreatedAt); err == nil {
		info.CreatedAt = ts
	}
	if live, err := t.LiveURL(ctx, created.ID); err == nil {
		info.LiveURL = live
	} else {
		t.cfg.Logger.Warn("session: remote: live url", "session", created.ID, "error", err)
	}
	return info, nil
}

// LiveURL returns the provider's embeddable live view of the session.
func (t *RemoteTransport) LiveURL(ctx context.Context, id string) (string, error) {
	var dbg debugResponse
	if err := t.call(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id)+"/debug", nil, &dbg); err != nil {
		return "", err
	}
	if dbg.DebuggerFullscreenURL != "" {
		return dbg.DebuggerFullscreenURL, nil
	}
	return dbg.DebuggerURL, nil
}

// CDPURL returns the WebSocket URL for the session.
func (t *RemoteTransport) CDPURL(id string) string {
	q := url.Values{}
	q.Set("apiKey", t.cfg.APIKey)
	q.Set("sessionId", id)
	return t.cfg.ConnectURL + "?" + q.Encode()
}

// Connect attaches to the first page the provider opened for the session.
func (t *RemoteTransport) Connect(ctx context.Context, id string) (*Conn, error) {
	// The CDP connection outlives ctx; it ends when the Conn is closed.
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := rod.New().Context(bctx).ControlURL(t.CDPURL(id))
	if err := b.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("session: remote: connect: %w", err)
	}

	pages, err := b.Pages()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("session: remote: list pages: %w", err)
	}
	var page *rod.Page
	if len(pages) > 0 {
		page = pages.First()
	} else {
		t.cfg.Logger.Warn("session: remote: no page, opening one", "session", id)
		if page, err = b.Page(proto.TargetCreateTarget{URL: ""}); err != nil {
			cancel()
			return nil, fmt.Errorf("session: remote: create page: %w", err)
		}
	}

	rp := operator.NewRodPage(page, t.cfg.LoadTimeout, t.cfg.Logger)
	return NewConn(rp, operator.Viewport{}, func() error {
		cancel()
		return nil
	}), nil
}

type releaseRequest struct {
	ProjectID string `json:"projectId,omitempty"`
	Status    string `json:"status"`
}

func (t *RemoteTransport) CloseSession(ctx context.Context, id string) error {
	err := t.call(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id), releaseRequest{
		ProjectID: t.cfg.ProjectID,
		Status:    "REQUEST_RELEASE",
	}, nil)
	if err != nil {
		return fmt.Errorf("session: remote: release: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Body)
}

func (t *RemoteTransport) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(t.cfg.APIURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-BB-API-Key", t.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
