package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"

	"github.com/hazyhaar/operator/operator"
)

// LocalConfig configures a LocalTransport.
type LocalConfig struct {
	// Bin is the Chrome binary. Empty lets the launcher find or download one.
	Bin string
	// Headful shows the browser window.
	Headful bool
	// NoStealth opens plain pages instead of stealth-patched ones.
	NoStealth bool
	// ResourceBlocking lists resource types to block: images, fonts, media,
	// stylesheets, or any CDP resource type name.
	ResourceBlocking []string
	// Viewport is applied to every page. Default 1280x720.
	Viewport operator.Viewport
	// LoadTimeout bounds navigation waits. Default 30s.
	LoadTimeout time.Duration
	Logger      *slog.Logger
}

func (c *LocalConfig) defaults() {
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		c.Viewport = operator.Viewport{Width: 1280, Height: 720}
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// LocalTransport launches one local Chrome per session.
type LocalTransport struct {
	cfg LocalConfig

	mu       sync.Mutex
	browsers map[string]*localBrowser
}

type localBrowser struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	router  *rod.HijackRouter
}

// NewLocalTransport creates a transport. No browser starts until
// CreateSession.
func NewLocalTransport(cfg LocalConfig) *LocalTransport {
	cfg.defaults()
	return &LocalTransport{cfg: cfg, browsers: make(map[string]*localBrowser)}
}

func (t *LocalTransport) Name() string { return "local" }

func (t *LocalTransport) CreateSession(ctx context.Context) (Info, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Info{}, fmt.Errorf("session: local: id: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}

	l := launcher.New().Headless(!t.cfg.Headful)
	if t.cfg.Bin != "" {
		l = l.Bin(t.cfg.Bin)
	}
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Set("window-size", fmt.Sprintf("%d,%d", t.cfg.Viewport.Width, t.cfg.Viewport.Height))

	wsURL, err := l.Launch()
	if err != nil {
		return Info{}, fmt.Errorf("session: local: launch: %w", err)
	}
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return Info{}, fmt.Errorf("session: local: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		t.cfg.Logger.Warn("session: local: ignore cert errors", "error", err)
	}

	t.mu.Lock()
	t.browsers[id.String()] = &localBrowser{browser: b, lnch: l}
	t.mu.Unlock()

	t.cfg.Logger.Info("session: local: launched chrome", "session", id.String(), "url", wsURL)
	return Info{ID: id.String(), Transport: t.Name(), LiveURL: wsURL, CreatedAt: time.Now()}, nil
}

// Connect opens the session's page on first call and reuses it afterwards.
func (t *LocalTransport) Connect(ctx context.Context, id string) (*Conn, error) {
	t.mu.Lock()
	lb, ok := t.browsers[id]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	if lb.page == nil {
		page, err := t.openPage(lb.browser)
		if err != nil {
			return nil, err
		}
		if len(t.cfg.ResourceBlocking) > 0 {
			lb.router = blockResources(page, t.cfg.ResourceBlocking)
		}
		lb.page = page
	}

	rp := operator.NewRodPage(lb.page, t.cfg.LoadTimeout, t.cfg.Logger)
	if err := rp.SetViewport(ctx, t.cfg.Viewport); err != nil {
		t.cfg.Logger.Warn("session: local: set viewport", "session", id, "error", err)
	}
	return NewConn(rp, t.cfg.Viewport, nil), nil
}

func (t *LocalTransport) openPage(b *rod.Browser) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if t.cfg.NoStealth {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("session: local: create page: %w", err)
	}
	return page, nil
}

func (t *LocalTransport) CloseSession(_ context.Context, id string) error {
	t.mu.Lock()
	lb, ok := t.browsers[id]
	delete(t.browsers, id)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	lb.shutdown()
	return nil
}

// Close kills every browser still running.
func (t *LocalTransport) Close() error {
	t.mu.Lock()
	all := t.browsers
	t.browsers = make(map[string]*localBrowser)
	t.mu.Unlock()
	for _, lb := range all {
		lb.shutdown()
	}
	return nil
}

func (lb *localBrowser) shutdown() {
	if lb.router != nil {
		lb.router.Stop()
	}
	if lb.browser != nil {
		lb.browser.Close()
	}
	if lb.lnch != nil {
		lb.lnch.Cleanup()
	}
}

// blockResources fails requests whose resource type is in types.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	block := make(map[string]bool, len(types))
	for _, t := range types {
		block[strings.ToLower(t)] = true
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(block, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// shouldBlock maps CDP resource types onto the plural config names.
func shouldBlock(block map[string]bool, resType string) bool {
	lower := strings.ToLower(resType)
	switch lower {
	case "image":
		return block["images"] || block[lower]
	case "font":
		return block["fonts"] || block[lower]
	case "media":
		return block["media"]
	case "stylesheet":
		return block["stylesheets"] || block[lower]
	}
	return block[lower]
}
