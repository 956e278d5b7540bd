// Command operator runs the browser operator: a session registry driving
// local or remote Chrome, exposed as MCP tools (stdio or streamable HTTP)
// and a small HTTP API. It also has two one-shot modes for inspecting a
// page's indexed snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/operator/config"
	"github.com/hazyhaar/operator/domsnap"
	"github.com/hazyhaar/operator/httpapi"
	"github.com/hazyhaar/operator/internal/urlguard"
	"github.com/hazyhaar/operator/operator"
	"github.com/hazyhaar/operator/pagetext"
	"github.com/hazyhaar/operator/ratelimit"
	"github.com/hazyhaar/operator/session"
	"github.com/hazyhaar/operator/tools"
	"github.com/hazyhaar/operator/vision"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "YAML config file")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error")
	mcpMode := flag.String("mcp", "", "MCP transport: stdio|http|off (overrides config)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	observeURL := flag.String("observe", "", "open a session, load URL, print its indexed snapshot and exit")
	staticURL := flag.String("static", "", "fetch URL over HTTP, print its static snapshot and exit")
	flag.Parse()

	// Stdout belongs to the MCP stdio transport and one-shot output.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *staticURL != "" {
		if err := runStatic(ctx, *staticURL, os.Stdout); err != nil {
			logger.Error("static snapshot", "url", *staticURL, "error", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Error("config", "error", err)
			os.Exit(1)
		}
	}
	if *mcpMode != "" {
		cfg.MCP = *mcpMode
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger, *observeURL); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("operator", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, observeURL string) error {
	store, err := session.OpenStore(cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	if c, ok := transport.(io.Closer); ok {
		defer c.Close()
	}

	acts := operator.Options{
		SettleDelay:       cfg.Actions.SettleDelay,
		KeyDelay:          cfg.Actions.KeyDelay,
		SubmitDelay:       cfg.Actions.SubmitDelay,
		ScreenshotQuality: cfg.Actions.ScreenshotQuality,
		SearchURL:         cfg.Actions.SearchURL,
	}
	if cfg.Browser.BlockPrivate {
		acts.CheckURL = urlguard.New().Check
	}
	reg := session.NewRegistry(transport, store, session.Config{
		DefaultSession: cfg.DefaultSession,
		AttachUnknown:  cfg.AttachUnknown,
		Viewport:       operator.Viewport{Width: cfg.Browser.Viewport.Width, Height: cfg.Browser.Viewport.Height},
		Actions:        acts,
		Logger:         logger,
	})
	defer reg.Close()

	if observeURL != "" {
		return runObserve(ctx, reg, observeURL, os.Stdout)
	}

	var resolver *vision.Resolver
	if cfg.Vision.APIKey != "" {
		model, err := vision.NewGeminiModel(ctx, vision.GeminiConfig{APIKey: cfg.Vision.APIKey, Model: cfg.Vision.Model})
		if err != nil {
			return err
		}
		resolver = vision.NewResolver(model, logger)
		logger.Info("vision model ready", "model", model.Name())
	} else {
		logger.Warn("no vision API key, click tool disabled")
	}

	tl := tools.New(tools.Config{
		Registry: reg,
		Resolver: resolver,
		Click: operator.ClickOptions{
			ShowCursor: cfg.Actions.ShowCursor,
			Style:      operator.CursorStyle(cfg.Actions.CursorStyle),
		},
		PageText: pagetext.Options{MaxChars: cfg.PageText.MaxChars},
		Logger:   logger,
	})
	srv := tl.NewServer("operator", version)

	if cfg.MCP == "stdio" {
		logger.Info("MCP stdio starting")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	defer closeLimiter()

	apiCfg := httpapi.Config{Registry: reg, Limiter: limiter, Logger: logger}
	if cfg.MCP == "http" {
		apiCfg.MCP = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
	}
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.New(apiCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP starting", "addr", cfg.Listen, "mcp", cfg.MCP, "transport", transport.Name())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newTransport(cfg *config.Config, logger *slog.Logger) (session.Transport, error) {
	vp := operator.Viewport{Width: cfg.Browser.Viewport.Width, Height: cfg.Browser.Viewport.Height}
	if cfg.Transport == "remote" {
		return session.NewRemoteTransport(session.RemoteConfig{
			APIKey:      cfg.Remote.APIKey,
			ProjectID:   cfg.Remote.ProjectID,
			APIURL:      cfg.Remote.APIURL,
			ConnectURL:  cfg.Remote.ConnectURL,
			Viewport:    vp,
			LoadTimeout: cfg.Browser.LoadTimeout,
			Logger:      logger,
		})
	}
	return session.NewLocalTransport(session.LocalConfig{
		Bin:              cfg.Browser.Bin,
		Headful:          cfg.Browser.Headful,
		NoStealth:        cfg.Browser.NoStealth,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Viewport:         vp,
		LoadTimeout:      cfg.Browser.LoadTimeout,
		Logger:           logger,
	}), nil
}

func newLimiter(ctx context.Context, rc config.RateLimitConfig) (ratelimit.Limiter, func(), error) {
	switch rc.Backend {
	case "memory":
		return ratelimit.NewMemory(ctx, rc.Limit, rc.Window), func() {}, nil
	case "redis":
		rl, err := ratelimit.NewRedis(ctx, ratelimit.RedisConfig{
			Addr:     rc.RedisAddr,
			Password: rc.RedisPassword,
			DB:       rc.RedisDB,
			Limit:    rc.Limit,
			Window:   rc.Window,
		})
		if err != nil {
			return nil, nil, err
		}
		return rl, func() { rl.Close() }, nil
	}
	return nil, func() {}, nil
}

// runObserve opens a session, loads url, prints the highlighted snapshot
// listing and closes the session.
func runObserve(ctx context.Context, reg *session.Registry, url string, w io.Writer) error {
	info, err := reg.Create(ctx)
	if err != nil {
		return err
	}
	defer reg.CloseSession(context.WithoutCancel(ctx), info.ID)

	return reg.Do(ctx, info.ID, func(ctx context.Context, s *session.Session) error {
		status, err := s.Actions().Navigate(ctx, url)
		if err != nil {
			return err
		}
		obs, err := s.Actions().Observe(ctx, true)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n%d interactive elements, %d highlighted\n\n%s", status, obs.Snapshot.Len(), obs.Painted, obs.Snapshot.Render())
		return nil
	})
}

// runStatic fetches url without a browser and prints the snapshot built from
// the served HTML.
func runStatic(ctx context.Context, url string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operator.NormalizeURL(url), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "operator/"+version)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	raw, err := domsnap.FromHTML(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	snap, err := domsnap.Parse(raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d interactive elements\n\n%s", snap.Len(), snap.Render())
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
