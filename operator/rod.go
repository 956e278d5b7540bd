package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// RodPage implements Page over a go-rod page.
type RodPage struct {
	page        *rod.Page
	loadTimeout time.Duration
	logger      *slog.Logger
}

// NewRodPage wraps p. loadTimeout bounds the wait for the load event after a
// navigation; zero means 30s.
func NewRodPage(p *rod.Page, loadTimeout time.Duration, logger *slog.Logger) *RodPage {
	if loadTimeout <= 0 {
		loadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RodPage{page: p, loadTimeout: loadTimeout, logger: logger}
}

// Rod returns the underlying page.
func (p *RodPage) Rod() *rod.Page { return p.page }

func (p *RodPage) Evaluate(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(res.Value)
	if err != nil {
		return nil, fmt.Errorf("operator: encode eval result: %w", err)
	}
	return data, nil
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, p.loadTimeout)
	defer cancel()
	if err := p.page.Context(navCtx).Navigate(url); err != nil {
		return err
	}
	p.waitLoad(navCtx, url)
	return nil
}

func (p *RodPage) Back(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, p.loadTimeout)
	defer cancel()
	if err := p.page.Context(navCtx).NavigateBack(); err != nil {
		return err
	}
	p.waitLoad(navCtx, "back")
	return nil
}

func (p *RodPage) Forward(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, p.loadTimeout)
	defer cancel()
	if err := p.page.Context(navCtx).NavigateForward(); err != nil {
		return err
	}
	p.waitLoad(navCtx, "forward")
	return nil
}

// waitLoad logs rather than fails: pages with long-polling resources never
// fire load but are usable.
func (p *RodPage) waitLoad(ctx context.Context, target string) {
	if err := p.page.Context(ctx).WaitLoad(); err != nil {
		p.logger.Warn("operator: wait load", "target", target, "error", err)
	}
}

func (p *RodPage) MouseMove(ctx context.Context, x, y float64) error {
	return p.page.Context(ctx).Mouse.MoveTo(proto.NewPoint(x, y))
}

func (p *RodPage) MouseClick(ctx context.Context) error {
	return p.page.Context(ctx).Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func (p *RodPage) Press(ctx context.Context, key input.Key) error {
	return p.page.Context(ctx).Keyboard.Press(key)
}

// Type uses key events for printable ASCII and text insertion for anything
// without a key definition.
func (p *RodPage) Type(ctx context.Context, r rune) error {
	pg := p.page.Context(ctx)
	if r >= 0x20 && r <= 0x7e {
		return pg.Keyboard.Type(input.Key(r))
	}
	return pg.InsertText(string(r))
}

func (p *RodPage) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
}

func (p *RodPage) PDF(ctx context.Context) ([]byte, error) {
	r, err := p.page.Context(ctx).PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (p *RodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *RodPage) Info(ctx context.Context) (PageInfo, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return PageInfo{}, err
	}
	return PageInfo{URL: info.URL, Title: info.Title}, nil
}

// SetViewport fixes the device metrics of the page.
func (p *RodPage) SetViewport(ctx context.Context, vp Viewport) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	})
}

// Close closes the page.
func (p *RodPage) Close() error {
	return p.page.Close()
}
