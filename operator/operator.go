// Package operator translates agent intents into browser input: normalized
// points into pixel clicks, snapshot indices into element clicks, plus
// navigation, typing, scrolling and capture.
package operator

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/operator/domsnap"
	"github.com/hazyhaar/operator/vision"
)

//go:embed scripts/cursor.js
var cursorJS string

//go:embed scripts/locate.js
var locateJS string

const viewportJS = `() => ({width: window.innerWidth, height: window.innerHeight})`

const scrollJS = `(amount) => window.scrollBy(0, amount)`

var (
	// ErrStaleElement means an indexed element's path no longer resolves to
	// a rendered element in the live page.
	ErrStaleElement = errors.New("operator: element no longer on page")
	// ErrNoSuchIndex means the snapshot has no element with that index.
	ErrNoSuchIndex = errors.New("operator: no element with that index")
	// ErrUnknownKey means a key name could not be mapped.
	ErrUnknownKey = errors.New("operator: unknown key")
	// ErrNoViewport means the viewport has no area to map points into.
	ErrNoViewport = errors.New("operator: empty viewport")
)

// Viewport is the visible page area in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Pixel is a viewport position in CSS pixels.
type Pixel struct {
	X, Y int
}

func (p Pixel) String() string { return fmt.Sprintf("(%d, %d)", p.X, p.Y) }

// ToPixel maps a normalized point into the viewport, rounding to the nearest
// pixel.
func ToPixel(p vision.Point, vp Viewport) Pixel {
	return Pixel{
		X: int(math.Round(p.X * float64(vp.Width))),
		Y: int(math.Round(p.Y * float64(vp.Height))),
	}
}

// CursorStyle selects the click indicator.
type CursorStyle string

const (
	CursorArrow CursorStyle = "arrow"
	CursorDot   CursorStyle = "dot"
)

// ClickOptions controls a single click.
type ClickOptions struct {
	// ShowCursor paints an indicator at the click point and waits the settle
	// delay before clicking, so screenshots show where the click landed.
	ShowCursor bool
	Style      CursorStyle
}

// Image is an encoded screenshot.
type Image struct {
	Data     []byte
	MIMEType string
}

// PDF is a printed page.
type PDF struct {
	Data  []byte
	Pages int
}

// Options configures Actions. Zero values take the defaults shown.
type Options struct {
	SettleDelay       time.Duration // 500ms
	KeyDelay          time.Duration // 12ms
	SubmitDelay       time.Duration // 50ms
	ScreenshotQuality int           // 80
	SearchURL         string        // https://www.google.com/search?q=
	// CheckURL vets navigation targets when set.
	CheckURL func(ctx context.Context, url string) error
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.SettleDelay <= 0 {
		o.SettleDelay = 500 * time.Millisecond
	}
	if o.KeyDelay <= 0 {
		o.KeyDelay = 12 * time.Millisecond
	}
	if o.SubmitDelay <= 0 {
		o.SubmitDelay = 50 * time.Millisecond
	}
	if o.ScreenshotQuality <= 0 || o.ScreenshotQuality > 100 {
		o.ScreenshotQuality = 80
	}
	if o.SearchURL == "" {
		o.SearchURL = "https://www.google.com/search?q="
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Actions drives one Page. It is not safe for concurrent use; the session
// registry serializes access.
type Actions struct {
	page Page
	opts Options
}

// New creates Actions over page.
func New(page Page, opts Options) *Actions {
	opts.defaults()
	return &Actions{page: page, opts: opts}
}

// Page returns the driven page.
func (a *Actions) Page() Page { return a.page }

// Click clicks at a normalized point of the given viewport.
func (a *Actions) Click(ctx context.Context, p vision.Point, vp Viewport, opts ClickOptions) (Pixel, error) {
	if vp.Width <= 0 || vp.Height <= 0 {
		return Pixel{}, ErrNoViewport
	}
	px := ToPixel(p, vp)
	if err := a.clickAt(ctx, px, opts); err != nil {
		return px, err
	}
	return px, nil
}

// ClickIndex clicks the centre of the element carrying index in snap. The
// element is re-resolved by path in the live page and scrolled into view
// first.
func (a *Actions) ClickIndex(ctx context.Context, snap *domsnap.Snapshot, index int, opts ClickOptions) (Pixel, *domsnap.ElementNode, error) {
	if snap == nil {
		return Pixel{}, nil, fmt.Errorf("%w: %d (no snapshot)", ErrNoSuchIndex, index)
	}
	el, ok := snap.Lookup(index)
	if !ok {
		return Pixel{}, nil, fmt.Errorf("%w: %d", ErrNoSuchIndex, index)
	}
	res, err := a.page.Evaluate(ctx, locateJS, el.Path)
	if err != nil {
		return Pixel{}, el, fmt.Errorf("operator: locate %s: %w", el.Path, err)
	}
	var pt *struct{ X, Y float64 }
	if err := json.Unmarshal(res, &pt); err != nil {
		return Pixel{}, el, fmt.Errorf("operator: locate %s: %w", el.Path, err)
	}
	if pt == nil {
		return Pixel{}, el, fmt.Errorf("%w: [%d] %s", ErrStaleElement, index, el.Path)
	}
	px := Pixel{X: int(math.Round(pt.X)), Y: int(math.Round(pt.Y))}
	return px, el, a.clickAt(ctx, px, opts)
}

func (a *Actions) clickAt(ctx context.Context, px Pixel, opts ClickOptions) error {
	if opts.ShowCursor {
		style := opts.Style
		if style == "" {
			style = CursorArrow
		}
		if _, err := a.page.Evaluate(ctx, cursorJS, px.X, px.Y, string(style)); err != nil {
			a.opts.Logger.Warn("operator: paint cursor", "error", err)
		}
		if err := sleep(ctx, a.opts.SettleDelay); err != nil {
			return err
		}
	}
	if err := a.page.MouseMove(ctx, float64(px.X), float64(px.Y)); err != nil {
		return fmt.Errorf("operator: mouse move %s: %w", px, err)
	}
	if err := a.page.MouseClick(ctx); err != nil {
		return fmt.Errorf("operator: click %s: %w", px, err)
	}
	return nil
}

// Scroll scrolls down by amount pixels, or by one page when amount <= 0.
func (a *Actions) Scroll(ctx context.Context, amount int) (string, error) {
	if amount > 0 {
		if _, err := a.page.Evaluate(ctx, scrollJS, amount); err != nil {
			return "", fmt.Errorf("operator: scroll: %w", err)
		}
		return fmt.Sprintf("Scrolled down by %d pixels", amount), nil
	}
	if err := a.page.Press(ctx, input.PageDown); err != nil {
		return "", fmt.Errorf("operator: scroll: %w", err)
	}
	return "Scrolled down one page", nil
}

// NormalizeURL prefixes https:// when the URL has no http scheme.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http") {
		return "https://" + raw
	}
	return raw
}

// Navigate loads url in the page.
func (a *Actions) Navigate(ctx context.Context, rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("operator: navigate: empty url")
	}
	u := NormalizeURL(rawURL)
	if a.opts.CheckURL != nil {
		if err := a.opts.CheckURL(ctx, u); err != nil {
			return "", fmt.Errorf("operator: navigate %s: %w", u, err)
		}
	}
	if err := a.page.Navigate(ctx, u); err != nil {
		return "", fmt.Errorf("operator: navigate %s: %w", u, err)
	}
	return "Navigated to " + u, nil
}

// Back goes one entry back in history.
func (a *Actions) Back(ctx context.Context) (string, error) {
	if err := a.page.Back(ctx); err != nil {
		return "", fmt.Errorf("operator: back: %w", err)
	}
	return "Navigated back", nil
}

// Forward goes one entry forward in history.
func (a *Actions) Forward(ctx context.Context) (string, error) {
	if err := a.page.Forward(ctx); err != nil {
		return "", fmt.Errorf("operator: forward: %w", err)
	}
	return "Navigated forward", nil
}

// SearchURL returns the search page URL for query.
func (a *Actions) SearchURL(query string) string {
	return a.opts.SearchURL + url.QueryEscape(query)
}

// Search loads the search results page for query.
func (a *Actions) Search(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("operator: search: empty query")
	}
	u := a.SearchURL(query)
	if err := a.page.Navigate(ctx, u); err != nil {
		return "", fmt.Errorf("operator: search: %w", err)
	}
	return fmt.Sprintf("Searched for %q", query), nil
}

// Type types text one character at a time, then submits with Enter.
func (a *Actions) Type(ctx context.Context, text string) (string, error) {
	for _, r := range text {
		if err := a.page.Type(ctx, r); err != nil {
			return "", fmt.Errorf("operator: type: %w", err)
		}
		if err := sleep(ctx, a.opts.KeyDelay); err != nil {
			return "", err
		}
	}
	if err := sleep(ctx, a.opts.SubmitDelay); err != nil {
		return "", err
	}
	if err := a.page.Press(ctx, input.Enter); err != nil {
		return "", fmt.Errorf("operator: type: submit: %w", err)
	}
	return fmt.Sprintf("Typed %q and pressed Enter", text), nil
}

// Press sends a named key or a single character.
func (a *Actions) Press(ctx context.Context, name string) (string, error) {
	key, err := ParseKey(name)
	if err != nil {
		return "", err
	}
	if err := a.page.Press(ctx, key); err != nil {
		return "", fmt.Errorf("operator: press %s: %w", name, err)
	}
	return "Pressed " + name, nil
}

// Screenshot captures the viewport as JPEG.
func (a *Actions) Screenshot(ctx context.Context) (Image, error) {
	data, err := a.page.Screenshot(ctx, a.opts.ScreenshotQuality)
	if err != nil {
		return Image{}, fmt.Errorf("operator: screenshot: %w", err)
	}
	return Image{Data: data, MIMEType: "image/jpeg"}, nil
}

// ExportPDF prints the page and validates the result.
func (a *Actions) ExportPDF(ctx context.Context) (PDF, error) {
	data, err := a.page.PDF(ctx)
	if err != nil {
		return PDF{}, fmt.Errorf("operator: print pdf: %w", err)
	}
	n, err := CountPages(data)
	if err != nil {
		return PDF{}, err
	}
	return PDF{Data: data, Pages: n}, nil
}

// CountPages validates a PDF document and returns its page count.
func CountPages(data []byte) (int, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("operator: pdfcpu read: %w", err)
	}
	return ctx.PageCount, nil
}

// Viewport queries the live viewport size.
func (a *Actions) Viewport(ctx context.Context) (Viewport, error) {
	res, err := a.page.Evaluate(ctx, viewportJS)
	if err != nil {
		return Viewport{}, fmt.Errorf("operator: viewport: %w", err)
	}
	var vp Viewport
	if err := json.Unmarshal(res, &vp); err != nil {
		return Viewport{}, fmt.Errorf("operator: viewport: %w", err)
	}
	return vp, nil
}

// Observation is the result of Observe.
type Observation struct {
	Raw      *domsnap.RawNode
	Snapshot *domsnap.Snapshot
	Painted  int
}

// Observe captures an indexed snapshot and, when highlight is set, paints
// the overlay. Overlay failures are logged and do not fail the observation.
func (a *Actions) Observe(ctx context.Context, highlight bool) (*Observation, error) {
	raw, snap, err := domsnap.Observe(ctx, a.page)
	if err != nil {
		return nil, err
	}
	obs := &Observation{Raw: raw, Snapshot: snap}
	if highlight {
		n, err := domsnap.Highlight(ctx, a.page, raw)
		if err != nil {
			a.opts.Logger.Warn("operator: highlight", "error", err)
		}
		obs.Painted = n
	}
	return obs, nil
}

// Content returns the page HTML and its URL and title.
func (a *Actions) Content(ctx context.Context) (string, PageInfo, error) {
	info, err := a.page.Info(ctx)
	if err != nil {
		return "", PageInfo{}, fmt.Errorf("operator: page info: %w", err)
	}
	html, err := a.page.HTML(ctx)
	if err != nil {
		return "", info, fmt.Errorf("operator: page html: %w", err)
	}
	return html, info, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
