package operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/input"

	"github.com/hazyhaar/operator/domsnap"
	"github.com/hazyhaar/operator/vision"
)

// fakePage records every interaction as a short string.
type fakePage struct {
	log      []string
	evalJS   []string
	evalArgs [][]any

	viewport  string
	locate    string
	evalErr   error
	navErr    error
	pdf       []byte
	shot      []byte
	gotQual   int
	gathered  string
	highlight string
}

func (f *fakePage) Evaluate(_ context.Context, js string, args ...any) (json.RawMessage, error) {
	f.evalJS = append(f.evalJS, js)
	f.evalArgs = append(f.evalArgs, args)
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	switch {
	case js == viewportJS:
		return json.RawMessage(f.viewport), nil
	case js == locateJS:
		return json.RawMessage(f.locate), nil
	case js == cursorJS:
		f.log = append(f.log, fmt.Sprintf("cursor %v,%v %v", args[0], args[1], args[2]))
		return json.RawMessage("true"), nil
	case js == scrollJS:
		f.log = append(f.log, fmt.Sprintf("scrollBy %v", args[0]))
		return json.RawMessage("null"), nil
	case strings.Contains(js, "highlightElements"):
		return json.RawMessage(f.gathered), nil
	case strings.Contains(js, "dom-highlighter-overlay"):
		if f.highlight == "" {
			return nil, errors.New("overlay failed")
		}
		return json.RawMessage(f.highlight), nil
	}
	return json.RawMessage("null"), nil
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.log = append(f.log, "navigate "+url)
	return f.navErr
}
func (f *fakePage) Back(context.Context) error    { f.log = append(f.log, "back"); return nil }
func (f *fakePage) Forward(context.Context) error { f.log = append(f.log, "forward"); return nil }
func (f *fakePage) MouseMove(_ context.Context, x, y float64) error {
	f.log = append(f.log, fmt.Sprintf("move %v,%v", x, y))
	return nil
}
func (f *fakePage) MouseClick(context.Context) error {
	f.log = append(f.log, "click")
	return nil
}
func (f *fakePage) Press(_ context.Context, k input.Key) error {
	f.log = append(f.log, fmt.Sprintf("press %d", k))
	return nil
}
func (f *fakePage) Type(_ context.Context, r rune) error {
	f.log = append(f.log, "type "+string(r))
	return nil
}
func (f *fakePage) Screenshot(_ context.Context, q int) ([]byte, error) {
	f.gotQual = q
	return f.shot, nil
}
func (f *fakePage) PDF(context.Context) ([]byte, error)  { return f.pdf, nil }
func (f *fakePage) HTML(context.Context) (string, error) { return "<html></html>", nil }
func (f *fakePage) Info(context.Context) (PageInfo, error) {
	return PageInfo{URL: "https://example.com/", Title: "Example"}, nil
}

func fastOptions() Options {
	return Options{SettleDelay: time.Nanosecond, KeyDelay: time.Nanosecond, SubmitDelay: time.Nanosecond}
}

func TestToPixel(t *testing.T) {
	got := ToPixel(vision.Point{X: 0.2, Y: 0.3}, Viewport{Width: 1000, Height: 800})
	if got != (Pixel{X: 200, Y: 240}) {
		t.Errorf("ToPixel: got %v, want (200, 240)", got)
	}
	got = ToPixel(vision.Point{X: 0.0006, Y: 1}, Viewport{Width: 1000, Height: 801})
	if got != (Pixel{X: 1, Y: 801}) {
		t.Errorf("ToPixel rounding: got %v", got)
	}
}

func TestClick(t *testing.T) {
	page := &fakePage{}
	a := New(page, fastOptions())

	px, err := a.Click(context.Background(), vision.Point{X: 0.2, Y: 0.3}, Viewport{Width: 1000, Height: 800}, ClickOptions{})
	if err != nil {
		t.Fatalf("Click: %v", err)
	}
	if px != (Pixel{X: 200, Y: 240}) {
		t.Errorf("pixel: got %v", px)
	}
	want := []string{"move 200,240", "click"}
	if strings.Join(page.log, "|") != strings.Join(want, "|") {
		t.Errorf("log: got %v, want %v", page.log, want)
	}
}

func TestClick_CursorBeforeClick(t *testing.T) {
	page := &fakePage{}
	a := New(page, fastOptions())

	_, err := a.Click(context.Background(), vision.Point{X: 0.5, Y: 0.5}, Viewport{Width: 100, Height: 100},
		ClickOptions{ShowCursor: true, Style: CursorDot})
	if err != nil {
		t.Fatalf("Click: %v", err)
	}
	want := []string{"cursor 50,50 dot", "move 50,50", "click"}
	if strings.Join(page.log, "|") != strings.Join(want, "|") {
		t.Errorf("log: got %v, want %v", page.log, want)
	}
}

func TestClick_SettleHonoursContext(t *testing.T) {
	page := &fakePage{}
	a := New(page, Options{SettleDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Click(ctx, vision.Point{X: 0.5, Y: 0.5}, Viewport{Width: 100, Height: 100}, ClickOptions{ShowCursor: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	for _, l := range page.log {
		if l == "click" {
			t.Error("click dispatched after cancellation")
		}
	}
}

func TestClick_EmptyViewport(t *testing.T) {
	a := New(&fakePage{}, fastOptions())
	if _, err := a.Click(context.Background(), vision.Point{X: 0.5, Y: 0.5}, Viewport{}, ClickOptions{}); !errors.Is(err, ErrNoViewport) {
		t.Errorf("got %v, want ErrNoViewport", err)
	}
}

func indexedSnapshot(t *testing.T) *domsnap.Snapshot {
	t.Helper()
	raw, err := domsnap.FromHTML(strings.NewReader(`<html><body><p>intro</p><button>Go</button></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := domsnap.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestClickIndex(t *testing.T) {
	page := &fakePage{locate: `{"x": 120.4, "y": 33.6}`}
	a := New(page, fastOptions())

	px, el, err := a.ClickIndex(context.Background(), indexedSnapshot(t), 1, ClickOptions{})
	if err != nil {
		t.Fatalf("ClickIndex: %v", err)
	}
	if px != (Pixel{X: 120, Y: 34}) {
		t.Errorf("pixel: got %v", px)
	}
	if el.TagName != "button" {
		t.Errorf("element: got <%s>", el.TagName)
	}
	if got := page.evalArgs[0][0]; got != "/html/body/button" {
		t.Errorf("locate path: got %v", got)
	}
}

func TestClickIndex_Stale(t *testing.T) {
	page := &fakePage{locate: `null`}
	a := New(page, fastOptions())
	_, _, err := a.ClickIndex(context.Background(), indexedSnapshot(t), 1, ClickOptions{})
	if !errors.Is(err, ErrStaleElement) {
		t.Errorf("got %v, want ErrStaleElement", err)
	}
	if len(page.log) != 0 {
		t.Errorf("no input expected, got %v", page.log)
	}
}

func TestClickIndex_UnknownIndex(t *testing.T) {
	a := New(&fakePage{}, fastOptions())
	if _, _, err := a.ClickIndex(context.Background(), indexedSnapshot(t), 7, ClickOptions{}); !errors.Is(err, ErrNoSuchIndex) {
		t.Errorf("got %v, want ErrNoSuchIndex", err)
	}
	if _, _, err := a.ClickIndex(context.Background(), nil, 1, ClickOptions{}); !errors.Is(err, ErrNoSuchIndex) {
		t.Errorf("nil snapshot: got %v, want ErrNoSuchIndex", err)
	}
}

func TestScroll(t *testing.T) {
	page := &fakePage{}
	a := New(page, fastOptions())

	if _, err := a.Scroll(context.Background(), 300); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Scroll(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	want := []string{"scrollBy 300", fmt.Sprintf("press %d", input.PageDown)}
	if strings.Join(page.log, "|") != strings.Join(want, "|") {
		t.Errorf("log: got %v, want %v", page.log, want)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"example.com":         "https://example.com",
		"  example.com/a ":    "https://example.com/a",
		"http://example.com":  "http://example.com",
		"https://example.com": "https://example.com",
		"httpbin.org/get":     "httpbin.org/get",
	}
	for in, want := range tests {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNavigate(t *testing.T) {
	page := &fakePage{}
	a := New(page, fastOptions())
	msg, err := a.Navigate(context.Background(), "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if msg != "Navigated to https://example.com" || page.log[0] != "navigate https://example.com" {
		t.Errorf("msg=%q log=%v", msg, page.log)
	}
	if _, err := a.Navigate(context.Background(), "  "); err == nil {
		t.Error("empty url: want error")
	}
}

func TestNavigate_Error(t *testing.T) {
	boom := errors.New("net::ERR_NAME_NOT_RESOLVED")
	a := New(&fakePage{navErr: boom}, fastOptions())
	if _, err := a.Navigate(context.Background(), "nope.invalid"); !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped %v", err, boom)
	}
}

func TestNavigate_CheckURL(t *testing.T) {
	blocked := errors.New("blocked")
	opts := fastOptions()
	opts.CheckURL = func(_ context.Context, u string) error {
		if strings.Contains(u, "127.0.0.1") {
			return blocked
		}
		return nil
	}
	page := &fakePage{}
	a := New(page, opts)
	if _, err := a.Navigate(context.Background(), "http://127.0.0.1:9222/json"); !errors.Is(err, blocked) {
		t.Errorf("got %v, want %v", err, blocked)
	}
	if len(page.log) != 0 {
		t.Errorf("page should not navigate: %v", page.log)
	}
	if _, err := a.Navigate(context.Background(), "example.com"); err != nil {
		t.Errorf("allowed url: %v", err)
	}
}

func TestSearch(t *testing.T) {
	page := &fakePage{}
	a := New(page, fastOptions())
	if _, err := a.Search(context.Background(), "go rod & cdp"); err != nil {
		t.Fatal(err)
	}
	want := "navigate https://www.google.com/search?q=go+rod+%26+cdp"
	if page.log[0] != want {
		t.Errorf("got %q, want %q", page.log[0], want)
	}
}

func TestType(t *testing.T) {
	page := &fakePage{}
	a := New(page, fastOptions())
	if _, err := a.Type(context.Background(), "hé"); err != nil {
		t.Fatal(err)
	}
	want := []string{"type h", "type é", fmt.Sprintf("press %d", input.Enter)}
	if strings.Join(page.log, "|") != strings.Join(want, "|") {
		t.Errorf("log: got %v, want %v", page.log, want)
	}
}

func TestPress(t *testing.T) {
	page := &fakePage{}
	a := New(page, fastOptions())
	if _, err := a.Press(context.Background(), "Escape"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Press(context.Background(), "NotAKey"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("got %v, want ErrUnknownKey", err)
	}
	if page.log[0] != fmt.Sprintf("press %d", input.Escape) {
		t.Errorf("log: %v", page.log)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want input.Key
	}{
		{"Enter", input.Enter},
		{"page down", input.PageDown},
		{"Page_Up", input.PageUp},
		{"ArrowLeft", input.ArrowLeft},
		{"space", input.Space},
		{"a", input.Key('a')},
		{"/", input.Key('/')},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseKey(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseKey("é"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("non-ASCII: got %v", err)
	}
}

func TestScreenshot(t *testing.T) {
	page := &fakePage{shot: []byte{0xff, 0xd8, 0xff}}
	a := New(page, fastOptions())
	img, err := a.Screenshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if img.MIMEType != "image/jpeg" || len(img.Data) != 3 {
		t.Errorf("image: %+v", img)
	}
	if page.gotQual != 80 {
		t.Errorf("quality: got %d, want 80", page.gotQual)
	}
}

func TestViewport(t *testing.T) {
	page := &fakePage{viewport: `{"width":1280,"height":720}`}
	vp, err := New(page, fastOptions()).Viewport(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if vp != (Viewport{Width: 1280, Height: 720}) {
		t.Errorf("viewport: %+v", vp)
	}
}

func TestObserve_OverlayFailureNonFatal(t *testing.T) {
	raw, err := domsnap.FromHTML(strings.NewReader(`<html><body><a href="/x">Link</a></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(raw)
	page := &fakePage{gathered: string(data)}

	obs, err := New(page, fastOptions()).Observe(context.Background(), true)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if obs.Snapshot.Len() != 1 || obs.Painted != 0 {
		t.Errorf("len=%d painted=%d", obs.Snapshot.Len(), obs.Painted)
	}

	page.highlight = "1"
	obs, err = New(page, fastOptions()).Observe(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if obs.Painted != 1 {
		t.Errorf("painted: got %d, want 1", obs.Painted)
	}
}
