package operator

import (
	"context"

	"github.com/go-rod/rod/lib/input"

	"github.com/hazyhaar/operator/domsnap"
)

// Page is the single browser page an Actions value drives. Coordinates are
// CSS pixels relative to the viewport.
type Page interface {
	domsnap.Evaluator

	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error

	MouseMove(ctx context.Context, x, y float64) error
	MouseClick(ctx context.Context) error

	// Press sends one key down/up pair.
	Press(ctx context.Context, key input.Key) error
	// Type inserts one character as typed text.
	Type(ctx context.Context, r rune) error

	Screenshot(ctx context.Context, quality int) ([]byte, error)
	PDF(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	Info(ctx context.Context) (PageInfo, error)
}

// PageInfo describes the document currently loaded.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}
