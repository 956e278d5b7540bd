package domsnap

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed scripts/gather.js
var gatherJS string

// Evaluator runs a JavaScript function expression inside the page and returns
// its JSON-encoded result. Arguments are passed to the function in order.
type Evaluator interface {
	Evaluate(ctx context.Context, js string, args ...any) (json.RawMessage, error)
}

// CaptureOptions controls a capture.
type CaptureOptions struct {
	// Highlight enables index assignment. When false the tree carries no
	// highlight indices and cannot be addressed by index.
	Highlight bool
}

// Capture builds the raw tree inside the page. Nothing is painted; call
// Highlight with the returned tree to draw the overlay.
func Capture(ctx context.Context, ev Evaluator, opts CaptureOptions) (*RawNode, error) {
	res, err := ev.Evaluate(ctx, gatherJS, opts.Highlight)
	if err != nil {
		return nil, fmt.Errorf("domsnap: capture: %w", err)
	}
	if len(bytes.TrimSpace(res)) == 0 {
		return nil, ErrNoDocument
	}
	return DecodeRaw(res)
}

// Observe captures with indices enabled and parses the result.
func Observe(ctx context.Context, ev Evaluator) (*RawNode, *Snapshot, error) {
	raw, err := Capture(ctx, ev, CaptureOptions{Highlight: true})
	if err != nil {
		return nil, nil, err
	}
	snap, err := Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, snap, nil
}
