package domsnap

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed scripts/highlight.js
var highlightJS string

// Highlight paints a numbered marker over every indexed element of raw,
// after removing markers left by a previous call. Elements whose path no
// longer resolves, or whose box is empty, are skipped. It returns the number
// of markers painted.
//
// Failures here leave the page unmodified or partially painted and never
// invalidate the snapshot; callers log them and carry on.
func Highlight(ctx context.Context, ev Evaluator, raw *RawNode) (int, error) {
	res, err := ev.Evaluate(ctx, highlightJS, raw)
	if err != nil {
		return 0, fmt.Errorf("domsnap: highlight: %w", err)
	}
	var n int
	if err := json.Unmarshal(res, &n); err != nil {
		return 0, fmt.Errorf("domsnap: highlight: decode count: %w", err)
	}
	return n, nil
}

// ClearHighlights removes every marker painted by Highlight.
func ClearHighlights(ctx context.Context, ev Evaluator) error {
	if _, err := ev.Evaluate(ctx, highlightJS, nil); err != nil {
		return fmt.Errorf("domsnap: clear highlights: %w", err)
	}
	return nil
}
