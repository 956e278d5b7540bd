// Package vision turns a natural-language description of something on screen
// into a point on the page, using an external vision-language model.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Scale is the integer range the model reports coordinates in.
const Scale = 1000

// ErrNoTarget is returned when the model finds nothing matching the
// description, or returns coordinates that do not form a box.
var ErrNoTarget = errors.New("vision: no target found")

// Box is a bounding box in viewport-normalized coordinates, each in [0,1].
type Box struct {
	XMin, XMax, YMin, YMax float64
}

// Point is a viewport-normalized position, each coordinate in [0,1].
type Point struct {
	X, Y float64
}

// Center returns the midpoint of an already normalized box. Resolve computes
// its point on the 0..Scale grid instead.
func (b Box) Center() Point {
	return Point{X: (b.XMin + b.XMax) / 2, Y: (b.YMin + b.YMax) / 2}
}

// Model locates an object in an image. It returns [xmin, xmax, ymin, ymax]
// on a 0..Scale grid, or an empty slice when nothing matches.
type Model interface {
	Locate(ctx context.Context, image []byte, mimeType, description string) ([]float64, error)
}

// Resolver wraps a Model. It holds no per-call state and is safe for
// concurrent use when the Model is.
type Resolver struct {
	model  Model
	logger *slog.Logger
}

// NewResolver creates a resolver backed by model.
func NewResolver(model Model, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{model: model, logger: logger}
}

// Resolve asks the model for the box of description in image and returns it
// normalized to [0,1] together with its center.
func (r *Resolver) Resolve(ctx context.Context, image []byte, mimeType, description string) (Box, Point, error) {
	if len(image) == 0 {
		return Box{}, Point{}, fmt.Errorf("vision: resolve: empty image")
	}
	coords, err := r.model.Locate(ctx, image, mimeType, description)
	if err != nil {
		return Box{}, Point{}, fmt.Errorf("vision: resolve: %w", err)
	}
	c, err := gridBox(coords)
	if err != nil {
		r.logger.Debug("vision: no target", "description", description, "coords", coords)
		return Box{}, Point{}, err
	}
	// Midpoint on the grid, then scaled, so {100,300,200,400} gives exactly {0.2,0.3}.
	pt := Point{X: (c[0] + c[1]) / 2 / Scale, Y: (c[2] + c[3]) / 2 / Scale}
	return c.normalized(), pt, nil
}

// Normalize validates model output and maps it to [0,1]. Values are clamped
// to the 0..Scale grid first; an inverted box is rejected, not swapped.
func Normalize(coords []float64) (Box, error) {
	c, err := gridBox(coords)
	if err != nil {
		return Box{}, err
	}
	return c.normalized(), nil
}

// grid is a clamped [xmin, xmax, ymin, ymax] on the 0..Scale grid.
type grid [4]float64

func gridBox(coords []float64) (grid, error) {
	var c grid
	if len(coords) != 4 {
		return c, ErrNoTarget
	}
	for i, v := range coords {
		c[i] = clamp(v)
	}
	if c[0] > c[1] || c[2] > c[3] {
		return c, ErrNoTarget
	}
	return c, nil
}

func (c grid) normalized() Box {
	return Box{
		XMin: c[0] / Scale,
		XMax: c[1] / Scale,
		YMin: c[2] / Scale,
		YMax: c[3] / Scale,
	}
}

func clamp(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > Scale:
		return Scale
	}
	return v
}
