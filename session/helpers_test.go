package session

import "github.com/hazyhaar/operator/vision"

func visionPoint(x, y float64) vision.Point { return vision.Point{X: x, Y: y} }
