// Package roi selects the detected faces that lie inside the on-screen viewport circle.
package roi

import (
	"image"
	"math"
)

// Default tolerances, expressed as a fraction of the face's larger side.
const (
	DefaultStrictTolerance  = 0.35
	DefaultRelaxedTolerance = 0.7
)

// Tolerances widens the viewport radius per face.
type Tolerances struct {
	Strict  float64 `json:"strict" mapstructure:"strict"`
	Relaxed float64 `json:"relaxed" mapstructure:"relaxed"`
}

// DefaultTolerances returns the strict/relaxed defaults.
func DefaultTolerances() Tolerances {
	return Tolerances{Strict: DefaultStrictTolerance, Relaxed: DefaultRelaxedTolerance}
}

// Viewport is a circle in the coordinate space of a preview surface.
type Viewport struct {
	CenterX       float64 `json:"center_x"`
	CenterY       float64 `json:"center_y"`
	Radius        float64 `json:"radius"`
	PreviewWidth  int     `json:"preview_width"`
	PreviewHeight int     `json:"preview_height"`
}

// Valid reports whether the viewport can be projected.
func (v Viewport) Valid() bool {
	return v.PreviewWidth > 0 && v.PreviewHeight > 0 && v.Radius >= 0 &&
		!math.IsNaN(v.CenterX) && !math.IsNaN(v.CenterY) && !math.IsNaN(v.Radius)
}

// circle is the viewport projected into frame pixels.
type circle struct {
	x, y, r float64
}

// project maps the viewport onto a frame through normalized coordinates so
// preview and analysis frames of different resolutions stay aligned. The
// radius follows the width ratio.
func (v Viewport) project(frame image.Point) circle {
	sx := float64(frame.X) / float64(v.PreviewWidth)
	sy := float64(frame.Y) / float64(v.PreviewHeight)
	return circle{
		x: v.CenterX * sx,
		y: v.CenterY * sy,
		r: v.Radius * sx,
	}
}

// Filter returns the faces eligible for verification.
//
// Pass one keeps every face whose center lies within radius + Strict*size of
// the projected center. If none qualifies, pass two takes the single face
// closest to the center and keeps it only within radius + Relaxed*size.
// An invalid viewport or frame size disables filtering.
func Filter(faces []image.Rectangle, vp Viewport, frame image.Point, tol Tolerances) []image.Rectangle {
	if len(faces) == 0 {
		return nil
	}
	if !vp.Valid() || frame.X <= 0 || frame.Y <= 0 {
		return append([]image.Rectangle(nil), faces...)
	}

	c := vp.project(frame)

	var selected []image.Rectangle
	for _, f := range faces {
		if distance(f, c) <= c.r+tol.Strict*faceSize(f) {
			selected = append(selected, f)
		}
	}
	if len(selected) > 0 {
		return selected
	}

	nearest := faces[0]
	best := distance(nearest, c)
	for _, f := range faces[1:] {
		if d := distance(f, c); d < best {
			nearest, best = f, d
		}
	}
	if best <= c.r+tol.Relaxed*faceSize(nearest) {
		return []image.Rectangle{nearest}
	}
	return nil
}

func distance(f image.Rectangle, c circle) float64 {
	fx := float64(f.Min.X+f.Max.X) / 2
	fy := float64(f.Min.Y+f.Max.Y) / 2
	return math.Hypot(fx-c.x, fy-c.y)
}

func faceSize(f image.Rectangle) float64 {
	return float64(max(f.Dx(), f.Dy()))
}
