// Package canonical turns a face box of a frame into the fixed-size,
// histogram-equalized grayscale buffer the descriptor expects. It needs no
// native libraries.
package canonical

import (
	"errors"
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// DefaultSize is the edge length of a canonical face buffer.
const DefaultSize = 100

// ErrEmptyRegion is returned when the face box does not overlap the frame.
var ErrEmptyRegion = errors.New("face region outside of frame")

// Canonicalizer crops, converts to gray, scales and equalizes face regions.
type Canonicalizer struct {
	size   int
	scaler xdraw.Scaler
}

// New creates a Canonicalizer producing size x size buffers.
func New(size int) (*Canonicalizer, error) {
	if size < 3 {
		return nil, fmt.Errorf("canonical size must be at least 3, got %d", size)
	}
	return &Canonicalizer{size: size, scaler: xdraw.BiLinear}, nil
}

// Size returns the edge length of the produced buffers.
func (c *Canonicalizer) Size() int { return c.size }

// Canonicalize implements session.Canonicalizer.
func (c *Canonicalizer) Canonicalize(frame image.Image, face image.Rectangle) (*image.Gray, error) {
	if frame == nil {
		return nil, errors.New("no frame")
	}
	crop := face.Intersect(frame.Bounds())
	if crop.Empty() {
		return nil, ErrEmptyRegion
	}

	dst := image.NewGray(image.Rect(0, 0, c.size, c.size))
	c.scaler.Scale(dst, dst.Bounds(), frame, crop, xdraw.Src, nil)
	EqualizeHist(dst)
	return dst, nil
}

// EqualizeHist spreads the grey levels of img over the full 0..255 range in
// place. An image with a single grey level is left unchanged.
func EqualizeHist(img *image.Gray) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	total := w * h
	if total == 0 {
		return
	}

	var hist [256]int
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for _, p := range row {
			hist[p]++
		}
	}

	first := 0
	for hist[first] == 0 {
		first++
	}
	if hist[first] == total {
		return
	}

	var lut [256]uint8
	scale := 255 / float64(total-hist[first])
	sum := 0
	for i := first + 1; i < 256; i++ {
		sum += hist[i]
		lut[i] = uint8(math.Min(255, math.Round(float64(sum)*scale)))
	}

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x, p := range row {
			row[x] = lut[p]
		}
	}
}
