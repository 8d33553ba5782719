package canonical

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func gradient(r image.Rectangle) *image.RGBA {
	img := image.NewRGBA(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := uint8(100 + (x+y)%40)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func TestCanonicalizeSizeAndRange(t *testing.T) {
	c, err := New(DefaultSize)
	require.NoError(t, err)

	face, err := c.Canonicalize(gradient(image.Rect(0, 0, 320, 240)), image.Rect(100, 50, 220, 190))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 100, 100), face.Bounds())

	lo, hi := uint8(255), uint8(0)
	for _, p := range face.Pix {
		lo, hi = min(lo, p), max(hi, p)
	}
	require.Equal(t, uint8(0), lo)
	require.Equal(t, uint8(255), hi)
}

func TestCanonicalizeClipsToFrame(t *testing.T) {
	c, err := New(50)
	require.NoError(t, err)

	frame := gradient(image.Rect(20, 20, 120, 120))
	face, err := c.Canonicalize(frame, image.Rect(0, 0, 60, 60))
	require.NoError(t, err)
	require.Equal(t, 50, face.Bounds().Dx())

	_, err = c.Canonicalize(frame, image.Rect(200, 200, 260, 260))
	require.ErrorIs(t, err, ErrEmptyRegion)

	_, err = c.Canonicalize(nil, image.Rect(0, 0, 10, 10))
	require.Error(t, err)
}

func TestEqualizeHistKeepsUniformImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 42
	}
	EqualizeHist(img)
	for _, p := range img.Pix {
		require.Equal(t, uint8(42), p)
	}
}

func TestEqualizeHistTwoLevels(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	copy(img.Pix, []uint8{10, 10, 20, 20})
	EqualizeHist(img)
	require.Equal(t, []uint8{0, 0, 255, 255}, img.Pix)
}

func TestNewRejectsTinySize(t *testing.T) {
	_, err := New(2)
	require.Error(t, err)
}
