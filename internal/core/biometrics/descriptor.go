package biometrics

import (
	"errors"
	"image"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Layout of a FeatureVector
const (
	TextureBins   = 256
	IntensityBins = 256
	GridSize      = 3
	RegionalStats = GridSize * GridSize * 2
	FeatureLength = TextureBins + IntensityBins + RegionalStats

	textureOffset   = 0
	intensityOffset = TextureBins
	regionalOffset  = TextureBins + IntensityBins
)

// ErrExtraction is returned when a descriptor cannot be computed from a buffer.
var ErrExtraction = errors.New("descriptor extraction failed")

// lbpNeighbors lists the 8 neighbor offsets clockwise starting top-left.
// The first neighbor maps to bit 7, the last to bit 0.
var lbpNeighbors = [8]image.Point{
	{-1, -1}, {0, -1}, {1, -1},
	{1, 0},
	{1, 1}, {0, 1}, {-1, 1},
	{-1, 0},
}

// FeatureVector is the concatenation of the texture histogram, the intensity
// histogram and the regional statistics of a canonical face buffer.
// A vector is never modified after Extract returned it.
type FeatureVector []float64

// Texture returns the local binary pattern histogram part.
func (v FeatureVector) Texture() []float64 {
	if len(v) != FeatureLength {
		return nil
	}
	return v[textureOffset:intensityOffset]
}

// Intensity returns the grey level histogram part.
func (v FeatureVector) Intensity() []float64 {
	if len(v) != FeatureLength {
		return nil
	}
	return v[intensityOffset:regionalOffset]
}

// Regional returns mean/stddev pairs of the 3x3 grid in row-major order.
func (v FeatureVector) Regional() []float64 {
	if len(v) != FeatureLength {
		return nil
	}
	return v[regionalOffset:]
}

// Extract computes the FeatureVector of a grayscale face buffer. The buffer
// may have any size; callers should pass a canonical size so that vectors
// stay comparable.
func Extract(face *image.Gray) (FeatureVector, error) {
	if face == nil {
		return nil, ErrExtraction
	}

	v := make(FeatureVector, FeatureLength)
	b := face.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 0 || h < 0 || len(face.Pix) < requiredPix(face, w, h) {
		return nil, ErrExtraction
	}

	lbpHistogram(face, w, h, v[textureOffset:intensityOffset])
	intensityHistogram(face, w, h, v[intensityOffset:regionalOffset])
	regionalStatistics(face, w, h, v[regionalOffset:])

	return v, nil
}

func requiredPix(face *image.Gray, w, h int) int {
	if w == 0 || h == 0 {
		return 0
	}
	return (h-1)*face.Stride + w
}

// at returns the intensity at local coordinates (x, y) with (0, 0) at Bounds().Min.
func at(face *image.Gray, x, y int) uint8 {
	return face.Pix[y*face.Stride+x]
}

func lbpHistogram(face *image.Gray, w, h int, hist []float64) {
	var total float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			center := at(face, x, y)
			var code uint8
			for i, n := range lbpNeighbors {
				if at(face, x+n.X, y+n.Y) >= center {
					code |= 1 << (7 - i)
				}
			}
			hist[code]++
			total++
		}
	}
	normalize(hist, total)
}

func intensityHistogram(face *image.Gray, w, h int, hist []float64) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[at(face, x, y)]++
		}
	}
	normalize(hist, float64(w*h))
}

// regionalStatistics splits the buffer into a 3x3 grid. The last row and
// column absorb the remainder of the integer division.
func regionalStatistics(face *image.Gray, w, h int, out []float64) {
	cellW, cellH := w/GridSize, h/GridSize
	values := make([]float64, 0, (cellW+GridSize)*(cellH+GridSize))

	for row := 0; row < GridSize; row++ {
		y0, y1 := cellBounds(row, cellH, h)
		for col := 0; col < GridSize; col++ {
			x0, x1 := cellBounds(col, cellW, w)

			values = values[:0]
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					values = append(values, float64(at(face, x, y)))
				}
			}

			idx := (row*GridSize + col) * 2
			if len(values) == 0 {
				out[idx], out[idx+1] = 0, 0
				continue
			}
			mean, std := stat.PopMeanStdDev(values, nil)
			out[idx] = mean / 255
			out[idx+1] = std / 255
		}
	}
}

func cellBounds(i, cell, limit int) (int, int) {
	start := i * cell
	if i == GridSize-1 {
		return start, limit
	}
	return start, start + cell
}

func normalize(hist []float64, total float64) {
	if total == 0 {
		for i := range hist {
			hist[i] = 0
		}
		return
	}
	floats.Scale(1/total, hist)
}
