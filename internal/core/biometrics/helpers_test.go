package biometrics

import (
	"image"
	"image/color"
)

func colorGray(v uint8) color.Gray {
	return color.Gray{Y: v}
}

func image0() *image.Gray {
	return image.NewGray(image.Rect(0, 0, 0, 0))
}
