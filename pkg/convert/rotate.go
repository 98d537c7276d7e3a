package convert

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Rotate rotates the image at path clockwise by degrees and writes it back
// in place. It satisfies extract.Rotator.
func (converter *Converter) Rotate(path string, degrees int) error {
	decoded, format, err := decodeFile(path)
	if err != nil {
		return err
	}
	rotated := rotateImage(decoded, degrees)
	if rotated == decoded {
		return nil
	}
	converter.logger.Debug("rotated image", "path", path, "degrees", degrees)
	return encodeFile(path, rotated, format)
}

// rotateImage rotates source clockwise. Right angles are exact; other
// angles are resampled onto a canvas large enough to hold the result.
func rotateImage(source image.Image, degrees int) image.Image {
	bounds := source.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return source
	case 90:
		rotated := image.NewRGBA(image.Rect(0, 0, height, width))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				rotated.Set(height-1-y, x, source.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		return rotated
	case 180:
		rotated := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				rotated.Set(width-1-x, height-1-y, source.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		return rotated
	case 270:
		rotated := image.NewRGBA(image.Rect(0, 0, height, width))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				rotated.Set(y, width-1-x, source.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		return rotated
	}

	radians := float64(degrees) * math.Pi / 180
	cos, sin := math.Cos(radians), math.Sin(radians)
	rotatedWidth := int(math.Ceil(math.Abs(float64(width)*cos) + math.Abs(float64(height)*sin)))
	rotatedHeight := int(math.Ceil(math.Abs(float64(width)*sin) + math.Abs(float64(height)*cos)))

	centerX := float64(bounds.Min.X) + float64(width)/2
	centerY := float64(bounds.Min.Y) + float64(height)/2
	rotatedCenterX := float64(rotatedWidth) / 2
	rotatedCenterY := float64(rotatedHeight) / 2

	// source to destination: translate to origin, rotate, translate to the new center
	transform := f64.Aff3{
		cos, -sin, rotatedCenterX - cos*centerX + sin*centerY,
		sin, cos, rotatedCenterY - sin*centerX - cos*centerY,
	}
	rotated := image.NewRGBA(image.Rect(0, 0, rotatedWidth, rotatedHeight))
	draw.BiLinear.Transform(rotated, transform, source, bounds, draw.Over, nil)
	return rotated
}
