package convert

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"
)

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

// twoPixels is red on the left and blue on the right.
func twoPixels() *image.RGBA {
	picture := image.NewRGBA(image.Rect(0, 0, 2, 1))
	picture.Set(0, 0, red)
	picture.Set(1, 0, blue)
	return picture
}

func sameColor(left, right color.Color) bool {
	r1, g1, b1, a1 := left.RGBA()
	r2, g2, b2, a2 := right.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

func TestRotateImageRightAngles(t *testing.T) {
	testCases := []struct {
		name          string
		degrees       int
		width, height int
		pixels        map[image.Point]color.Color
	}{
		{
			name:    "clockwise quarter turn",
			degrees: 90,
			width:   1, height: 2,
			pixels: map[image.Point]color.Color{image.Pt(0, 0): red, image.Pt(0, 1): blue},
		},
		{
			name:    "counterclockwise quarter turn",
			degrees: -90,
			width:   1, height: 2,
			pixels: map[image.Point]color.Color{image.Pt(0, 0): blue, image.Pt(0, 1): red},
		},
		{
			name:    "half turn",
			degrees: 180,
			width:   2, height: 1,
			pixels: map[image.Point]color.Color{image.Pt(0, 0): blue, image.Pt(1, 0): red},
		},
		{
			name:    "full turn",
			degrees: 360,
			width:   2, height: 1,
			pixels: map[image.Point]color.Color{image.Pt(0, 0): red, image.Pt(1, 0): blue},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			rotated := rotateImage(twoPixels(), testCase.degrees)
			bounds := rotated.Bounds()
			if bounds.Dx() != testCase.width || bounds.Dy() != testCase.height {
				t.Fatalf("expected %dx%d, got %v", testCase.width, testCase.height, bounds)
			}
			for point, expected := range testCase.pixels {
				if got := rotated.At(point.X, point.Y); !sameColor(got, expected) {
					t.Errorf("expected %v at %v, got %v", expected, point, got)
				}
			}
		})
	}
}

func TestRotateImageArbitraryAngle(t *testing.T) {
	rotated := rotateImage(solidImage(10, 10), 45)
	bounds := rotated.Bounds()
	if bounds.Dx() != 15 || bounds.Dy() != 15 {
		t.Fatalf("expected 15x15 canvas, got %v", bounds)
	}
	if _, _, _, alpha := rotated.At(7, 7).RGBA(); alpha == 0 {
		t.Error("expected opaque center pixel")
	}
	if _, _, _, alpha := rotated.At(0, 0).RGBA(); alpha != 0 {
		t.Error("expected transparent corner pixel")
	}
}

func TestRotateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plot.png")
	writeTestImage(t, path, twoPixels())

	if err := testConverter().Rotate(path, 90); err != nil {
		t.Fatalf("failed to rotate: %v", err)
	}

	rotated := readTestImage(t, path)
	if rotated.Bounds().Dx() != 1 || rotated.Bounds().Dy() != 2 {
		t.Fatalf("expected 1x2 image, got %v", rotated.Bounds())
	}
	if !sameColor(rotated.At(0, 0), red) {
		t.Errorf("expected red on top, got %v", rotated.At(0, 0))
	}
}

func TestRotateMissingFile(t *testing.T) {
	if err := testConverter().Rotate(filepath.Join(t.TempDir(), "missing.png"), 90); err == nil {
		t.Error("expected error for missing file")
	}
}
