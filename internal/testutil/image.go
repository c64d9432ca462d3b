package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test image sizes.
	SmallSize  = ImageSize{320, 240}
	MediumSize = ImageSize{640, 480}
	LargeSize  = ImageSize{1024, 768}
)

// EditImageConfig holds configuration for generating a synthetic base image
// with a distinct rectangular "edit region" so pipeline tests can assert
// on region-relative behavior (outside-region exactness, patch bounds).
type EditImageConfig struct {
	Size       ImageSize
	Background color.Color
	Region     image.Rectangle // in image space; the area a mask will mark for editing
	RegionFill color.Color
}

// DefaultEditImageConfig returns a base image with a centered quarter-sized
// edit region.
func DefaultEditImageConfig() EditImageConfig {
	size := MediumSize
	region := image.Rect(size.Width/4, size.Height/4, size.Width*3/4, size.Height*3/4)
	return EditImageConfig{
		Size:       size,
		Background: color.NRGBA{40, 60, 200, 255},
		Region:     region,
		RegionFill: color.NRGBA{200, 60, 40, 255},
	}
}

// GenerateBaseImage creates a synthetic base image: a solid background with
// a differently-colored rectangle marking where a caller-supplied mask is
// expected to point.
func GenerateBaseImage(config EditImageConfig) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, config.Size.Width, config.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{config.Background}, image.Point{}, draw.Src)

	region := config.Region.Intersect(img.Bounds())
	if !region.Empty() {
		draw.Draw(img, region, &image.Uniform{config.RegionFill}, image.Point{}, draw.Src)
	}

	return img
}

// GenerateMaskImage creates a grayscale mask following the "bright = edit"
// convention: pixels inside region are white (255), everything else is
// black (0).
func GenerateMaskImage(size ImageSize, region image.Rectangle) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(mask, mask.Bounds(), &image.Uniform{color.Black}, image.Point{}, draw.Src)

	clipped := region.Intersect(mask.Bounds())
	if !clipped.Empty() {
		draw.Draw(mask, clipped, &image.Uniform{color.White}, image.Point{}, draw.Src)
	}

	return mask
}

// GenerateAlphaMaskImage creates an NRGBA mask following the "transparent =
// edit" convention: pixels inside region are fully transparent, everything
// else is opaque.
func GenerateAlphaMaskImage(size ImageSize, region image.Rectangle) *image.NRGBA {
	mask := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(mask, mask.Bounds(), &image.Uniform{color.NRGBA{0, 0, 0, 255}}, image.Point{}, draw.Src)

	clipped := region.Intersect(mask.Bounds())
	if !clipped.Empty() {
		draw.Draw(mask, clipped, &image.Uniform{color.NRGBA{0, 0, 0, 0}}, image.Point{}, draw.Src)
	}

	return mask
}

// SaveImage saves an image to the specified path as PNG.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)

	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	err = png.Encode(file, img)
	require.NoError(t, err, "Failed to encode PNG image")
}

// EncodePNG returns the PNG-encoded bytes of img.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "encoded.png")
	SaveImage(t, img, path)

	data, err := os.ReadFile(path) //nolint:gosec // G304: reading a file this helper just wrote
	require.NoError(t, err)
	return data
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: Test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")

	return img
}

// CompareImages compares two images and returns true if their average
// per-pixel difference is within tolerance (0..1, fraction of max distance).
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	bounds1 := img1.Bounds()
	bounds2 := img2.Bounds()

	if bounds1 != bounds2 {
		return false
	}

	var totalDiff float64
	var pixelCount float64

	for y := bounds1.Min.Y; y < bounds1.Max.Y; y++ {
		for x := bounds1.Min.X; x < bounds1.Max.X; x++ {
			r1, g1, b1, a1 := img1.At(x, y).RGBA()
			r2, g2, b2, a2 := img2.At(x, y).RGBA()

			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			da := float64(a1) - float64(a2)

			diff := math.Sqrt(dr*dr + dg*dg + db*db + da*da)
			totalDiff += diff
			pixelCount++
		}
	}

	avgDiff := totalDiff / pixelCount
	maxDiff := math.Sqrt(4 * 65535 * 65535)

	return (avgDiff / maxDiff) <= tolerance
}

// CreateTestImage creates a simple solid-color test image.
func CreateTestImage(width, height int, backgroundColor color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}

// ResizeToFit scales img down so its longest edge equals maxEdge, matching
// the contain-fit convention used by the patch preparer. Images already
// within maxEdge are returned as an unscaled copy.
func ResizeToFit(img image.Image, maxEdge int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() <= maxEdge && b.Dy() <= maxEdge {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
}

// GenerateEditFixtures writes a small set of standard base image/mask pairs
// to the testdata directory, covering a plain rectangle edit region at a
// few sizes and aspect ratios.
func GenerateEditFixtures(t *testing.T) {
	t.Helper()

	dir := GetSyntheticDir(t)
	require.NoError(t, EnsureDir(dir))

	cases := []struct {
		name   string
		size   ImageSize
		region image.Rectangle
	}{
		{"centered_square", MediumSize, image.Rect(220, 140, 420, 340)},
		{"corner_region", MediumSize, image.Rect(0, 0, 120, 90)},
		{"wide_strip", LargeSize, image.Rect(50, 300, 974, 420)},
	}

	for _, c := range cases {
		cfg := DefaultEditImageConfig()
		cfg.Size = c.size
		cfg.Region = c.region

		base := GenerateBaseImage(cfg)
		mask := GenerateMaskImage(c.size, c.region)

		SaveImage(t, base, filepath.Join(dir, fmt.Sprintf("%s_base.png", c.name)))
		SaveImage(t, mask, filepath.Join(dir, fmt.Sprintf("%s_mask.png", c.name)))
	}
}

// LoadImageFile loads an image from the specified path (non-testing version).
func LoadImageFile(path string) (image.Image, error) {
	file, err := os.Open(path) //nolint:gosec // G304: Opening user-provided image file is expected
	if err != nil {
		return nil, fmt.Errorf("failed to open image file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return img, nil
}
