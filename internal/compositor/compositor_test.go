package compositor

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
	"github.com/kestrel-imaging/maskedit/internal/geometry"
	"github.com/kestrel-imaging/maskedit/internal/maskdecode"
	"github.com/kestrel-imaging/maskedit/internal/testutil"
)

func solidImage(w, h int, c color.Color) *image.NRGBA {
	return testutil.CreateTestImage(w, h, c).(*image.NRGBA)
}

// alphaOf builds a "bright = edit" mask covering region on a w x h canvas
// and runs it through the real mask decoder.
func alphaOf(t *testing.T, w, h int, region image.Rectangle) maskdecode.EditAlpha {
	t.Helper()

	mask := testutil.GenerateMaskImage(testutil.ImageSize{Width: w, Height: h}, region)
	alpha, err := maskdecode.Decode(testutil.EncodePNG(t, mask), maskdecode.Options{})
	require.NoError(t, err)
	return alpha
}

func TestComposite_BoundsPreservation(t *testing.T) {
	original := solidImage(20, 15, color.NRGBA{10, 20, 30, 255})
	alpha := alphaOf(t, 20, 15, image.Rect(5, 5, 10, 10))
	bbox := geometry.Rect{Left: 5, Top: 5, Width: 5, Height: 5}
	patch := solidImage(5, 5, color.NRGBA{200, 0, 0, 255})

	out, err := Composite(original, alpha, bbox, patch, 0)
	require.NoError(t, err)
	assert.Equal(t, original.Bounds().Dx(), out.Bounds().Dx())
	assert.Equal(t, original.Bounds().Dy(), out.Bounds().Dy())
}

func TestComposite_ExactnessOutsideMask(t *testing.T) {
	original := solidImage(20, 15, color.NRGBA{10, 20, 30, 255})
	alpha := alphaOf(t, 20, 15, image.Rect(5, 5, 10, 10))
	bbox := geometry.Rect{Left: 5, Top: 5, Width: 5, Height: 5}
	patch := solidImage(5, 5, color.NRGBA{200, 0, 0, 255})

	out, err := Composite(original, alpha, bbox, patch, 0)
	require.NoError(t, err)

	for y := 0; y < 15; y++ {
		for x := 0; x < 20; x++ {
			inBBox := x >= bbox.Left && x < bbox.Right() && y >= bbox.Top && y < bbox.Bottom()
			if inBBox {
				continue
			}
			assert.Equal(t, original.NRGBAAt(x, y), out.NRGBAAt(x, y), "pixel (%d,%d) should be untouched", x, y)
		}
	}
}

func TestComposite_FullMaskFeatherZeroExactColor(t *testing.T) {
	original := solidImage(8, 8, color.NRGBA{255, 0, 0, 255})
	alpha := alphaOf(t, 8, 8, image.Rect(0, 0, 8, 8))
	bbox := geometry.Rect{Left: 0, Top: 0, Width: 8, Height: 8}
	patch := solidImage(8, 8, color.NRGBA{0, 0, 255, 255})

	out, err := Composite(original, alpha, bbox, patch, 0)
	require.NoError(t, err)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := out.NRGBAAt(x, y)
			assert.Equal(t, uint8(0), c.R)
			assert.Equal(t, uint8(0), c.G)
			assert.Equal(t, uint8(255), c.B)
		}
	}
}

func TestComposite_SinglePixelMaskChangesExactlyOnePixel(t *testing.T) {
	original := solidImage(16, 16, color.NRGBA{128, 128, 128, 255})
	alpha := alphaOf(t, 16, 16, image.Rect(8, 8, 9, 9))
	bbox := geometry.Rect{Left: 8, Top: 8, Width: 1, Height: 1}
	patch := solidImage(1, 1, color.NRGBA{0, 255, 0, 255})

	out, err := Composite(original, alpha, bbox, patch, 0)
	require.NoError(t, err)

	diffCount := 0
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if out.NRGBAAt(x, y) != original.NRGBAAt(x, y) {
				diffCount++
				assert.Equal(t, 8, x)
				assert.Equal(t, 8, y)
			}
		}
	}
	assert.Equal(t, 1, diffCount)
}

func TestComposite_FeatherStaysWithinBBox(t *testing.T) {
	original := solidImage(40, 40, color.NRGBA{0, 0, 0, 255})
	alpha := alphaOf(t, 40, 40, image.Rect(15, 15, 25, 25))
	bbox := geometry.Rect{Left: 15, Top: 15, Width: 10, Height: 10}
	patch := solidImage(10, 10, color.NRGBA{255, 255, 255, 255})

	out, err := Composite(original, alpha, bbox, patch, 5)
	require.NoError(t, err)

	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			inBBox := x >= bbox.Left && x < bbox.Right() && y >= bbox.Top && y < bbox.Bottom()
			if !inBBox {
				assert.Equal(t, original.NRGBAAt(x, y), out.NRGBAAt(x, y))
			}
		}
	}
}

func TestClampFeather(t *testing.T) {
	assert.Equal(t, 0, ClampFeather(-5))
	assert.Equal(t, 32, ClampFeather(100))
	assert.Equal(t, 2, ClampFeather(2))
}

func TestNormalizeChannels(t *testing.T) {
	area := 4
	single := []byte{1, 2, 3, 4}
	out, err := normalizeChannels(single, area)
	require.NoError(t, err)
	assert.Equal(t, single, out)

	quad := make([]byte, area*4)
	for i := 0; i < area; i++ {
		quad[i*4] = byte(10 + i)
	}
	out, err = normalizeChannels(quad, area)
	require.NoError(t, err)
	for i := 0; i < area; i++ {
		assert.Equal(t, byte(10+i), out[i])
	}

	_, err = normalizeChannels([]byte{1, 2, 3}, area)
	require.Error(t, err)
	var coreErr *apierrors.CoreInvariantError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, apierrors.TagAlphaCropSizeMismatch, coreErr.Tag)
}

func TestComposite_MismatchedAlphaDimensionsFails(t *testing.T) {
	original := solidImage(10, 10, color.NRGBA{0, 0, 0, 255})
	alpha := alphaOf(t, 5, 5, image.Rect(0, 0, 5, 5))
	bbox := geometry.Rect{Left: 0, Top: 0, Width: 5, Height: 5}
	patch := solidImage(5, 5, color.NRGBA{0, 0, 0, 255})

	_, err := Composite(original, alpha, bbox, patch, 0)
	require.Error(t, err)
	var coreErr *apierrors.CoreInvariantError
	require.ErrorAs(t, err, &coreErr)
}
