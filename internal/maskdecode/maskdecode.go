// Package maskdecode implements the Mask Decoder stage (spec §4.1): it
// turns an arbitrary caller-supplied mask image into a canonical
// single-channel EditAlpha raster where 255 means "edit this pixel" and 0
// means "leave it untouched".
package maskdecode

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
)

// BrightnessThreshold is the luma cutoff for the "bright = edit" fallback
// convention (spec §4.1).
const BrightnessThreshold = 200

// EditAlpha is a single-channel 8-bit raster: 255 = edit, 0 = keep,
// intermediate values are partial edit weight carried through feathering.
type EditAlpha struct {
	Width  int
	Height int
	Data   []byte // len == Width*Height
}

// Options controls optional decode behavior.
type Options struct {
	// SoftDilate applies a 1px Gaussian blur followed by binarize-at-128 to
	// compensate for anti-aliased mask edges. Off by default per the design
	// notes' "safer default is off" recommendation.
	SoftDilate bool
}

// Decode converts raw mask bytes (any common raster encoding: PNG, JPEG or
// BMP) into an EditAlpha.
func Decode(maskBytes []byte, opts Options) (EditAlpha, error) {
	img, _, err := image.Decode(bytes.NewReader(maskBytes))
	if err != nil {
		return EditAlpha{}, &apierrors.MaskError{
			Tag:   apierrors.TagMaskMetaFailed,
			Stage: apierrors.StageParseMask,
			Err:   err,
		}
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return EditAlpha{}, &apierrors.MaskError{
			Tag:   apierrors.TagMaskMetaFailed,
			Stage: apierrors.StageParseMask,
			Err:   errors.New("mask has zero dimensions"),
		}
	}

	alpha := decodeAlpha(img, bounds, w, h)

	if opts.SoftDilate {
		alpha = softDilate(alpha, w, h)
	}

	return EditAlpha{Width: w, Height: h, Data: alpha}, nil
}

// decodeAlpha implements the two interpretation conventions: "transparent =
// edit" when the source has a real alpha channel with at least one
// non-opaque pixel, otherwise "bright = edit" via luma thresholding.
func decodeAlpha(img image.Image, bounds image.Rectangle, w, h int) []byte {
	if hasAlphaChannel(img) {
		if alpha, ok := transparentAsEdit(img, bounds, w, h); ok {
			return alpha
		}
	}
	return brightAsEdit(img, bounds, w, h)
}

// hasAlphaChannel reports whether the decoded image's concrete pixel format
// carries a per-pixel alpha channel at all. Formats without one (JPEG, most
// BMP, opaque PNG palettes) always fall back to luma thresholding.
func hasAlphaChannel(img image.Image) bool {
	switch img.(type) {
	case *image.NRGBA, *image.RGBA, *image.NRGBA64, *image.RGBA64:
		return true
	default:
		return false
	}
}

// transparentAsEdit produces output[i] = 255 - input_alpha[i], returning ok
// = false if every pixel is fully opaque (in which case the caller should
// fall back to the bright-as-edit convention).
func transparentAsEdit(img image.Image, bounds image.Rectangle, w, h int) ([]byte, bool) {
	out := make([]byte, w*h)
	anyTransparent := false
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			_, _, _, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			a8 := byte(a >> 8)
			inv := 255 - a8
			if inv != 0 {
				anyTransparent = true
			}
			out[y*w+x] = inv
		}
	}
	if !anyTransparent {
		return nil, false
	}
	return out, true
}

// brightAsEdit thresholds perceptual luma: output[i] = 255 if luma > 200
// else 0.
func brightAsEdit(img image.Image, bounds image.Rectangle, w, h int) []byte {
	out := make([]byte, w*h)
	gray := imaging.Grayscale(img)
	gb := gray.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := gray.At(gb.Min.X+x, gb.Min.Y+y).RGBA()
			luma := byte(r >> 8)
			if luma > BrightnessThreshold {
				out[y*w+x] = 255
			}
		}
	}
	return out
}

// softDilate blurs the alpha raster with a 1px-radius Gaussian and
// re-binarizes at 128, compensating for anti-aliasing on mask edges.
func softDilate(alpha []byte, w, h int) []byte {
	gray := image.NewGray(image.Rect(0, 0, w, h))
	copy(gray.Pix, alpha)

	blurred := imaging.Blur(gray, 1.0)
	bb := blurred.Bounds()

	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := blurred.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			if byte(r>>8) >= 128 {
				out[y*w+x] = 255
			}
		}
	}
	return out
}
