// Package compositor implements the Strict Compositor stage (spec §4.6),
// the invariant holder of the whole pipeline: for every output pixel p
// where EditAlpha[p] == 0, output[p] must equal the original image's pixel
// at p, byte for byte.
package compositor

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
	"github.com/kestrel-imaging/maskedit/internal/geometry"
	"github.com/kestrel-imaging/maskedit/internal/maskdecode"
	"github.com/kestrel-imaging/maskedit/internal/mempool"
)

// MinFeather and MaxFeather bound the Gaussian feather radius in pixels
// (spec §6.4, default_feather / the [0,32] clamp).
const (
	MinFeather     = 0
	MaxFeather     = 32
	DefaultFeather = 2
)

// ClampFeather clamps a caller-supplied feather value into [0, 32].
func ClampFeather(feather int) int {
	return geometry.ClampInt(feather, MinFeather, MaxFeather)
}

// Composite performs the full §4.6 algorithm: it extracts and feathers the
// alpha crop, stretch-resizes the color-matched patch to the exact bbox,
// joins them into an RGBA patch, and alpha-blends that patch over the
// unmodified original. The returned raster has the exact dimensions of
// original; every pixel outside the feathered edit region is copied,
// never recomputed, so it is bit-identical to the input.
func Composite(
	original image.Image,
	alpha maskdecode.EditAlpha,
	bbox geometry.Rect,
	colorMatchedPatch image.Image,
	feather int,
) (*image.NRGBA, error) {
	feather = ClampFeather(feather)

	ob := original.Bounds()
	if alpha.Width != ob.Dx() || alpha.Height != ob.Dy() {
		return nil, &apierrors.CoreInvariantError{
			Tag:   apierrors.TagAlphaSizeMismatch,
			Stage: apierrors.StageCompositePrecheck,
			Err:   errors.New("alpha raster dimensions do not match original image"),
		}
	}
	if !bbox.Valid(ob.Dx(), ob.Dy()) {
		return nil, &apierrors.CoreInvariantError{
			Tag:   apierrors.TagAlphaSizeMismatch,
			Stage: apierrors.StageCompositePrecheck,
			Err:   errors.New("bbox is outside the original image bounds"),
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, ob.Dx(), ob.Dy()))
	draw.Draw(out, out.Bounds(), original, ob.Min, draw.Src)

	alphaCrop := cropAlpha(alpha, bbox)
	defer mempool.PutBytes(alphaCrop)

	feathered, err := featherAlpha(alphaCrop, bbox.Width, bbox.Height, feather)
	if err != nil {
		return nil, err
	}
	defer mempool.PutBytes(feathered)

	resizedPatch := imaging.Resize(colorMatchedPatch, bbox.Width, bbox.Height, imaging.Lanczos)
	blendPatchOntoOutput(out, resizedPatch, feathered, bbox)

	return out, nil
}

// cropAlpha extracts the bbox-shaped sub-rectangle of the full-resolution
// alpha raster.
func cropAlpha(alpha maskdecode.EditAlpha, bbox geometry.Rect) []byte {
	out := mempool.GetBytes(bbox.Width * bbox.Height)
	for y := 0; y < bbox.Height; y++ {
		srcStart := (bbox.Top+y)*alpha.Width + bbox.Left
		copy(out[y*bbox.Width:(y+1)*bbox.Width], alpha.Data[srcStart:srcStart+bbox.Width])
	}
	return out
}

// featherAlpha applies a Gaussian blur of the given pixel radius to the
// alpha crop, or returns it unchanged when radius is 0. Because the
// underlying raster library (github.com/disintegration/imaging) always
// converts through NRGBA internally, blurring a single-channel buffer can
// come back as a multi-channel one; normalizeChannels recovers the scalar
// alpha value from whatever channel count is returned.
func featherAlpha(alphaCrop []byte, w, h, radius int) ([]byte, error) {
	if radius <= 0 {
		out := mempool.GetBytes(len(alphaCrop))
		copy(out, alphaCrop)
		return out, nil
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	copy(gray.Pix, alphaCrop)

	blurred := imaging.Blur(gray, float64(radius))
	raw := extractRawBytes(blurred, w, h)

	return normalizeChannels(raw, w*h)
}

// extractRawBytes reads the blurred image back into a tightly packed byte
// buffer, one sample per source channel per pixel, regardless of the
// concrete image type imaging.Blur returned.
func extractRawBytes(img *image.NRGBA, w, h int) []byte {
	// image.NRGBA always has 4 channels per pixel and an explicit stride;
	// imaging guarantees Stride == 4*Dx() for images it produces.
	b := img.Bounds()
	if img.Stride == 4*b.Dx() && b.Dx() == w && b.Dy() == h {
		return img.Pix
	}
	// Defensive fallback for a stride that doesn't match a tightly packed
	// buffer: walk pixel-by-pixel.
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := (y*w + x) * 4
			out[i+0] = byte(r >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(bl >> 8)
			out[i+3] = byte(a >> 8)
		}
	}
	return out
}

// normalizeChannels recovers a single scalar-per-pixel alpha buffer from a
// raw byte buffer that may carry 1, 2, 3 or 4 channels per pixel (spec
// §4.6 step 3, the "channel-count defensive check"). It fails with
// AlphaCropSizeMismatch if the buffer length isn't a clean multiple of
// area, or if the recovered channel count isn't a sane raster format.
func normalizeChannels(buf []byte, area int) ([]byte, error) {
	if area <= 0 {
		return nil, &apierrors.CoreInvariantError{
			Tag:   apierrors.TagAlphaCropSizeMismatch,
			Stage: apierrors.StageComposite,
			Err:   errors.New("zero-area alpha crop"),
		}
	}
	if len(buf) == area {
		out := mempool.GetBytes(area)
		copy(out, buf)
		return out, nil
	}
	if len(buf)%area != 0 {
		return nil, &apierrors.CoreInvariantError{
			Tag:   apierrors.TagAlphaCropSizeMismatch,
			Stage: apierrors.StageComposite,
			Err:   errors.New("blurred alpha buffer length is not a multiple of the crop area"),
		}
	}
	channels := len(buf) / area
	if channels < 2 || channels > 4 {
		return nil, &apierrors.CoreInvariantError{
			Tag:   apierrors.TagAlphaCropSizeMismatch,
			Stage: apierrors.StageComposite,
			Err:   errors.New("unexpected channel count recovered from blurred alpha buffer"),
		}
	}
	out := mempool.GetBytes(area)
	for i := 0; i < area; i++ {
		out[i] = buf[i*channels]
	}
	return out, nil
}

// blendPatchOntoOutput performs standard source-over alpha blending of
// patch (already resized to bbox dimensions) onto out at bbox's origin,
// using feathered as the per-pixel alpha. Pixels with alpha == 0 are never
// written, preserving bit-exactness of the untouched original.
func blendPatchOntoOutput(out *image.NRGBA, patch image.Image, feathered []byte, bbox geometry.Rect) {
	pb := patch.Bounds()
	for y := 0; y < bbox.Height; y++ {
		for x := 0; x < bbox.Width; x++ {
			a := feathered[y*bbox.Width+x]
			if a == 0 {
				continue
			}
			af := float64(a) / 255.0

			pr, pg, pbch, _ := patch.At(pb.Min.X+x, pb.Min.Y+y).RGBA()
			ox, oy := bbox.Left+x, bbox.Top+y
			dst := out.NRGBAAt(ox, oy)

			out.SetNRGBA(ox, oy, color.NRGBA{
				R: blendChannel(byte(pr>>8), dst.R, af),
				G: blendChannel(byte(pg>>8), dst.G, af),
				B: blendChannel(byte(pbch>>8), dst.B, af),
				A: 255,
			})
		}
	}
}

// blendChannel computes out = src*a + dst*(1-a), rounded to the nearest
// integer channel value.
func blendChannel(src, dst byte, a float64) byte {
	v := float64(src)*a + float64(dst)*(1-a)
	return byte(math.Round(v))
}
