// Package patch implements the Patch Preparer stage (spec §4.3): it crops
// the original image at the extracted BBox and produces the sRGB PNG that
// gets handed to the external generative model.
package patch

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"math"

	"github.com/disintegration/imaging"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
	"github.com/kestrel-imaging/maskedit/internal/geometry"
)

// DefaultMaxEdge is the longest edge sent to the model when the caller does
// not configure one (spec §6.4).
const DefaultMaxEdge = 1024

// Prepared is the PNG bytes produced for the model plus the crop dimensions
// actually sent, so later stages (color matching, compositing) know the
// prepared patch never exceeds the natural crop size.
type Prepared struct {
	PNG    []byte
	Width  int
	Height int
}

// Prepare crops original at bbox, reinterprets the crop as sRGB (a no-op on
// Go's stdlib image types, which carry no ICC profile), scales it down to
// fit within maxEdge on its longest side (preserving aspect, never
// upscaling), and encodes it as PNG.
func Prepare(original image.Image, bbox geometry.Rect, maxEdge int) (Prepared, error) {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}

	rect := image.Rect(bbox.Left, bbox.Top, bbox.Right(), bbox.Bottom())
	cropped := imaging.Crop(original, rect)

	cb := cropped.Bounds()
	if cb.Dx() <= 0 || cb.Dy() <= 0 {
		return Prepared{}, &apierrors.CoreInvariantError{
			Tag:   apierrors.TagAlphaSizeMismatch,
			Stage: apierrors.StageMakePatch,
			Err:   errors.New("crop produced an empty patch"),
		}
	}

	fitted := containScale(cropped, maxEdge)
	fb := fitted.Bounds()

	var buf bytes.Buffer
	if err := png.Encode(&buf, fitted); err != nil {
		return Prepared{}, &apierrors.CoreInvariantError{
			Tag:   apierrors.TagAlphaSizeMismatch,
			Stage: apierrors.StageMakePatch,
			Err:   err,
		}
	}

	return Prepared{PNG: buf.Bytes(), Width: fb.Dx(), Height: fb.Dy()}, nil
}

// containScale scales img down uniformly so its longest edge is at most
// maxEdge, preserving aspect ratio exactly (fit = contain). Images already
// within budget are returned unchanged: the generation path never enlarges
// beyond the natural crop.
func containScale(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxEdge {
		return img
	}

	scale := float64(maxEdge) / float64(longest)
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	return imaging.Resize(img, nw, nh, imaging.Lanczos)
}
