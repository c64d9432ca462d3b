// Package region implements the Region Extractor stage (spec §4.2): it
// computes the tight, padded bounding box of the edit region and, when the
// mask and base image have different resolutions, projects that box (and
// the full alpha raster) from mask-space into image-space.
package region

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
	"github.com/kestrel-imaging/maskedit/internal/geometry"
	"github.com/kestrel-imaging/maskedit/internal/maskdecode"
)

// Result carries the image-space BBox alongside the alpha raster resampled
// to exactly the base image's dimensions, per the invariant carried forward
// out of §4.2.
type Result struct {
	BBox  geometry.Rect
	Alpha maskdecode.EditAlpha // Width==imgW, Height==imgH
}

// Extract computes the padded, image-space edit region from a decoded mask
// alpha and the base image's dimensions.
func Extract(alpha maskdecode.EditAlpha, imgW, imgH, pad int) (Result, error) {
	maskRect, err := tightBBox(alpha, pad)
	if err != nil {
		return Result{}, err
	}

	aligned, err := alignToImage(alpha, imgW, imgH)
	if err != nil {
		return Result{}, err
	}

	tagged := geometry.ProjectToImageSpace(
		geometry.InMaskSpace(maskRect), alpha.Width, alpha.Height, imgW, imgH)

	if !tagged.Rect.Valid(imgW, imgH) {
		return Result{}, &apierrors.CoreInvariantError{
			Tag:   apierrors.TagAlphaSizeMismatch,
			Stage: apierrors.StageAlignMaskToImage,
			Err:   errors.New("projected bbox violates image bounds"),
		}
	}

	return Result{BBox: tagged.Rect, Alpha: aligned}, nil
}

// tightBBox scans the alpha raster for the minimal axis-aligned rectangle
// enclosing every pixel > 0, then pads and clamps it into the mask canvas.
func tightBBox(alpha maskdecode.EditAlpha, pad int) (geometry.Rect, error) {
	w, h := alpha.Width, alpha.Height
	minX, minY := w, h
	maxX, maxY := -1, -1

	for y := 0; y < h; y++ {
		row := alpha.Data[y*w : y*w+w]
		for x, v := range row {
			if v == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < 0 {
		return geometry.Rect{}, &apierrors.MaskError{
			Tag:   apierrors.TagEmptyMask,
			Stage: apierrors.StageMaskToBBox,
			Err:   errors.New("decoded mask has no edit pixels"),
		}
	}

	left := geometry.ClampInt(minX-pad, 0, w-1)
	top := geometry.ClampInt(minY-pad, 0, h-1)
	right := geometry.ClampInt(maxX+pad+1, left+1, w)
	bottom := geometry.ClampInt(maxY+pad+1, top+1, h)

	return geometry.Rect{
		Left:   left,
		Top:    top,
		Width:  right - left,
		Height: bottom - top,
	}, nil
}

// alignToImage resamples the alpha raster to (imgW, imgH) using a
// stretch-to-fill filter when the mask and image dimensions differ. When
// they match, it returns the input unchanged, preserving the mask-alignment
// round-trip invariant (P8): no resampling artifact is introduced when it
// isn't needed.
func alignToImage(alpha maskdecode.EditAlpha, imgW, imgH int) (maskdecode.EditAlpha, error) {
	if alpha.Width == imgW && alpha.Height == imgH {
		return alpha, nil
	}
	if imgW <= 0 || imgH <= 0 {
		return maskdecode.EditAlpha{}, &apierrors.ImageError{
			Tag:   apierrors.TagImageMetaFailed,
			Stage: apierrors.StageAlignMaskToImage,
			Err:   errors.New("base image has zero dimensions"),
		}
	}

	gray := image.NewGray(image.Rect(0, 0, alpha.Width, alpha.Height))
	copy(gray.Pix, alpha.Data)

	resized := imaging.Resize(gray, imgW, imgH, imaging.Linear)
	rb := resized.Bounds()

	out := make([]byte, imgW*imgH)
	for y := 0; y < imgH; y++ {
		for x := 0; x < imgW; x++ {
			r, _, _, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			out[y*imgW+x] = byte(r >> 8)
		}
	}

	return maskdecode.EditAlpha{Width: imgW, Height: imgH, Data: out}, nil
}
