// Package colormatch implements the Color Matcher stage (spec §4.5): it
// nudges the external model's returned patch toward the mean color of the
// original image's neighborhood, correcting model-introduced color cast
// without reauthoring the patch's content.
package colormatch

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/kestrel-imaging/maskedit/internal/geometry"
)

// DefaultRing is the surrounding-ring radius used when the caller does not
// configure one (spec §6.4, color_match_ring).
const DefaultRing = 8

// DefaultGainMin and DefaultGainMax bound the per-channel linear gain when
// the caller does not configure a clamp (spec §6.4, color_gain_clamp).
const (
	DefaultGainMin = 0.6
	DefaultGainMax = 1.6
)

// epsilon avoids division by zero on near-black neighborhoods.
const epsilon = 1e-3

// RGB is a mean or gain triple over the red, green and blue channels.
type RGB struct {
	R, G, B float64
}

// MeanRGB returns the mean sRGB channel values of img, in [0, 255].
func MeanRGB(img image.Image) RGB {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return RGB{}
	}

	var sumR, sumG, sumB float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			sumR += float64(r >> 8)
			sumG += float64(g >> 8)
			sumB += float64(bl >> 8)
		}
	}
	n := float64(w * h)
	return RGB{R: sumR / n, G: sumG / n, B: sumB / n}
}

// RingMean approximates the mean color of the ring surrounding bbox by
// cropping the original at bbox expanded by radius (clipped to image
// bounds) and taking its mean. This is a deliberate simplification: it uses
// the outer rectangle's mean rather than an exact ring (outer minus inner),
// which is acceptable bias for small radii relative to bbox size.
func RingMean(original image.Image, bbox geometry.Rect, radius int) RGB {
	bounds := original.Bounds()
	outer := image.Rect(
		bbox.Left-radius, bbox.Top-radius,
		bbox.Right()+radius, bbox.Bottom()+radius,
	).Intersect(bounds)

	if outer.Empty() {
		return RGB{}
	}
	return MeanRGB(imaging.Crop(original, outer))
}

// Gains computes the per-channel linear gain that pulls src's mean toward
// tgt's mean, clamped to [gainMin, gainMax] (spec §6.4, color_gain_clamp;
// P7 requires this clamp hold for every deployed configuration, not just
// the defaults).
func Gains(src, tgt RGB, gainMin, gainMax float64) RGB {
	return RGB{
		R: geometry.ClampFloat((tgt.R+epsilon)/(src.R+epsilon), gainMin, gainMax),
		G: geometry.ClampFloat((tgt.G+epsilon)/(src.G+epsilon), gainMin, gainMax),
		B: geometry.ClampFloat((tgt.B+epsilon)/(src.B+epsilon), gainMin, gainMax),
	}
}

// Apply recombines img's RGB channels through the diagonal gain matrix
// diag(gains.R, gains.G, gains.B), clamping each channel to [0, 255]. Alpha
// is forced fully opaque: color matching operates purely on the RGB content
// the compositor will later join with a feathered alpha.
func Apply(img image.Image, gains RGB) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			r8 := clampChannel(float64(r>>8) * gains.R)
			g8 := clampChannel(float64(g>>8) * gains.G)
			b8 := clampChannel(float64(bl>>8) * gains.B)
			out.SetNRGBA(x-b.Min.X, y-b.Min.Y, color.NRGBA{R: r8, G: g8, B: b8, A: 255})
		}
	}
	return out
}

func clampChannel(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
