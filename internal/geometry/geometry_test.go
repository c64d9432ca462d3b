package geometry

import "testing"

import "github.com/stretchr/testify/assert"

func TestRectValid(t *testing.T) {
	r := Rect{Left: 0, Top: 0, Width: 10, Height: 10}
	assert.True(t, r.Valid(10, 10))
	assert.False(t, r.Valid(9, 10))

	empty := Rect{Left: 0, Top: 0, Width: 0, Height: 5}
	assert.False(t, empty.Valid(10, 10))
}

func TestProjectToImageSpaceNoOp(t *testing.T) {
	tr := InMaskSpace(Rect{Left: 2, Top: 3, Width: 4, Height: 5})
	out := ProjectToImageSpace(tr, 100, 100, 100, 100)
	assert.Equal(t, ImageSpace, out.Space)
	assert.Equal(t, tr.Rect, out.Rect)
}

func TestProjectToImageSpaceScales(t *testing.T) {
	// centered 100x100 square in a 512x512 mask, image is 1024x1024 (2x scale).
	tr := InMaskSpace(Rect{Left: 206, Top: 206, Width: 100, Height: 100})
	out := ProjectToImageSpace(tr, 512, 512, 1024, 1024)
	assert.Equal(t, ImageSpace, out.Space)
	// Expect roughly a 200x200 region, centered, within +-1px of rounding.
	assert.InDelta(t, 412, out.Rect.Left, 2)
	assert.InDelta(t, 412, out.Rect.Top, 2)
	assert.InDelta(t, 200, out.Rect.Width, 2)
	assert.InDelta(t, 200, out.Rect.Height, 2)
	assert.True(t, out.Rect.Valid(1024, 1024))
}

func TestProjectToImageSpaceClampsToCanvas(t *testing.T) {
	tr := InMaskSpace(Rect{Left: 0, Top: 0, Width: 512, Height: 512})
	out := ProjectToImageSpace(tr, 512, 512, 1024, 1024)
	assert.True(t, out.Rect.Valid(1024, 1024))
	assert.Equal(t, 0, out.Rect.Left)
	assert.Equal(t, 0, out.Rect.Top)
}

func TestClampHelpers(t *testing.T) {
	assert.Equal(t, 5, ClampInt(10, 0, 5))
	assert.Equal(t, 0, ClampInt(-3, 0, 5))
	assert.InDelta(t, 1.6, ClampFloat(3.2, 0.6, 1.6), 1e-9)
}
