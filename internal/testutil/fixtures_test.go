package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSampleFixtures(t *testing.T) {
	GenerateEditFixtures(t)
	CreateSampleFixtures(t)

	fixturesDir := GetFixturesDir(t)
	assert.True(t, DirExists(fixturesDir))

	assert.True(t, FileExists(fixturesDir+"/centered_square.json"))
	assert.True(t, FileExists(fixturesDir+"/corner_region.json"))
	assert.True(t, FileExists(fixturesDir+"/wide_strip.json"))
}

func TestLoadFixture(t *testing.T) {
	GenerateEditFixtures(t)
	CreateSampleFixtures(t)

	fixture := LoadFixture(t, "centered_square")
	assert.Equal(t, "centered_square", fixture.Name)
	assert.Equal(t, "synthetic/centered_square_base.png", fixture.BaseFile)
	assert.Equal(t, BoundingBox{Left: 212, Top: 132, Width: 216, Height: 216}, fixture.Expected.BBox)
}

func TestSaveAndLoadFixture(t *testing.T) {
	fixture := EditFixture{
		Name:     "test_fixture",
		BaseFile: "synthetic/test_base.png",
		MaskFile: "synthetic/test_mask.png",
		Prompt:   "make the sky purple",
		Expected: ExpectedGeometry{
			BBox:    BoundingBox{Left: 10, Top: 20, Width: 50, Height: 15},
			Padding: 8,
		},
	}

	SaveFixture(t, fixture)

	loaded := LoadFixture(t, "test_fixture")
	assert.Equal(t, fixture.Name, loaded.Name)
	assert.Equal(t, fixture.BaseFile, loaded.BaseFile)
	assert.Equal(t, fixture.Expected, loaded.Expected)
}

func TestValidateFixture(t *testing.T) {
	GenerateEditFixtures(t)
	CreateSampleFixtures(t)

	fixture := LoadFixture(t, "centered_square")

	require.NotPanics(t, func() {
		ValidateFixture(t, fixture)
	})
}

func TestGetFixtureInputPath(t *testing.T) {
	fixture := EditFixture{
		BaseFile: "synthetic/test.png",
	}

	path := GetFixtureInputPath(t, fixture)
	assert.Contains(t, path, "testdata/synthetic/test.png")
}

func TestBoundingBoxToRect(t *testing.T) {
	b := BoundingBox{Left: 5, Top: 10, Width: 20, Height: 30}
	rect := b.ToRect()
	assert.Equal(t, 5, rect.Min.X)
	assert.Equal(t, 10, rect.Min.Y)
	assert.Equal(t, 25, rect.Max.X)
	assert.Equal(t, 40, rect.Max.Y)
}
