package testutil

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// EditFixture represents a test fixture describing an edit request and its
// expected extracted-region geometry.
type EditFixture struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	BaseFile    string           `json:"base_file"`
	MaskFile    string           `json:"mask_file"`
	Prompt      string           `json:"prompt"`
	Expected    ExpectedGeometry `json:"expected"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// ExpectedGeometry captures the padded bounding box a pipeline run should
// extract for a fixture's mask, in image space.
type ExpectedGeometry struct {
	BBox    BoundingBox `json:"bbox"`
	Padding int         `json:"padding"`
}

// BoundingBox represents a rectangular region.
type BoundingBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ToRect converts a BoundingBox to an image.Rectangle.
func (b BoundingBox) ToRect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Left+b.Width, b.Top+b.Height)
}

// LoadFixture loads a test fixture from a JSON file under testdata/fixtures.
func LoadFixture(t *testing.T, name string) EditFixture {
	t.Helper()

	fixturesDir := GetFixturesDir(t)
	fixturePath := filepath.Join(fixturesDir, name+".json")

	data, err := os.ReadFile(fixturePath) //nolint:gosec // G304: Reading test fixture files with controlled paths
	require.NoError(t, err, "Failed to read fixture file: %s", fixturePath)

	var fixture EditFixture
	err = json.Unmarshal(data, &fixture)
	require.NoError(t, err, "Failed to unmarshal fixture JSON")

	return fixture
}

// SaveFixture saves a test fixture to a JSON file under testdata/fixtures.
func SaveFixture(t *testing.T, fixture EditFixture) {
	t.Helper()

	fixturesDir := GetFixturesDir(t)
	require.NoError(t, EnsureDir(fixturesDir))

	fixturePath := filepath.Join(fixturesDir, fixture.Name+".json")

	data, err := json.MarshalIndent(fixture, "", "  ")
	require.NoError(t, err, "Failed to marshal fixture to JSON")

	err = os.WriteFile(fixturePath, data, 0o600)
	require.NoError(t, err, "Failed to write fixture file: %s", fixturePath)
}

func centeredSquareFixture() EditFixture {
	return EditFixture{
		Name:        "centered_square",
		Description: "Mid-sized square edit region centered in a 640x480 base image",
		BaseFile:    "synthetic/centered_square_base.png",
		MaskFile:    "synthetic/centered_square_mask.png",
		Prompt:      "replace the highlighted area with a wooden table",
		Expected: ExpectedGeometry{
			BBox:    BoundingBox{Left: 212, Top: 132, Width: 216, Height: 216},
			Padding: 8,
		},
		Metadata: map[string]any{"image_size": map[string]int{"width": 640, "height": 480}},
	}
}

func cornerRegionFixture() EditFixture {
	return EditFixture{
		Name:        "corner_region",
		Description: "Small edit region flush against the top-left corner, exercising bbox clamping",
		BaseFile:    "synthetic/corner_region_base.png",
		MaskFile:    "synthetic/corner_region_mask.png",
		Prompt:      "remove the logo",
		Expected: ExpectedGeometry{
			BBox:    BoundingBox{Left: 0, Top: 0, Width: 128, Height: 98},
			Padding: 8,
		},
		Metadata: map[string]any{"image_size": map[string]int{"width": 640, "height": 480}},
	}
}

func wideStripFixture() EditFixture {
	return EditFixture{
		Name:        "wide_strip",
		Description: "Wide, short edit region on a 1024x768 base image, with a bbox just under the default max patch edge",
		BaseFile:    "synthetic/wide_strip_base.png",
		MaskFile:    "synthetic/wide_strip_mask.png",
		Prompt:      "add a mountain range along the horizon",
		Expected: ExpectedGeometry{
			BBox:    BoundingBox{Left: 42, Top: 292, Width: 940, Height: 136},
			Padding: 8,
		},
		Metadata: map[string]any{"image_size": map[string]int{"width": 1024, "height": 768}},
	}
}

// CreateSampleFixtures writes the standard set of edit fixtures.
func CreateSampleFixtures(t *testing.T) {
	t.Helper()

	SaveFixture(t, centeredSquareFixture())
	SaveFixture(t, cornerRegionFixture())
	SaveFixture(t, wideStripFixture())
}

// GetFixtureInputPath returns the full path to a fixture's base image file.
func GetFixtureInputPath(t *testing.T, fixture EditFixture) string {
	t.Helper()

	testDataDir := GetTestDataDir(t)
	return filepath.Join(testDataDir, fixture.BaseFile)
}

// GetFixtureMaskPath returns the full path to a fixture's mask image file.
func GetFixtureMaskPath(t *testing.T, fixture EditFixture) string {
	t.Helper()

	testDataDir := GetTestDataDir(t)
	return filepath.Join(testDataDir, fixture.MaskFile)
}

// ValidateFixture validates that a fixture's base and mask files exist.
func ValidateFixture(t *testing.T, fixture EditFixture) {
	t.Helper()

	require.True(t, FileExists(GetFixtureInputPath(t, fixture)),
		"Fixture base file does not exist: %s", fixture.BaseFile)
	require.True(t, FileExists(GetFixtureMaskPath(t, fixture)),
		"Fixture mask file does not exist: %s", fixture.MaskFile)
}
