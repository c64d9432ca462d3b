// Package support provides the shared state and step registrations for the
// mask-guided edit end-to-end feature suite.
package support

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/kestrel-imaging/maskedit/internal/config"
	"github.com/kestrel-imaging/maskedit/internal/editpipeline"
	"github.com/kestrel-imaging/maskedit/internal/modelclient"
	"github.com/kestrel-imaging/maskedit/internal/server"
	"github.com/kestrel-imaging/maskedit/internal/storage"
	"github.com/kestrel-imaging/maskedit/internal/testutil"
)

// TestContext holds the state of one running scenario: the base image and
// mask under construction, the pipeline configuration overrides, the fake
// model backend, and the last HTTP response received.
type TestContext struct {
	tempDir string

	store  *storage.Store
	pipeCfg config.PipelineConfig

	baseImage *image.NRGBA
	maskImage *image.Gray

	modelServer   *httptest.Server
	modelPatchPNG []byte
	modelStatus   int

	httpServer *httptest.Server
	srv        *server.Server

	lastStatus int
	lastBody   []byte
}

// NewTestContext creates a fresh, isolated context.
func NewTestContext() (*TestContext, error) {
	dir, err := os.MkdirTemp("", "maskedit-e2e-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &TestContext{tempDir: dir, modelStatus: http.StatusOK}, nil
}

// Cleanup tears down anything the scenario started.
func (c *TestContext) Cleanup() error {
	if c.httpServer != nil {
		c.httpServer.Close()
	}
	if c.modelServer != nil {
		c.modelServer.Close()
	}
	return os.RemoveAll(c.tempDir)
}

// RegisterSteps wires every Gherkin step used by the edit feature.
func (c *TestContext) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Given(`^a fresh maskedit server with default pipeline settings$`, c.givenFreshServer)
	sc.Given(`^a base image (\d+)x(\d+) filled with color "([^"]+)"$`, c.givenBaseImage)
	sc.Given(`^a mask image (\d+)x(\d+) that is solid black$`, c.givenSolidBlackMask)
	sc.Given(`^a mask image (\d+)x(\d+) that is solid white$`, c.givenSolidWhiteMask)
	sc.Given(`^a mask image (\d+)x(\d+) with a single white pixel at \((\d+),(\d+)\)$`, c.givenSinglePixelMask)
	sc.Given(`^a mask image (\d+)x(\d+) with a white square (\d+)x(\d+) centered$`, c.givenCenteredSquareMask)
	sc.Given(`^padding is set to (\d+)$`, c.givenPadding)
	sc.Given(`^feather is set to (\d+)$`, c.givenFeather)
	sc.Given(`^the model returns an? (\d+)x(\d+) patch filled with color "([^"]+)"$`, c.givenModelReturnsPatch)
	sc.Given(`^the model backend rejects requests with status (\d+)$`, c.givenModelRejects)

	sc.When(`^I request an edit with prompt "([^"]+)"$`, c.whenIRequestEdit)

	sc.Then(`^the response status should be (\d+)$`, c.thenStatusShouldBe)
	sc.Then(`^the error tag should be "([^"]+)"$`, c.thenErrorTagShouldBe)
	sc.Then(`^the error stage should be "([^"]+)"$`, c.thenErrorStageShouldBe)
	sc.Then(`^every output pixel should equal "([^"]+)"$`, c.thenEveryPixelShouldEqual)
	sc.Then(`^exactly (\d+) output pixel should differ from the input$`, c.thenExactlyNPixelsDiffer)
	sc.Then(`^exactly (\d+) output pixels should differ from the input$`, c.thenExactlyNPixelsDiffer)
	sc.Then(`^the output pixel at \((\d+),(\d+)\) should equal "([^"]+)"$`, c.thenPixelAtShouldEqual)
	sc.Then(`^the bbox should be left (\d+) top (\d+) width (\d+) height (\d+)$`, c.thenBBoxShouldBe)
	sc.Then(`^the bbox width should be approximately (\d+) within (\d+)$`, c.thenBBoxWidthApprox)
	sc.Then(`^the bbox height should be approximately (\d+) within (\d+)$`, c.thenBBoxHeightApprox)
	sc.Then(`^storage should contain no saved edits$`, c.thenNoSavedEdits)
}

func parseColor(spec string) (color.NRGBA, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 3 {
		return color.NRGBA{}, fmt.Errorf("expected R,G,B, got %q", spec)
	}
	var r, g, b int
	if _, err := fmt.Sscanf(parts[0], "%d", &r); err != nil {
		return color.NRGBA{}, err
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &g); err != nil {
		return color.NRGBA{}, err
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &b); err != nil {
		return color.NRGBA{}, err
	}
	return color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}, nil
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func (c *TestContext) givenFreshServer() error {
	c.pipeCfg = config.DefaultConfig().Pipeline
	store, err := storage.New(c.tempDir)
	if err != nil {
		return err
	}
	c.store = store
	return nil
}

func (c *TestContext) givenBaseImage(w, h int, colorSpec string) error {
	col, err := parseColor(colorSpec)
	if err != nil {
		return err
	}
	c.baseImage = testutil.CreateTestImage(w, h, col).(*image.NRGBA)
	return nil
}

func (c *TestContext) givenSolidBlackMask(w, h int) error {
	c.maskImage = testutil.GenerateMaskImage(testutil.ImageSize{Width: w, Height: h}, image.Rectangle{})
	return nil
}

func (c *TestContext) givenSolidWhiteMask(w, h int) error {
	c.maskImage = testutil.GenerateMaskImage(testutil.ImageSize{Width: w, Height: h}, image.Rect(0, 0, w, h))
	return nil
}

func (c *TestContext) givenSinglePixelMask(w, h, x, y int) error {
	c.maskImage = testutil.GenerateMaskImage(testutil.ImageSize{Width: w, Height: h}, image.Rect(x, y, x+1, y+1))
	return nil
}

func (c *TestContext) givenCenteredSquareMask(w, h, sw, sh int) error {
	left := (w - sw) / 2
	top := (h - sh) / 2
	square := image.Rect(left, top, left+sw, top+sh)
	c.maskImage = testutil.GenerateMaskImage(testutil.ImageSize{Width: w, Height: h}, square)
	return nil
}

func (c *TestContext) givenPadding(pad int) error {
	c.pipeCfg.DefaultPadding = pad
	return nil
}

func (c *TestContext) givenFeather(feather int) error {
	c.pipeCfg.DefaultFeather = feather
	return nil
}

func (c *TestContext) givenModelReturnsPatch(w, h int, colorSpec string) error {
	col, err := parseColor(colorSpec)
	if err != nil {
		return err
	}
	c.modelPatchPNG = encodePNG(testutil.CreateTestImage(w, h, col))
	c.modelStatus = http.StatusOK
	return nil
}

func (c *TestContext) givenModelRejects(status int) error {
	c.modelStatus = status
	return nil
}

func (c *TestContext) startModelServer() {
	c.modelServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.modelStatus != http.StatusOK {
			w.WriteHeader(c.modelStatus)
			_, _ = w.Write([]byte(`{"error":{"message":"unauthorized","code":401}}`))
			return
		}
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(c.modelPatchPNG)
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{
					"images": []map[string]interface{}{
						{"image_url": map[string]string{"url": dataURL}},
					},
				}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func (c *TestContext) whenIRequestEdit(prompt string) error {
	if c.modelPatchPNG == nil {
		// Scenarios that never reach the model call (e.g. empty mask) still
		// need a functioning backend so client construction doesn't panic.
		blank := image.NewNRGBA(image.Rect(0, 0, 1, 1))
		c.modelPatchPNG = encodePNG(blank)
	}
	c.startModelServer()

	model := modelclient.New("test-key", 5*time.Second)
	model.BaseURL = c.modelServer.URL

	pipe := editpipeline.New(c.pipeCfg, c.store, model)
	c.srv = server.NewServer(config.DefaultConfig().Server, config.RateLimitConfig{Enabled: false}, c.store, pipe)

	mux := http.NewServeMux()
	c.srv.SetupRoutes(mux)
	c.httpServer = httptest.NewServer(mux)

	saved, err := c.store.SaveTo(storage.DestGenerated, encodePNG(c.baseImage), "image/png")
	if err != nil {
		return err
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"image":  saved.Filename,
		"mask":   "data:image/png;base64," + base64.StdEncoding.EncodeToString(encodePNG(c.maskImage)),
		"prompt": prompt,
	})
	if err != nil {
		return err
	}

	resp, err := http.Post(c.httpServer.URL+"/edit", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body := new(bytes.Buffer)
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return err
	}

	c.lastStatus = resp.StatusCode
	c.lastBody = body.Bytes()
	return nil
}

type editResponseBody struct {
	Success bool `json:"success"`
	Image   string `json:"image"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	BBox    *struct {
		Left, Top, Width, Height int
	} `json:"bbox"`
}

type errorResponseBody struct {
	Error string `json:"error"`
	Tag   string `json:"tag"`
	Stage string `json:"stage"`
}

func (c *TestContext) decodedOutputImage() (*image.NRGBA, error) {
	var body editResponseBody
	if err := json.Unmarshal(c.lastBody, &body); err != nil {
		return nil, fmt.Errorf("decode edit response: %w", err)
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(body.Image, prefix) {
		return nil, fmt.Errorf("response image is not a data URL: %q", body.Image)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(body.Image, prefix))
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	nrgba := image.NewNRGBA(img.Bounds())
	draw.Draw(nrgba, nrgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return nrgba, nil
}

func (c *TestContext) thenStatusShouldBe(status int) error {
	if c.lastStatus != status {
		return fmt.Errorf("expected status %d, got %d (body: %s)", status, c.lastStatus, c.lastBody)
	}
	return nil
}

func (c *TestContext) thenErrorTagShouldBe(tag string) error {
	var body errorResponseBody
	if err := json.Unmarshal(c.lastBody, &body); err != nil {
		return fmt.Errorf("decode error response: %w", err)
	}
	if body.Tag != tag {
		return fmt.Errorf("expected error tag %q, got %q", tag, body.Tag)
	}
	return nil
}

func (c *TestContext) thenErrorStageShouldBe(stage string) error {
	var body errorResponseBody
	if err := json.Unmarshal(c.lastBody, &body); err != nil {
		return fmt.Errorf("decode error response: %w", err)
	}
	if body.Stage != stage {
		return fmt.Errorf("expected error stage %q, got %q", stage, body.Stage)
	}
	return nil
}

func (c *TestContext) thenEveryPixelShouldEqual(colorSpec string) error {
	want, err := parseColor(colorSpec)
	if err != nil {
		return err
	}
	img, err := c.decodedOutputImage()
	if err != nil {
		return err
	}
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			got := img.NRGBAAt(x, y)
			if got.R != want.R || got.G != want.G || got.B != want.B {
				return fmt.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
	return nil
}

func (c *TestContext) thenExactlyNPixelsDiffer(n int) error {
	out, err := c.decodedOutputImage()
	if err != nil {
		return err
	}
	bounds := c.baseImage.Bounds()
	diff := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			a := c.baseImage.NRGBAAt(x, y)
			b := out.NRGBAAt(x, y)
			if a != b {
				diff++
			}
		}
	}
	if diff != n {
		return fmt.Errorf("expected exactly %d differing pixels, got %d", n, diff)
	}
	return nil
}

func (c *TestContext) thenPixelAtShouldEqual(x, y int, colorSpec string) error {
	want, err := parseColor(colorSpec)
	if err != nil {
		return err
	}
	img, err := c.decodedOutputImage()
	if err != nil {
		return err
	}
	got := img.NRGBAAt(x, y)
	if got.R != want.R || got.G != want.G || got.B != want.B {
		return fmt.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
	}
	return nil
}

func (c *TestContext) thenBBoxShouldBe(left, top, width, height int) error {
	var body editResponseBody
	if err := json.Unmarshal(c.lastBody, &body); err != nil {
		return fmt.Errorf("decode edit response: %w", err)
	}
	if body.BBox == nil {
		return fmt.Errorf("response has no bbox")
	}
	got := *body.BBox
	if got.Left != left || got.Top != top || got.Width != width || got.Height != height {
		return fmt.Errorf("expected bbox {%d %d %d %d}, got {%d %d %d %d}",
			left, top, width, height, got.Left, got.Top, got.Width, got.Height)
	}
	return nil
}

func (c *TestContext) thenBBoxWidthApprox(want, tolerance int) error {
	var body editResponseBody
	if err := json.Unmarshal(c.lastBody, &body); err != nil {
		return fmt.Errorf("decode edit response: %w", err)
	}
	if body.BBox == nil {
		return fmt.Errorf("response has no bbox")
	}
	diff := body.BBox.Width - want
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return fmt.Errorf("bbox width %d not within %d of %d", body.BBox.Width, tolerance, want)
	}
	return nil
}

func (c *TestContext) thenBBoxHeightApprox(want, tolerance int) error {
	var body editResponseBody
	if err := json.Unmarshal(c.lastBody, &body); err != nil {
		return fmt.Errorf("decode edit response: %w", err)
	}
	if body.BBox == nil {
		return fmt.Errorf("response has no bbox")
	}
	diff := body.BBox.Height - want
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return fmt.Errorf("bbox height %d not within %d of %d", body.BBox.Height, tolerance, want)
	}
	return nil
}

func (c *TestContext) thenNoSavedEdits() error {
	entries, err := os.ReadDir(c.tempDir + "/edits")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(entries) != 0 {
		return fmt.Errorf("expected no saved edits, found %d", len(entries))
	}
	return nil
}
