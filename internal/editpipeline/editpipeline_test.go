package editpipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
	"github.com/kestrel-imaging/maskedit/internal/config"
	"github.com/kestrel-imaging/maskedit/internal/modelclient"
	"github.com/kestrel-imaging/maskedit/internal/storage"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidRGBA(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// alphaMaskPNG builds a grayscale PNG whose bright pixels mark the edit
// region, matching the "bright = edit" fallback maskdecode uses when there
// is no alpha channel.
func alphaMaskPNG(t *testing.T, w, h int, bright func(x, y int) bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if bright(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return encodePNG(t, img)
}

func newTestModel(t *testing.T, patchColor color.Color) *modelclient.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := solidRGBA(64, 64, patchColor)
		imgBytes := encodePNG(t, out)
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(imgBytes)

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message": map[string]interface{}{
						"images": []map[string]interface{}{
							{"image_url": map[string]string{"url": dataURL}},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c := modelclient.New("test-key", time.Second*5)
	c.BaseURL = srv.URL
	return c
}

func newTestPipeline(t *testing.T, patchColor color.Color) (*Pipeline, *storage.Store) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	cfg := config.DefaultConfig().Pipeline
	model := newTestModel(t, patchColor)
	return New(cfg, store, model), store
}

func TestRun_FullPipelineProducesEditedImage(t *testing.T) {
	pipe, store := newTestPipeline(t, color.NRGBA{0, 0, 255, 255})

	base := solidRGBA(100, 100, color.NRGBA{255, 0, 0, 255})
	saved, err := store.SaveTo(storage.DestGenerated, encodePNG(t, base), "image/png")
	require.NoError(t, err)

	mask := alphaMaskPNG(t, 100, 100, func(x, y int) bool {
		return x >= 20 && x < 60 && y >= 20 && y < 60
	})

	resp, err := pipe.Run(context.Background(), Request{
		BaseImageName: saved.Filename,
		MaskPNG:       mask,
		Prompt:        "make it blue",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 100, resp.Width)
	assert.Equal(t, 100, resp.Height)
	assert.NotEmpty(t, resp.PNG)
	assert.NotZero(t, resp.Timings[StageComposite])

	out, _, err := image.Decode(bytes.NewReader(resp.PNG))
	require.NoError(t, err)
	// Well outside the mask, output must equal the original exactly.
	r, g, b, _ := out.At(5, 5).RGBA()
	assert.Equal(t, uint32(255), r>>8)
	assert.Equal(t, uint32(0), g>>8)
	assert.Equal(t, uint32(0), b>>8)
}

func TestRun_EmptyPromptRejected(t *testing.T) {
	pipe, store := newTestPipeline(t, color.NRGBA{0, 255, 0, 255})
	base := solidRGBA(10, 10, color.NRGBA{1, 2, 3, 255})
	saved, err := store.SaveTo(storage.DestGenerated, encodePNG(t, base), "image/png")
	require.NoError(t, err)

	_, err = pipe.Run(context.Background(), Request{
		BaseImageName: saved.Filename,
		MaskPNG:       alphaMaskPNG(t, 10, 10, func(x, y int) bool { return true }),
		Prompt:        "",
	}, nil)
	require.Error(t, err)
	var valErr *apierrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, apierrors.TagPromptRequired, valErr.Tag)
}

func TestRun_GrayscaleBaseImageRejectedAsBadColor(t *testing.T) {
	pipe, store := newTestPipeline(t, color.NRGBA{0, 255, 0, 255})

	gray := image.NewGray(image.Rect(0, 0, 10, 10))
	saved, err := store.SaveTo(storage.DestGenerated, encodePNG(t, gray), "image/png")
	require.NoError(t, err)

	_, err = pipe.Run(context.Background(), Request{
		BaseImageName: saved.Filename,
		MaskPNG:       alphaMaskPNG(t, 10, 10, func(x, y int) bool { return true }),
		Prompt:        "anything",
	}, nil)
	require.Error(t, err)
	var valErr *apierrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, apierrors.TagBadColor, valErr.Tag)
}

func TestRun_UnknownBaseImageFails(t *testing.T) {
	pipe, _ := newTestPipeline(t, color.NRGBA{0, 255, 0, 255})

	_, err := pipe.Run(context.Background(), Request{
		BaseImageName: "deadbeef-0000-0000-0000-000000000000.png",
		MaskPNG:       alphaMaskPNG(t, 10, 10, func(x, y int) bool { return true }),
		Prompt:        "anything",
	}, nil)
	require.Error(t, err)
	var notFoundErr *apierrors.NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
}

func TestRun_SavesOutputWhenRequested(t *testing.T) {
	pipe, store := newTestPipeline(t, color.NRGBA{10, 20, 30, 255})
	base := solidRGBA(40, 40, color.NRGBA{5, 5, 5, 255})
	saved, err := store.SaveTo(storage.DestGenerated, encodePNG(t, base), "image/png")
	require.NoError(t, err)

	resp, err := pipe.Run(context.Background(), Request{
		BaseImageName: saved.Filename,
		MaskPNG:       alphaMaskPNG(t, 40, 40, func(x, y int) bool { return x < 10 && y < 10 }),
		Prompt:        "edit",
		Save:          true,
	}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SavedFilename)

	data, _, origin, err := store.ReadByName(resp.SavedFilename)
	require.NoError(t, err)
	assert.Equal(t, "edits", origin)
	assert.Equal(t, resp.PNG, data)
}

type recordingCallback struct {
	started   []string
	completed []string
}

func (r *recordingCallback) OnStageStart(stage string)     { r.started = append(r.started, stage) }
func (r *recordingCallback) OnStageComplete(stage string, _ time.Duration) {
	r.completed = append(r.completed, stage)
}
func (r *recordingCallback) OnError(stage string, err error) {}

func TestRun_ReportsStageCallbacksInOrder(t *testing.T) {
	pipe, store := newTestPipeline(t, color.NRGBA{9, 9, 9, 255})
	base := solidRGBA(30, 30, color.NRGBA{0, 0, 0, 255})
	saved, err := store.SaveTo(storage.DestGenerated, encodePNG(t, base), "image/png")
	require.NoError(t, err)

	cb := &recordingCallback{}
	_, err = pipe.Run(context.Background(), Request{
		BaseImageName: saved.Filename,
		MaskPNG:       alphaMaskPNG(t, 30, 30, func(x, y int) bool { return x < 5 && y < 5 }),
		Prompt:        "edit",
	}, cb)
	require.NoError(t, err)

	assert.Equal(t, []string{
		StageReadBase, StageDecodeMask, StageExtractRegion, StagePreparePatch,
		StageCallModel, StageColorMatch, StageComposite, StageEncode,
	}, cb.completed)
}
