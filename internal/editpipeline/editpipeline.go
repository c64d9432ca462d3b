// Package editpipeline orchestrates the mask-guided edit stages (spec
// §4.1–§4.6) behind a single Run call, the way the teacher's OCR pipeline
// package sequences detection, recognition and post-processing stages.
package editpipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
	"github.com/kestrel-imaging/maskedit/internal/colormatch"
	"github.com/kestrel-imaging/maskedit/internal/common"
	"github.com/kestrel-imaging/maskedit/internal/compositor"
	"github.com/kestrel-imaging/maskedit/internal/config"
	"github.com/kestrel-imaging/maskedit/internal/geometry"
	"github.com/kestrel-imaging/maskedit/internal/maskdecode"
	"github.com/kestrel-imaging/maskedit/internal/modelclient"
	"github.com/kestrel-imaging/maskedit/internal/patch"
	"github.com/kestrel-imaging/maskedit/internal/region"
	"github.com/kestrel-imaging/maskedit/internal/storage"
)

// Stage names, used for StageCallback events and as Response.Timings keys.
const (
	StageReadBase       = "read_base"
	StageDecodeMask     = "decode_mask"
	StageExtractRegion  = "extract_region"
	StagePreparePatch   = "prepare_patch"
	StageCallModel      = "call_model"
	StageColorMatch     = "color_match"
	StageComposite      = "composite"
	StageEncode         = "encode"
	StageSaveOrReturn   = "save_or_return"
)

// Request describes one edit call. Feather and Padding are pointers so the
// caller can distinguish "not specified, use the configured default" from
// an explicit zero.
type Request struct {
	BaseImageName string
	MaskPNG       []byte
	Prompt        string
	Feather       *int
	Padding       *int
	Save          bool
}

// Response is the result of a completed edit.
type Response struct {
	PNG           []byte
	Width         int
	Height        int
	BBox          geometry.Rect
	SavedFilename string
	SavedURL      string
	Timings       map[string]time.Duration
}

// StageCallback receives per-stage lifecycle events, letting a caller (the
// HTTP handler's websocket progress stream) narrate a running edit.
type StageCallback interface {
	OnStageStart(stage string)
	OnStageComplete(stage string, dur time.Duration)
	OnError(stage string, err error)
}

// NoOpStageCallback implements StageCallback but does nothing; it is the
// default when no caller wants progress events.
type NoOpStageCallback struct{}

func (NoOpStageCallback) OnStageStart(stage string)                  {}
func (NoOpStageCallback) OnStageComplete(stage string, dur time.Duration) {}
func (NoOpStageCallback) OnError(stage string, err error)            {}

// Pipeline wires the stage packages together with a storage backend and a
// model client.
type Pipeline struct {
	cfg   config.PipelineConfig
	store *storage.Store
	model *modelclient.Client
}

// New constructs a Pipeline.
func New(cfg config.PipelineConfig, store *storage.Store, model *modelclient.Client) *Pipeline {
	return &Pipeline{cfg: cfg, store: store, model: model}
}

// Run executes the full edit: read base image, decode mask, extract the
// edit region, prepare and send a patch to the model, color-match its
// response, and strictly composite the result back onto the original.
func (p *Pipeline) Run(ctx context.Context, req Request, cb StageCallback) (Response, error) {
	if cb == nil {
		cb = NoOpStageCallback{}
	}
	if req.Prompt == "" {
		return Response{}, &apierrors.ValidationError{
			Tag:   apierrors.TagPromptRequired,
			Stage: apierrors.StageParse,
			Err:   errors.New("prompt must not be empty"),
		}
	}

	timings := make(map[string]time.Duration, 8)

	var baseImg image.Image
	if err := p.runStage(cb, StageReadBase, timings, func() error {
		data, _, _, rerr := p.store.ReadByName(req.BaseImageName)
		if rerr != nil {
			return rerr
		}
		img, _, derr := image.Decode(bytes.NewReader(data))
		if derr != nil {
			return &apierrors.ImageError{
				Tag:   apierrors.TagImageMetaFailed,
				Stage: apierrors.StageReadBase,
				Err:   fmt.Errorf("decode base image: %w", derr),
			}
		}
		if !hasEditableColorChannels(img) {
			return &apierrors.ValidationError{
				Tag:   apierrors.TagBadColor,
				Stage: apierrors.StageReadBase,
				Err:   fmt.Errorf("base image color model %T is not sRGB with 3 or 4 channels", img.ColorModel()),
			}
		}
		baseImg = img
		return nil
	}); err != nil {
		return Response{}, err
	}

	ob := baseImg.Bounds()

	alpha, err := p.decodeMaskStage(cb, timings, req)
	if err != nil {
		return Response{}, err
	}

	padding := p.cfg.DefaultPadding
	if req.Padding != nil {
		padding = *req.Padding
	}

	var extracted region.Result
	if err := p.runStage(cb, StageExtractRegion, timings, func() error {
		res, rerr := region.Extract(alpha, ob.Dx(), ob.Dy(), padding)
		if rerr != nil {
			return rerr
		}
		extracted = res
		return nil
	}); err != nil {
		return Response{}, err
	}

	var prepared patch.Prepared
	if err := p.runStage(cb, StagePreparePatch, timings, func() error {
		res, rerr := patch.Prepare(baseImg, extracted.BBox, p.cfg.MaxPatchEdge)
		if rerr != nil {
			return rerr
		}
		prepared = res
		p.dumpDebug("patch.png", res.PNG)
		return nil
	}); err != nil {
		return Response{}, err
	}

	var editedPatchImg image.Image
	if err := p.runStage(cb, StageCallModel, timings, func() error {
		raw, merr := p.model.GenerateFromPatch(ctx, req.Prompt, prepared.PNG)
		if merr != nil {
			return merr
		}
		img, _, derr := image.Decode(bytes.NewReader(raw))
		if derr != nil {
			return &apierrors.ModelError{
				Tag:        apierrors.TagNoImageInResponse,
				Stage:      apierrors.StageOpenRouter,
				HTTPStatus: 502,
				Err:        fmt.Errorf("decode model response image: %w", derr),
			}
		}
		editedPatchImg = img
		return nil
	}); err != nil {
		return Response{}, err
	}

	var colorMatched image.Image
	if err := p.runStage(cb, StageColorMatch, timings, func() error {
		ring := colormatch.DefaultRing
		if p.cfg.ColorMatchRing > 0 {
			ring = p.cfg.ColorMatchRing
		}
		gainMin, gainMax := colormatch.DefaultGainMin, colormatch.DefaultGainMax
		if p.cfg.ColorGainMin > 0 {
			gainMin = p.cfg.ColorGainMin
		}
		if p.cfg.ColorGainMax > 0 {
			gainMax = p.cfg.ColorGainMax
		}
		target := colormatch.RingMean(baseImg, extracted.BBox, ring)
		source := colormatch.MeanRGB(editedPatchImg)
		gains := colormatch.Gains(source, target, gainMin, gainMax)
		matched := colormatch.Apply(editedPatchImg, gains)
		colorMatched = matched
		p.dumpNRGBADebug("color_matched.png", matched)
		return nil
	}); err != nil {
		return Response{}, err
	}

	feather := p.cfg.DefaultFeather
	if req.Feather != nil {
		feather = *req.Feather
	}

	var composited *image.NRGBA
	if err := p.runStage(cb, StageComposite, timings, func() error {
		res, cerr := compositor.Composite(baseImg, extracted.Alpha, extracted.BBox, colorMatched, feather)
		if cerr != nil {
			return cerr
		}
		composited = res
		return nil
	}); err != nil {
		return Response{}, err
	}

	var pngBytes []byte
	if err := p.runStage(cb, StageEncode, timings, func() error {
		var buf bytes.Buffer
		if eerr := png.Encode(&buf, composited); eerr != nil {
			return &apierrors.CoreInvariantError{
				Stage: apierrors.StageSaveOrReturn,
				Err:   fmt.Errorf("encode composited png: %w", eerr),
			}
		}
		pngBytes = buf.Bytes()
		return nil
	}); err != nil {
		return Response{}, err
	}

	resp := Response{
		PNG:     pngBytes,
		Width:   ob.Dx(),
		Height:  ob.Dy(),
		BBox:    extracted.BBox,
		Timings: timings,
	}

	if req.Save {
		if err := p.runStage(cb, StageSaveOrReturn, timings, func() error {
			saved, serr := p.store.SaveTo(storage.DestEdits, pngBytes, "image/png")
			if serr != nil {
				return serr
			}
			resp.SavedFilename = saved.Filename
			resp.SavedURL = saved.URL
			return nil
		}); err != nil {
			return Response{}, err
		}
	}

	return resp, nil
}

func (p *Pipeline) decodeMaskStage(cb StageCallback, timings map[string]time.Duration, req Request) (maskdecode.EditAlpha, error) {
	var alpha maskdecode.EditAlpha
	err := p.runStage(cb, StageDecodeMask, timings, func() error {
		res, derr := maskdecode.Decode(req.MaskPNG, maskdecode.Options{SoftDilate: p.cfg.SoftDilateMask})
		if derr != nil {
			return derr
		}
		alpha = res
		return nil
	})
	return alpha, err
}

// runStage times fn and reports its lifecycle through cb.
func (p *Pipeline) runStage(cb StageCallback, stage string, timings map[string]time.Duration, fn func() error) error {
	cb.OnStageStart(stage)
	timer := common.NewNamedTimer(stage)
	err := fn()
	dur := timer.Stop()
	timings[stage] = dur
	if err != nil {
		cb.OnError(stage, err)
		return err
	}
	cb.OnStageComplete(stage, dur)
	return nil
}

func (p *Pipeline) dumpDebug(name string, data []byte) {
	if p.cfg.DebugDir == "" {
		return
	}
	_ = os.MkdirAll(p.cfg.DebugDir, 0o755)
	_ = os.WriteFile(filepath.Join(p.cfg.DebugDir, name), data, 0o644)
}

func (p *Pipeline) dumpNRGBADebug(name string, img image.Image) {
	if p.cfg.DebugDir == "" {
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return
	}
	p.dumpDebug(name, buf.Bytes())
}

// hasEditableColorChannels enforces the Data Model's Image invariant (spec
// §3: "channel count ∈ {3,4}; color space sRGB"). Grayscale and CMYK
// decodes are rejected rather than silently coerced, since the pipeline's
// only color-space handling is the sRGB reinterpret the compositor already
// performs, not a general color-managed conversion (spec §9 Non-goals).
func hasEditableColorChannels(img image.Image) bool {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.CMYKModel:
		return false
	default:
		return true
	}
}
