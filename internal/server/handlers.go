package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
	"github.com/kestrel-imaging/maskedit/internal/common"
	"github.com/kestrel-imaging/maskedit/internal/editpipeline"
	"github.com/kestrel-imaging/maskedit/internal/storage"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mem := common.GetMemoryStats()
	response := HealthResponse{
		Status:       "healthy",
		Time:         time.Now().UTC().Format(time.RFC3339),
		HeapAllocMB:  mem.HeapAlloc / (1024 * 1024),
		NumGoroutine: runtime.NumGoroutine(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}

// uploadHandler stores a raw image upload as a new base image and returns
// its generated filename, ready to be referenced by /edit.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, &apierrors.ValidationError{
			Tag:   apierrors.TagInvalidPayload,
			Stage: apierrors.StageParse,
			Err:   fmt.Errorf("read upload body: %w", err),
		})
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/png"
	}

	saved, err := s.store.SaveTo(storage.DestGenerated, data, mimeType)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(UploadResponse{Filename: saved.Filename, URL: saved.URL})
}

// fileHandler serves previously stored generated/edits files back over HTTP.
func (s *Server) fileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := lastPathSegment(r.URL.Path)
	data, mimeType, _, err := s.store.ReadByName(name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	_, _ = w.Write(data)
}

// editHandler runs the full mask-guided edit pipeline (spec §6.1).
func (s *Server) editHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)

	var body EditRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &apierrors.ValidationError{
			Tag:   apierrors.TagInvalidPayload,
			Stage: apierrors.StageParse,
			Err:   fmt.Errorf("decode edit request: %w", err),
		})
		return
	}

	req, err := s.buildEditRequest(body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx := r.Context()
	if s.timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
		defer cancel()
	}

	resp, err := s.pipeline.Run(ctx, req, metricsStageCallback{})
	if err != nil {
		editRequestsTotal.WithLabelValues(statusLabel(err)).Inc()
		s.writeError(w, err)
		return
	}
	editRequestsTotal.WithLabelValues("success").Inc()
	editBBoxAreaPixels.Observe(float64(resp.BBox.Width * resp.BBox.Height))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toEditResponse(resp))
}

func (s *Server) buildEditRequest(body EditRequest) (editpipeline.Request, error) {
	if body.Image == "" {
		return editpipeline.Request{}, &apierrors.ValidationError{
			Tag:   apierrors.TagInvalidPayload,
			Stage: apierrors.StageParse,
			Err:   errors.New("image field is required"),
		}
	}
	if body.Mask == "" {
		return editpipeline.Request{}, &apierrors.ValidationError{
			Tag:   apierrors.TagInvalidPayload,
			Stage: apierrors.StageParse,
			Err:   errors.New("mask field is required"),
		}
	}

	maskBytes, err := decodeDataURLOrRaw(body.Mask)
	if err != nil {
		return editpipeline.Request{}, &apierrors.ValidationError{
			Tag:   apierrors.TagMalformedDataURL,
			Stage: apierrors.StageParse,
			Err:   err,
		}
	}

	baseImageName := body.Image
	if looksLikeDataURL(body.Image) {
		imgBytes, derr := decodeDataURLOrRaw(body.Image)
		if derr != nil {
			return editpipeline.Request{}, &apierrors.ValidationError{
				Tag:   apierrors.TagMalformedDataURL,
				Stage: apierrors.StageParse,
				Err:   derr,
			}
		}
		saved, serr := s.store.SaveTo(storage.DestGenerated, imgBytes, dataURLMime(body.Image))
		if serr != nil {
			return editpipeline.Request{}, serr
		}
		baseImageName = saved.Filename
	}

	return editpipeline.Request{
		BaseImageName: baseImageName,
		MaskPNG:       maskBytes,
		Prompt:        body.Prompt,
		Feather:       body.Feather,
		Padding:       body.Padding,
		Save:          body.Save,
	}, nil
}

func toEditResponse(resp editpipeline.Response) EditResponse {
	timings := make(map[string]int64, len(resp.Timings))
	for stage, d := range resp.Timings {
		timings[stage] = d.Milliseconds()
	}

	return EditResponse{
		Success: true,
		Image:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(resp.PNG),
		Width:   resp.Width,
		Height:  resp.Height,
		BBox: &BBoxResponse{
			Left:   resp.BBox.Left,
			Top:    resp.BBox.Top,
			Width:  resp.BBox.Width,
			Height: resp.BBox.Height,
		},
		SavedFilename: resp.SavedFilename,
		SavedURL:      resp.SavedURL,
		TimingsMs:     timings,
	}
}

// writeError maps a pipeline/storage error onto its documented HTTP status
// code and a structured JSON body (spec §7).
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := ErrorResponse{Error: err.Error()}

	var tagged apierrors.Tagged
	if errors.As(err, &tagged) {
		status = tagged.StatusCode()
	}

	var validationErr *apierrors.ValidationError
	var notFoundErr *apierrors.NotFoundError
	var maskErr *apierrors.MaskError
	var imageErr *apierrors.ImageError
	var modelErr *apierrors.ModelError
	var coreErr *apierrors.CoreInvariantError
	switch {
	case errors.As(err, &validationErr):
		body.Tag, body.Stage = validationErr.Tag, string(validationErr.Stage)
	case errors.As(err, &notFoundErr):
		body.Tag, body.Stage = notFoundErr.Tag, string(notFoundErr.Stage)
	case errors.As(err, &maskErr):
		body.Tag, body.Stage = maskErr.Tag, string(maskErr.Stage)
	case errors.As(err, &imageErr):
		body.Tag, body.Stage = imageErr.Tag, string(imageErr.Stage)
	case errors.As(err, &modelErr):
		body.Tag, body.Stage = modelErr.Tag, string(modelErr.Stage)
	case errors.As(err, &coreErr):
		body.Tag, body.Stage = coreErr.Tag, string(coreErr.Stage)
	}

	slog.Error("edit request failed", "error", err, "status", status, "tag", body.Tag)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func statusLabel(err error) string {
	var validationErr *apierrors.ValidationError
	var modelErr *apierrors.ModelError
	switch {
	case errors.As(err, &validationErr):
		return "validation_error"
	case errors.As(err, &modelErr):
		return "model_error"
	default:
		return "internal_error"
	}
}

func lastPathSegment(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

func looksLikeDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

func dataURLMime(dataURL string) string {
	idx := strings.Index(dataURL, ";")
	if !strings.HasPrefix(dataURL, "data:") || idx < 0 {
		return "image/png"
	}
	return dataURL[len("data:"):idx]
}

func decodeDataURLOrRaw(s string) ([]byte, error) {
	if !looksLikeDataURL(s) {
		return nil, fmt.Errorf("expected a data URL")
	}
	idx := strings.Index(s, "base64,")
	if idx < 0 {
		return nil, fmt.Errorf("data URL is not base64-encoded")
	}
	return base64.StdEncoding.DecodeString(s[idx+len("base64,"):])
}
