package server

import (
	"net/http"

	"github.com/kestrel-imaging/maskedit/internal/config"
	"github.com/kestrel-imaging/maskedit/internal/editpipeline"
	"github.com/kestrel-imaging/maskedit/internal/storage"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    *editpipeline.Pipeline
	store       *storage.Store
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	rateLimiter *RateLimiter
}

// NewServer wires a Server from resolved configuration, a storage backend
// and an edit pipeline.
func NewServer(cfg config.ServerConfig, rl config.RateLimitConfig, store *storage.Store, pipe *editpipeline.Pipeline) *Server {
	var limiter *RateLimiter
	if rl.Enabled {
		limiter = NewRateLimiter(rl.RequestsPerMinute, rl.BurstSize)
	}

	return &Server{
		pipeline:    pipe,
		store:       store,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: int64(cfg.MaxUploadMB),
		timeoutSec:  cfg.TimeoutSec,
		rateLimiter: limiter,
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Time         string `json:"time"`
	HeapAllocMB  uint64 `json:"heap_alloc_mb"`
	NumGoroutine int    `json:"num_goroutine"`
}

// EditRequest is the JSON body of POST /edit (spec §6.1).
type EditRequest struct {
	Image   string `json:"image"`   // filename previously returned by an upload, or a data URL
	Mask    string `json:"mask"`    // data URL of the edit mask
	Prompt  string `json:"prompt"`  // instruction for the model
	Feather *int   `json:"feather,omitempty"`
	Padding *int   `json:"padding,omitempty"`
	Save    bool   `json:"save,omitempty"`
}

// EditResponse is the JSON body returned by POST /edit on success.
type EditResponse struct {
	Success       bool               `json:"success"`
	Image         string             `json:"image,omitempty"` // base64 data URL of the composited PNG
	Width         int                `json:"width,omitempty"`
	Height        int                `json:"height,omitempty"`
	BBox          *BBoxResponse      `json:"bbox,omitempty"`
	SavedFilename string             `json:"saved_filename,omitempty"`
	SavedURL      string             `json:"saved_url,omitempty"`
	TimingsMs     map[string]int64   `json:"timings_ms,omitempty"`
}

// BBoxResponse mirrors geometry.Rect for the wire format.
type BBoxResponse struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ErrorResponse is the JSON body returned on any handled failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Tag   string `json:"tag,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// UploadResponse is returned by POST /upload after storing a base image.
type UploadResponse struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/upload", s.corsMiddleware(s.rateLimitMiddleware(s.uploadHandler)))
	mux.HandleFunc("/edit", s.corsMiddleware(s.rateLimitMiddleware(s.editHandler)))
	mux.HandleFunc("/edit/ws", s.corsMiddleware(s.editWebSocketHandler))
	mux.HandleFunc("/files/", s.corsMiddleware(s.fileHandler))
}
