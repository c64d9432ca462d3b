package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrel-imaging/maskedit/internal/config"
	"github.com/kestrel-imaging/maskedit/internal/editpipeline"
	"github.com/kestrel-imaging/maskedit/internal/modelclient"
	"github.com/kestrel-imaging/maskedit/internal/server"
	"github.com/kestrel-imaging/maskedit/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for mask-guided image edits",
	Long: `Start an HTTP server that accepts a base image and an edit mask,
runs the edit pipeline, and returns the composited result.

The server provides the following endpoints:
  POST /upload    - Store a raw image for later reference by /edit
  POST /edit      - Run the edit pipeline synchronously, returns JSON
  GET  /edit/ws   - Same pipeline, streamed over a WebSocket
  GET  /files/... - Serve previously stored generated/edit images
  GET  /health    - Health check endpoint

Examples:
  maskedit serve
  maskedit serve --port 9090
  maskedit serve --host 0.0.0.0 --port 3000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		corsOrigin := cfg.Server.CORSOrigin
		if cmd.Flags().Changed("cors-origin") {
			corsOrigin, _ = cmd.Flags().GetString("cors-origin")
		}

		maxUploadMB := cfg.Server.MaxUploadMB
		if cmd.Flags().Changed("max-upload-size") {
			maxUploadMB, _ = cmd.Flags().GetInt("max-upload-size")
		}

		timeout := cfg.Server.TimeoutSec
		if cmd.Flags().Changed("timeout") {
			timeout, _ = cmd.Flags().GetInt("timeout")
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}

		metricsEnabled := cfg.Server.MetricsEnabled
		if cmd.Flags().Changed("metrics-enabled") {
			metricsEnabled, _ = cmd.Flags().GetBool("metrics-enabled")
		}

		storageRoot := cfg.Storage.Root
		if cmd.Flags().Changed("storage-root") {
			storageRoot, _ = cmd.Flags().GetString("storage-root")
		}

		modelAPIKey := cfg.Model.APIKey
		if cmd.Flags().Changed("model-api-key") {
			modelAPIKey, _ = cmd.Flags().GetString("model-api-key")
		}
		if modelAPIKey == "" {
			modelAPIKey = os.Getenv("OPENROUTER_API_KEY")
		}

		modelBaseURL := cfg.Model.BaseURL
		if cmd.Flags().Changed("model-base-url") {
			modelBaseURL, _ = cmd.Flags().GetString("model-base-url")
		}

		modelName := cfg.Model.Name
		if cmd.Flags().Changed("model-name") {
			modelName, _ = cmd.Flags().GetString("model-name")
		}

		rateLimitEnabled := cfg.RateLimit.Enabled
		if cmd.Flags().Changed("rate-limit-enabled") {
			rateLimitEnabled, _ = cmd.Flags().GetBool("rate-limit-enabled")
		}

		requestsPerMinute := cfg.RateLimit.RequestsPerMinute
		if cmd.Flags().Changed("requests-per-minute") {
			requestsPerMinute, _ = cmd.Flags().GetInt("requests-per-minute")
		}

		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}
		if modelAPIKey == "" {
			slog.Warn("no model API key configured; edit requests will fail at the model call stage")
		}

		store, err := storage.New(storageRoot)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}

		model := modelclient.New(modelAPIKey, time.Duration(cfg.Model.TimeoutSec)*time.Second)
		model.BaseURL = modelBaseURL
		model.Model = modelName

		pipelineCfg := cfg.Pipeline
		pipe := editpipeline.New(pipelineCfg, store, model)

		serverCfg := config.ServerConfig{
			Host:            host,
			Port:            port,
			CORSOrigin:      corsOrigin,
			MaxUploadMB:     maxUploadMB,
			TimeoutSec:      timeout,
			ShutdownTimeout: shutdownTimeout,
			MetricsEnabled:  metricsEnabled,
		}
		rateLimitCfg := config.RateLimitConfig{
			Enabled:           rateLimitEnabled,
			RequestsPerMinute: requestsPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
		}

		srv := server.NewServer(serverCfg, rateLimitCfg, store, pipe)

		mux := http.NewServeMux()
		srv.SetupRoutes(mux)
		if metricsEnabled {
			mux.Handle("/metrics", promhttp.Handler())
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(timeout) * time.Second,
			WriteTimeout:      time.Duration(timeout) * time.Second,
		}

		go func() {
			slog.Info("starting maskedit server", "host", host, "port", port)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("context cancelled, initiating shutdown")
		}

		slog.Info("starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		} else {
			slog.Info("http server shutdown completed")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 25, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 90, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Bool("metrics-enabled", true, "expose Prometheus metrics on /metrics")
	serveCmd.Flags().String("storage-root", "./data", "root directory for generated/edits storage")
	serveCmd.Flags().String("model-api-key", "", "API key for the external image model (or OPENROUTER_API_KEY)")
	serveCmd.Flags().String("model-base-url", "https://openrouter.ai/api/v1", "base URL of the model API")
	serveCmd.Flags().String("model-name", "google/gemini-2.5-flash-image", "model identifier to request")
	serveCmd.Flags().Bool("rate-limit-enabled", true, "enable per-client rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 30, "maximum requests per minute per client")
}
