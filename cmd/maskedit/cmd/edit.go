package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrel-imaging/maskedit/internal/editpipeline"
	"github.com/kestrel-imaging/maskedit/internal/modelclient"
	"github.com/kestrel-imaging/maskedit/internal/storage"
	"github.com/spf13/cobra"
)

// editCmd runs the edit pipeline once against local files, without starting
// the HTTP server. Useful for scripting and manual testing.
var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Run a single mask-guided edit against local files",
	Long: `Run the edit pipeline once against a base image and mask on disk,
writing the composited PNG to an output path.

Examples:
  maskedit edit --image photo.png --mask mask.png --prompt "add a hat" --out result.png`,
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath, _ := cmd.Flags().GetString("image")
		maskPath, _ := cmd.Flags().GetString("mask")
		prompt, _ := cmd.Flags().GetString("prompt")
		outPath, _ := cmd.Flags().GetString("out")
		save, _ := cmd.Flags().GetBool("save")

		if imagePath == "" || maskPath == "" {
			return errors.New("--image and --mask are required")
		}
		if prompt == "" {
			return errors.New("--prompt is required")
		}

		cfg := GetConfig()

		apiKey := cfg.Model.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENROUTER_API_KEY")
		}
		if apiKey == "" {
			return errors.New("no model API key configured (set --config model.api_key or OPENROUTER_API_KEY)")
		}

		store, err := storage.New(cfg.Storage.Root)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}

		imageData, err := os.ReadFile(imagePath) //nolint:gosec // G304: user-supplied CLI path is the whole point
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		maskData, err := os.ReadFile(maskPath) //nolint:gosec // G304: user-supplied CLI path is the whole point
		if err != nil {
			return fmt.Errorf("failed to read mask: %w", err)
		}

		saved, err := store.SaveTo(storage.DestGenerated, imageData, mimeFromExt(imagePath))
		if err != nil {
			return fmt.Errorf("failed to store base image: %w", err)
		}

		model := modelclient.New(apiKey, time.Duration(cfg.Model.TimeoutSec)*time.Second)
		if cfg.Model.BaseURL != "" {
			model.BaseURL = cfg.Model.BaseURL
		}
		if cfg.Model.Name != "" {
			model.Model = cfg.Model.Name
		}

		pipe := editpipeline.New(cfg.Pipeline, store, model)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.TimeoutSec)*time.Second)
		defer cancel()

		resp, err := pipe.Run(ctx, editpipeline.Request{
			BaseImageName: saved.Filename,
			MaskPNG:       maskData,
			Prompt:        prompt,
			Save:          save,
		}, editpipeline.NoOpStageCallback{})
		if err != nil {
			return fmt.Errorf("edit pipeline failed: %w", err)
		}

		if outPath == "" {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString(resp.PNG))
			return nil
		}

		if err := os.WriteFile(outPath, resp.PNG, 0o600); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d, bbox %+v)\n", outPath, resp.Width, resp.Height, resp.BBox)
		return nil
	},
}

func mimeFromExt(path string) string {
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().String("image", "", "path to the base image")
	editCmd.Flags().String("mask", "", "path to the edit mask")
	editCmd.Flags().String("prompt", "", "prompt describing the desired edit")
	editCmd.Flags().String("out", "", "output PNG path (default: print a data URL to stdout)")
	editCmd.Flags().Bool("save", false, "also persist the result in the storage root")
}
