// Package modelclient implements the Model Adapter collaborator (spec
// §4.4): an external HTTP call that turns a prompt and a prepared patch PNG
// into an edited patch. The core pipeline only depends on the
// GenerateFromPatch contract; this package binds that contract to the
// OpenRouter chat-completions API, following the request/response shapes
// used by comparable mask-editing REST clients (Vertex AI Imagen 3,
// Replicate) in structure if not in exact wire format.
package modelclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
)

// DefaultTimeout is the end-to-end model call timeout (spec §6.4,
// model_timeout_s).
const DefaultTimeout = 60 * time.Second

// DefaultBaseURL is the OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// DefaultModel is used when the caller does not configure one.
const DefaultModel = "google/gemini-2.5-flash-image"

// Client calls an OpenRouter-compatible chat-completions endpoint that
// supports image input and image output modalities.
type Client struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// New constructs a Client with the given API key and a default HTTP client
// bound to timeout.
func New(apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		APIKey:  apiKey,
		Model:   DefaultModel,
		BaseURL: DefaultBaseURL,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Modalities []string     `json:"modalities,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL imageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// GenerateFromPatch implements the §4.4 contract: it posts prompt and
// patchPNG to the model, and returns the raw bytes of an sRGB PNG/JPEG
// edited patch. It never retries; transient-error retry policy is the
// caller's responsibility.
func (c *Client) GenerateFromPatch(ctx context.Context, prompt string, patchPNG []byte) ([]byte, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(patchPNG)

	reqBody := chatRequest{
		Model: c.modelOrDefault(),
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				},
			},
		},
		Modalities: []string{"image", "text"},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &apierrors.CoreInvariantError{
			Stage: apierrors.StageOpenRouter,
			Err:   fmt.Errorf("encode model request: %w", err),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURLOrDefault()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &apierrors.CoreInvariantError{
			Stage: apierrors.StageOpenRouter,
			Err:   fmt.Errorf("build model request: %w", err),
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.httpClientOrDefault().Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &apierrors.ModelError{
				Tag:        apierrors.TagModelTimeout,
				Stage:      apierrors.StageOpenRouter,
				HTTPStatus: 504,
				Err:        err,
			}
		}
		return nil, &apierrors.ModelError{
			Tag:        apierrors.OpenRouterHTTPTag(0),
			Stage:      apierrors.StageOpenRouter,
			HTTPStatus: 502,
			Err:        err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apierrors.ModelError{
			Tag:        apierrors.OpenRouterHTTPTag(resp.StatusCode),
			Stage:      apierrors.StageOpenRouter,
			HTTPStatus: 502,
			Err:        err,
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &apierrors.ModelError{
			Tag:        apierrors.TagInvalidOpenRouterKey,
			Stage:      apierrors.StageOpenRouter,
			HTTPStatus: 401,
			Err:        fmt.Errorf("openrouter authentication failed: %s", string(respBody)),
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &apierrors.ModelError{
			Tag:        apierrors.OpenRouterHTTPTag(resp.StatusCode),
			Stage:      apierrors.StageOpenRouter,
			HTTPStatus: 429,
			Err:        errors.New("openrouter rate limit exceeded"),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apierrors.ModelError{
			Tag:        apierrors.OpenRouterHTTPTag(resp.StatusCode),
			Stage:      apierrors.StageOpenRouter,
			HTTPStatus: resp.StatusCode,
			Err:        fmt.Errorf("openrouter returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &apierrors.ModelError{
			Tag:        apierrors.TagNoImageInResponse,
			Stage:      apierrors.StageOpenRouter,
			HTTPStatus: 502,
			Err:        fmt.Errorf("decode openrouter response: %w", err),
		}
	}
	if parsed.Error != nil {
		return nil, &apierrors.ModelError{
			Tag:        apierrors.OpenRouterHTTPTag(parsed.Error.Code),
			Stage:      apierrors.StageOpenRouter,
			HTTPStatus: 502,
			Err:        errors.New(parsed.Error.Message),
		}
	}

	imgBytes, err := extractImage(parsed)
	if err != nil {
		return nil, &apierrors.ModelError{
			Tag:        apierrors.TagNoImageInResponse,
			Stage:      apierrors.StageOpenRouter,
			HTTPStatus: 502,
			Err:        err,
		}
	}
	return imgBytes, nil
}

func extractImage(resp chatResponse) ([]byte, error) {
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.Images) == 0 {
		return nil, errors.New("no image in model response")
	}
	dataURL := resp.Choices[0].Message.Images[0].ImageURL.URL
	idx := strings.Index(dataURL, "base64,")
	if idx < 0 {
		return nil, errors.New("model image was not a base64 data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[idx+len("base64,"):])
	if err != nil {
		return nil, fmt.Errorf("decode model image base64: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("model image decoded to zero bytes")
	}
	return raw, nil
}

func (c *Client) modelOrDefault() string {
	if c.Model == "" {
		return DefaultModel
	}
	return c.Model
}

func (c *Client) baseURLOrDefault() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return c.BaseURL
}

func (c *Client) httpClientOrDefault() *http.Client {
	if c.HTTPClient == nil {
		return &http.Client{Timeout: DefaultTimeout}
	}
	return c.HTTPClient
}
