package modelclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-imaging/maskedit/internal/apierrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New("test-key", time.Second)
	c.BaseURL = srv.URL
	return c
}

func TestGenerateFromPatch_Success(t *testing.T) {
	wantImage := []byte("fake-png-bytes")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
				Images  []struct {
					ImageURL imageURL `json:"image_url"`
				} `json:"images"`
			} `json:"message"`
		}{{}}
		resp.Choices[0].Message.Images = []struct {
			ImageURL imageURL `json:"image_url"`
		}{{ImageURL: imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(wantImage)}}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	got, err := c.GenerateFromPatch(context.Background(), "make it blue", []byte("patch"))
	require.NoError(t, err)
	assert.Equal(t, wantImage, got)
}

func TestGenerateFromPatch_AuthFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	})

	_, err := c.GenerateFromPatch(context.Background(), "prompt", []byte("patch"))
	require.Error(t, err)
	var modelErr *apierrors.ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, apierrors.TagInvalidOpenRouterKey, modelErr.Tag)
	assert.Equal(t, 401, modelErr.StatusCode())
}

func TestGenerateFromPatch_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GenerateFromPatch(context.Background(), "prompt", []byte("patch"))
	require.Error(t, err)
	var modelErr *apierrors.ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, 429, modelErr.StatusCode())
}

func TestGenerateFromPatch_NoImageInResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{})
	})

	_, err := c.GenerateFromPatch(context.Background(), "prompt", []byte("patch"))
	require.Error(t, err)
	var modelErr *apierrors.ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, apierrors.TagNoImageInResponse, modelErr.Tag)
}
