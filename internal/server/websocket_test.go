package server

import (
	"encoding/base64"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-imaging/maskedit/internal/storage"
)

func TestEditWebSocketHandler_StreamsStagesAndResult(t *testing.T) {
	srv, store := newTestServer(t)
	base := solidPNG(t, 30, 30, color.NRGBA{0, 0, 255, 255})
	saved, err := store.SaveTo(storage.DestGenerated, base, "image/png")
	require.NoError(t, err)

	httpSrv := httptest.NewServer(http.HandlerFunc(srv.editWebSocketHandler))
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	u, err := url.Parse(wsURL)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	mask := maskPNG(t, 30, 30)
	body := EditRequest{
		Image:  saved.Filename,
		Mask:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(mask),
		Prompt: "recolor",
	}
	payload, _ := json.Marshal(body)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	sawResult := false
	for i := 0; i < 20; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg progressMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == "result" {
			sawResult = true
			require.NotNil(t, msg.Result)
			assert.True(t, msg.Result.Success)
			break
		}
		if msg.Type == "error" {
			t.Fatalf("unexpected error message: %s", msg.Error)
		}
	}
	assert.True(t, sawResult)
}
