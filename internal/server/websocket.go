package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// progressMessage is the envelope sent over the websocket while an edit runs.
type progressMessage struct {
	Type     string        `json:"type"` // "stage_start", "stage_complete", "error", "result"
	Stage    string        `json:"stage,omitempty"`
	Error    string        `json:"error,omitempty"`
	Result   *EditResponse `json:"result,omitempty"`
}

// wsStageCallback streams stage transitions over a websocket connection as
// they happen, so a client can render a live progress bar.
type wsStageCallback struct {
	conn *websocket.Conn
}

func (c wsStageCallback) OnStageStart(stage string) {
	c.send(progressMessage{Type: "stage_start", Stage: stage})
}

func (c wsStageCallback) OnStageComplete(stage string, dur time.Duration) {
	editStageDuration.WithLabelValues(stage).Observe(dur.Seconds())
	c.send(progressMessage{Type: "stage_complete", Stage: stage})
}

func (c wsStageCallback) OnError(stage string, err error) {
	c.send(progressMessage{Type: "error", Stage: stage, Error: err.Error()})
}

func (c wsStageCallback) send(msg progressMessage) {
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

// editWebSocketHandler runs one edit per connection, streaming stage
// progress and finally the composited result.
func (s *Server) editWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	websocketMessagesTotal.WithLabelValues("received").Inc()

	var body EditRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		_ = conn.WriteJSON(progressMessage{Type: "error", Error: "invalid request payload"})
		return
	}

	req, err := s.buildEditRequest(body)
	if err != nil {
		_ = conn.WriteJSON(progressMessage{Type: "error", Error: err.Error()})
		return
	}

	ctx := context.Background()
	if s.timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
		defer cancel()
	}

	resp, err := s.pipeline.Run(ctx, req, wsStageCallback{conn: conn})
	if err != nil {
		editRequestsTotal.WithLabelValues(statusLabel(err)).Inc()
		_ = conn.WriteJSON(progressMessage{Type: "error", Error: err.Error()})
		return
	}
	editRequestsTotal.WithLabelValues("success").Inc()
	editBBoxAreaPixels.Observe(float64(resp.BBox.Width * resp.BBox.Height))

	result := toEditResponse(resp)
	_ = conn.WriteJSON(progressMessage{Type: "result", Result: &result})
}
