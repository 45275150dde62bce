// Package socket accepts long-lived bidirectional WebSocket connections
// from devices, runs each message through the shared ingestion pipeline and
// acknowledges it before reading the next one.
package socket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"aquasense/internal/reading"
)

type pipeline interface {
	Process(ctx context.Context, sourceDeviceID string, payload []byte, hint string) error
}

type Config struct {
	Pipeline pipeline
}

type Adapter struct {
	pipeline pipeline
	upgrader websocket.Upgrader
}

func New(cfg Config) *Adapter {
	return &Adapter{
		pipeline: cfg.Pipeline,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type ackFrame struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// HandleWS upgrades the request and serves the connection until it closes.
// Each message is fully processed and acknowledged before the next read;
// failures terminate only this connection.
func (a *Adapter) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(r.Context(), "Device socket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	slog.InfoContext(r.Context(), "Device socket connected", "remote", ws.RemoteAddr().String())

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("Device socket closed", "remote", ws.RemoteAddr().String())
			} else {
				slog.Error("Device socket read failed", "remote", ws.RemoteAddr().String(), "error", err)
			}
			return
		}

		ack := ackFrame{
			Status:    "OK",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if perr := a.process(payload); perr != nil {
			slog.Error("Dropping device socket message",
				"remote", ws.RemoteAddr().String(),
				"error", perr,
			)
			ack.Status = "ERROR"
			if errors.Is(perr, reading.ErrMalformedPayload) {
				ack.Error = "malformed payload"
			} else {
				ack.Error = "processing failed"
			}
		}

		if err := ws.WriteJSON(ack); err != nil {
			slog.Error("Device socket ack failed", "remote", ws.RemoteAddr().String(), "error", err)
			return
		}
	}
}

func (a *Adapter) process(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// The socket transport carries no device identity and no topic; both
	// come from the payload or default to unknown.
	return a.pipeline.Process(ctx, "", payload, "")
}
