package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aquasense/internal/channel"
	"aquasense/internal/reading"
)

type viewerEvent struct {
	Event        string  `json:"event"`
	ConnectionID string  `json:"connectionId"`
	DeviceID     string  `json:"deviceId"`
	Channel      string  `json:"channel"`
	Value        float64 `json:"value"`
	Timestamp    string  `json:"timestamp"`
}

func dialViewer(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) viewerEvent {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var event viewerEvent
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func subscribeViewer(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]string{"action": "subscribe"}))
	event := readEvent(t, ws)
	require.Equal(t, "subscribed", event.Event)
}

func Test_Greeting(t *testing.T) {
	h := New()
	server := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer server.Close()

	ws := dialViewer(t, server)
	greeting := readEvent(t, ws)
	assert.Equal(t, "connected", greeting.Event)
	assert.NotEmpty(t, greeting.ConnectionID)
	assert.NotEmpty(t, greeting.Timestamp)
}

func Test_Broadcast(t *testing.T) {
	h := New()
	server := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer server.Close()

	subscriber := dialViewer(t, server)
	readEvent(t, subscriber) // greeting
	subscribeViewer(t, subscriber)

	bystander := dialViewer(t, server)
	readEvent(t, bystander) // greeting

	h.Broadcast(reading.Reading{
		Channel:   channel.PH,
		DeviceID:  "dev1",
		Value:     6.8,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
	})

	event := readEvent(t, subscriber)
	assert.Equal(t, "dev1", event.DeviceID)
	assert.Equal(t, "ph", event.Channel)
	assert.Equal(t, 6.8, event.Value)
	assert.Equal(t, "2025-06-01T12:00:00Z", event.Timestamp)

	bystander.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := bystander.ReadMessage()
	assert.Error(t, err, "never-subscribed viewer must not receive broadcasts")
}

func Test_Unsubscribe(t *testing.T) {
	h := New()
	server := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer server.Close()

	ws := dialViewer(t, server)
	readEvent(t, ws) // greeting
	subscribeViewer(t, ws)
	assert.Equal(t, 1, h.subscriberCount())

	require.NoError(t, ws.WriteJSON(map[string]string{"action": "unsubscribe"}))
	event := readEvent(t, ws)
	require.Equal(t, "unsubscribed", event.Event)
	assert.Equal(t, 0, h.subscriberCount())

	h.Broadcast(reading.Reading{Channel: channel.Weight, DeviceID: "dev2", Value: 1})
	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "unsubscribed viewer must not receive broadcasts")
}

func Test_Subscribe_Idempotent(t *testing.T) {
	h := New()
	server := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer server.Close()

	ws := dialViewer(t, server)
	readEvent(t, ws) // greeting
	subscribeViewer(t, ws)
	subscribeViewer(t, ws)
	assert.Equal(t, 1, h.subscriberCount())
}

// A subscriber that never drains its queue is dropped once the queue
// overflows, without affecting other subscribers.
func Test_Broadcast_DropsSlowViewer(t *testing.T) {
	h := New()
	slow := &connection{
		id:         "slow",
		subscribed: true,
		send:       make(chan []byte, 2),
	}
	h.conns[slow.id] = slow

	for i := 0; i < 3; i++ {
		h.Broadcast(reading.Reading{Channel: channel.PH, Value: float64(i)})
	}

	h.mu.RLock()
	_, stillThere := h.conns["slow"]
	h.mu.RUnlock()
	assert.False(t, stillThere)
}
