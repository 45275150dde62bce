package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aquasense/internal/reading"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Process(ctx context.Context, sourceDeviceID string, payload []byte, hint string) error {
	args := m.Called(ctx, sourceDeviceID, payload, hint)
	return args.Error(0)
}

func dialDevice(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readAck(t *testing.T, ws *websocket.Conn) ackFrame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var ack ackFrame
	require.NoError(t, json.Unmarshal(data, &ack))
	return ack
}

func Test_HandleWS(t *testing.T) {
	valid := `{"type":"ph","deviceId":"dev1","value":6.8}`
	malformed := `{not json`

	pl := &mockPipeline{}
	pl.On("Process", mock.Anything, "", []byte(valid), "").Return(nil).Twice()
	pl.On("Process", mock.Anything, "", []byte(malformed), "").
		Return(reading.ErrMalformedPayload).Once()

	a := New(Config{Pipeline: pl})
	server := httptest.NewServer(http.HandlerFunc(a.HandleWS))
	defer server.Close()

	ws := dialDevice(t, server)

	// valid message is acknowledged
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(valid)))
	ack := readAck(t, ws)
	assert.Equal(t, "OK", ack.Status)
	assert.NotEmpty(t, ack.Timestamp)
	assert.Empty(t, ack.Error)

	// malformed message gets an error ack and keeps the connection open
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(malformed)))
	ack = readAck(t, ws)
	assert.Equal(t, "ERROR", ack.Status)
	assert.Equal(t, "malformed payload", ack.Error)

	// the same connection still processes the next message
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(valid)))
	ack = readAck(t, ws)
	assert.Equal(t, "OK", ack.Status)

	pl.AssertExpectations(t)
}

func Test_HandleWS_ConnectionsAreIndependent(t *testing.T) {
	valid := `{"weight": 900}`

	pl := &mockPipeline{}
	pl.On("Process", mock.Anything, "", []byte(valid), "").Return(nil).Once()

	a := New(Config{Pipeline: pl})
	server := httptest.NewServer(http.HandlerFunc(a.HandleWS))
	defer server.Close()

	first := dialDevice(t, server)
	second := dialDevice(t, server)

	require.NoError(t, first.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	))

	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(valid)))
	ack := readAck(t, second)
	assert.Equal(t, "OK", ack.Status)

	pl.AssertExpectations(t)
}
