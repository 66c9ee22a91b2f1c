package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, srv *httptest.Server, secret string) (*ws.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?secret=" + secret
	return ws.DefaultDialer.Dial(url, nil)
}

func TestHub_RejectsBadSecret(t *testing.T) {
	h := NewHub("letmein", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, resp, err := dialHub(t, srv, "wrong")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Nil(t, conn)
	assert.Zero(t, h.ClientCount())
}

func TestHub_FansOutEnvelopes(t *testing.T) {
	h := NewHub("letmein", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn, _, err := dialHub(t, srv, "letmein")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	h.Publish("UpdatePlayer", map[string]any{"nick": "Smith", "x": 1.0, "y": 2.0})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "UpdatePlayer", env.Event)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "Smith", payload["nick"])
}

func TestHub_CloseDisconnectsViewers(t *testing.T) {
	h := NewHub("letmein", nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := dialHub(t, srv, "letmein")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	h.Close()
	assert.Zero(t, h.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "server side closed the connection")
}
