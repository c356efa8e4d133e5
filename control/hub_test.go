package control

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, server *httptest.Server, room, id string) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	q := u.Query()
	q.Set("room", room)
	q.Set("id", id)
	u.RawQuery = q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	return conn
}

func TestHubPairsTwoPeersOnHello(t *testing.T) {
	logger := &log.Logger{Handler: discard.Default, Level: log.ErrorLevel}
	h := NewHub(logger)

	paired := make(chan struct{}, 1)
	h.OnPaired = func(room string, a, b Message) { paired <- struct{}{} }

	server := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer server.Close()

	a := dial(t, server, "room1", "sender")
	defer a.Close()
	b := dial(t, server, "room1", "receiver")
	defer b.Close()

	require.NoError(t, a.WriteJSON(Message{Type: "hello", Room: "room1", ID: "sender", UDPAddr: "10.0.0.1:9000"}))
	require.NoError(t, b.WriteJSON(Message{Type: "hello", Room: "room1", ID: "receiver", UDPAddr: "10.0.0.2:9000"}))

	var gotA, gotB Message
	require.NoError(t, a.ReadJSON(&gotA))
	require.NoError(t, b.ReadJSON(&gotB))

	require.Equal(t, "receiver", gotA.ID)
	require.Equal(t, "10.0.0.2:9000", gotA.UDPAddr)
	require.Equal(t, "sender", gotB.ID)
	require.Equal(t, "10.0.0.1:9000", gotB.UDPAddr)

	select {
	case <-paired:
	case <-time.After(2 * time.Second):
		t.Fatal("OnPaired never fired")
	}
}
