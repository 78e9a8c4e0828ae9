package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
)

var testUpgrader = gorillaws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestPair dials a loopback WebSocket and returns the server-side wrapped
// connection with the raw client side. Cleanup closes both.
func newTestPair(t *testing.T) (*Connection, *gorillaws.Conn) {
	t.Helper()

	serverConns := make(chan *gorillaws.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	var serverSide *gorillaws.Conn
	select {
	case serverSide = <-serverConns:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for server-side connection")
	}

	conn := NewConnection(serverSide, 16, time.Second)
	t.Cleanup(func() { conn.Close() })

	return conn, client
}

// newIdentifiedConn is newTestPair plus identity, for registry tests that
// never touch the wire.
func newIdentifiedConn(t *testing.T, userID, name string) *Connection {
	t.Helper()
	conn, _ := newTestPair(t)
	conn.SetIdentity(userID, name)
	return conn
}
