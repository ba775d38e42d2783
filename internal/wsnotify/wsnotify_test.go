package wsnotify

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	router := gin.New()
	router.GET("/watch", hub.Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHubDeliversPublishedLineToConnectedWatcher(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dialHub(t, srv)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 registered client, got %d", hub.ClientCount())
	}

	hub.Publish([]byte("task t1 completed"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg) != "task t1 completed" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestPublishWithNoWatchersIsNoop(t *testing.T) {
	hub, _ := newTestServer(t)
	hub.Publish([]byte("nobody listening"))
	if hub.ClientCount() != 0 {
		t.Fatalf("expected no clients, got %d", hub.ClientCount())
	}
}
