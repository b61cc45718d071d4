package websocket

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server, guideID uint) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?guide=" + strconv.Itoa(int(guideID))
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.GetClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func TestHubBroadcastAndTargeting(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.URL.Query().Get("guide"))
		hub.ServeWS(w, r, uint(id))
	}))
	defer srv.Close()

	desk := dial(t, srv, DeskID)
	guide := dial(t, srv, 7)
	waitForClients(t, hub, 2)

	hub.Broadcast(Message{Type: "sync_completed", Data: map[string]int{"synced_count": 3}})
	if m := readMessage(t, desk); m.Type != "sync_completed" {
		t.Fatalf("desk got %q", m.Type)
	}
	if m := readMessage(t, guide); m.Type != "sync_completed" {
		t.Fatalf("guide got %q", m.Type)
	}

	hub.BroadcastToGuide(7, Message{Type: "notification"})
	if m := readMessage(t, guide); m.Type != "notification" {
		t.Fatalf("guide got %q", m.Type)
	}

	// The desk must not see the guide-targeted message.
	desk.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := desk.ReadMessage(); err == nil {
		t.Fatalf("desk received a message targeted at guide 7")
	}
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, DeskID)
	}))
	defer srv.Close()

	conn := dial(t, srv, DeskID)
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
}
