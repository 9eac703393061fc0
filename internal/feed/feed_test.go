package feed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPublishReachesObserver(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the subscription to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("observer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Publish(map[string]any{"kind": "tick", "tick": 7})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["kind"] != "tick" || got["tick"] != float64(7) {
		t.Fatalf("message = %v", got)
	}
}

func TestPublishWithNoObserversIsCheap(t *testing.T) {
	s := NewServer(nil)
	for i := 0; i < 1000; i++ {
		s.Publish(map[string]int{"tick": i})
	}
	if s.Subscribers() != 0 {
		t.Fatal("phantom subscribers")
	}
}
