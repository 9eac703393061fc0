// Package feed streams live run telemetry (tick progress, field statistics,
// events) to websocket observers while a simulation is running. Observers
// are strictly advisory: a slow client is dropped rather than allowed to
// stall the tick loop.
package feed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]chan []byte
}

func NewServer(logger *log.Logger) *Server {
	return &Server{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[uint64]chan []byte{},
	}
}

// Publish fans a message out to every connected observer. Messages to
// clients with a full buffer are dropped.
func (s *Server) Publish(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

// Subscribers reports the current observer count.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close disconnects every observer.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id := s.nextID.Add(1)
		out := make(chan []byte, 256)
		s.mu.Lock()
		s.subs[id] = out
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			if ch, ok := s.subs[id]; ok {
				close(ch)
				delete(s.subs, id)
			}
			s.mu.Unlock()
		}()

		if s.log != nil {
			s.log.Printf("feed: observer %d connected from %s", id, r.RemoteAddr)
		}

		// Writer goroutine; the read loop below only watches for close.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for b := range out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		s.mu.Lock()
		if ch, ok := s.subs[id]; ok {
			close(ch)
			delete(s.subs, id)
		}
		s.mu.Unlock()
		<-done
	}
}
