// Package hub fans live snapshots out to connected websocket clients.
package hub

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/paperhub/paperhub/internal/paper"
	"github.com/paperhub/paperhub/internal/sync"
	"github.com/paperhub/paperhub/pkg/logger"
)

// Frame is the wire envelope for pushed snapshots.
type Frame struct {
	Type     string          `json:"type"` // "papers" | "comments" | "sync_error"
	PaperID  string          `json:"paperId,omitempty"`
	Papers   []paper.Paper   `json:"papers,omitempty"`
	Comments []paper.Comment `json:"comments,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type Hub struct {
	clients     map[chan []byte]bool
	subscribe   chan chan []byte
	unsubscribe chan chan []byte
	broadcast   chan []byte
}

func New() *Hub {
	return &Hub{
		clients:     make(map[chan []byte]bool),
		subscribe:   make(chan chan []byte),
		unsubscribe: make(chan chan []byte),
		broadcast:   make(chan []byte, 16),
	}
}

// Run owns the client set. Call in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.subscribe:
			h.clients[c] = true
		case c := <-h.unsubscribe:
			if h.clients[c] {
				delete(h.clients, c)
				close(c)
			}
		case msg := <-h.broadcast:
			for send := range h.clients {
				select {
				case send <- msg:
				default:
					// slow client: drop the frame rather than block the hub
				}
			}
		}
	}
}

// Bind wires the hub to a session's snapshot callbacks. Must be called
// before the session starts.
func (h *Hub) Bind(s *sync.Session) {
	s.OnPapers(func(ps []paper.Paper) {
		h.send(Frame{Type: "papers", Papers: ps})
	})
	s.OnComments(func(paperID string, cs []paper.Comment) {
		h.send(Frame{Type: "comments", PaperID: paperID, Comments: cs})
	})
	s.OnSyncError(func(se *sync.SyncError) {
		h.send(Frame{Type: "sync_error", Error: se.Error()})
	})
}

func (h *Hub) send(f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		logger.Errorf("hub: marshal frame: %v", err)
		return
	}
	select {
	case h.broadcast <- b:
	default:
		logger.Warnf("hub: broadcast backlog full, frame dropped")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs upgrades the request and streams frames until the peer goes away.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("hub: upgrade failed: %v", err)
		return
	}
	send := make(chan []byte, 16)
	h.subscribe <- send

	// reader: we accept no client frames, just detect close
	go func() {
		defer func() { h.unsubscribe <- send }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer conn.Close()
		for msg := range send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()
}
