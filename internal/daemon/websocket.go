package daemon

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local operator dashboard, not a public origin boundary
	},
}

// wsClient is one connected operator dashboard. subdir, when non-empty,
// scopes the feed to a single session's events (spec §5: sessions "share no
// mutable state", so a dashboard watching one sender's round has no reason
// to see another's traffic); empty subscribes to every tracked session.
type wsClient struct {
	conn   *websocket.Conn
	subdir string
}

// Hub fans out session state-transition events (spec §5's per-session
// states, surfaced live) to every connected operator client whose
// subscription matches the event's session.
type Hub struct {
	clients   map[*wsClient]bool
	broadcast chan *Status
	mutex     sync.Mutex
}

// NewHub returns an idle Hub; call Run in its own goroutine to start
// dispatching.
func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan *Status, 256),
		clients:   make(map[*wsClient]bool),
	}
}

// Run drains the broadcast channel until it's closed, fanning each status
// out to every client subscribed to that session (or to all sessions).
func (h *Hub) Run() {
	for st := range h.broadcast {
		data, err := json.Marshal(st)
		if err != nil {
			log.Printf("daemon: marshaling session status for broadcast: %v", err)
			continue
		}

		h.mutex.Lock()
		for client := range h.clients {
			if client.subdir != "" && client.subdir != st.Subdirectory {
				continue
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("daemon: websocket write error: %v", err)
				client.conn.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe upgrades an incoming request to a websocket and registers it
// with the hub. A `?subdir=` query param scopes the feed to that session
// (spec §6's session subdirectory addressing, reused here as the filter
// key rather than introducing a separate dashboard-only id scheme).
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("daemon: failed to upgrade websocket: %v", err)
		return
	}

	client := &wsClient{conn: conn, subdir: c.Query("subdir")}
	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, client)
			h.mutex.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Broadcast publishes a session status update to every subscribed client.
func (h *Hub) Broadcast(st *Status) {
	h.broadcast <- st
}
