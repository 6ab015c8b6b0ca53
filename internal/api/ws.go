package api

import (
	"log"
	"net/http"
	"sync"

	"mandi-tracker/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SyncHub broadcasts sync lifecycle events to connected websocket clients.
// Its Broadcast method is wired into SyncService as the progress callback.
type SyncHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewSyncHub() *SyncHub {
	return &SyncHub{clients: make(map[*websocket.Conn]struct{})}
}

// Handle upgrades the connection and keeps it registered until the peer
// disconnects.
func (h *SyncHub) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Sync Hub] Websocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Drain reads so close frames are processed; clients only listen.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends the event to every connected client, dropping clients whose
// writes fail.
func (h *SyncHub) Broadcast(event services.SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *SyncHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		conn.Close()
		delete(h.clients, conn)
	}
}
