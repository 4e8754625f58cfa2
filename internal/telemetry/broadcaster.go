package telemetry

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broadcaster pushes each published Sample to every connected WebSocket
// client. It is the live-feed half of the boundary the core exposes to an
// out-of-core dashboard; it renders nothing itself.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan Sample
	done       chan struct{}
}

// NewBroadcaster creates a Broadcaster; call Run in its own goroutine.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan Sample, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (b *Broadcaster) Run() {
	for {
		select {
		case conn := <-b.register:
			b.mu.Lock()
			b.clients[conn] = true
			b.mu.Unlock()

		case conn := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[conn]; ok {
				delete(b.clients, conn)
				_ = conn.Close()
			}
			b.mu.Unlock()

		case sample := <-b.broadcast:
			b.mu.RLock()
			for conn := range b.clients {
				if err := conn.WriteJSON(sample); err != nil {
					log.Printf("telemetry: broadcast to client failed: %v", err)
					go func(c *websocket.Conn) { b.unregister <- c }(conn)
				}
			}
			b.mu.RUnlock()

		case <-b.done:
			return
		}
	}
}

// Stop ends the Run loop.
func (b *Broadcaster) Stop() {
	close(b.done)
}

// Publish enqueues a sample for broadcast. Never blocks callers for long:
// the channel is large and a full channel just drops the sample.
func (b *Broadcaster) Publish(s Sample) {
	select {
	case b.broadcast <- s:
	default:
		log.Printf("telemetry: broadcast queue full, dropping sample for channel %d", s.Channel)
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection for live pushes.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("telemetry: websocket upgrade failed: %v", err)
		return
	}
	b.register <- conn
}
