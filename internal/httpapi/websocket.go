package httpapi

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hamasterd/internal/eventlog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventHub fans out hamasterd lifecycle events to connected admin clients,
// adapted from the teacher daemon's internal/websocket.MonitorHub.
type EventHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan eventlog.Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
}

// NewEventHub constructs an idle hub; call Run to start it.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan eventlog.Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's fan-out loop and a poller that tails the event log
// for newly flushed rows, matching the teacher's 30s background monitor
// pattern (here polling hamasterd's own event log rather than inotify).
func (h *EventHub) Run(log_ *eventlog.Logger) {
	go h.loop()
	go h.poll(log_)
}

func (h *EventHub) loop() {
	for {
		select {
		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			h.mutex.Unlock()
		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.Close()
			}
			h.mutex.Unlock()
		case e := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				if err := c.WriteJSON(e); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *EventHub) poll(logger *eventlog.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var lastSeen time.Time
	for range ticker.C {
		recent, err := logger.Recent(20)
		if err != nil {
			continue
		}
		for i := len(recent) - 1; i >= 0; i-- {
			e := recent[i]
			if e.At.After(lastSeen) {
				select {
				case h.broadcast <- e:
				default:
					log.Printf("httpapi: event broadcast channel full, dropping event")
				}
			}
		}
		if len(recent) > 0 {
			lastSeen = recent[0].At
		}
	}
}

// ServeEvents upgrades the request to a websocket and streams lifecycle
// events until the client disconnects.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade failed: %v", err)
		return
	}
	h.hub.register <- conn
	go func() {
		defer func() { h.hub.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
