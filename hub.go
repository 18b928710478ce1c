package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	hubWriteWait      = 10 * time.Second
	hubPongWait       = 60 * time.Second
	hubPingPeriod     = (hubPongWait * 9) / 10
	hubMaxMessageSize = 512
)

// EngineEvent is the JSON envelope broadcast to connected clients.
type EngineEvent struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// Hub maintains the set of connected websocket clients and broadcasts
// engine events (signals, fills, exits, stop updates) to all of them.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	upgrader  websocket.Upgrader
	started   time.Time
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Serve starts the /ws and /healthz endpoints. Blocks; run in a goroutine.
func (h *Hub) Serve(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.HandleFunc("/healthz", h.handleHealth)

	log.Printf("🌐 Event hub listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("❌ Event hub server stopped: %v", err)
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.clientsMu.Lock()
	clients := len(h.clients)
	h.clientsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clients,
		"uptime":  time.Since(h.started).String(),
	})
}

// HandleWebSocket manages one client connection's lifecycle.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ Websocket upgrade error: %v", err)
		return
	}

	h.register(conn)
	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	conn.WriteJSON(EngineEvent{
		Type:      "connection_init",
		Payload:   map[string]string{"status": "connected"},
		Timestamp: time.Now().UnixMilli(),
	})

	conn.SetReadLimit(hubMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(hubPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(hubPongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(hubPingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(hubWriteWait)); err != nil {
				return
			}
		}
	}()

	// Read loop only detects disconnects; clients don't send anything.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	log.Printf("🔌 Client connected (%d total)", count)
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()
	log.Printf("🔌 Client disconnected (%d total)", count)
}

// Broadcast sends one engine event to every connected client. Dead
// connections are dropped on write failure.
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	event := EngineEvent{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

var _ Broadcaster = (*Hub)(nil)
