package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"faceverify/internal/core/biometrics"
	"faceverify/internal/core/session"
	"faceverify/internal/core/tracker"

	log "github.com/sirupsen/logrus"
)

// Ereignistypen
const (
	EventFrameOutcome   = "frame_outcome"
	EventSessionCreated = "session_created"
	EventSessionRemoved = "session_removed"
)

// Client repräsentiert einen einzelnen verbundenen SSE-Client
type Client chan []byte

// Event ist der Umschlag jeder SSE-Nachricht
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

// OutcomeData ist die für die Oberfläche aufbereitete Form eines Frame-Ergebnisses
type OutcomeData struct {
	Code             string                         `json:"code"`
	FaceCount        int                            `json:"face_count"`
	StableMatch      bool                           `json:"stable_match"`
	State            tracker.State                  `json:"state"`
	ContinuousPasses int                            `json:"continuous_passes"`
	Verification     *biometrics.VerificationResult `json:"verification,omitempty"`
	Error            string                         `json:"error,omitempty"`
	Timestamp        time.Time                      `json:"timestamp"`
}

// Hub verwaltet die Menge der aktiven Clients und sendet Broadcasts an sie
type Hub struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client

	// Mutex zum Schutz des simultanen Zugriffs auf die Clients-Map
	mu sync.Mutex
}

// NewHub erstellt eine neue Hub-Instanz
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 100), // Puffer für 100 Nachrichten
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
	}
}

// Run startet die Verarbeitungsschleife des Hubs, bis ctx beendet wird.
// Dies sollte in einer separaten Goroutine ausgeführt werden.
func (h *Hub) Run(ctx context.Context) {
	log.Info("SSE Hub started and running")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			log.Info("SSE Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Infof("SSE client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Infof("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			log.Debugf("Broadcasting message to %d SSE clients", len(h.clients))
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// Client-Kanal ist voll
					log.Warn("SSE client channel full, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register registriert einen neuen Client am Hub
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister meldet einen Client vom Hub ab
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// ClientCount liefert die Anzahl verbundener Clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sendet eine Nachricht an alle registrierten Clients
func (h *Hub) Broadcast(message []byte) {
	// Blockieren vermeiden, wenn der Broadcast-Kanal voll ist
	select {
	case h.broadcast <- message:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// BroadcastEvent serialisiert ein Ereignis und sendet es als Broadcast
func (h *Hub) BroadcastEvent(event Event) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal SSE event %s: %v", event.Type, err)
		return
	}
	h.Broadcast(jsonData)
}

// BroadcastOutcome ist ein session.OutcomeListener
func (h *Hub) BroadcastOutcome(o session.FrameOutcome) {
	h.BroadcastEvent(Event{
		Type:      EventFrameOutcome,
		SessionID: o.SessionID,
		Data: OutcomeData{
			Code:             o.Code,
			FaceCount:        o.FaceCount,
			StableMatch:      o.StableMatch,
			State:            o.State,
			ContinuousPasses: o.ContinuousPasses,
			Verification:     o.Verification,
			Error:            o.Error,
			Timestamp:        o.Timestamp,
		},
	})
}
