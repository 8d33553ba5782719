package handlers

import (
	"io"
	"net/http"

	"faceverify/internal/server/sse"

	"github.com/gin-gonic/gin"
)

// StreamEvents behandelt SSE-Verbindungen für Echtzeit-Updates
func (h *APIHandler) StreamEvents(c *gin.Context) {
	if h.hub == nil {
		respondError(c, http.StatusServiceUnavailable, "error.internal", nil, nil)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := make(sse.Client, 10) // Puffer für 10 Nachrichten
	h.hub.Register(client)
	defer func() {
		// der Hub hat den Client eventuell schon entfernt
		go h.hub.Unregister(client)
	}()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("message", string(msg))
			return true
		case <-ctx.Done():
			return false
		}
	})
}
