package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"faceverify/internal/api/middleware"
	"faceverify/internal/core/models"
	"faceverify/internal/core/processor"
	"faceverify/internal/core/roi"
	"faceverify/internal/core/session"
	"faceverify/internal/server/sse"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type createSessionRequest struct {
	ID      string `json:"id"`
	Profile string `json:"profile"`
}

type frameResponse struct {
	session.FrameOutcome
	Message string `json:"message"`
}

// CreateSession legt eine neue Verifikations-Session an
func (h *APIHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "error.invalid_request", nil, err)
			return
		}
	}

	cfg, profile, ok := h.sessionConfig(c, req.Profile)
	if !ok {
		return
	}

	var (
		s   *session.Session
		err error
	)
	if req.ID != "" {
		s, err = h.registry.CreateWithID(req.ID, cfg)
	} else {
		s, err = h.registry.Create(cfg)
	}
	if err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			respondError(c, http.StatusConflict, "error.invalid_request", nil, err)
			return
		}
		respondError(c, http.StatusBadRequest, "error.invalid_request", nil, err)
		return
	}

	if h.hub != nil {
		h.hub.BroadcastEvent(sse.Event{Type: sse.EventSessionCreated, SessionID: s.ID()})
	}
	if h.onCreate != nil {
		h.onCreate(s.ID())
	}

	c.JSON(http.StatusCreated, gin.H{
		"profile": profile,
		"session": s.Status(),
	})
}

// sessionConfig bestimmt die Konfiguration aus dem angegebenen oder dem Standardprofil
func (h *APIHandler) sessionConfig(c *gin.Context, name string) (session.Config, string, bool) {
	if name == "" && h.cfg != nil {
		name = h.cfg.Verification.Profile
	}

	if h.profiles == nil {
		if h.cfg != nil {
			return h.cfg.SessionConfig(), "", true
		}
		return session.DefaultConfig(), "", true
	}

	if name == "" {
		name = models.DefaultProfileName
	}
	p, err := h.profiles.GetProfile(name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil, err)
		return session.Config{}, "", false
	}
	if p == nil {
		respondError(c, http.StatusNotFound, "error.profile_not_found", map[string]interface{}{"Name": name}, nil)
		return session.Config{}, "", false
	}
	return p.SessionConfig(), p.Name, true
}

// ListSessions listet alle Sessions
func (h *APIHandler) ListSessions(c *gin.Context) {
	sessions := h.registry.List()
	statuses := make([]session.Status, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, s.Status())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": statuses, "total": len(statuses)})
}

// GetSession liefert den Zustand einer Session
func (h *APIHandler) GetSession(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Status())
}

// DeleteSession entfernt eine Session
func (h *APIHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if !h.registry.Remove(id) {
		respondError(c, http.StatusNotFound, "error.session_not_found", map[string]interface{}{"ID": id}, nil)
		return
	}
	h.sessionRemoved(id)
	c.Status(http.StatusNoContent)
}

// sessionRemoved informiert SSE-Clients und weitere Abnehmer
func (h *APIHandler) sessionRemoved(id string) {
	if h.hub != nil {
		h.hub.BroadcastEvent(sse.Event{Type: sse.EventSessionRemoved, SessionID: id})
	}
	if h.onRemove != nil {
		h.onRemove(id)
	}
}

// SessionsEvicted ist ein cleanup.EvictionHandler
func (h *APIHandler) SessionsEvicted(ids []string) {
	for _, id := range ids {
		h.sessionRemoved(id)
	}
}

// SetReference setzt das Referenzgesicht aus einem hochgeladenen Bild
func (h *APIHandler) SetReference(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	img, err := readImage(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "error.invalid_image", nil, err)
		return
	}
	faces, ok := h.resolveFaces(c, img)
	if !ok {
		return
	}

	if err := s.EnrollReference(img, faces); err != nil {
		var setupErr *session.SetupError
		if !errors.As(err, &setupErr) {
			respondError(c, http.StatusInternalServerError, "error.internal", nil, err)
			return
		}
		id, data := setupMessage(setupErr)
		respondError(c, http.StatusUnprocessableEntity, id, data, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": middleware.T(c, "setup.reference_set", nil),
		"session": s.Status(),
	})
}

func setupMessage(err *session.SetupError) (string, map[string]interface{}) {
	switch err.Kind {
	case session.NoFaceDetected:
		return "setup.no_face", nil
	case session.MultipleFacesDetected:
		return "setup.multiple_faces", map[string]interface{}{"Count": err.Count}
	default:
		return "setup.extraction_failed", nil
	}
}

// SetViewport setzt oder entfernt (Body "null" oder leer) den Bildausschnitt
func (h *APIHandler) SetViewport(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		respondError(c, http.StatusBadRequest, "error.invalid_viewport", nil, err)
		return
	}
	body = bytes.TrimSpace(body)

	var vp *roi.Viewport
	if len(body) > 0 && !bytes.Equal(body, []byte("null")) {
		vp = &roi.Viewport{}
		if err := json.Unmarshal(body, vp); err != nil {
			respondError(c, http.StatusBadRequest, "error.invalid_viewport", nil, err)
			return
		}
		if !vp.Valid() {
			log.WithField("session", s.ID()).Warn("Viewport is not usable, ROI filtering stays disabled")
		}
	}

	s.SetViewport(vp)
	c.JSON(http.StatusOK, s.Status())
}

// ProcessFrame verarbeitet ein Kamerabild über den Worker-Pool
func (h *APIHandler) ProcessFrame(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	img, err := readImage(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "error.invalid_image", nil, err)
		return
	}
	size, err := frameSize(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "error.invalid_request", nil, err)
		return
	}
	faces, ok := h.resolveFaces(c, img)
	if !ok {
		return
	}

	outcome, err := h.pool.ProcessFrame(c.Request.Context(), s, faces, img, size)
	switch {
	case err == nil:
	case errors.Is(err, processor.ErrFrameDropped):
		respondError(c, http.StatusTooManyRequests, "error.frame_dropped", nil, err)
		return
	case errors.Is(err, processor.ErrQueueFull), errors.Is(err, processor.ErrPoolClosed):
		respondError(c, http.StatusServiceUnavailable, "error.queue_full", nil, err)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusServiceUnavailable, "error.internal", nil, err)
		return
	default:
		respondError(c, http.StatusInternalServerError, "error.internal", nil, err)
		return
	}

	c.JSON(http.StatusOK, frameResponse{
		FrameOutcome: outcome,
		Message:      middleware.T(c, "outcome."+outcome.Code, nil),
	})
}

// ResetSession löscht den Verlauf, das Referenzgesicht bleibt erhalten
func (h *APIHandler) ResetSession(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	s.Reset()
	c.JSON(http.StatusOK, s.Status())
}
