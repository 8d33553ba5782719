package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Decoder registrieren
	_ "image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"faceverify/config"
	"faceverify/internal/api/middleware"
	"faceverify/internal/core/processor"
	"faceverify/internal/core/session"
	"faceverify/internal/database"
	"faceverify/internal/server/sse"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// maxUploadSize begrenzt hochgeladene Bilder
const maxUploadSize = 16 << 20

// Dependencies bündelt alles, was die API-Handler benötigen.
// Detector, Profiles, Hub, OnCreate und OnRemove dürfen nil sein.
type Dependencies struct {
	Config   *config.Config
	Registry *session.Registry
	Pool     *processor.WorkerPool
	Detector session.Detector
	Profiles database.ProfileRepository
	Hub      *sse.Hub
	OnCreate func(id string)
	OnRemove func(id string)
}

// APIHandler behandelt API-Anfragen für das System
type APIHandler struct {
	cfg       *config.Config
	registry  *session.Registry
	pool      *processor.WorkerPool
	detector  session.Detector
	profiles  database.ProfileRepository
	hub       *sse.Hub
	onCreate  func(id string)
	onRemove  func(id string)
	startTime time.Time
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(deps Dependencies) *APIHandler {
	return &APIHandler{
		cfg:       deps.Config,
		registry:  deps.Registry,
		pool:      deps.Pool,
		detector:  deps.Detector,
		profiles:  deps.Profiles,
		hub:       deps.Hub,
		onCreate:  deps.OnCreate,
		onRemove:  deps.OnRemove,
		startTime: time.Now(),
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Session-Endpunkte
	router.POST("/sessions", h.CreateSession)
	router.GET("/sessions", h.ListSessions)
	router.GET("/sessions/:id", h.GetSession)
	router.DELETE("/sessions/:id", h.DeleteSession)
	router.POST("/sessions/:id/reference", h.SetReference)
	router.PUT("/sessions/:id/viewport", h.SetViewport)
	router.POST("/sessions/:id/frames", h.ProcessFrame)
	router.POST("/sessions/:id/reset", h.ResetSession)

	// Profil-Endpunkte
	router.GET("/profiles", h.ListProfiles)
	router.GET("/profiles/:name", h.GetProfile)
	router.PUT("/profiles/:name", h.PutProfile)
	router.DELETE("/profiles/:name", h.DeleteProfile)

	// System-Endpunkte
	router.GET("/events", h.StreamEvents)
	router.GET("/system/stats", h.GetSystemStats)
	router.GET("/status", h.GetStatus)
}

// GetStatus liefert den Zustand des Dienstes
func (h *APIHandler) GetStatus(c *gin.Context) {
	status := gin.H{
		"status":           "ok",
		"uptime_seconds":   int(time.Since(h.startTime).Seconds()),
		"sessions":         h.registry.Len(),
		"detector_enabled": h.detector != nil,
		"profiles_enabled": h.profiles != nil,
		"language":         middleware.Language(c),
	}
	if h.cfg != nil {
		status["mqtt_enabled"] = h.cfg.MQTT.Enabled
		status["default_profile"] = h.cfg.Verification.Profile
	}
	if h.hub != nil {
		status["sse_clients"] = h.hub.ClientCount()
	}
	c.JSON(http.StatusOK, status)
}

// respondError sendet einen Fehler mit lokalisierter Meldung
func respondError(c *gin.Context, status int, messageID string, data map[string]interface{}, err error) {
	body := gin.H{
		"error":   messageID,
		"message": middleware.T(c, messageID, data),
	}
	if err != nil {
		body["detail"] = err.Error()
		if status >= http.StatusInternalServerError {
			log.WithError(err).Errorf("Request %s %s failed", c.Request.Method, c.FullPath())
		}
	}
	c.AbortWithStatusJSON(status, body)
}

// lookupSession holt die Session aus dem Pfad oder antwortet mit 404
func (h *APIHandler) lookupSession(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	s, ok := h.registry.Get(id)
	if !ok {
		respondError(c, http.StatusNotFound, "error.session_not_found", map[string]interface{}{"ID": id}, nil)
		return nil, false
	}
	return s, true
}

// faceBox ist die JSON-Form eines Gesichtsrahmens
type faceBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b faceBox) rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// parseFaces liest das optionale Formularfeld "faces". Ohne Feld ist provided false.
func parseFaces(raw string) (faces []image.Rectangle, provided bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false, nil
	}
	var boxes []faceBox
	if err := json.Unmarshal([]byte(raw), &boxes); err != nil {
		return nil, true, err
	}
	faces = make([]image.Rectangle, 0, len(boxes))
	for i, b := range boxes {
		if b.Width <= 0 || b.Height <= 0 {
			return nil, true, fmt.Errorf("face %d has a non-positive size", i)
		}
		faces = append(faces, b.rect())
	}
	return faces, true, nil
}

// readImage dekodiert das Formularfeld "image"
func readImage(c *gin.Context) (image.Image, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("no image uploaded: %w", err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	log.Debugf("Decoded %s image of size %v", format, img.Bounds().Size())
	return img, nil
}

// resolveFaces nimmt die mitgeschickten Rahmen oder ruft den Detektor auf
func (h *APIHandler) resolveFaces(c *gin.Context, img image.Image) ([]image.Rectangle, bool) {
	faces, provided, err := parseFaces(c.PostForm("faces"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "error.invalid_faces", nil, err)
		return nil, false
	}
	if provided {
		return faces, true
	}
	if h.detector == nil {
		respondError(c, http.StatusUnprocessableEntity, "error.detector_unavailable", nil, nil)
		return nil, false
	}
	faces, err = h.detector.Detect(img)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "error.internal", nil, err)
		return nil, false
	}
	return faces, true
}

// frameSize liest die optionalen Formularfelder frame_width und frame_height
func frameSize(c *gin.Context) (image.Point, error) {
	w, h := c.PostForm("frame_width"), c.PostForm("frame_height")
	if w == "" && h == "" {
		return image.Point{}, nil
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return image.Point{}, fmt.Errorf("invalid frame_width: %w", err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return image.Point{}, fmt.Errorf("invalid frame_height: %w", err)
	}
	if width <= 0 || height <= 0 {
		return image.Point{}, errors.New("frame size must be positive")
	}
	return image.Pt(width, height), nil
}
