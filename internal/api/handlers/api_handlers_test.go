package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"faceverify/config"
	"faceverify/internal/api/middleware"
	"faceverify/internal/core/processor"
	"faceverify/internal/core/session"
	"faceverify/internal/database"
	"faceverify/internal/integrations/canonical"
	"faceverify/internal/server/sse"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router   *gin.Engine
	registry *session.Registry
	removed  []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	canon, err := canonical.New(canonical.DefaultSize)
	require.NoError(t, err)
	registry := session.NewRegistry(canon)

	pool := processor.NewWorkerPool(2)
	t.Cleanup(pool.Shutdown)

	db, err := database.Open(config.DBConfig{File: "file::memory:"})
	require.NoError(t, err)
	repo := database.NewSQLiteRepository(db)
	_, err = repo.EnsureDefault(session.DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := sse.NewHub()
	go hub.Run(ctx)

	translator, err := middleware.NewTranslator("en")
	require.NoError(t, err)

	ts := &testServer{registry: registry}
	cfg := config.Default()

	h := NewAPIHandler(Dependencies{
		Config:   cfg,
		Registry: registry,
		Pool:     pool,
		Profiles: repo,
		Hub:      hub,
		OnRemove: func(id string) { ts.removed = append(ts.removed, id) },
	})

	r := gin.New()
	api := r.Group("/api")
	api.Use(middleware.Sessions("test"), middleware.I18n(translator))
	h.RegisterRoutes(api)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	var body map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w, body
}

func jsonRequest(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func texturedPNG(t *testing.T, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageRequest(t *testing.T, url string, img []byte, faces string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "frame.png")
	require.NoError(t, err)
	_, err = fw.Write(img)
	require.NoError(t, err)
	if faces != "" {
		require.NoError(t, mw.WriteField("faces", faces))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

const centerFace = `[{"x":50,"y":50,"width":100,"height":100}]`

func TestVerificationFlow(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, jsonRequest(http.MethodPost, "/api/sessions", `{"id":"door"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "default", body["profile"])

	w, _ = ts.do(t, jsonRequest(http.MethodPost, "/api/sessions", `{"id":"door"}`))
	require.Equal(t, http.StatusConflict, w.Code)

	// frames before a reference exists
	img := texturedPNG(t, 1)
	w, body = ts.do(t, imageRequest(t, "/api/sessions/door/frames", img, centerFace))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, session.CodeNoReference, body["code"])

	w, body = ts.do(t, imageRequest(t, "/api/sessions/door/reference", img, centerFace))
	require.Equal(t, http.StatusOK, w.Code, body)
	require.Equal(t, "Reference face set.", body["message"])

	for i := 1; i <= 5; i++ {
		w, body = ts.do(t, imageRequest(t, "/api/sessions/door/frames", img, centerFace))
		require.Equal(t, http.StatusOK, w.Code)
		require.EqualValues(t, i, body["continuous_passes"])
	}
	require.Equal(t, session.CodeVerified, body["code"])
	require.Equal(t, true, body["stable_match"])
	require.Equal(t, "Identity verified.", body["message"])

	// a frame without any face breaks the confirmation
	w, body = ts.do(t, imageRequest(t, "/api/sessions/door/frames", img, `[]`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, session.CodeNoFace, body["code"])
	require.Equal(t, false, body["stable_match"])

	w, body = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/sessions/door/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["has_reference"])

	w, _ = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/sessions/door", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, []string{"door"}, ts.removed)

	w, _ = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/sessions/door", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReferenceSetupErrors(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.registry.CreateWithID("cam", session.DefaultConfig())
	require.NoError(t, err)
	img := texturedPNG(t, 2)

	tests := []struct {
		name      string
		faces     string
		wantCode  int
		wantError string
	}{
		{"no face", `[]`, http.StatusUnprocessableEntity, "setup.no_face"},
		{"two faces", `[{"x":0,"y":0,"width":40,"height":40},{"x":100,"y":100,"width":40,"height":40}]`, http.StatusUnprocessableEntity, "setup.multiple_faces"},
		{"malformed", `[{"x":0,"y":0,"width":0,"height":40}]`, http.StatusBadRequest, "error.invalid_faces"},
		{"no detector", "", http.StatusUnprocessableEntity, "error.detector_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := ts.do(t, imageRequest(t, "/api/sessions/cam/reference", img, tt.faces))
			require.Equal(t, tt.wantCode, w.Code)
			require.Equal(t, tt.wantError, body["error"])
		})
	}

	_, body := ts.do(t, imageRequest(t, "/api/sessions/cam/reference?lang=de", img,
		`[{"x":0,"y":0,"width":40,"height":40},{"x":100,"y":100,"width":40,"height":40}]`))
	require.Contains(t, body["message"], "2 Gesichter")

	w, body := ts.do(t, imageRequest(t, "/api/sessions/cam/reference", []byte("not an image"), centerFace))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "error.invalid_image", body["error"])
}

func TestViewportEndpoint(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.registry.CreateWithID("cam", session.DefaultConfig())
	require.NoError(t, err)

	w, body := ts.do(t, jsonRequest(http.MethodPut, "/api/sessions/cam/viewport",
		`{"center_x":100,"center_y":100,"radius":50,"preview_width":200,"preview_height":200}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, body["viewport"])

	w, body = ts.do(t, jsonRequest(http.MethodPut, "/api/sessions/cam/viewport", `null`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, body["viewport"])

	w, _ = ts.do(t, jsonRequest(http.MethodPut, "/api/sessions/cam/viewport", `{"radius":`))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionNotFoundIsLocalized(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/ghost", nil)
	req.Header.Set("Accept-Language", "de-DE")
	w, body := ts.do(t, req)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "Die Session ghost existiert nicht.", body["message"])
}

func TestProfileEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, jsonRequest(http.MethodPut, "/api/profiles/quick", `{"required_pass_frames":3,"description":"fast"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	require.EqualValues(t, 3, body["required_pass_frames"])
	require.InDelta(t, 0.65, body["weighted_threshold"], 1e-9)

	w, _ = ts.do(t, jsonRequest(http.MethodPut, "/api/profiles/quick", `{"cosine_min":0.7}`))
	require.Equal(t, http.StatusOK, w.Code)

	w, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/profiles/quick", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.InDelta(t, 0.7, body["cosine_min"], 1e-9)
	require.EqualValues(t, 3, body["required_pass_frames"])

	w, body = ts.do(t, jsonRequest(http.MethodPut, "/api/profiles/broken", `{"cosine_min":2}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "error.invalid_profile", body["error"])

	w, body = ts.do(t, jsonRequest(http.MethodPost, "/api/sessions", `{"profile":"quick"}`))
	require.Equal(t, http.StatusCreated, w.Code)
	require.EqualValues(t, 3, body["session"].(map[string]interface{})["window"])

	w, _ = ts.do(t, jsonRequest(http.MethodPost, "/api/sessions", `{"profile":"missing"}`))
	require.Equal(t, http.StatusNotFound, w.Code)

	w, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/profiles", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, body["total"])

	w, _ = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/profiles/default", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/profiles/quick", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/profiles/quick", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusAndStats(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.registry.Create(session.DefaultConfig())
	require.NoError(t, err)

	w, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 1, body["sessions"])
	require.Equal(t, false, body["detector_enabled"])

	w, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/system/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, body["worker_count"])
	require.EqualValues(t, 1, body["active_sessions"])
}

func TestListSessions(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"b", "a"} {
		_, err := ts.registry.CreateWithID(id, session.DefaultConfig())
		require.NoError(t, err)
	}

	w, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, body["total"])
	first := body["sessions"].([]interface{})[0].(map[string]interface{})
	require.Equal(t, "a", first["id"])
}
