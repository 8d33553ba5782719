// Package session owns the per-camera verification state: the reference face,
// the optional viewport and the confirmation tracker.
package session

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"faceverify/internal/core/biometrics"
	"faceverify/internal/core/roi"
	"faceverify/internal/core/tracker"

	log "github.com/sirupsen/logrus"
)

// Detector finds axis-aligned face boxes in an image. No ordering is guaranteed.
type Detector interface {
	Detect(img image.Image) ([]image.Rectangle, error)
}

// Canonicalizer crops a face out of a frame and returns a fixed-size,
// histogram-equalized grayscale buffer.
type Canonicalizer interface {
	Canonicalize(frame image.Image, face image.Rectangle) (*image.Gray, error)
}

// CanonicalizerFunc adapts a function to the Canonicalizer interface.
type CanonicalizerFunc func(frame image.Image, face image.Rectangle) (*image.Gray, error)

func (f CanonicalizerFunc) Canonicalize(frame image.Image, face image.Rectangle) (*image.Gray, error) {
	return f(frame, face)
}

// OutcomeListener receives every frame outcome after the session lock was released.
// Listeners must not block.
type OutcomeListener func(FrameOutcome)

// Outcome codes.
const (
	CodeNoReference      = "no_reference"
	CodeNoFace           = "no_face"
	CodeMultipleFaces    = "multiple_faces"
	CodeExtractionFailed = "extraction_failed"
	CodeAnomaly          = "anomaly"
	CodeRejected         = "rejected"
	CodeMatching         = "matching"
	CodeVerified         = "verified"
)

// Config holds the tunables of a session.
type Config struct {
	Thresholds         biometrics.Thresholds `json:"thresholds"`
	RequiredPassFrames int                   `json:"required_pass_frames"`
	Tolerances         roi.Tolerances        `json:"roi_tolerances"`
}

// DefaultConfig returns the default thresholds, a window of 5 frames and the default ROI tolerances.
func DefaultConfig() Config {
	return Config{
		Thresholds:         biometrics.DefaultThresholds(),
		RequiredPassFrames: tracker.DefaultWindow,
		Tolerances:         roi.DefaultTolerances(),
	}
}

// Validate rejects unusable configurations.
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.RequiredPassFrames < 1 {
		return fmt.Errorf("required_pass_frames must be at least 1, got %d", c.RequiredPassFrames)
	}
	if c.Tolerances.Strict < 0 || c.Tolerances.Relaxed < 0 {
		return fmt.Errorf("roi tolerances must not be negative")
	}
	return nil
}

// FrameOutcome is the result of one ProcessFrame call.
type FrameOutcome struct {
	SessionID        string                         `json:"session_id"`
	Code             string                         `json:"code"`
	FaceCount        int                            `json:"face_count"`
	Verification     *biometrics.VerificationResult `json:"verification,omitempty"`
	StableMatch      bool                           `json:"stable_match"`
	State            tracker.State                  `json:"state"`
	ContinuousPasses int                            `json:"continuous_passes"`
	Error            string                         `json:"error,omitempty"`
	Err              error                          `json:"-"`
	Timestamp        time.Time                      `json:"timestamp"`
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	ID               string        `json:"id"`
	HasReference     bool          `json:"has_reference"`
	State            tracker.State `json:"state"`
	StableMatch      bool          `json:"stable_match"`
	ContinuousPasses int           `json:"continuous_passes"`
	Window           int           `json:"window"`
	Viewport         *roi.Viewport `json:"viewport,omitempty"`
	Config           Config        `json:"config"`
	LastActive       time.Time     `json:"last_active"`
	LastOutcome      *FrameOutcome `json:"last_outcome,omitempty"`
}

// Session is one verification session. At most one ProcessFrame call runs at
// a time; replacing the reference clears the history under the same lock.
type Session struct {
	id            string
	cfg           Config
	canonicalizer Canonicalizer
	now           func() time.Time

	mu              sync.Mutex
	reference       *image.Gray
	referenceVector biometrics.FeatureVector
	viewport        *roi.Viewport
	tracker         *tracker.Tracker
	lastOutcome     *FrameOutcome
	lastActive      time.Time

	listenersMu sync.RWMutex
	listeners   []OutcomeListener
}

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithListener registers an outcome listener at construction.
func WithListener(l OutcomeListener) Option {
	return func(s *Session) { s.listeners = append(s.listeners, l) }
}

// New creates a session. The canonicalizer is required.
func New(id string, cfg Config, canonicalizer Canonicalizer, opts ...Option) (*Session, error) {
	if canonicalizer == nil {
		return nil, errors.New("session requires a canonicalizer")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	s := &Session{
		id:            id,
		cfg:           cfg,
		canonicalizer: canonicalizer,
		now:           time.Now,
		tracker:       tracker.New(cfg.RequiredPassFrames),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastActive = s.now()
	return s, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Config() Config { return s.cfg }

// OnOutcome registers a listener for all following frames.
func (s *Session) OnOutcome(l OutcomeListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SetReference installs a canonical face buffer as the reference and clears
// the confirmation history. The buffer is copied.
func (s *Session) SetReference(face *image.Gray) error {
	if face == nil || face.Bounds().Empty() {
		return &SetupError{Kind: ExtractionFailed, Err: errors.New("empty reference buffer")}
	}

	owned := cloneGray(face)
	vector, err := biometrics.Extract(owned)
	if err != nil {
		return &SetupError{Kind: ExtractionFailed, Err: err}
	}
	if reason := biometrics.DetectAnomaly(vector); reason != biometrics.AnomalyNone {
		log.WithFields(log.Fields{"session": s.id, "anomaly": reason}).
			Warn("Reference face is degenerate, every comparison will be rejected")
	}

	s.mu.Lock()
	s.reference = owned
	s.referenceVector = vector
	s.tracker.Clear()
	s.lastOutcome = nil
	s.lastActive = s.now()
	s.mu.Unlock()

	log.WithField("session", s.id).Info("Reference face set, confirmation history cleared")
	return nil
}

// EnrollReference sets the reference from a full enrollment image (e.g. an
// ID card scan) and its detected faces. Exactly one face is required.
func (s *Session) EnrollReference(img image.Image, faces []image.Rectangle) error {
	switch {
	case len(faces) == 0:
		return &SetupError{Kind: NoFaceDetected}
	case len(faces) > 1:
		return &SetupError{Kind: MultipleFacesDetected, Count: len(faces)}
	}
	if img == nil {
		return &SetupError{Kind: ExtractionFailed, Err: errors.New("missing enrollment image")}
	}

	face, err := s.canonicalize(img, faces[0])
	if err != nil {
		return &SetupError{Kind: ExtractionFailed, Err: err}
	}
	return s.SetReference(face)
}

// HasReference reports whether a reference face is installed.
func (s *Session) HasReference() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.referenceVector != nil
}

// Reference returns a copy of the reference buffer, or nil.
func (s *Session) Reference() *image.Gray {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reference == nil {
		return nil
	}
	return cloneGray(s.reference)
}

// SetViewport sets or, with nil, removes the region of interest.
func (s *Session) SetViewport(v *roi.Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil {
		s.viewport = nil
		return
	}
	vp := *v
	s.viewport = &vp
}

// Reset clears the confirmation history. The reference face is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.Clear()
	s.lastOutcome = nil
	s.lastActive = s.now()
}

// ContinuousPassCount returns the number of trailing passing frames.
func (s *Session) ContinuousPassCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.ContinuousPassCount()
}

// LastActive returns the time of the last mutation or processed frame.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:               s.id,
		HasReference:     s.referenceVector != nil,
		State:            s.tracker.State(),
		StableMatch:      s.tracker.StableMatch(),
		ContinuousPasses: s.tracker.ContinuousPassCount(),
		Window:           s.tracker.Window(),
		Config:           s.cfg,
		LastActive:       s.lastActive,
	}
	if s.viewport != nil {
		vp := *s.viewport
		st.Viewport = &vp
	}
	if s.lastOutcome != nil {
		o := *s.lastOutcome
		st.LastOutcome = &o
	}
	return st
}

// ProcessFrame runs the full pipeline for one frame: ROI filter, canonicalize,
// extract, anomaly guard, scoring, policy and tracker update. It never panics
// and never returns an error; failures are reported in the outcome.
// A zero frameSize falls back to the bounds of frame.
func (s *Session) ProcessFrame(faces []image.Rectangle, frame image.Image, frameSize image.Point) FrameOutcome {
	s.mu.Lock()
	before := s.tracker.State()
	outcome := s.processLocked(faces, frame, frameSize)
	s.lastOutcome = &outcome
	s.lastActive = outcome.Timestamp
	s.mu.Unlock()

	s.logTransition(before, outcome)
	s.notify(outcome)
	return outcome
}

func (s *Session) processLocked(faces []image.Rectangle, frame image.Image, frameSize image.Point) FrameOutcome {
	out := FrameOutcome{SessionID: s.id, Timestamp: s.now()}

	if frameSize == (image.Point{}) && frame != nil {
		frameSize = frame.Bounds().Size()
	}

	eligible := faces
	if s.viewport != nil {
		eligible = roi.Filter(faces, *s.viewport, frameSize, s.cfg.Tolerances)
		log.WithFields(log.Fields{
			"session":  s.id,
			"detected": len(faces),
			"eligible": len(eligible),
		}).Debug("Viewport filter applied")
	}
	out.FaceCount = len(eligible)

	if s.referenceVector == nil {
		return s.fail(out, CodeNoReference, &FrameError{Kind: FrameNoReference})
	}

	switch {
	case len(eligible) == 0:
		return s.fail(out, CodeNoFace, nil)
	case len(eligible) > 1:
		return s.fail(out, CodeMultipleFaces, nil)
	}

	candidate, err := s.describe(frame, eligible[0])
	if err != nil {
		log.WithFields(log.Fields{"session": s.id, "face": eligible[0]}).
			WithError(err).Warn("Frame extraction failed, history cleared")
		return s.fail(out, CodeExtractionFailed, err)
	}

	result := biometrics.Verify(s.referenceVector, candidate, s.cfg.Thresholds)
	s.tracker.Record(result.IsPass)
	out.Verification = &result
	s.settle(&out)

	switch {
	case result.Anomaly != "":
		out.Code = CodeAnomaly
	case out.StableMatch:
		out.Code = CodeVerified
	case result.IsPass:
		out.Code = CodeMatching
	default:
		out.Code = CodeRejected
	}

	log.WithFields(log.Fields{
		"session":    s.id,
		"pass":       result.IsPass,
		"confidence": result.Confidence,
		"cosine":     result.CosineSimilarity,
		"euclidean":  result.EuclideanSimilarity,
		"tier":       result.Tier,
		"anomaly":    result.Anomaly,
		"passes":     out.ContinuousPasses,
	}).Debug("Frame verified")

	return out
}

// fail clears the history and reports a non-verifying outcome.
func (s *Session) fail(out FrameOutcome, code string, err error) FrameOutcome {
	s.tracker.Clear()
	out.Code = code
	if err != nil {
		out.Err = err
		out.Error = err.Error()
	}
	s.settle(&out)
	return out
}

func (s *Session) settle(out *FrameOutcome) {
	out.StableMatch = s.tracker.StableMatch()
	out.State = s.tracker.State()
	out.ContinuousPasses = s.tracker.ContinuousPassCount()
}

// describe turns a detected face into a feature vector. Panics raised by
// collaborators are converted into a FrameError.
func (s *Session) describe(frame image.Image, face image.Rectangle) (v biometrics.FeatureVector, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &FrameError{Kind: FrameExtractionFailed, Err: fmt.Errorf("recovered: %v", r)}
		}
	}()

	if frame == nil {
		return nil, &FrameError{Kind: FrameExtractionFailed, Err: errors.New("missing frame buffer")}
	}

	gray, err := s.canonicalize(frame, face)
	if err != nil {
		return nil, &FrameError{Kind: FrameExtractionFailed, Err: err}
	}

	v, err = biometrics.Extract(gray)
	if err != nil {
		return nil, &FrameError{Kind: FrameExtractionFailed, Err: err}
	}
	return v, nil
}

func (s *Session) canonicalize(img image.Image, face image.Rectangle) (*image.Gray, error) {
	gray, err := s.canonicalizer.Canonicalize(img, face)
	if err != nil {
		return nil, err
	}
	if gray == nil {
		return nil, errors.New("canonicalizer returned no buffer")
	}
	return gray, nil
}

func (s *Session) logTransition(before tracker.State, out FrameOutcome) {
	switch {
	case before != tracker.Confirmed && out.State == tracker.Confirmed:
		log.WithField("session", s.id).Info("Stable match confirmed")
	case before == tracker.Confirmed && out.State != tracker.Confirmed:
		log.WithFields(log.Fields{"session": s.id, "code": out.Code}).Info("Stable match lost")
	}
}

func (s *Session) notify(out FrameOutcome) {
	s.listenersMu.RLock()
	listeners := append([]OutcomeListener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(out)
	}
}

func cloneGray(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
