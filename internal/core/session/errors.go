package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks against SetupError and FrameError.
var (
	ErrNoFaceDetected        = errors.New("no face detected")
	ErrMultipleFacesDetected = errors.New("multiple faces detected")
	ErrExtractionFailed      = errors.New("face extraction failed")
	ErrNoReference           = errors.New("no reference face set")
	ErrSessionExists         = errors.New("session already exists")
)

// SetupErrorKind classifies reference setup failures.
type SetupErrorKind int

const (
	NoFaceDetected SetupErrorKind = iota
	MultipleFacesDetected
	ExtractionFailed
)

// SetupError is returned when a reference face cannot be established.
type SetupError struct {
	Kind  SetupErrorKind
	Count int // faces found, set for MultipleFacesDetected
	Err   error
}

func (e *SetupError) Error() string {
	switch e.Kind {
	case NoFaceDetected:
		return "reference setup: " + ErrNoFaceDetected.Error()
	case MultipleFacesDetected:
		return fmt.Sprintf("reference setup: %s (%d)", ErrMultipleFacesDetected, e.Count)
	default:
		if e.Err != nil {
			return fmt.Sprintf("reference setup: %s: %v", ErrExtractionFailed, e.Err)
		}
		return "reference setup: " + ErrExtractionFailed.Error()
	}
}

func (e *SetupError) Unwrap() error { return e.Err }

// Is matches the sentinel error of the kind.
func (e *SetupError) Is(target error) bool {
	switch e.Kind {
	case NoFaceDetected:
		return target == ErrNoFaceDetected
	case MultipleFacesDetected:
		return target == ErrMultipleFacesDetected
	default:
		return target == ErrExtractionFailed
	}
}

// FrameErrorKind classifies per-frame failures.
type FrameErrorKind int

const (
	FrameExtractionFailed FrameErrorKind = iota
	FrameNoReference
)

// FrameError describes a non-fatal per-frame failure. It clears the
// confirmation history but never ends the session.
type FrameError struct {
	Kind FrameErrorKind
	Err  error
}

func (e *FrameError) Error() string {
	if e.Kind == FrameNoReference {
		return "frame: " + ErrNoReference.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("frame: %s: %v", ErrExtractionFailed, e.Err)
	}
	return "frame: " + ErrExtractionFailed.Error()
}

func (e *FrameError) Unwrap() error { return e.Err }

// Is matches ErrNoReference or ErrExtractionFailed depending on the kind.
func (e *FrameError) Is(target error) bool {
	if e.Kind == FrameNoReference {
		return target == ErrNoReference
	}
	return target == ErrExtractionFailed
}
