// Package tracker debounces per-frame verdicts into a stable match signal.
package tracker

import "fmt"

// DefaultWindow is the number of consecutive passing frames required for a stable match.
const DefaultWindow = 5

// State of the confirmation state machine.
type State int

const (
	// Idle means the history is empty.
	Idle State = iota
	// Accumulating means verdicts were recorded but no stable match holds.
	Accumulating
	// Confirmed means the window is full and every verdict passed.
	Confirmed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = Idle
	case "accumulating":
		*s = Accumulating
	case "confirmed":
		*s = Confirmed
	default:
		return fmt.Errorf("unknown tracker state %q", text)
	}
	return nil
}

// Tracker keeps a bounded FIFO of verdicts for the current reference face.
// It is not safe for concurrent use; the owning session serializes access.
type Tracker struct {
	window  int
	history []bool
}

// New creates a tracker requiring window consecutive passes. Values below 1 are raised to 1.
func New(window int) *Tracker {
	if window < 1 {
		window = 1
	}
	return &Tracker{
		window:  window,
		history: make([]bool, 0, window),
	}
}

// Record appends a verdict, dropping the oldest one once the window is full.
func (t *Tracker) Record(pass bool) State {
	if len(t.history) == t.window {
		copy(t.history, t.history[1:])
		t.history = t.history[:t.window-1]
	}
	t.history = append(t.history, pass)
	return t.State()
}

// Clear drops the whole history.
func (t *Tracker) Clear() {
	t.history = t.history[:0]
}

// StableMatch is true iff the window is full and every verdict passed.
func (t *Tracker) StableMatch() bool {
	if len(t.history) != t.window {
		return false
	}
	for _, pass := range t.history {
		if !pass {
			return false
		}
	}
	return true
}

// State derives the state machine position from the history.
func (t *Tracker) State() State {
	switch {
	case len(t.history) == 0:
		return Idle
	case t.StableMatch():
		return Confirmed
	default:
		return Accumulating
	}
}

// ContinuousPassCount counts the trailing run of passing verdicts.
func (t *Tracker) ContinuousPassCount() int {
	n := 0
	for i := len(t.history) - 1; i >= 0 && t.history[i]; i-- {
		n++
	}
	return n
}

func (t *Tracker) Len() int    { return len(t.history) }
func (t *Tracker) Window() int { return t.window }

// History returns a copy of the recorded verdicts, oldest first.
func (t *Tracker) History() []bool {
	return append([]bool(nil), t.history...)
}
